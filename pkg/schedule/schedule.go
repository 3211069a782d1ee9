// Package schedule defines the medication schedule a dispenser runs on:
// which compartment opens at which time of day and what it holds. It also
// owns the wire envelope the schedule travels in and the file importers
// that produce schedules from JSON or CSV.
package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the clock format used by dose slots, 24-hour wall time.
const TimeLayout = "15:04"

// Pill is one medication within a dose slot.
type Pill struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DoseSlot maps one dispenser compartment to a time of day and the pills
// it releases then.
type DoseSlot struct {
	Compartment int    `json:"compartment"`
	Time        string `json:"time"`
	Pills       []Pill `json:"pills"`
}

// Schedule is the full program for one dispenser.
type Schedule struct {
	Name  string     `json:"name"`
	Slots []DoseSlot `json:"slots"`
}

// Validate checks the schedule is dispensable: at least one slot, valid
// compartment numbers, parseable times and positive pill counts.
func (s Schedule) Validate() error {
	if len(s.Slots) == 0 {
		return fmt.Errorf("schedule has no dose slots")
	}
	for i, slot := range s.Slots {
		if slot.Compartment < 1 {
			return fmt.Errorf("slot %d: compartment must be >= 1, got %d", i, slot.Compartment)
		}
		if _, err := time.Parse(TimeLayout, slot.Time); err != nil {
			return fmt.Errorf("slot %d: bad time %q: %w", i, slot.Time, err)
		}
		if len(slot.Pills) == 0 {
			return fmt.Errorf("slot %d: no pills", i)
		}
		for j, pill := range slot.Pills {
			if pill.Name == "" {
				return fmt.Errorf("slot %d pill %d: name is empty", i, j)
			}
			if pill.Count < 1 {
				return fmt.Errorf("slot %d pill %d (%s): count must be >= 1, got %d",
					i, j, pill.Name, pill.Count)
			}
		}
	}
	return nil
}

// PillCount returns the total number of pills the schedule dispenses per
// day.
func (s Schedule) PillCount() int {
	total := 0
	for _, slot := range s.Slots {
		for _, pill := range slot.Pills {
			total += pill.Count
		}
	}
	return total
}

// Digest returns the SHA-256 of the schedule's JSON form, hex encoded.
// Marshaling follows struct field order, so equal schedules always hash
// equal.
func (s Schedule) Digest() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling schedule: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
