package schedule

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tmkoval/pillsync/internal/util"
)

var ErrUnsupportedFormat = errors.New("unsupported schedule format")

// LoadFile imports a schedule from disk. The format is sniffed from the
// content, not the extension: JSON files carry a full Schedule object,
// CSV files carry one pill per row as compartment,time,pill,count.
func LoadFile(path string) (Schedule, error) {
	if err := util.CheckFile(path); err != nil {
		return Schedule{}, err
	}

	kind, err := mimetype.DetectFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("detecting schedule format: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("reading schedule file: %w", err)
	}

	switch {
	case kind.Is("application/json"):
		return parseJSON(data)
	case kind.Is("text/csv"):
		return parseCSV(data, nameFromPath(path))
	default:
		return Schedule{}, fmt.Errorf("%w: %s detected as %s", ErrUnsupportedFormat, path, kind.String())
	}
}

func parseJSON(data []byte) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("parsing schedule json: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// parseCSV groups rows into dose slots keyed by compartment and time,
// preserving first-appearance order. A leading header row is skipped.
func parseCSV(data []byte, name string) (Schedule, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return Schedule{}, fmt.Errorf("parsing schedule csv: %w", err)
	}
	if len(records) > 0 && !isDataRow(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return Schedule{}, fmt.Errorf("schedule csv has no data rows")
	}

	type slotKey struct {
		compartment int
		at          string
	}
	var order []slotKey
	pills := make(map[slotKey][]Pill)

	for i, row := range records {
		compartment, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return Schedule{}, fmt.Errorf("csv row %d: bad compartment %q", i+1, row[0])
		}
		count, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return Schedule{}, fmt.Errorf("csv row %d: bad count %q", i+1, row[3])
		}

		key := slotKey{compartment: compartment, at: strings.TrimSpace(row[1])}
		if _, seen := pills[key]; !seen {
			order = append(order, key)
		}
		pills[key] = append(pills[key], Pill{
			Name:  strings.TrimSpace(row[2]),
			Count: count,
		})
	}

	s := Schedule{Name: name}
	for _, key := range order {
		s.Slots = append(s.Slots, DoseSlot{
			Compartment: key.compartment,
			Time:        key.at,
			Pills:       pills[key],
		})
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func isDataRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(row[0]))
	return err == nil
}

func nameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
