// Package dispenser emulates the pill dispenser peripheral: a TCP
// listener that speaks the same byte protocol as the real firmware, so
// the whole transfer path can run on a dev machine with no hardware.
package dispenser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tmkoval/pillsync/pkg/schedule"
	"github.com/tmkoval/pillsync/pkg/transfer"
)

// Responses the firmware writes back on the status path.
const (
	AckResponse  = "A"
	NackResponse = "E"
)

// ScheduleFileName is where an accepted schedule lands inside StateDir.
const ScheduleFileName = "schedule.json"

var ErrPayloadTooLarge = errors.New("payload exceeds the reassembly buffer")

type Config struct {
	StateDir string
	// ProcessingDelay emulates the firmware storing the schedule and
	// spinning the carousel before it acknowledges.
	ProcessingDelay time.Duration
	MaxPayloadBytes int
}

func DefaultConfig() Config {
	return Config{
		StateDir:        ".",
		ProcessingDelay: 200 * time.Millisecond,
		MaxPayloadBytes: 64 * 1024,
	}
}

// Firmware reassembles one connection's inbound byte stream into
// sentinel-delimited envelopes and answers each with an ack or a nack.
// Frame boundaries mean nothing to it; only the sentinels do.
type Firmware struct {
	cfg Config

	mu         sync.Mutex
	buf        bytes.Buffer
	collecting bool
	last       *schedule.Schedule
}

func NewFirmware(cfg Config) *Firmware {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultConfig().MaxPayloadBytes
	}
	return &Firmware{cfg: cfg}
}

// Attach wires the firmware to a channel: inbound bytes feed the
// reassembly buffer, responses go back out the same channel. The
// returned detach releases the subscription.
func (f *Firmware) Attach(ch transfer.Channel) (detach func()) {
	return ch.SubscribeInbound(func(data []byte) {
		f.consume(data, ch.Write)
	})
}

// LastSchedule returns the most recently accepted schedule, if any.
func (f *Firmware) LastSchedule() *schedule.Schedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// consume appends inbound bytes and extracts every complete envelope
// currently in the buffer. Bytes before a start sentinel are noise and
// dropped; a payload overrunning the buffer cap resets the stream and
// nacks immediately.
func (f *Firmware) consume(data []byte, respond func(p []byte) error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.Write(data)

	if f.buf.Len() > f.cfg.MaxPayloadBytes {
		slog.Error("Reassembly buffer overrun, resetting", "size", f.buf.Len(), "cap", f.cfg.MaxPayloadBytes, "err", ErrPayloadTooLarge)
		f.buf.Reset()
		f.collecting = false
		f.respondLater(respond, []byte(NackResponse))
		return
	}

	start := []byte(schedule.PayloadStart)
	end := []byte(schedule.PayloadEnd)

	for {
		b := f.buf.Bytes()

		if !f.collecting {
			idx := bytes.Index(b, start)
			if idx < 0 {
				// Keep a tail in case a sentinel is split across
				// deliveries.
				f.discardAllBut(len(start) - 1)
				return
			}
			f.discard(idx)
			f.collecting = true
			b = f.buf.Bytes()
		}

		idx := bytes.Index(b[len(start):], end)
		if idx < 0 {
			return
		}

		envelopeLen := len(start) + idx + len(end)
		envelope := make([]byte, envelopeLen)
		copy(envelope, b[:envelopeLen])
		f.discard(envelopeLen)
		f.collecting = false

		f.handleEnvelope(envelope, respond)
	}
}

func (f *Firmware) handleEnvelope(envelope []byte, respond func(p []byte) error) {
	sch, err := schedule.DecodeEnvelope(envelope)
	if err != nil {
		slog.Warn("Rejecting schedule payload", "err", err)
		f.respondLater(respond, []byte(NackResponse))
		return
	}
	if err := sch.Validate(); err != nil {
		slog.Warn("Rejecting undispensable schedule", "err", err)
		f.respondLater(respond, []byte(NackResponse))
		return
	}

	if err := f.persist(sch); err != nil {
		slog.Error("Persisting schedule failed", "err", err)
		f.respondLater(respond, []byte(NackResponse))
		return
	}

	f.last = &sch
	slog.Info("Schedule accepted", "name", sch.Name, "slots", len(sch.Slots), "pills", sch.PillCount())
	f.respondLater(respond, []byte(AckResponse))
}

// respondLater emulates firmware processing time without blocking the
// inbound path.
func (f *Firmware) respondLater(respond func(p []byte) error, response []byte) {
	time.AfterFunc(f.cfg.ProcessingDelay, func() {
		if err := respond(response); err != nil {
			slog.Warn("Writing response failed", "response", string(response), "err", err)
		}
	})
}

func (f *Firmware) persist(sch schedule.Schedule) error {
	data, err := json.MarshalIndent(sch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schedule: %w", err)
	}

	tmp, err := os.CreateTemp(f.cfg.StateDir, "schedule-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing schedule: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}

	target := filepath.Join(f.cfg.StateDir, ScheduleFileName)
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", target, err)
	}
	return nil
}

// discard drops n bytes from the front of the buffer.
func (f *Firmware) discard(n int) {
	f.buf.Next(n)
}

// discardAllBut keeps only the last n bytes of the buffer.
func (f *Firmware) discardAllBut(n int) {
	if f.buf.Len() <= n {
		return
	}
	f.buf.Next(f.buf.Len() - n)
}
