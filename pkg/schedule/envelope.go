package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Payload sentinels. The dispenser firmware scans its inbound byte
// stream for these, so chunk boundaries on the link never matter.
const (
	PayloadStart = "<<<"
	PayloadEnd   = ">>>"
)

var (
	ErrMalformedEnvelope = errors.New("malformed schedule envelope")
	ErrDigestMismatch    = errors.New("schedule digest mismatch")
)

type envelope struct {
	Schedule Schedule `json:"schedule"`
	Digest   string   `json:"digest"`
}

// EncodeEnvelope wraps a schedule into the sentinel-delimited payload the
// transfer engine ships: start sentinel, JSON body carrying the schedule
// and its digest, end sentinel. The schedule is validated first.
func EncodeEnvelope(s Schedule) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	digest, err := s.Digest()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(envelope{Schedule: s, Digest: digest})
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	payload := make([]byte, 0, len(PayloadStart)+len(body)+len(PayloadEnd))
	payload = append(payload, PayloadStart...)
	payload = append(payload, body...)
	payload = append(payload, PayloadEnd...)
	return payload, nil
}

// DecodeEnvelope reverses EncodeEnvelope: strips the sentinels, parses
// the body and verifies the digest against the embedded schedule.
func DecodeEnvelope(raw []byte) (Schedule, error) {
	if len(raw) < len(PayloadStart)+len(PayloadEnd) ||
		!bytes.HasPrefix(raw, []byte(PayloadStart)) ||
		!bytes.HasSuffix(raw, []byte(PayloadEnd)) {
		return Schedule{}, ErrMalformedEnvelope
	}

	body := raw[len(PayloadStart) : len(raw)-len(PayloadEnd)]
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	digest, err := env.Schedule.Digest()
	if err != nil {
		return Schedule{}, err
	}
	if digest != env.Digest {
		return Schedule{}, ErrDigestMismatch
	}
	return env.Schedule, nil
}
