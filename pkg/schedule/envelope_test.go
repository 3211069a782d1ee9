package schedule

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	want := sampleSchedule()

	payload, err := EncodeEnvelope(want)
	require.NoError(t, err, "Encode failed")

	assert.True(t, bytes.HasPrefix(payload, []byte(PayloadStart)), "Payload must open with the start sentinel")
	assert.True(t, bytes.HasSuffix(payload, []byte(PayloadEnd)), "Payload must close with the end sentinel")

	got, err := DecodeEnvelope(payload)
	require.NoError(t, err, "Decode failed")
	assert.Equal(t, want, got, "Round trip must preserve the schedule")
}

func TestEncodeEnvelope_RejectsInvalidSchedule(t *testing.T) {
	s := sampleSchedule()
	s.Slots[0].Compartment = 0

	_, err := EncodeEnvelope(s)
	require.Error(t, err, "Invalid schedule must not encode")
	assert.Contains(t, err.Error(), "invalid schedule", "Error should say why encoding stopped")
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	valid, err := EncodeEnvelope(sampleSchedule())
	require.NoError(t, err, "Encode failed")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty input", nil},
		{"no sentinels", []byte(`{"schedule":{}}`)},
		{"start sentinel only", []byte(PayloadStart + `{"schedule":{}}`)},
		{"end sentinel only", []byte(`{"schedule":{}}` + PayloadEnd)},
		{"sentinels around junk", []byte(PayloadStart + "not json" + PayloadEnd)},
		{"truncated payload", valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedEnvelope, "Malformed input must be rejected as such")
		})
	}
}

func TestDecodeEnvelope_DigestMismatch(t *testing.T) {
	s := sampleSchedule()

	body, err := json.Marshal(envelope{Schedule: s, Digest: "0000000000000000"})
	require.NoError(t, err, "Marshal failed")

	raw := append([]byte(PayloadStart), body...)
	raw = append(raw, PayloadEnd...)

	_, err = DecodeEnvelope(raw)
	assert.ErrorIs(t, err, ErrDigestMismatch, "Wrong digest must be rejected")
}

func TestDecodeEnvelope_TamperedSchedule(t *testing.T) {
	payload, err := EncodeEnvelope(sampleSchedule())
	require.NoError(t, err, "Encode failed")

	tampered := bytes.Replace(payload, []byte("Lisinopril"), []byte("Lisinoprix"), 1)
	require.NotEqual(t, payload, tampered, "Tampering should have changed the payload")

	_, err = DecodeEnvelope(tampered)
	assert.ErrorIs(t, err, ErrDigestMismatch, "Content change must break the digest check")
}
