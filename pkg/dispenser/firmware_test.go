package dispenser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmkoval/pillsync/pkg/link"
	"github.com/tmkoval/pillsync/pkg/schedule"
	"github.com/tmkoval/pillsync/pkg/transfer"
)

func fastConfig(tb testing.TB) Config {
	tb.Helper()
	return Config{
		StateDir:        tb.TempDir(),
		ProcessingDelay: 5 * time.Millisecond,
		MaxPayloadBytes: 2048,
	}
}

// attachFirmware wires a firmware to one end of a loopback pair and
// returns the other end as the sender's channel.
func attachFirmware(tb testing.TB, cfg Config) (*Firmware, *link.Loopback) {
	tb.Helper()

	sender, peripheral := link.NewLoopbackPair()
	tb.Cleanup(func() { sender.Close() })

	firmware := NewFirmware(cfg)
	detach := firmware.Attach(peripheral)
	tb.Cleanup(detach)

	return firmware, sender
}

func subscribeResponses(tb testing.TB, sender *link.Loopback) <-chan []byte {
	tb.Helper()
	responses := make(chan []byte, 8)
	sender.SubscribeInbound(func(data []byte) {
		responses <- data
	})
	return responses
}

func waitResponse(tb testing.TB, responses <-chan []byte) string {
	tb.Helper()
	select {
	case data := <-responses:
		return string(data)
	case <-time.After(2 * time.Second):
		tb.Fatal("Timed out waiting for a firmware response")
	}
	return ""
}

func testSchedule() schedule.Schedule {
	return schedule.Schedule{
		Name: "morning",
		Slots: []schedule.DoseSlot{
			{
				Compartment: 1,
				Time:        "08:00",
				Pills:       []schedule.Pill{{Name: "Lisinopril", Count: 1}},
			},
			{
				Compartment: 2,
				Time:        "21:00",
				Pills:       []schedule.Pill{{Name: "Metformin", Count: 2}},
			},
		},
	}
}

func TestFirmware_AcceptsValidEnvelope(t *testing.T) {
	cfg := fastConfig(t)
	firmware, sender := attachFirmware(t, cfg)
	responses := subscribeResponses(t, sender)

	want := testSchedule()
	payload, err := schedule.EncodeEnvelope(want)
	require.NoError(t, err, "Encode failed")

	require.NoError(t, sender.Write(payload), "Write failed")
	assert.Equal(t, AckResponse, waitResponse(t, responses), "Valid envelope must be acked")

	got := firmware.LastSchedule()
	require.NotNil(t, got, "Accepted schedule should be retained")
	assert.Equal(t, want, *got, "Retained schedule mismatch")

	data, err := os.ReadFile(filepath.Join(cfg.StateDir, ScheduleFileName))
	require.NoError(t, err, "Schedule file should exist")
	var persisted schedule.Schedule
	require.NoError(t, json.Unmarshal(data, &persisted), "Persisted file should be json")
	assert.Equal(t, want, persisted, "Persisted schedule mismatch")
}

func TestFirmware_ReassemblesAcrossChunks(t *testing.T) {
	firmware, sender := attachFirmware(t, fastConfig(t))
	responses := subscribeResponses(t, sender)

	want := testSchedule()
	payload, err := schedule.EncodeEnvelope(want)
	require.NoError(t, err, "Encode failed")

	// Two-byte chunks guarantee both sentinels are split across writes.
	for i := 0; i < len(payload); i += 2 {
		end := i + 2
		if end > len(payload) {
			end = len(payload)
		}
		require.NoError(t, sender.Write(payload[i:end]), "Chunk write failed")
	}

	assert.Equal(t, AckResponse, waitResponse(t, responses), "Chunked envelope must be acked")
	require.NotNil(t, firmware.LastSchedule(), "Schedule should be retained")
	assert.Equal(t, want, *firmware.LastSchedule(), "Reassembled schedule mismatch")
}

func TestFirmware_IgnoresNoiseBeforeStart(t *testing.T) {
	_, sender := attachFirmware(t, fastConfig(t))
	responses := subscribeResponses(t, sender)

	payload, err := schedule.EncodeEnvelope(testSchedule())
	require.NoError(t, err, "Encode failed")

	require.NoError(t, sender.Write([]byte("line noise and leftovers")), "Write failed")
	require.NoError(t, sender.Write(payload), "Write failed")

	assert.Equal(t, AckResponse, waitResponse(t, responses), "Envelope after noise must still be acked")
}

func TestFirmware_NacksBadDigest(t *testing.T) {
	cfg := fastConfig(t)
	firmware, sender := attachFirmware(t, cfg)
	responses := subscribeResponses(t, sender)

	body, err := json.Marshal(map[string]interface{}{
		"schedule": testSchedule(),
		"digest":   "not-the-right-digest",
	})
	require.NoError(t, err, "Marshal failed")
	payload := append([]byte(schedule.PayloadStart), body...)
	payload = append(payload, schedule.PayloadEnd...)

	require.NoError(t, sender.Write(payload), "Write failed")
	assert.Equal(t, NackResponse, waitResponse(t, responses), "Bad digest must be nacked")

	assert.Nil(t, firmware.LastSchedule(), "Rejected schedule must not be retained")
	_, err = os.Stat(filepath.Join(cfg.StateDir, ScheduleFileName))
	assert.True(t, os.IsNotExist(err), "Rejected schedule must not be persisted")
}

func TestFirmware_NacksUndispensableSchedule(t *testing.T) {
	firmware, sender := attachFirmware(t, fastConfig(t))
	responses := subscribeResponses(t, sender)

	// Authentic digest over a schedule no dispenser can run.
	broken := schedule.Schedule{
		Name:  "broken",
		Slots: []schedule.DoseSlot{{Compartment: 0, Time: "08:00", Pills: []schedule.Pill{{Name: "X", Count: 1}}}},
	}
	digest, err := broken.Digest()
	require.NoError(t, err, "Digest failed")
	body, err := json.Marshal(map[string]interface{}{
		"schedule": broken,
		"digest":   digest,
	})
	require.NoError(t, err, "Marshal failed")
	payload := append([]byte(schedule.PayloadStart), body...)
	payload = append(payload, schedule.PayloadEnd...)

	require.NoError(t, sender.Write(payload), "Write failed")
	assert.Equal(t, NackResponse, waitResponse(t, responses), "Undispensable schedule must be nacked")
	assert.Nil(t, firmware.LastSchedule(), "Rejected schedule must not be retained")
}

func TestFirmware_OverrunResetsAndRecovers(t *testing.T) {
	cfg := fastConfig(t)
	cfg.MaxPayloadBytes = 1024
	_, sender := attachFirmware(t, cfg)
	responses := subscribeResponses(t, sender)

	// An opened envelope that never ends, well past the cap.
	junk := append([]byte(schedule.PayloadStart), make([]byte, 2000)...)
	require.NoError(t, sender.Write(junk), "Write failed")
	assert.Equal(t, NackResponse, waitResponse(t, responses), "Overrun must be nacked")

	payload, err := schedule.EncodeEnvelope(testSchedule())
	require.NoError(t, err, "Encode failed")
	require.NoError(t, sender.Write(payload), "Write failed")
	assert.Equal(t, AckResponse, waitResponse(t, responses), "Firmware must recover after an overrun")
}

func TestFirmware_TwoEnvelopesInOneDelivery(t *testing.T) {
	firmware, sender := attachFirmware(t, fastConfig(t))
	responses := subscribeResponses(t, sender)

	first := testSchedule()
	second := testSchedule()
	second.Name = "evening"

	payloadA, err := schedule.EncodeEnvelope(first)
	require.NoError(t, err, "Encode failed")
	payloadB, err := schedule.EncodeEnvelope(second)
	require.NoError(t, err, "Encode failed")

	require.NoError(t, sender.Write(append(payloadA, payloadB...)), "Write failed")

	assert.Equal(t, AckResponse, waitResponse(t, responses), "First envelope must be acked")
	assert.Equal(t, AckResponse, waitResponse(t, responses), "Second envelope must be acked")

	require.NotNil(t, firmware.LastSchedule(), "Schedule should be retained")
	assert.Equal(t, "evening", firmware.LastSchedule().Name, "Last accepted schedule should win")
}

func TestFirmware_EndToEndTransfer(t *testing.T) {
	cfg := fastConfig(t)
	firmware, sender := attachFirmware(t, cfg)

	payload, err := schedule.EncodeEnvelope(testSchedule())
	require.NoError(t, err, "Encode failed")

	engine := transfer.NewEngine()
	defer engine.Close()

	transferCfg := transfer.DefaultConfig()
	transferCfg.InterFrameDelay = time.Millisecond
	transferCfg.AckTimeout = 3 * time.Second

	handle, err := engine.Begin(payload, sender, transferCfg)
	require.NoError(t, err, "Begin failed")

	select {
	case res := <-handle.Done():
		assert.True(t, res.Success, "Engine transfer into the firmware should complete, got %+v", res)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the transfer result")
	}

	require.NotNil(t, firmware.LastSchedule(), "Schedule should be retained")
	assert.Equal(t, testSchedule(), *firmware.LastSchedule(), "Transferred schedule mismatch")
}

func TestFirmware_NackNeverCompletesTransfer(t *testing.T) {
	_, sender := attachFirmware(t, fastConfig(t))

	body, err := json.Marshal(map[string]interface{}{
		"schedule": testSchedule(),
		"digest":   "wrong",
	})
	require.NoError(t, err, "Marshal failed")
	payload := append([]byte(schedule.PayloadStart), body...)
	payload = append(payload, schedule.PayloadEnd...)

	engine := transfer.NewEngine()
	defer engine.Close()

	cfg := transfer.DefaultConfig()
	cfg.InterFrameDelay = time.Millisecond
	cfg.AckTimeout = 300 * time.Millisecond

	handle, err := engine.Begin(payload, sender, cfg)
	require.NoError(t, err, "Begin failed")

	select {
	case res := <-handle.Done():
		assert.False(t, res.Success, "A nacked transfer must not succeed")
		assert.Equal(t, transfer.FailTimeout, res.Kind, "The sender only times out; a nack is not a completion")
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the transfer result")
	}
}
