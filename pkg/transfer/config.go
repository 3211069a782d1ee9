package transfer

import (
	"errors"
	"time"
)

// Config holds the tunables for one transfer.
// All values are caller-supplied; the engine keeps no persistent state.
type Config struct {
	// ChunkSize is the number of payload bytes per frame.
	ChunkSize int `json:"chunk_size"`
	// InterFrameDelay separates consecutive frame dispatches so the
	// peripheral's receive buffer is never outpaced.
	InterFrameDelay time.Duration `json:"inter_frame_delay"`
	// AckTimeout bounds how long the engine waits for the completion
	// marker after the last frame has been dispatched.
	AckTimeout time.Duration `json:"ack_timeout"`
	// AckMarker is the byte pattern the peripheral sends once the whole
	// payload has been received and processed.
	AckMarker string `json:"ack_marker"`
}

const (
	// DefaultChunkSize matches the usable payload of a default-MTU
	// BLE write (ATT MTU 23 minus the 3-byte header).
	DefaultChunkSize = 20
	// MaxChunkSize is the ATT long-write ceiling.
	MaxChunkSize = 512

	DefaultInterFrameDelay = 500 * time.Millisecond
	DefaultAckTimeout      = 15 * time.Second
	DefaultAckMarker       = "A"
)

// DefaultConfig returns a configuration with the conservative defaults
// used against a stock dispenser unit.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       DefaultChunkSize,
		InterFrameDelay: DefaultInterFrameDelay,
		AckTimeout:      DefaultAckTimeout,
		AckMarker:       DefaultAckMarker,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.ChunkSize > MaxChunkSize {
		return errors.New("chunk_size exceeds the link write limit")
	}
	if c.InterFrameDelay < 0 {
		return errors.New("inter_frame_delay cannot be negative")
	}
	if c.AckTimeout <= 0 {
		return errors.New("ack_timeout must be positive")
	}
	if c.AckMarker == "" {
		return errors.New("ack_marker cannot be empty")
	}
	return nil
}
