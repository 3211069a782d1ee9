package transfer

import "errors"

// Frame is one bounded-size slice of a payload, sent as a single link write.
// Concatenating the Data of all frames of a transfer in sequence order
// reconstructs the original payload exactly.
type Frame struct {
	SequenceNo  uint32 // 1-based position within the transfer
	TotalFrames uint32 // constant across all frames of one transfer
	Data        []byte
}

var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// SplitPayload splits payload into fixed-size frames of at most chunkSize
// bytes. Every frame except the last carries exactly chunkSize bytes; the
// last carries the remainder. An empty payload yields a single zero-length
// frame so that even a zero-byte transfer produces a terminable session.
//
// SplitPayload is pure: it copies the payload into the frames, so later
// mutation of the input slice cannot corrupt an in-flight transfer.
func SplitPayload(payload []byte, chunkSize int) ([]Frame, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	if len(payload) == 0 {
		return []Frame{{SequenceNo: 1, TotalFrames: 1, Data: []byte{}}}, nil
	}

	total := uint32((len(payload) + chunkSize - 1) / chunkSize)
	frames := make([]Frame, 0, total)

	for seq := uint32(1); seq <= total; seq++ {
		start := int(seq-1) * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}

		data := make([]byte, end-start)
		copy(data, payload[start:end])

		frames = append(frames, Frame{
			SequenceNo:  seq,
			TotalFrames: total,
			Data:        data,
		})
	}

	return frames, nil
}
