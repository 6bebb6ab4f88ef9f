package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider creates recognition sessions for streaming speech-to-text
// conversion. Different providers can implement this interface to support
// various speech services like Deepgram, Google Speech, ByteDance Doubao, etc.
type Provider interface {
	// Name returns the provider identifier used in results and logs.
	Name() string

	// NewSession opens a connection to the recognition service and completes
	// the handshake. It must not return until the service is ready to accept
	// audio, so callers can safely open the capture device once it returns.
	// The context bounds the connect/handshake phase.
	NewSession(ctx context.Context, config RecognitionConfig) (Session, error)
}

// Session handles one streaming recognition attempt. A session is owned by a
// single recording attempt and is never reused.
type Session interface {
	// SendSegment sends one audio segment to the recognition service. The
	// segment must be PCM matching the RecognitionConfig. isLast marks the
	// final segment of the attempt; the segment may be empty in that case.
	// No further sends are allowed after the last segment.
	SendSegment(segment []byte, isLast bool) error

	// ReceiveResult blocks until the next transcription fragment is
	// available. It returns io.EOF once the service has delivered its final
	// response (or closed the connection) and no more results will follow.
	ReceiveResult() (RecognitionResult, error)

	// Close tears down the connection. Readers and writers must be stopped
	// before calling Close.
	Close() error
}

// RecognitionConfig holds provider-agnostic configuration for a recognition
// session. It is validated once at construction; a config obtained from
// NewRecognitionConfig is always usable.
type RecognitionConfig struct {
	// SampleRate is the audio sample rate in Hz (8000, 16000, 44100 or 48000).
	SampleRate int

	// Channels is the capture channel count (1 or 2).
	Channels int

	// ChunkSize is the size in bytes of one capture read.
	ChunkSize int

	// Encoding is the audio encoding tag sent to the provider (e.g. "pcm").
	Encoding string

	// Punctuate enables automatic punctuation where the provider supports it.
	Punctuate bool

	// InterimResults requests non-final fragments in addition to finals.
	InterimResults bool

	// SegmentDuration is the target duration of one sent audio segment.
	SegmentDuration time.Duration

	// HandshakeTimeout bounds connection setup; capture never starts before
	// the handshake completes, so this also bounds how long Start may block.
	HandshakeTimeout time.Duration

	// Extensions carries provider-specific options (endpoint overrides and
	// the like). Providers read the keys they understand and ignore the
	// rest.
	Extensions map[string]interface{}
}

// NewRecognitionConfig returns a validated config with the given audio format
// and defaults for everything else.
func NewRecognitionConfig(sampleRate, channels, chunkSize int) (RecognitionConfig, error) {
	cfg := RecognitionConfig{
		SampleRate:       sampleRate,
		Channels:         channels,
		ChunkSize:        chunkSize,
		Encoding:         "pcm",
		Punctuate:        true,
		SegmentDuration:  200 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return RecognitionConfig{}, err
	}
	return cfg, nil
}

// Validate checks the audio format fields. Invalid values fail here, at
// construction time, not later inside a running session.
func (c RecognitionConfig) Validate() error {
	switch c.SampleRate {
	case 8000, 16000, 44100, 48000:
	default:
		return fmt.Errorf("invalid sample rate %d: must be 8000, 16000, 44100 or 48000", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("invalid channel count %d: must be 1 or 2", c.Channels)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d: must be positive", c.ChunkSize)
	}
	return nil
}

// ChunkDuration returns the wall-clock duration of audio covered by one
// capture chunk (16-bit samples).
func (c RecognitionConfig) ChunkDuration() time.Duration {
	bytesPerSecond := c.SampleRate * c.Channels * 2
	return time.Duration(c.ChunkSize) * time.Second / time.Duration(bytesPerSecond)
}

// ChunksPerSegment returns how many capture chunks make up one target
// segment. Always at least 1.
func (c RecognitionConfig) ChunksPerSegment() int {
	chunkDur := c.ChunkDuration()
	if chunkDur <= 0 {
		return 1
	}
	n := int(c.SegmentDuration / chunkDur)
	if n < 1 {
		return 1
	}
	return n
}

// RecognitionResult represents a transcription fragment with metadata. It is
// the only value crossing the boundary to the external caller.
type RecognitionResult struct {
	// Text is the transcribed text. Providers that send cumulative text
	// (the whole utterance so far) mark fragments non-final until the
	// last package arrives.
	Text string

	// IsFinal indicates whether this fragment is settled. Non-final
	// fragments may be revised by later ones.
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available.
	Confidence float32

	// Provider is the name of the backend that produced this result.
	Provider string

	// ReceivedAt is when the result arrived from the service.
	ReceivedAt time.Time
}
