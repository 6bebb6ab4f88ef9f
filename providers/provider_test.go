package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecognitionConfig(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		chunkSize  int
		wantErr    string
	}{
		{
			name:       "valid 16kHz mono",
			sampleRate: 16000,
			channels:   1,
			chunkSize:  3200,
		},
		{
			name:       "valid 48kHz stereo",
			sampleRate: 48000,
			channels:   2,
			chunkSize:  1024,
		},
		{
			name:       "valid 8kHz",
			sampleRate: 8000,
			channels:   1,
			chunkSize:  1600,
		},
		{
			name:       "unsupported sample rate",
			sampleRate: 22050,
			channels:   1,
			chunkSize:  3200,
			wantErr:    "invalid sample rate",
		},
		{
			name:       "zero channels",
			sampleRate: 16000,
			channels:   0,
			chunkSize:  3200,
			wantErr:    "invalid channel count",
		},
		{
			name:       "too many channels",
			sampleRate: 16000,
			channels:   3,
			chunkSize:  3200,
			wantErr:    "invalid channel count",
		},
		{
			name:       "zero chunk size",
			sampleRate: 16000,
			channels:   1,
			chunkSize:  0,
			wantErr:    "invalid chunk size",
		},
		{
			name:       "negative chunk size",
			sampleRate: 16000,
			channels:   1,
			chunkSize:  -1,
			wantErr:    "invalid chunk size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewRecognitionConfig(tt.sampleRate, tt.channels, tt.chunkSize)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sampleRate, cfg.SampleRate)
			assert.Equal(t, 200*time.Millisecond, cfg.SegmentDuration)
			assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
		})
	}
}

func TestRecognitionConfig_ChunkDuration(t *testing.T) {
	// 3200 bytes at 16kHz mono 16-bit is exactly 100ms of audio.
	cfg, err := NewRecognitionConfig(16000, 1, 3200)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.ChunkDuration())

	// Stereo halves the duration for the same byte count.
	cfg, err = NewRecognitionConfig(16000, 2, 3200)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkDuration())
}

func TestRecognitionConfig_ChunksPerSegment(t *testing.T) {
	// 100ms chunks against the 200ms default segment target.
	cfg, err := NewRecognitionConfig(16000, 1, 3200)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ChunksPerSegment())

	// A chunk longer than the segment target still yields one chunk.
	cfg, err = NewRecognitionConfig(16000, 1, 16000)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ChunksPerSegment())
}
