package audio

import (
	"io"

	"github.com/gordonklaus/portaudio"
)

// DefaultDevice is the DeviceOpener backed by the default input device. It
// is what recording uses outside of tests.
var DefaultDevice DeviceOpener = func(sampleRate, channels, chunkSize int) (io.ReadCloser, error) {
	return OpenMicrophone(sampleRate, channels, chunkSize)
}

// MicrophoneReader implements io.ReadCloser for capturing audio from the
// microphone. It uses PortAudio to capture 16-bit PCM at the configured
// sample rate.
type MicrophoneReader struct {
	stream *portaudio.Stream
	buffer []int16
}

// OpenMicrophone is the DeviceOpener for the default input device. It
// initializes PortAudio, opens an audio stream, and starts recording.
// The caller must Close the reader to properly clean up resources.
func OpenMicrophone(sampleRate, channels, chunkSize int) (*MicrophoneReader, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	// chunkSize is in bytes; the portaudio buffer holds int16 samples.
	buffer := make([]int16, chunkSize/2)

	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}

	return &MicrophoneReader{
		stream: stream,
		buffer: buffer,
	}, nil
}

// Read implements io.Reader. It captures one frame of audio from the
// microphone and copies it to p, converted from int16 samples to
// little-endian bytes.
func (m *MicrophoneReader) Read(p []byte) (int, error) {
	if err := m.stream.Read(); err != nil {
		return 0, err
	}

	audioBytes := int16SliceToByteSlice(m.buffer)
	n := copy(p, audioBytes)
	return n, nil
}

// Close implements io.Closer. It stops the audio stream, closes it, and
// terminates PortAudio.
func (m *MicrophoneReader) Close() error {
	var err error
	if m.stream != nil {
		if stopErr := m.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := m.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	portaudio.Terminate()
	return err
}

// int16SliceToByteSlice converts a slice of int16 audio samples to a byte
// slice using little-endian encoding. Each int16 sample becomes 2 bytes.
func int16SliceToByteSlice(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		// little-endian
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
