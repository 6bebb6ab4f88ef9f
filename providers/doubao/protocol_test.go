package doubao

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetype-io/voicetype/providers"
)

func testConfig(t *testing.T) providers.RecognitionConfig {
	t.Helper()
	cfg, err := providers.NewRecognitionConfig(16000, 1, 3200)
	require.NoError(t, err)
	return cfg
}

func mustGzip(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := gzipCompress(data)
	require.NoError(t, err)
	return out
}

// buildServerFrame assembles a server frame for decoding tests.
func buildServerFrame(messageType, typeFlags, serialization, compression byte, body []byte) []byte {
	frame := append([]byte{}, encodeHeader(messageType, typeFlags, serialization, compression)...)
	return append(frame, body...)
}

func TestNewFullClientRequest_Header(t *testing.T) {
	frame, err := NewFullClientRequest(1, testConfig(t))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frame), 12)

	// version 1, header length 1 word
	assert.Equal(t, byte(0x11), frame[0])
	// full client request, positive sequence
	assert.Equal(t, byte(msgTypeFullClientRequest<<4|flagPositiveSeq), frame[1])
	// JSON serialization, gzip compression
	assert.Equal(t, byte(serializationJSON<<4|compressionGzip), frame[2])
	// reserved
	assert.Equal(t, byte(0x00), frame[3])

	assert.Equal(t, int32(1), int32(binary.BigEndian.Uint32(frame[4:8])))

	payloadSize := binary.BigEndian.Uint32(frame[8:12])
	assert.Equal(t, int(payloadSize), len(frame)-12)
}

func TestNewFullClientRequest_Payload(t *testing.T) {
	cfg := testConfig(t)
	frame, err := NewFullClientRequest(1, cfg)
	require.NoError(t, err)

	decompressed, err := gzipDecompress(frame[12:])
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(decompressed, &payload))

	audio, ok := payload["audio"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pcm", audio["format"])
	assert.Equal(t, "raw", audio["codec"])
	assert.Equal(t, float64(16000), audio["rate"])
	assert.Equal(t, float64(16), audio["bits"])
	assert.Equal(t, float64(1), audio["channel"])

	request, ok := payload["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bigmodel", request["model_name"])
	assert.Equal(t, true, request["enable_itn"])
	assert.Equal(t, true, request["enable_punc"])
	assert.Equal(t, false, request["enable_nonstream"])

	user, ok := payload["user"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, user["uid"])
}

func TestNewAudioOnlyRequest(t *testing.T) {
	segment := bytes.Repeat([]byte{0xab}, 64)

	tests := []struct {
		name         string
		seq          int32
		isLast       bool
		compress     bool
		wantByte1    byte
		wantByte2    byte
		wantWireSeq  int32
		wantRawBody  bool
	}{
		{
			name:        "normal compressed segment",
			seq:         2,
			compress:    true,
			wantByte1:   msgTypeAudioOnlyRequest<<4 | flagPositiveSeq,
			wantByte2:   serializationNone<<4 | compressionGzip,
			wantWireSeq: 2,
		},
		{
			name:        "last segment negates sequence",
			seq:         7,
			isLast:      true,
			compress:    true,
			wantByte1:   msgTypeAudioOnlyRequest<<4 | flagNegativeWithSeq,
			wantByte2:   serializationNone<<4 | compressionGzip,
			wantWireSeq: -7,
		},
		{
			name:        "uncompressed segment",
			seq:         3,
			compress:    false,
			wantByte1:   msgTypeAudioOnlyRequest<<4 | flagPositiveSeq,
			wantByte2:   serializationNone<<4 | compressionNone,
			wantWireSeq: 3,
			wantRawBody: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := NewAudioOnlyRequest(tt.seq, segment, tt.isLast, tt.compress)
			require.NoError(t, err)

			assert.Equal(t, byte(0x11), frame[0])
			assert.Equal(t, tt.wantByte1, frame[1])
			assert.Equal(t, tt.wantByte2, frame[2])
			assert.Equal(t, byte(0x00), frame[3])

			assert.Equal(t, tt.wantWireSeq, int32(binary.BigEndian.Uint32(frame[4:8])))

			size := binary.BigEndian.Uint32(frame[8:12])
			body := frame[12:]
			require.Equal(t, int(size), len(body))

			if tt.wantRawBody {
				assert.Equal(t, segment, body)
			} else {
				decompressed, err := gzipDecompress(body)
				require.NoError(t, err)
				assert.Equal(t, segment, decompressed)
			}
		})
	}
}

func TestNewAudioOnlyRequest_EmptyFinalSegment(t *testing.T) {
	frame, err := NewAudioOnlyRequest(5, nil, true, true)
	require.NoError(t, err)

	assert.Equal(t, int32(-5), int32(binary.BigEndian.Uint32(frame[4:8])))

	body := frame[12:]
	decompressed, err := gzipDecompress(body)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}

// TestSequenceSeries verifies the wire sequence shape for a five-segment
// session: four positive increasing numbers followed by the negated fifth.
func TestSequenceSeries(t *testing.T) {
	seq := &sequencer{next: 1}
	segment := []byte{0x01, 0x02}

	var wireSeqs []int32
	for i := 0; i < 5; i++ {
		isLast := i == 4
		frame, err := NewAudioOnlyRequest(seq.take(), segment, isLast, true)
		require.NoError(t, err)
		wireSeqs = append(wireSeqs, int32(binary.BigEndian.Uint32(frame[4:8])))
	}

	assert.Equal(t, []int32{1, 2, 3, 4, -5}, wireSeqs)
}

func TestParseResponse_FullResponse(t *testing.T) {
	payload := mustGzip(t, []byte(`{"result":{"text":"hello world"}}`))

	body := make([]byte, 0, 8+len(payload))
	body = binary.BigEndian.AppendUint32(body, 42) // sequence
	body = binary.BigEndian.AppendUint32(body, uint32(len(payload)))
	body = append(body, payload...)

	frame := buildServerFrame(msgTypeFullResponse, flagBitSequence, serializationJSON, compressionGzip, body)
	resp := ParseResponse(frame)

	assert.Equal(t, int32(42), resp.Sequence)
	assert.False(t, resp.IsLastPackage)
	assert.Equal(t, uint32(len(payload)), resp.PayloadSize)

	text, ok := resp.Text()
	require.True(t, ok)
	assert.Equal(t, "hello world", text)
}

func TestParseResponse_LastPackage(t *testing.T) {
	payload := mustGzip(t, []byte(`{"result":{"text":"all done"}}`))

	body := make([]byte, 0, 8+len(payload))
	body = binary.BigEndian.AppendUint32(body, uint32(0xFFFFFFFB)) // -5
	body = binary.BigEndian.AppendUint32(body, uint32(len(payload)))
	body = append(body, payload...)

	frame := buildServerFrame(msgTypeFullResponse, flagBitSequence|flagBitLastPackage, serializationJSON, compressionGzip, body)
	resp := ParseResponse(frame)

	assert.True(t, resp.IsLastPackage)
	assert.Equal(t, int32(-5), resp.Sequence)
	text, ok := resp.Text()
	require.True(t, ok)
	assert.Equal(t, "all done", text)
}

func TestParseResponse_ErrorResponse(t *testing.T) {
	payload := mustGzip(t, []byte(`{"error":"invalid audio format"}`))

	body := make([]byte, 0, 8+len(payload))
	body = binary.BigEndian.AppendUint32(body, 45000002)
	body = binary.BigEndian.AppendUint32(body, uint32(len(payload)))
	body = append(body, payload...)

	frame := buildServerFrame(msgTypeErrorResponse, 0, serializationJSON, compressionGzip, body)
	resp := ParseResponse(frame)

	assert.Equal(t, int32(45000002), resp.Code)
	assert.Equal(t, uint32(len(payload)), resp.PayloadSize)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "invalid audio format", resp.Result.Error)
}

func TestParseResponse_EventField(t *testing.T) {
	body := make([]byte, 0, 12)
	body = binary.BigEndian.AppendUint32(body, 7)   // sequence
	body = binary.BigEndian.AppendUint32(body, 150) // event
	body = binary.BigEndian.AppendUint32(body, 0)   // payload size

	frame := buildServerFrame(msgTypeFullResponse, flagBitSequence|flagBitEvent, serializationNone, compressionNone, body)
	resp := ParseResponse(frame)

	assert.Equal(t, int32(7), resp.Sequence)
	assert.Equal(t, int32(150), resp.Event)
	assert.Empty(t, resp.Payload)
}

// Truncated frames must yield the fields decodable before the cut, never a
// panic or an error.
func TestParseResponse_Truncated(t *testing.T) {
	payload := mustGzip(t, []byte(`{"result":{"text":"partial"}}`))
	body := make([]byte, 0, 8+len(payload))
	body = binary.BigEndian.AppendUint32(body, 9)
	body = binary.BigEndian.AppendUint32(body, uint32(len(payload)))
	body = append(body, payload...)
	full := buildServerFrame(msgTypeFullResponse, flagBitSequence|flagBitLastPackage, serializationJSON, compressionGzip, body)

	tests := []struct {
		name     string
		frame    []byte
		wantSeq  int32
		wantLast bool
		wantSize uint32
	}{
		{
			name:  "empty input",
			frame: nil,
		},
		{
			name:  "shorter than header",
			frame: full[:3],
		},
		{
			// The sequence field is consumed before the last-package flag,
			// so a frame cut before the sequence yields nothing further.
			name:  "header only",
			frame: full[:4],
		},
		{
			name:  "cut inside sequence",
			frame: full[:6],
		},
		{
			name:     "cut before payload size",
			frame:    full[:8],
			wantSeq:  9,
			wantLast: true,
		},
		{
			name:     "cut inside payload",
			frame:    full[:14],
			wantSeq:  9,
			wantLast: true,
			wantSize: uint32(len(payload)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ParseResponse(tt.frame)
			assert.Equal(t, tt.wantSeq, resp.Sequence)
			assert.Equal(t, tt.wantLast, resp.IsLastPackage)
			assert.Equal(t, tt.wantSize, resp.PayloadSize)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestParseResponse_CorruptGzipKeepsEarlierFields(t *testing.T) {
	body := make([]byte, 0, 16)
	body = binary.BigEndian.AppendUint32(body, 3)
	body = binary.BigEndian.AppendUint32(body, 4)
	body = append(body, 0xde, 0xad, 0xbe, 0xef) // not gzip

	frame := buildServerFrame(msgTypeFullResponse, flagBitSequence, serializationJSON, compressionGzip, body)
	resp := ParseResponse(frame)

	assert.Equal(t, int32(3), resp.Sequence)
	assert.Equal(t, uint32(4), resp.PayloadSize)
	assert.Nil(t, resp.Payload)
	assert.Nil(t, resp.Result)
}

func TestParseResponse_NonJSONPayload(t *testing.T) {
	raw := []byte("plain text")
	body := make([]byte, 0, 4+len(raw))
	body = binary.BigEndian.AppendUint32(body, uint32(len(raw)))
	body = append(body, raw...)

	frame := buildServerFrame(msgTypeFullResponse, 0, serializationNone, compressionNone, body)
	resp := ParseResponse(frame)

	assert.Equal(t, raw, resp.Payload)
	assert.Nil(t, resp.Result)
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte("some audio bytes")
	compressed, err := gzipCompress(data)
	require.NoError(t, err)

	// Sanity check it really is gzip.
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	r.Close()

	decompressed, err := gzipDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
}
