// Package doubao implements streaming recognition against the ByteDance
// Doubao (Volcano Engine) big-model ASR service using its binary WebSocket
// protocol.
package doubao

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/voicetype-io/voicetype/providers"
)

// Protocol constants. Every frame starts with a 4-byte header:
//
//	byte0: version(4b)       | headerLenWords(4b)
//	byte1: messageType(4b)   | typeFlags(4b)
//	byte2: serialization(4b) | compression(4b)
//	byte3: reserved
//
// The header length is always one word (4 bytes) in this protocol. Body
// integers are big-endian.
const (
	protocolVersion = 0b0001
	headerLenWords  = 1

	msgTypeFullClientRequest = 0b0001
	msgTypeAudioOnlyRequest  = 0b0010
	msgTypeFullResponse      = 0b1001
	msgTypeErrorResponse     = 0b1111

	flagNoSequence      = 0b0000
	flagPositiveSeq     = 0b0001
	flagNegativeSeq     = 0b0010
	flagNegativeWithSeq = 0b0011

	serializationNone = 0b0000
	serializationJSON = 0b0001

	compressionNone = 0b0000
	compressionGzip = 0b0001
)

// Flag bits carried in the response type flags.
const (
	flagBitSequence    = 0x01
	flagBitLastPackage = 0x02
	flagBitEvent       = 0x04
)

func encodeHeader(messageType, typeFlags, serialization, compression byte) []byte {
	return []byte{
		protocolVersion<<4 | headerLenWords,
		messageType<<4 | typeFlags,
		serialization<<4 | compression,
		0x00,
	}
}

// fullClientPayload is the JSON body of the handshake frame describing the
// audio format and recognition options.
type fullClientPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format  string `json:"format"`
		Codec   string `json:"codec"`
		Rate    int    `json:"rate"`
		Bits    int    `json:"bits"`
		Channel int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName       string `json:"model_name"`
		EnableITN       bool   `json:"enable_itn"`
		EnablePunc      bool   `json:"enable_punc"`
		EnableDDC       bool   `json:"enable_ddc"`
		ShowUtterances  bool   `json:"show_utterances"`
		EnableNonstream bool   `json:"enable_nonstream"`
	} `json:"request"`
}

// NewFullClientRequest builds the handshake frame: a gzip-compressed JSON
// payload describing the audio format and recognition options, with a
// positive sequence number (always 1 on the wire).
func NewFullClientRequest(seq int32, config providers.RecognitionConfig) ([]byte, error) {
	var payload fullClientPayload
	payload.User.UID = "voicetype_user"
	payload.Audio.Format = config.Encoding
	payload.Audio.Codec = "raw"
	payload.Audio.Rate = config.SampleRate
	payload.Audio.Bits = 16
	payload.Audio.Channel = config.Channels
	payload.Request.ModelName = "bigmodel"
	payload.Request.EnableITN = true
	payload.Request.EnablePunc = config.Punctuate
	payload.Request.EnableDDC = false
	payload.Request.ShowUtterances = config.InterimResults
	payload.Request.EnableNonstream = false

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling handshake payload: %w", err)
	}

	compressed, err := gzipCompress(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("compressing handshake payload: %w", err)
	}

	frame := bytes.NewBuffer(encodeHeader(msgTypeFullClientRequest, flagPositiveSeq, serializationJSON, compressionGzip))
	binary.Write(frame, binary.BigEndian, seq)
	binary.Write(frame, binary.BigEndian, uint32(len(compressed)))
	frame.Write(compressed)
	return frame.Bytes(), nil
}

// NewAudioOnlyRequest builds one audio frame. The final segment carries the
// negative-with-sequence flag and a negated sequence number; this is the
// only end-of-stream signal the server understands, so callers must send it
// exactly once and in order.
func NewAudioOnlyRequest(seq int32, segment []byte, isLast, compress bool) ([]byte, error) {
	typeFlags := byte(flagPositiveSeq)
	if isLast {
		typeFlags = flagNegativeWithSeq
		seq = -seq
	}

	compression := byte(compressionGzip)
	body := segment
	if compress {
		var err error
		body, err = gzipCompress(segment)
		if err != nil {
			return nil, fmt.Errorf("compressing audio segment: %w", err)
		}
	} else {
		compression = compressionNone
	}

	frame := bytes.NewBuffer(encodeHeader(msgTypeAudioOnlyRequest, typeFlags, serializationNone, compression))
	binary.Write(frame, binary.BigEndian, seq)
	binary.Write(frame, binary.BigEndian, uint32(len(body)))
	frame.Write(body)
	return frame.Bytes(), nil
}

// Response is a decoded server frame. A truncated or malformed frame yields
// a Response holding whatever fields decoded before the failure point;
// decoding never fails outright.
type Response struct {
	// Code is the server result code, non-zero only on error responses.
	Code int32

	// Event is the optional event code.
	Event int32

	// IsLastPackage marks the final response of the recognition attempt.
	IsLastPackage bool

	// Sequence is the echoed sequence number, when present.
	Sequence int32

	// PayloadSize is the declared size of the (possibly compressed) payload.
	PayloadSize uint32

	// Payload is the decompressed raw payload, when any was present.
	Payload []byte

	// Result is the parsed transcript payload, when the payload was JSON
	// and parseable.
	Result *ResultPayload
}

// ResultPayload is the JSON body of a server response.
type ResultPayload struct {
	Result struct {
		Text string `json:"text"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// Text returns the transcript fragment carried by the response, if any.
func (r *Response) Text() (string, bool) {
	if r.Result == nil {
		return "", false
	}
	return r.Result.Result.Text, true
}

// ParseResponse decodes a server frame. Fields are consumed in header order:
// sequence (flag bit 0), last-package marker (flag bit 1), event (flag bit
// 2), then a payload size (full response) or code plus payload size (error
// response), then the payload itself. Decoding stops at the first field that
// does not fit and returns the response assembled so far; earlier fields
// stay valid.
func ParseResponse(msg []byte) Response {
	var resp Response
	if len(msg) < 4 {
		return resp
	}

	headerSize := int(msg[0] & 0x0f)
	messageType := msg[1] >> 4
	typeFlags := msg[1] & 0x0f
	serialization := msg[2] >> 4
	compression := msg[2] & 0x0f

	if len(msg) < headerSize*4 {
		return resp
	}
	payload := msg[headerSize*4:]

	if typeFlags&flagBitSequence != 0 {
		if len(payload) < 4 {
			return resp
		}
		resp.Sequence = int32(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
	}

	if typeFlags&flagBitLastPackage != 0 {
		resp.IsLastPackage = true
	}

	if typeFlags&flagBitEvent != 0 {
		if len(payload) < 4 {
			return resp
		}
		resp.Event = int32(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
	}

	switch messageType {
	case msgTypeFullResponse:
		if len(payload) < 4 {
			return resp
		}
		resp.PayloadSize = binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
	case msgTypeErrorResponse:
		if len(payload) < 8 {
			return resp
		}
		resp.Code = int32(binary.BigEndian.Uint32(payload[:4]))
		resp.PayloadSize = binary.BigEndian.Uint32(payload[4:8])
		payload = payload[8:]
	}

	if len(payload) == 0 {
		return resp
	}

	if compression == compressionGzip {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			return resp
		}
		payload = decompressed
	}
	resp.Payload = payload

	if serialization == serializationJSON {
		var result ResultPayload
		if err := json.Unmarshal(payload, &result); err == nil {
			resp.Result = &result
		}
	}

	return resp
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
