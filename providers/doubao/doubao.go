package doubao

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicetype-io/voicetype/providers"
)

const providerName = "doubao"

// Defaults for the big-model streaming endpoint.
const (
	DefaultURL        = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	DefaultResourceID = "volc.seedasr.sauc.duration"
)

// wsConn is a local interface that wraps the methods we need from
// websocket.Conn to enable easier testing.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Provider implements the providers.Provider interface for the Doubao ASR
// service. Unlike the SDK-backed providers it speaks the binary wire
// protocol directly over a WebSocket.
type Provider struct {
	appID       string
	accessToken string
	url         string
	resourceID  string
	compress    bool
	log         *log.Logger
}

// NewProvider creates a new Doubao provider. The app ID and access token are
// both required.
func NewProvider(appID, accessToken string, logger *log.Logger) (*Provider, error) {
	if appID == "" {
		return nil, errors.New("doubao app ID is required")
	}
	if accessToken == "" {
		return nil, errors.New("doubao access token is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	}

	return &Provider{
		appID:       appID,
		accessToken: accessToken,
		url:         DefaultURL,
		resourceID:  DefaultResourceID,
		compress:    true,
		log:         logger,
	}, nil
}

// WithEndpoint overrides the service URL and resource ID. Returns the
// provider for chaining.
func (p *Provider) WithEndpoint(url, resourceID string) *Provider {
	if url != "" {
		p.url = url
	}
	if resourceID != "" {
		p.resourceID = resourceID
	}
	return p
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// authHeaders builds the per-connection authentication headers. The request
// ID is a fresh UUID for every connection.
func (p *Provider) authHeaders() http.Header {
	return http.Header{
		"X-Api-Resource-Id": []string{p.resourceID},
		"X-Api-Request-Id":  []string{uuid.NewString()},
		"X-Api-Access-Key":  []string{p.accessToken},
		"X-Api-App-Key":     []string{p.appID},
	}
}

// NewSession dials the service and performs the handshake: a full client
// request with sequence 1, then the server's initial acknowledgement. When
// NewSession returns without error the channel is ready for audio, so the
// capture device can be opened without losing any samples.
func (p *Provider) NewSession(ctx context.Context, config providers.RecognitionConfig) (providers.Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.url, p.authHeaders())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to doubao (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connecting to doubao: %w", err)
	}

	session := &Session{
		conn:     conn,
		seq:      &sequencer{next: 1},
		compress: p.compress,
		log:      p.log,
	}

	if err := session.handshake(ctx, config); err != nil {
		conn.Close()
		return nil, err
	}

	return session, nil
}

// sequencer issues the strictly increasing per-session sequence numbers.
// The handshake consumes the first one; audio frames take the rest. The
// final frame reuses the next value negated, which happens at encode time.
type sequencer struct {
	next int32
}

func (s *sequencer) take() int32 {
	seq := s.next
	s.next++
	return seq
}

// Session implements the providers.Session interface over the binary wire
// protocol. The connection handle and sequence counter are owned exclusively
// by the session.
type Session struct {
	conn     wsConn
	seq      *sequencer
	compress bool
	done     bool
	log      *log.Logger
}

// handshake sends the full client request and consumes the server's initial
// acknowledgement. A non-zero code in the acknowledgement is logged but does
// not fail the handshake; the service surfaces errors through the response
// stream and aborting here would turn advisory codes into hard failures.
func (s *Session) handshake(ctx context.Context, config providers.RecognitionConfig) error {
	seq := s.seq.take()
	frame, err := NewFullClientRequest(seq, config)
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok && config.HandshakeTimeout > 0 {
		deadline = time.Now().Add(config.HandshakeTimeout)
		ok = true
	}
	if ok {
		s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading handshake acknowledgement: %w", err)
	}

	ack := ParseResponse(msg)
	if ack.Code != 0 {
		s.log.Printf("doubao handshake acknowledged with code %d, proceeding: %s", ack.Code, ack.Payload)
	}
	return nil
}

// SendSegment encodes one audio segment as an audio-only request and writes
// it to the connection. Segments must be sent in capture order; the final
// segment gets the negated sequence that signals end-of-stream.
func (s *Session) SendSegment(segment []byte, isLast bool) error {
	frame, err := NewAudioOnlyRequest(s.seq.take(), segment, isLast, s.compress)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// ReceiveResult reads server frames until one carries a transcript fragment
// or the last-package marker. The last package yields a final result; the
// next call returns io.EOF.
func (s *Session) ReceiveResult() (providers.RecognitionResult, error) {
	if s.done {
		return providers.RecognitionResult{}, io.EOF
	}

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if isClosedConn(err) {
				return providers.RecognitionResult{}, io.EOF
			}
			return providers.RecognitionResult{}, err
		}

		resp := ParseResponse(msg)
		if resp.Code != 0 {
			s.log.Printf("doubao error response: code=%d payload=%s", resp.Code, resp.Payload)
		}

		text, _ := resp.Text()

		if resp.IsLastPackage {
			s.done = true
			return providers.RecognitionResult{
				Text:       text,
				IsFinal:    true,
				Confidence: 1.0,
				Provider:   providerName,
				ReceivedAt: time.Now(),
			}, nil
		}

		if text != "" {
			return providers.RecognitionResult{
				Text:       text,
				IsFinal:    false,
				Confidence: 1.0,
				Provider:   providerName,
				ReceivedAt: time.Now(),
			}, nil
		}
		// Frame without a transcript (ack, keepalive); keep reading.
	}
}

// Close closes the WebSocket connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// isClosedConn reports whether a read error means the connection ended
// normally rather than failed.
func isClosedConn(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
