// Package deepgram implements streaming recognition through the Deepgram
// vendor SDK. The SDK drives the connection via callbacks; this adapter only
// sequences them into the providers.Session contract.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voicetype-io/voicetype/providers"
)

const providerName = "deepgram"

// dgWriter is a local interface that wraps the methods we need
// from listenv1ws.WSCallback to enable easier testing
type dgWriter interface {
	io.Writer
	Stop()
}

// ChannelHandler implements the LiveMessageChan interface for receiving Deepgram messages
type ChannelHandler struct {
	openChan          chan *api.OpenResponse
	messageChan       chan *api.MessageResponse
	metadataChan      chan *api.MetadataResponse
	speechStartedChan chan *api.SpeechStartedResponse
	utteranceEndChan  chan *api.UtteranceEndResponse
	closeChan         chan *api.CloseResponse
	errorChan         chan *api.ErrorResponse
	unhandledChan     chan *[]byte
}

// NewChannelHandler creates a new handler with initialized channels
func NewChannelHandler() *ChannelHandler {
	return &ChannelHandler{
		openChan:          make(chan *api.OpenResponse, 1),
		messageChan:       make(chan *api.MessageResponse, 10),
		metadataChan:      make(chan *api.MetadataResponse, 1),
		speechStartedChan: make(chan *api.SpeechStartedResponse, 1),
		utteranceEndChan:  make(chan *api.UtteranceEndResponse, 1),
		closeChan:         make(chan *api.CloseResponse, 1),
		errorChan:         make(chan *api.ErrorResponse, 1),
		unhandledChan:     make(chan *[]byte, 1),
	}
}

// GetOpen returns slice of channels for open events
func (ch *ChannelHandler) GetOpen() []*chan *api.OpenResponse {
	return []*chan *api.OpenResponse{&ch.openChan}
}

// GetMessage returns slice of channels for message events
func (ch *ChannelHandler) GetMessage() []*chan *api.MessageResponse {
	return []*chan *api.MessageResponse{&ch.messageChan}
}

// GetMetadata returns slice of channels for metadata events
func (ch *ChannelHandler) GetMetadata() []*chan *api.MetadataResponse {
	return []*chan *api.MetadataResponse{&ch.metadataChan}
}

// GetSpeechStarted returns slice of channels for speech started events
func (ch *ChannelHandler) GetSpeechStarted() []*chan *api.SpeechStartedResponse {
	return []*chan *api.SpeechStartedResponse{&ch.speechStartedChan}
}

// GetUtteranceEnd returns slice of channels for utterance end events
func (ch *ChannelHandler) GetUtteranceEnd() []*chan *api.UtteranceEndResponse {
	return []*chan *api.UtteranceEndResponse{&ch.utteranceEndChan}
}

// GetClose returns slice of channels for close events
func (ch *ChannelHandler) GetClose() []*chan *api.CloseResponse {
	return []*chan *api.CloseResponse{&ch.closeChan}
}

// GetError returns slice of channels for error events
func (ch *ChannelHandler) GetError() []*chan *api.ErrorResponse {
	return []*chan *api.ErrorResponse{&ch.errorChan}
}

// GetUnhandled returns slice of channels for unhandled events
func (ch *ChannelHandler) GetUnhandled() []*chan *[]byte {
	return []*chan *[]byte{&ch.unhandledChan}
}

// Provider implements the providers.Provider interface for Deepgram's
// speech-to-text API.
type Provider struct {
	apiKey   string
	model    string
	language string
}

// NewProvider creates a new Deepgram provider. The API key is required.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram API key is required")
	}
	client.InitWithDefault()

	return &Provider{
		apiKey:   apiKey,
		model:    "nova-3",
		language: "en-US",
	}, nil
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// NewSession creates a new Deepgram recognition session. It connects the SDK
// client and waits for the open event before returning, so audio capture can
// start as soon as this returns.
func (p *Provider) NewSession(ctx context.Context, config providers.RecognitionConfig) (providers.Session, error) {
	cOptions := &interfaces.ClientOptions{
		APIKey:          p.apiKey,
		EnableKeepAlive: true,
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          p.model,
		Language:       p.language,
		Punctuate:      config.Punctuate,
		Encoding:       "linear16",
		Channels:       config.Channels,
		SampleRate:     config.SampleRate,
		VadEvents:      true,
		InterimResults: config.InterimResults,
		UtteranceEndMs: "1000",
	}

	channelHandler := NewChannelHandler()

	dgClient, err := client.NewWSUsingChan(ctx, "", cOptions, tOptions, channelHandler)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ctx:            ctx,
		client:         dgClient,
		channelHandler: channelHandler,
	}

	if success := dgClient.Connect(); !success {
		return nil, errors.New("failed to connect to deepgram")
	}

	// The connection is not usable until the SDK reports the open event.
	// This is the readiness signal the caller gates microphone capture on.
	select {
	case <-channelHandler.openChan:
	case errResp := <-channelHandler.errorChan:
		dgClient.Stop()
		return nil, fmt.Errorf("deepgram connection error: %s", errResp)
	case <-ctx.Done():
		dgClient.Stop()
		return nil, fmt.Errorf("waiting for deepgram open event: %w", ctx.Err())
	}

	return session, nil
}

// Session implements the providers.Session interface for Deepgram's
// speech-to-text API.
type Session struct {
	ctx            context.Context
	client         dgWriter
	channelHandler *ChannelHandler
	stopped        bool
}

// SendSegment sends one audio segment to the Deepgram stream. The last
// segment stops the SDK client, which flushes pending audio and makes the
// service deliver its remaining results before closing.
func (s *Session) SendSegment(segment []byte, isLast bool) error {
	if len(segment) > 0 {
		if _, err := s.client.Write(segment); err != nil {
			return err
		}
	}
	if isLast && !s.stopped {
		s.stopped = true
		s.client.Stop()
	}
	return nil
}

// ReceiveResult receives transcription results from the Deepgram stream. It
// returns final sentences as final fragments and interim transcripts as
// non-final ones; io.EOF once the connection closes.
func (s *Session) ReceiveResult() (providers.RecognitionResult, error) {
	for {
		select {
		case msg := <-s.channelHandler.messageChan:
			if msg == nil {
				continue
			}
			result := s.processMessage(msg)
			if result != nil {
				return *result, nil
			}
		case errResp := <-s.channelHandler.errorChan:
			if errResp != nil {
				return providers.RecognitionResult{}, fmt.Errorf("%s", errResp)
			}
		case <-s.channelHandler.closeChan:
			// Connection closed by Deepgram
			return providers.RecognitionResult{}, io.EOF
		case <-s.channelHandler.openChan:
			// Consume open events (no action needed)
		case <-s.channelHandler.metadataChan:
			// Consume metadata events (no action needed)
		case <-s.channelHandler.speechStartedChan:
			// Consume speech started events (no action needed)
		case <-s.channelHandler.utteranceEndChan:
			// Consume utterance end events (no action needed)
		case <-s.channelHandler.unhandledChan:
			// Consume unhandled events (no action needed)
		case <-s.ctx.Done():
			if errors.Is(s.ctx.Err(), context.Canceled) {
				return providers.RecognitionResult{}, io.EOF
			}
			return providers.RecognitionResult{}, s.ctx.Err()
		}
	}
}

// processMessage converts one SDK message into a result, or nil when the
// message carries nothing usable.
func (s *Session) processMessage(msg *api.MessageResponse) *providers.RecognitionResult {
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alternative := msg.Channel.Alternatives[0]
	sentence := strings.TrimSpace(alternative.Transcript)
	if sentence == "" {
		return nil
	}

	return &providers.RecognitionResult{
		Text:       sentence,
		IsFinal:    msg.IsFinal,
		Confidence: float32(alternative.Confidence),
		Provider:   providerName,
		ReceivedAt: time.Now(),
	}
}

// Close closes the Deepgram session.
func (s *Session) Close() error {
	if s.client != nil && !s.stopped {
		s.stopped = true
		s.client.Stop()
	}

	// Closing the channels manually leads to race conditions because
	// the deepgram client still tries to send any in-flight messages to those channels.
	// Even the deepgram demo doesn't close the channels. So we leave it like this.

	return nil
}
