// Package google implements streaming recognition through the Google Cloud
// Speech-to-Text gRPC API.
package google

import (
	"context"
	"errors"
	"io"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/voicetype-io/voicetype/providers"
)

const providerName = "google"

// streamingRecognizeClient is a local interface that wraps the methods we need
// from speechpb.Speech_StreamingRecognizeClient to enable easier testing
type streamingRecognizeClient interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Provider implements the providers.Provider interface for Google
// Speech-to-Text. Authentication uses application default credentials, so
// there are no explicit credential fields.
type Provider struct {
	client   *speech.Client
	language string
}

// NewProvider creates a new Google Speech provider with the given client.
func NewProvider(client *speech.Client) *Provider {
	return &Provider{
		client:   client,
		language: "en-US",
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return providerName
}

// Close releases the underlying speech client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// NewSession creates a new Google Speech recognition session. Once the
// configuration request has been accepted the stream is ready for audio.
func (p *Provider) NewSession(ctx context.Context, config providers.RecognitionConfig) (providers.Session, error) {
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	// Send initial configuration
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(config.SampleRate),
					AudioChannelCount:          int32(config.Channels),
					LanguageCode:               p.language,
					EnableAutomaticPunctuation: config.Punctuate,
				},
				InterimResults: config.InterimResults,
			},
		},
	}

	if err := stream.Send(req); err != nil {
		stream.CloseSend()
		return nil, err
	}

	return &Session{
		stream: stream,
	}, nil
}

// Session implements the providers.Session interface for Google
// Speech-to-Text.
type Session struct {
	stream streamingRecognizeClient
	closed bool
}

// SendSegment sends one audio segment to the stream. The last segment
// half-closes the stream, which tells the service no more audio is coming
// and makes it flush its remaining results.
func (s *Session) SendSegment(segment []byte, isLast bool) error {
	if len(segment) > 0 {
		req := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: segment,
			},
		}
		if err := s.stream.Send(req); err != nil {
			return err
		}
	}
	if isLast && !s.closed {
		s.closed = true
		return s.stream.CloseSend()
	}
	return nil
}

// ReceiveResult receives transcription results from the stream. Final
// results are surfaced as final fragments, interim ones as non-final;
// io.EOF once the service has no more results.
func (s *Session) ReceiveResult() (providers.RecognitionResult, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return providers.RecognitionResult{}, io.EOF
		}
		if err != nil {
			return providers.RecognitionResult{}, err
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			return providers.RecognitionResult{
				Text:       alt.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: alt.Confidence,
				Provider:   providerName,
				ReceivedAt: time.Now(),
			}, nil
		}
		// Continue loop if the response carried no usable results
	}
}

// Close half-closes the stream if the last segment never went out.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.CloseSend()
}
