package voicetype

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"

	"github.com/voicetype-io/voicetype/audio"
	"github.com/voicetype-io/voicetype/providers"
	"github.com/voicetype-io/voicetype/providers/deepgram"
	"github.com/voicetype-io/voicetype/providers/doubao"
	"github.com/voicetype-io/voicetype/providers/google"
)

// Credentials holds the secrets for whichever provider is selected. Only the
// fields the provider needs have to be set.
type Credentials struct {
	// APIKey authenticates API-key providers (deepgram).
	APIKey string

	// AppID and AccessToken authenticate the doubao provider.
	AppID       string
	AccessToken string
}

// SupportedProviders lists the recognizer backends New accepts.
func SupportedProviders() []string {
	return []string{"doubao", "deepgram", "google"}
}

// ValidateCredentials reports whether the credentials carry what the named
// provider requires. Google uses application default credentials, so any
// value passes for it.
func ValidateCredentials(providerName string, creds Credentials) bool {
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "deepgram":
		return strings.TrimSpace(creds.APIKey) != ""
	case "doubao":
		return strings.TrimSpace(creds.AppID) != "" && strings.TrimSpace(creds.AccessToken) != ""
	case "google":
		return true
	default:
		return false
	}
}

// Recognizer is the push-to-talk facade: Start opens a recognition session
// and the microphone, Stop flushes the session and delivers the transcript
// through the result callback. At most one recording attempt is active per
// recognizer.
type Recognizer struct {
	provider providers.Provider
	config   providers.RecognitionConfig
	opener   audio.DeviceOpener
	log      *log.Logger

	mu       sync.Mutex
	callback func(providers.RecognitionResult)
	active   *recording
}

// New builds a recognizer for the named provider. The provider is constructed
// eagerly so credential and client errors surface here rather than on the
// first keypress.
func New(providerName string, config providers.RecognitionConfig, creds Credentials) (*Recognizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	applyConfigDefaults(&config)

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

	provider, err := buildProvider(providerName, config, creds, logger)
	if err != nil {
		return nil, err
	}

	return NewWithProvider(provider, config), nil
}

// NewWithProvider builds a recognizer around an already-constructed provider.
// The config must have been validated.
func NewWithProvider(provider providers.Provider, config providers.RecognitionConfig) *Recognizer {
	applyConfigDefaults(&config)
	return &Recognizer{
		provider: provider,
		config:   config,
		opener:   audio.DefaultDevice,
		log:      log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile),
	}
}

func applyConfigDefaults(config *providers.RecognitionConfig) {
	if config.Encoding == "" {
		config.Encoding = "pcm"
	}
	if config.SegmentDuration <= 0 {
		config.SegmentDuration = 200 * time.Millisecond
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
}

func buildProvider(providerName string, config providers.RecognitionConfig, creds Credentials, logger *log.Logger) (providers.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "deepgram":
		return deepgram.NewProvider(creds.APIKey)
	case "doubao":
		p, err := doubao.NewProvider(creds.AppID, creds.AccessToken, logger)
		if err != nil {
			return nil, err
		}
		url, _ := config.Extensions["url"].(string)
		resourceID, _ := config.Extensions["resource_id"].(string)
		return p.WithEndpoint(url, resourceID), nil
	case "google":
		client, err := speech.NewClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating google speech client: %w", err)
		}
		return google.NewProvider(client), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s)",
			providerName, strings.Join(SupportedProviders(), ", "))
	}
}

// SetResultCallback registers the function invoked with the final transcript
// of each recording. Must be set before Start for results to be delivered.
func (r *Recognizer) SetResultCallback(fn func(providers.RecognitionResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = fn
}

// IsRecording reports whether a recording attempt is active.
func (r *Recognizer) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start begins a recording attempt: it opens the recognition session, waits
// for the service to become ready, then opens the capture device and spawns
// the workers. It returns false, with the reason logged, when a recording is
// already active or any stage fails; a failed Start leaves no goroutines or
// open devices behind.
func (r *Recognizer) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.log.Printf("recording already in progress")
		return false
	}

	// The session context outlives the handshake: some SDKs tie the
	// connection lifetime to it, so it is cancelled only at teardown.
	sessCtx, cancel := context.WithCancel(context.Background())

	stream, ok := r.openSession(sessCtx)
	if !ok {
		cancel()
		return false
	}

	// The service is ready; only now touch the microphone.
	capture := audio.NewCaptureBuffer(r.config.SampleRate, r.config.Channels, r.config.ChunkSize, r.opener, r.log)
	if err := capture.Start(); err != nil {
		r.log.Printf("starting audio capture: %v", err)
		if cerr := stream.Close(); cerr != nil {
			r.log.Printf("closing %s session: %v", r.provider.Name(), cerr)
		}
		cancel()
		return false
	}

	rec := newRecording(r.provider.Name(), r.config, stream, capture, r.callback, cancel, r.log)
	rec.start()
	r.active = rec
	return true
}

// openSession opens the provider session, bounding the wait with the
// handshake timeout. A session that arrives after the timeout is closed.
func (r *Recognizer) openSession(ctx context.Context) (providers.Session, bool) {
	type outcome struct {
		stream providers.Session
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		stream, err := r.provider.NewSession(ctx, r.config)
		ch <- outcome{stream, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			r.log.Printf("connecting to %s: %v", r.provider.Name(), out.err)
			return nil, false
		}
		return out.stream, true
	case <-time.After(r.config.HandshakeTimeout):
		r.log.Printf("%s handshake timed out after %v", r.provider.Name(), r.config.HandshakeTimeout)
		go func() {
			if out := <-ch; out.stream != nil {
				out.stream.Close()
			}
		}()
		return nil, false
	}
}

// Stop ends the active recording attempt: the final audio frame is sent, the
// remaining results are drained and the transcript is delivered through the
// callback before Stop returns. It returns false when no recording is
// active. Cleanup is best effort; Stop never blocks indefinitely.
func (r *Recognizer) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		r.log.Printf("no recording in progress")
		return false
	}

	r.active.stop()
	r.active = nil
	return true
}

// Cleanup releases the recognizer's long-lived resources. It stops any
// active recording first. Call it once, when the recognizer is no longer
// needed.
func (r *Recognizer) Cleanup() {
	if r.IsRecording() {
		r.Stop()
	}
	if closer, ok := r.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.log.Printf("closing %s provider: %v", r.provider.Name(), err)
		}
	}
}
