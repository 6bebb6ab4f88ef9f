package voicetype

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/voicetype-io/voicetype/audio"
	"github.com/voicetype-io/voicetype/providers"
)

const (
	// popTimeout bounds how long the sender waits for the next captured
	// chunk before re-checking the stop flag.
	popTimeout = 50 * time.Millisecond

	// senderJoinTimeout and receiverJoinTimeout bound how long Stop waits
	// for each worker. The receiver gets longer because the provider still
	// has to flush results after the last audio frame.
	senderJoinTimeout   = 2 * time.Second
	receiverJoinTimeout = 3 * time.Second
)

// recording owns one recognition attempt: the provider session, the capture
// buffer and the sender/receiver workers. A recording is built fresh for
// every start and never reused.
type recording struct {
	providerName string
	config       providers.RecognitionConfig

	stream    providers.Session
	capture   *audio.CaptureBuffer
	assembler *Assembler
	callback  func(providers.RecognitionResult)
	cancel    context.CancelFunc

	stopping     atomic.Bool
	senderDone   chan struct{}
	receiverDone chan struct{}

	log *log.Logger
}

func newRecording(providerName string, config providers.RecognitionConfig, stream providers.Session,
	capture *audio.CaptureBuffer, callback func(providers.RecognitionResult),
	cancel context.CancelFunc, logger *log.Logger) *recording {
	return &recording{
		providerName: providerName,
		config:       config,
		stream:       stream,
		capture:      capture,
		assembler:    NewAssembler(),
		callback:     callback,
		cancel:       cancel,
		senderDone:   make(chan struct{}),
		receiverDone: make(chan struct{}),
		log:          logger,
	}
}

// start launches the sender and receiver workers.
func (r *recording) start() {
	go r.sendLoop()
	go r.receiveLoop()
}

// stop shuts the attempt down: it flags the workers, waits for the sender to
// emit the final frame and the receiver to drain results, then tears down
// the capture buffer and the transport. Every wait is bounded; a worker that
// overruns its join timeout is logged and abandoned, and closing the stream
// plus cancelling the session context unblocks it shortly after.
func (r *recording) stop() {
	r.stopping.Store(true)

	if !waitDone(r.senderDone, senderJoinTimeout) {
		r.log.Printf("sender did not finish within %v", senderJoinTimeout)
	}
	if !waitDone(r.receiverDone, receiverJoinTimeout) {
		r.log.Printf("receiver did not finish within %v", receiverJoinTimeout)
	}

	r.capture.Stop()
	if err := r.stream.Close(); err != nil {
		r.log.Printf("closing %s session: %v", r.providerName, err)
	}
	r.cancel()
}

// sendLoop drains the capture buffer, applies the gain stage and ships audio
// to the provider in segment-sized writes. On stop it always emits a final
// frame, even when no audio is pending, so the provider can flush.
func (r *recording) sendLoop() {
	defer close(r.senderDone)

	var pending []byte
	chunksPending := 0
	perSegment := r.config.ChunksPerSegment()
	lastSend := time.Now()

	for !r.stopping.Load() {
		chunk, ok := r.capture.Next(popTimeout)
		if ok {
			pending = append(pending, chunk...)
			chunksPending++
		}
		if chunksPending == 0 {
			continue
		}
		if chunksPending >= perSegment || time.Since(lastSend) >= r.config.SegmentDuration {
			if err := r.sendSegment(pending, false); err != nil {
				if !r.stopping.Load() {
					r.log.Printf("sending audio to %s: %v", r.providerName, err)
				}
				return
			}
			pending = nil
			chunksPending = 0
			lastSend = time.Now()
		}
	}

	if err := r.sendSegment(pending, true); err != nil && !r.stopping.Load() {
		r.log.Printf("sending final frame to %s: %v", r.providerName, err)
	}
}

func (r *recording) sendSegment(segment []byte, isLast bool) error {
	amplified, clipped := audio.Amplify(segment)
	if clipped > 0 {
		r.log.Printf("gain stage clipped %d samples", clipped)
	}
	return r.stream.SendSegment(amplified, isLast)
}

// receiveLoop reads results until the provider signals end of stream, folds
// them into the assembler and then delivers the finished transcript through
// the callback exactly once.
func (r *recording) receiveLoop() {
	defer close(r.receiverDone)

	for {
		result, err := r.stream.ReceiveResult()
		if err != nil {
			if !errors.Is(err, io.EOF) && !r.stopping.Load() {
				r.log.Printf("receiving from %s: %v", r.providerName, err)
			}
			break
		}
		r.assembler.Merge(result)
	}

	text := r.assembler.Final()
	if text == "" {
		r.log.Printf("%s session finished with no transcript", r.providerName)
		return
	}
	r.emit(providers.RecognitionResult{
		Text:       text,
		IsFinal:    true,
		Confidence: 1.0,
		Provider:   r.providerName,
		ReceivedAt: time.Now(),
	})
}

// emit hands the result to the callback. A panicking callback must not take
// the receiver down with it.
func (r *recording) emit(result providers.RecognitionResult) {
	if r.callback == nil {
		r.log.Printf("no result callback set, discarding transcript")
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Printf("result callback panicked: %v", p)
		}
	}()
	r.callback(result)
}

func waitDone(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
