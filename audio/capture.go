package audio

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// pushTimeout is how long a capture read waits for queue space before
	// logging. The chunk is retried, never dropped.
	pushTimeout = 500 * time.Millisecond

	// settleDelay gives the device a moment to stabilize after opening
	// before the first read.
	settleDelay = 100 * time.Millisecond

	// stopJoinTimeout bounds how long Stop waits for the capture loop.
	stopJoinTimeout = 1 * time.Second
)

// DeviceOpener opens a capture device producing fixed-size PCM chunks. Each
// Read must fill up to one chunk of little-endian 16-bit samples. Injected so
// tests can run without audio hardware.
type DeviceOpener func(sampleRate, channels, chunkSize int) (io.ReadCloser, error)

// CaptureBuffer continuously reads fixed-size PCM chunks from a capture
// device into a bounded FIFO queue, independent of network readiness. The
// queue holds roughly two seconds of audio so capture never has to wait for
// the consumer under normal operation.
//
// CaptureBuffer exclusively owns the device handle and the queue. The queue
// is the only structure shared with the consumer; chunks are handed over in
// capture order and consumed exactly once.
type CaptureBuffer struct {
	open       DeviceOpener
	sampleRate int
	channels   int
	chunkSize  int

	chunks   chan []byte
	device   io.ReadCloser
	stopping atomic.Bool
	wg       sync.WaitGroup
	log      *log.Logger
}

// NewCaptureBuffer creates a capture buffer for the given audio format. The
// queue capacity is sized to about two seconds of audio, with a minimum of
// one slot.
func NewCaptureBuffer(sampleRate, channels, chunkSize int, open DeviceOpener, logger *log.Logger) *CaptureBuffer {
	slots := sampleRate * 2 / chunkSize
	if slots < 1 {
		slots = 1
	}

	return &CaptureBuffer{
		open:       open,
		sampleRate: sampleRate,
		channels:   channels,
		chunkSize:  chunkSize,
		chunks:     make(chan []byte, slots),
		log:        logger,
	}
}

// Start opens the capture device and spawns the capture loop. Failure to
// open the device is a hard failure; no goroutine is spawned in that case.
func (cb *CaptureBuffer) Start() error {
	device, err := cb.open(cb.sampleRate, cb.channels, cb.chunkSize)
	if err != nil {
		return fmt.Errorf("opening capture device: %w", err)
	}
	cb.device = device

	time.Sleep(settleDelay)

	cb.wg.Add(1)
	go cb.captureLoop()
	return nil
}

func (cb *CaptureBuffer) captureLoop() {
	defer cb.wg.Done()

	for !cb.stopping.Load() {
		buf := make([]byte, cb.chunkSize)
		n, err := cb.device.Read(buf)
		if err != nil {
			// Read errors are expected once Stop has closed the device.
			if !cb.stopping.Load() {
				cb.log.Printf("audio read error: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		chunk := buf[:n]
		for !cb.push(chunk) {
			if cb.stopping.Load() {
				return
			}
			cb.log.Printf("audio buffer full, waiting for the sender to drain")
		}
	}
}

// push blocks up to pushTimeout for queue space. Chunks are never dropped;
// the caller retries until space frees up or the buffer is stopping.
func (cb *CaptureBuffer) push(chunk []byte) bool {
	timer := time.NewTimer(pushTimeout)
	defer timer.Stop()

	select {
	case cb.chunks <- chunk:
		return true
	case <-timer.C:
		return false
	}
}

// Next pops the oldest chunk, waiting up to timeout. The short timeout keeps
// the consumer responsive to stop signals.
func (cb *CaptureBuffer) Next(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk := <-cb.chunks:
		return chunk, true
	case <-timer.C:
		return nil, false
	}
}

// Stop signals the capture loop to exit, joins it with a bounded wait, and
// releases the device. Safe to call when Start failed or was never called.
func (cb *CaptureBuffer) Stop() {
	cb.stopping.Store(true)

	if cb.device != nil {
		done := make(chan struct{})
		go func() {
			cb.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopJoinTimeout):
			cb.log.Printf("capture loop did not exit in %v, closing device anyway", stopJoinTimeout)
		}

		if err := cb.device.Close(); err != nil {
			cb.log.Printf("error closing capture device: %v", err)
		}
		cb.device = nil
	}
}
