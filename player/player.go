// Package player runs renders off the interactive thread. A Worker
// drains a queue of preview requests one at a time, hands each to the
// synchronous bridge render and broadcasts the finished playback to
// registered callbacks. Requests own their cancellation: the worker
// checks between blocks, so a stale preview stops within one block of
// being cancelled. Submission never blocks; a full queue rejects the
// request and the caller decides whether to retry.
package player

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/tahti-studio/tahti"
	"github.com/tahti-studio/tahti/bridge"
)

// ErrCancelled aborts a render whose request was cancelled. The result
// still reaches the callbacks, wrapping this error.
var ErrCancelled = errors.New("render cancelled")

type (
	// Request is one render to perform. Create requests with NewRequest
	// so they carry an id and a cancellation channel.
	Request struct {
		ID          string
		Pattern     tahti.Pattern
		Instruments []tahti.InstrumentDefinition
		Options     bridge.RenderOptions

		cancel     chan struct{}
		cancelOnce *sync.Once
	}

	// Result pairs a finished request with its playback, or with the
	// error that aborted it.
	Result struct {
		Request  Request
		Playback *bridge.PatternPlayback
		Err      error
	}

	// Worker renders queued requests on its own goroutine.
	Worker struct {
		requests chan Request
		quit     chan struct{}
		finished chan struct{}

		mu        sync.Mutex
		callbacks []func(Result)
		last      Result
		hasLast   bool
	}
)

// NewRequest builds a request for rendering a pattern with the given
// instruments.
func NewRequest(pattern tahti.Pattern, instruments []tahti.InstrumentDefinition, opts bridge.RenderOptions) Request {
	return Request{
		ID:          uuid.NewString(),
		Pattern:     pattern,
		Instruments: instruments,
		Options:     opts,
		cancel:      make(chan struct{}),
		cancelOnce:  new(sync.Once),
	}
}

// Cancel asks the worker to stop rendering this request. Safe to call
// more than once and from any goroutine.
func (r Request) Cancel() {
	if r.cancelOnce != nil {
		r.cancelOnce.Do(func() { close(r.cancel) })
	}
}

// NewWorker starts a worker whose queue holds up to queueSize pending
// requests.
func NewWorker(queueSize int) *Worker {
	w := &Worker{
		requests: make(chan Request, queueSize),
		quit:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit offers a request to the queue without blocking, reporting
// whether it was accepted.
func (w *Worker) Submit(r Request) bool {
	select {
	case w.requests <- r:
		return true
	default:
		return false
	}
}

// OnComplete registers a callback invoked on the worker goroutine after
// every finished request, in submission order.
func (w *Worker) OnComplete(callback func(Result)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Last returns the most recently completed result, for consumers that
// poll instead of subscribing.
func (w *Worker) Last() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.hasLast
}

// Close stops the worker after the render in progress, if any, has
// finished or been cancelled, and waits for the goroutine to exit.
func (w *Worker) Close() {
	select {
	case w.quit <- struct{}{}:
	default: // someone already asked; the worker is on its way down
	}
	<-w.finished
}

func (w *Worker) run() {
	defer close(w.finished)
	for {
		// quit wins over queued requests, so a pending queue never
		// renders past Close.
		select {
		case <-w.quit:
			return
		default:
		}
		select {
		case <-w.quit:
			return
		case r := <-w.requests:
			w.broadcast(w.render(r))
		}
	}
}

// render runs one request, wiring its cancellation into the bridge's
// between block hook.
func (w *Worker) render(r Request) Result {
	opts := r.Options
	inner := opts.BlockHook
	opts.BlockHook = func(block int) error {
		if r.cancel != nil {
			select {
			case <-r.cancel:
				return ErrCancelled
			default:
			}
		}
		if inner != nil {
			return inner(block)
		}
		return nil
	}
	playback, err := bridge.RenderPattern(r.Pattern, r.Instruments, opts)
	return Result{Request: r, Playback: playback, Err: err}
}

func (w *Worker) broadcast(result Result) {
	w.mu.Lock()
	w.last = result
	w.hasLast = true
	callbacks := make([]func(Result), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()
	for _, callback := range callbacks {
		callback(result)
	}
}

// Play streams a finished playback to an audio context, in chunks small
// enough for the sink to start sounding before the write completes.
func Play(ctx tahti.AudioContext, playback *bridge.PatternPlayback) error {
	sink := ctx.Output()
	defer sink.Close()
	interleaved := playback.Buffer.Interleaved()
	channels := playback.Buffer.Channels()
	chunk := 2048 * channels
	for start := 0; start < len(interleaved); start += chunk {
		end := start + chunk
		if end > len(interleaved) {
			end = len(interleaved)
		}
		if err := sink.WriteAudio(interleaved[start:end]); err != nil {
			return err
		}
	}
	return nil
}
