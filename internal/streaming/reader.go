// Package streaming implements a reconnecting, line-framed reader over a
// Kubernetes streaming HTTP response (pod logs, or a raw watch feed). It
// generalizes the idle-timeout/reconnect loop used by this repo's ancestor to
// any absolute API path, and republishes each line as a named event instead
// of a single fixed event type.
package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/eventbus"
)

// Event names emitted on a Reader's Bus over its lifetime. DataEventName is
// configurable per Options (e.g. "log" for pod logs, "update" for a
// namespace watch) and defaults to "data".
const (
	EventStarted = "started"
	EventWarning = "warning"
	EventError   = "error"
	EventStopped = "stopped"
)

// StreamFactory opens a fresh HTTP stream for the resource this Reader
// follows. It is called once per connection attempt; reconnects call it
// again with the same ctx.
type StreamFactory func(ctx context.Context) (io.ReadCloser, error)

// Options configures reconnect behavior and how each line is decoded and
// republished.
type Options struct {
	// DataEventName is the bus event name used for each decoded line.
	DataEventName string
	// ReadAsObject, when true, JSON-decodes each line into map[string]any
	// before emitting it. When false, the raw line string is emitted.
	ReadAsObject bool
	// ReconnectMaxRetries bounds the number of consecutive failed connection
	// attempts before the reader gives up and emits a terminal error.
	ReconnectMaxRetries int
	// ReconnectWaitTimeout is the delay between reconnect attempts.
	ReconnectWaitTimeout time.Duration
	// IdleTimeout is the maximum time to wait for the next line before
	// treating the connection as stale and reconnecting.
	IdleTimeout time.Duration
	// IgnoreErrorsIfRemoved suppresses a terminal "error" event (reporting a
	// clean "stopped" instead) when the stream ends with Not Found or Bad
	// Request after at least one successful connection — the object was
	// deleted out from under the watch, not a real failure.
	IgnoreErrorsIfRemoved bool
}

// DefaultOptions returns the reconnect tuning used throughout this repo
// unless a caller overrides it.
func DefaultOptions() Options {
	return Options{
		DataEventName:         "data",
		ReadAsObject:          true,
		ReconnectMaxRetries:   20,
		ReconnectWaitTimeout:  5 * time.Second,
		IdleTimeout:           60 * time.Second,
		IgnoreErrorsIfRemoved: true,
	}
}

// Event is a single item from a Reader's generator-mode channel (Stream).
type Event struct {
	Type  string
	Value any
}

// Reader follows a single streaming HTTP response, reconnecting on
// transient failure, and republishes decoded lines as named events. The
// zero value is not usable; construct with New.
type Reader struct {
	factory StreamFactory
	opts    Options
	bus     *eventbus.Bus

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	currentStream io.ReadCloser
}

// New creates a Reader. opts zero value is not valid; pass DefaultOptions()
// or a copy of it with fields overridden.
func New(factory StreamFactory, opts Options) *Reader {
	if opts.DataEventName == "" {
		opts.DataEventName = "data"
	}
	return &Reader{
		factory: factory,
		opts:    opts,
		bus:     eventbus.New(),
	}
}

// Bus returns the event bus Reader emits lifecycle and data events on.
func (r *Reader) Bus() *eventbus.Bus {
	return r.bus
}

// IsStreaming reports whether a read loop is currently active.
func (r *Reader) IsStreaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins the read loop in the background (async mode: events are only
// delivered via Bus, there is no generator channel). It returns once the
// loop has been launched, not once it finishes.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("streaming: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(runCtx)
	return nil
}

// Stream begins the read loop and returns a channel of decoded events
// (generator mode), closed once the loop stops for any reason. A terminal
// error is delivered as the final received value before the channel closes
// by also being emitted on Bus under EventError; callers that need it
// should subscribe to Bus before calling Stream.
func (r *Reader) Stream(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)

	dataID := r.bus.On(r.opts.DataEventName, func(args ...any) {
		if len(args) > 0 {
			out <- Event{Type: r.opts.DataEventName, Value: args[0]}
		}
	})
	var stoppedID, errorID int64
	stoppedID = r.bus.On(EventStopped, func(args ...any) {
		close(out)
	})
	errorID = r.bus.On(EventError, func(args ...any) {
		var v any
		if len(args) > 0 {
			v = args[0]
		}
		out <- Event{Type: EventError, Value: v}
	})

	if err := r.Start(ctx); err != nil {
		r.bus.Off(r.opts.DataEventName, dataID)
		r.bus.Off(EventStopped, stoppedID)
		r.bus.Off(EventError, errorID)
		close(out)
		return nil, err
	}
	return out, nil
}

// Wait blocks until the read loop launched by Start or Stream has finished.
func (r *Reader) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop requests a graceful shutdown: the context passed to the underlying
// stream factory and scanner is cancelled, and the loop exits at its next
// cancellation check.
func (r *Reader) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort forces an immediate shutdown: like Stop, but also closes the
// in-flight response body so a read blocked inside the kernel (rather than
// in a context-aware select) unblocks right away.
func (r *Reader) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	stream := r.currentStream
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
}

func (r *Reader) emit(name string, value any) {
	if value != nil {
		r.bus.Emit(name, value)
	} else {
		r.bus.Emit(name)
	}
}

func (r *Reader) setCurrentStream(s io.ReadCloser) {
	r.mu.Lock()
	r.currentStream = s
	r.mu.Unlock()
}

func (r *Reader) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.done)
	}()

	wasStarted := false
	reconnectAttempts := 0

	for {
		if ctx.Err() != nil {
			r.emit(EventStopped, nil)
			return
		}

		stream, err := r.factory(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.emit(EventStopped, nil)
				return
			}
			if terminal := r.handleConnectError(err, wasStarted); terminal {
				return
			}
			reconnectAttempts++
			if reconnectAttempts >= r.opts.ReconnectMaxRetries {
				r.emit(EventError, err)
				r.emit(EventStopped, nil)
				return
			}
			r.emit(EventWarning, err)
			if !r.sleepOrDone(ctx) {
				r.emit(EventStopped, nil)
				return
			}
			continue
		}

		if !wasStarted {
			r.emit(EventStarted, nil)
		}
		wasStarted = true
		reconnectAttempts = 0
		r.setCurrentStream(stream)

		err = r.readLines(ctx, stream)
		stream.Close()
		r.setCurrentStream(nil)

		if err == nil {
			r.emit(EventStopped, nil)
			return
		}
		if ctx.Err() != nil {
			r.emit(EventStopped, nil)
			return
		}
		if r.isIgnorableRemoval(err, wasStarted) {
			r.emit(EventStopped, nil)
			return
		}

		reconnectAttempts++
		if reconnectAttempts >= r.opts.ReconnectMaxRetries {
			r.emit(EventError, err)
			r.emit(EventStopped, nil)
			return
		}
		r.emit(EventWarning, err)
		if !r.sleepOrDone(ctx) {
			r.emit(EventStopped, nil)
			return
		}
	}
}

// handleConnectError reports whether the factory's error should end the
// loop outright (true) rather than be retried by the caller.
func (r *Reader) handleConnectError(err error, wasStarted bool) bool {
	if r.isIgnorableRemoval(err, wasStarted) {
		r.emit(EventStopped, nil)
		return true
	}
	return false
}

// isIgnorableRemoval mirrors the ancestor watch's ApiException handling:
// a Not Found or Bad Request reported after at least one successful
// connection means the object was removed mid-watch, which is a clean end
// rather than a failure, when IgnoreErrorsIfRemoved is set.
func (r *Reader) isIgnorableRemoval(err error, wasStarted bool) bool {
	if !wasStarted || !r.opts.IgnoreErrorsIfRemoved {
		return false
	}
	return apierrors.IsNotFound(err) || apierrors.IsBadRequest(err)
}

func (r *Reader) sleepOrDone(ctx context.Context) bool {
	select {
	case <-time.After(r.opts.ReconnectWaitTimeout):
		return true
	case <-ctx.Done():
		return false
	}
}

// readLines scans stream line by line, emitting each non-empty line as
// DataEventName, until the stream ends, the idle timeout elapses, or ctx is
// cancelled. It returns nil only on a clean EOF with no scanner error.
func (r *Reader) readLines(ctx context.Context, stream io.Reader) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	type scanResult struct {
		hasNext bool
		line    string
	}
	scanCh := make(chan scanResult, 1)

	scanNext := func() {
		hasNext := scanner.Scan()
		select {
		case scanCh <- scanResult{hasNext: hasNext, line: scanner.Text()}:
		case <-ctx.Done():
		}
	}
	go scanNext()

	for {
		select {
		case result := <-scanCh:
			if !result.hasNext {
				return scanner.Err()
			}
			if result.line != "" {
				r.emitLine(result.line)
			}
			go scanNext()

		case <-time.After(r.opts.IdleTimeout):
			slog.Warn("streaming: idle timeout, reconnecting", "idleTimeout", r.opts.IdleTimeout)
			return fmt.Errorf("streaming: idle timeout after %v", r.opts.IdleTimeout)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reader) emitLine(line string) {
	if !r.opts.ReadAsObject {
		r.emit(r.opts.DataEventName, line)
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		r.emit(EventWarning, fmt.Errorf("streaming: decode line: %w", err))
		return
	}
	r.emit(r.opts.DataEventName, decoded)
}
