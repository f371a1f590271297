// Package fanout watches every instance of a set of kinds in one namespace
// and routes each decoded watch event to a per-object watcher, exposing a
// single query surface (WaitFor/WaitForStatus/WaitUntilRunning) over the
// whole namespace.
package fanout

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"k8s.io/client-go/rest"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/eventbus"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/streaming"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/watcher"
)

// updateEventName is the data event each per-kind watch stream emits; it
// carries the raw {"type": ..., "object": {...}} watch envelope.
const updateEventName = "update"

// Options configures a NamespaceWatch.
type Options struct {
	Namespace               string
	Kinds                   []kubeapi.Kind
	FieldSelector           string
	LabelSelector           string
	AutoWatchPodLogs        bool
	RemoveDeletedFromMemory bool
}

// kindStream pairs a watched Kind with the streaming.Reader following it.
type kindStream struct {
	kind   kubeapi.Kind
	reader *streaming.Reader
}

// NamespaceWatch fans out a namespace-scoped watch across every configured
// kind, maintaining one watcher.ObjectWatcher per observed object. The zero
// value is not usable; construct with New.
type NamespaceWatch struct {
	restClient rest.Interface
	opts       Options

	bus *eventbus.Bus

	streams []*kindStream

	mu             sync.RWMutex
	objectWatchers map[string]*watcher.ObjectWatcher
}

// New creates a NamespaceWatch. Call Start to begin watching.
func New(restClient rest.Interface, opts Options) *NamespaceWatch {
	return &NamespaceWatch{
		restClient:     restClient,
		opts:           opts,
		bus:            eventbus.New(),
		objectWatchers: make(map[string]*watcher.ObjectWatcher),
	}
}

// Bus returns the event bus this fan-out re-emits every per-object
// watcher.StatusEventName and watcher.LogEventName event onto, along with
// this fan-out's own streaming.EventStarted/EventError/EventWarning events.
func (nw *NamespaceWatch) Bus() *eventbus.Bus {
	return nw.bus
}

// ObjectWatchers returns a snapshot slice of every currently tracked object.
func (nw *NamespaceWatch) ObjectWatchers() []*watcher.ObjectWatcher {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	out := make([]*watcher.ObjectWatcher, 0, len(nw.objectWatchers))
	for _, ow := range nw.objectWatchers {
		out = append(out, ow)
	}
	return out
}

// Start launches one streaming.Reader per configured kind, watching
// opts.Namespace. It does not block; use WaitUntilRunning to wait for every
// reader to confirm a live connection.
func (nw *NamespaceWatch) Start(ctx context.Context) error {
	if nw.opts.Namespace == "" {
		return fmt.Errorf("fanout: namespace is required")
	}
	if len(nw.opts.Kinds) == 0 {
		return fmt.Errorf("fanout: at least one kind is required")
	}

	for _, kind := range nw.opts.Kinds {
		params := url.Values{"watch": {"true"}}
		if nw.opts.FieldSelector != "" {
			params.Set("fieldSelector", nw.opts.FieldSelector)
		}
		if nw.opts.LabelSelector != "" {
			params.Set("labelSelector", nw.opts.LabelSelector)
		}

		path := kind.ComposeResourcePath(nw.opts.Namespace, "", "", "")
		factory := streaming.AbsPathStreamFactory(nw.restClient, path, params)

		opts := streaming.DefaultOptions()
		opts.DataEventName = updateEventName
		opts.ReadAsObject = true

		reader := streaming.New(factory, opts)

		k := kind
		reader.Bus().On(updateEventName, func(args ...any) {
			if len(args) > 0 {
				nw.handleUpdate(ctx, k, args[0])
			}
		})
		reader.Bus().On(streaming.EventStarted, func(args ...any) {
			nw.bus.Emit(streaming.EventStarted, k, reader)
		})
		reader.Bus().On(streaming.EventWarning, func(args ...any) {
			nw.bus.Emit(streaming.EventWarning, k, valueOrNil(args))
		})
		reader.Bus().On(streaming.EventError, func(args ...any) {
			nw.bus.Emit(streaming.EventError, k, valueOrNil(args))
		})

		if err := reader.Start(ctx); err != nil {
			nw.Stop()
			return fmt.Errorf("fanout: start watch for kind %q: %w", kind.Name, err)
		}
		nw.streams = append(nw.streams, &kindStream{kind: kind, reader: reader})
	}

	return nil
}

func valueOrNil(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

// WaitUntilRunning blocks until every per-kind watch stream has confirmed a
// live connection (a "started" event), or returns an error if any of them
// reports an error first or timeout elapses.
func (nw *NamespaceWatch) WaitUntilRunning(timeout time.Duration) error {
	if len(nw.streams) == 0 {
		return fmt.Errorf("fanout: not started")
	}

	started := make(chan kubeapi.Kind, len(nw.streams))
	failed := make(chan error, len(nw.streams))

	var ids []struct {
		name string
		id   int64
		bus  *eventbus.Bus
	}
	for _, s := range nw.streams {
		k := s.kind
		sid := s.reader.Bus().On(streaming.EventStarted, func(args ...any) {
			started <- k
		})
		eid := s.reader.Bus().On(streaming.EventError, func(args ...any) {
			failed <- fmt.Errorf("fanout: watch for kind %q failed to start: %v", k.Name, valueOrNil(args))
		})
		ids = append(ids, struct {
			name string
			id   int64
			bus  *eventbus.Bus
		}{streaming.EventStarted, sid, s.reader.Bus()})
		ids = append(ids, struct {
			name string
			id   int64
			bus  *eventbus.Bus
		}{streaming.EventError, eid, s.reader.Bus()})
	}
	defer func() {
		for _, reg := range ids {
			reg.bus.Off(reg.name, reg.id)
		}
	}()

	remaining := make(map[string]bool, len(nw.streams))
	for _, s := range nw.streams {
		remaining[s.kind.Name] = true
	}

	deadline := time.After(timeout)
	for len(remaining) > 0 {
		select {
		case k := <-started:
			delete(remaining, k.Name)
		case err := <-failed:
			return err
		case <-deadline:
			return fmt.Errorf("fanout: timed out waiting for watchers to start: %v remaining", remaining)
		}
	}
	return nil
}

func (nw *NamespaceWatch) handleUpdate(ctx context.Context, kind kubeapi.Kind, raw any) {
	envelope, ok := raw.(map[string]any)
	if !ok {
		return
	}
	eventType, _ := envelope["type"].(string)
	objBody, _ := envelope["object"].(map[string]any)
	if objBody == nil {
		return
	}

	descriptor := kubeapi.NewDescriptor(kind, objBody)
	id := descriptor.ID()

	nw.mu.Lock()
	ow, exists := nw.objectWatchers[id]
	if !exists {
		if eventType == "DELETED" {
			nw.mu.Unlock()
			return
		}
		ow = watcher.New(nw.restClient, kind, descriptor.Namespace(), descriptor.Name(), nw.opts.AutoWatchPodLogs)
		nw.objectWatchers[id] = ow
		ow.Bus().On(watcher.StatusEventName, func(args ...any) {
			nw.bus.Emit(watcher.StatusEventName, args...)
		})
		ow.Bus().On(watcher.LogEventName, func(args ...any) {
			nw.bus.Emit(watcher.LogEventName, args...)
		})
	}
	// The update (and the status event it emits) runs under nw.mu, so it
	// cannot interleave with WaitForStatus's read-locked scan-then-subscribe.
	ow.UpdateObjectState(ctx, eventType, objBody)
	nw.mu.Unlock()

	if eventType == "DELETED" {
		ow.Stop()
		if nw.opts.RemoveDeletedFromMemory {
			nw.mu.Lock()
			delete(nw.objectWatchers, id)
			nw.mu.Unlock()
		}
	}
}

// Stop halts every per-kind watch stream and every tracked object's log
// tail.
func (nw *NamespaceWatch) Stop() {
	for _, s := range nw.streams {
		s.reader.Stop()
	}
	nw.mu.RLock()
	watchers := make([]*watcher.ObjectWatcher, 0, len(nw.objectWatchers))
	for _, ow := range nw.objectWatchers {
		watchers = append(watchers, ow)
	}
	nw.mu.RUnlock()
	for _, ow := range watchers {
		ow.Stop()
	}
}
