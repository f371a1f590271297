// Package watcher tracks the live state of a single Kubernetes object as
// watch events arrive for it, and auto-attaches a log reader the first time
// a Pod leaves the Pending state.
package watcher

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"k8s.io/client-go/rest"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/eventbus"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/streaming"
)

// StatusEventName is emitted on an ObjectWatcher's Bus every time its
// computed State changes, with arguments (kubeapi.State, *ObjectWatcher).
const StatusEventName = "status"

// LogEventName is emitted for every log line attached to a watched Pod, with
// arguments (string, *ObjectWatcher). The ancestor Python source emitted
// this under a misspelled event name; this repo uses the plain, correct one.
const LogEventName = "log"

// ObjectWatcher tracks one Kubernetes object's manifest and derived State
// across a sequence of watch events. The zero value is not usable;
// construct with New.
type ObjectWatcher struct {
	restClient       rest.Interface
	autoWatchPodLogs bool

	mu          sync.Mutex
	descriptor  *kubeapi.Descriptor
	hasObserved bool
	wasDeleted  bool
	hasReadLogs bool
	logReader   *streaming.Reader

	bus *eventbus.Bus
}

// New creates a watcher for the given kind, initially empty of any observed
// manifest. Call UpdateObjectState as watch events for this object arrive.
func New(restClient rest.Interface, kind kubeapi.Kind, namespace, name string, autoWatchPodLogs bool) *ObjectWatcher {
	body := map[string]any{
		"metadata": map[string]any{"namespace": namespace, "name": name},
	}
	return &ObjectWatcher{
		restClient:       restClient,
		autoWatchPodLogs: autoWatchPodLogs,
		descriptor:       kubeapi.NewDescriptor(kind, body),
		bus:              eventbus.New(),
	}
}

// Bus returns the event bus this watcher emits "status" and "log" events on.
func (w *ObjectWatcher) Bus() *eventbus.Bus {
	return w.bus
}

// ID is this object's stable identifier across the fan-out it belongs to.
func (w *ObjectWatcher) ID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.descriptor.ID()
}

// Name is the object's metadata.name.
func (w *ObjectWatcher) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.descriptor.Name()
}

// Namespace is the object's metadata.namespace.
func (w *ObjectWatcher) Namespace() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.descriptor.Namespace()
}

// Kind is the registered kind this watcher was created for.
func (w *ObjectWatcher) Kind() kubeapi.Kind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.descriptor.Kind
}

// Status returns the last computed State for this object.
func (w *ObjectWatcher) Status() kubeapi.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasObserved {
		return kubeapi.StateUnknown
	}
	return w.descriptor.State(w.wasDeleted)
}

// Descriptor returns the watcher's own Descriptor, not a copy: its Body is
// replaced by every later UpdateObjectState, and it shares the underlying
// body map with the watcher; callers must not mutate it.
func (w *ObjectWatcher) Descriptor() *kubeapi.Descriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.descriptor
}

// UpdateObjectState records a new watch event for this object (eventType is
// "ADDED", "MODIFIED", or "DELETED"), recomputes State, and emits
// StatusEventName if it changed. When the object is a Pod, this may also
// attach a log reader for the first time.
func (w *ObjectWatcher) UpdateObjectState(ctx context.Context, eventType string, body map[string]any) {
	w.mu.Lock()

	var oldStatus kubeapi.State
	if w.hasObserved {
		oldStatus = w.descriptor.State(w.wasDeleted)
	} else {
		oldStatus = kubeapi.StateUnknown
	}

	w.descriptor.Body = body
	w.hasObserved = true
	if !w.wasDeleted {
		w.wasDeleted = eventType == "DELETED"
	}

	if w.descriptor.Kind.Name == "pod" && w.autoWatchPodLogs {
		w.maybeAttachPodLogLocked(ctx)
	}

	newStatus := w.descriptor.State(w.wasDeleted)
	w.mu.Unlock()

	if oldStatus != newStatus {
		w.bus.Emit(StatusEventName, newStatus, w)
	}
}

// maybeAttachPodLogLocked mirrors update_pod_state from the ancestor
// watcher: once the pod has left Pending, read its logs exactly once,
// synchronously if it is no longer Running (the logs are already settled),
// asynchronously (tailing) otherwise. w.mu must be held.
func (w *ObjectWatcher) maybeAttachPodLogLocked(ctx context.Context) {
	curStatus := w.descriptor.State(w.wasDeleted)
	needRead := curStatus != kubeapi.StateUnknown && curStatus != kubeapi.StatePending && !w.hasReadLogs
	if !needRead {
		return
	}
	w.hasReadLogs = true

	// w.mu is already held here; compute the path now rather than inside the
	// helpers below, since both would otherwise re-enter the (non-reentrant)
	// mutex via Descriptor()/ID().
	path := w.descriptor.ResourcePath("log")
	id := w.descriptor.ID()

	if curStatus != kubeapi.StateRunning {
		w.readCurrentLogsSync(ctx, path, id)
		return
	}
	w.startLogTailAsync(ctx, path, id)
}

// readCurrentLogsSync fetches whatever logs currently exist for the pod in
// a single request and emits them as LogEventName lines, for pods that
// finished (or failed) before a tailing reader would have caught anything.
func (w *ObjectWatcher) readCurrentLogsSync(ctx context.Context, path, id string) {
	body, err := w.restClient.Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		slog.Warn("watcher: read static pod logs failed", "object", id, "error", err)
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			w.bus.Emit(LogEventName, line, w)
		}
	}
}

// startLogTailAsync attaches a streaming.Reader following the pod's logs
// with follow=true, piping its lines into this watcher's bus under
// LogEventName. w.mu is held by the caller.
func (w *ObjectWatcher) startLogTailAsync(ctx context.Context, path, id string) {
	factory := streaming.AbsPathStreamFactory(w.restClient, path, map[string][]string{
		"follow": {"true"},
	})

	opts := streaming.DefaultOptions()
	opts.DataEventName = LogEventName
	opts.ReadAsObject = false

	reader := streaming.New(factory, opts)
	reader.Bus().On(LogEventName, func(args ...any) {
		if len(args) > 0 {
			w.bus.Emit(LogEventName, args[0], w)
		}
	})

	w.logReader = reader
	if err := reader.Start(ctx); err != nil {
		slog.Warn("watcher: start pod log tail failed", "object", id, "error", err)
	}
}

// Stop halts any in-flight log tail for this object.
func (w *ObjectWatcher) Stop() {
	w.mu.Lock()
	reader := w.logReader
	w.mu.Unlock()
	if reader != nil && reader.IsStreaming() {
		reader.Stop()
	}
}

func (w *ObjectWatcher) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("%s (%s)", w.descriptor.ID(), w.descriptor.State(w.wasDeleted))
}
