package fanout

import (
	"fmt"
	"time"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/watcher"
)

// StatusPredicate decides whether a status event matches what a caller is
// waiting for.
type StatusPredicate func(status kubeapi.State, ow *watcher.ObjectWatcher) bool

// WaitForStatusOptions narrows a WaitForStatus call to a specific object (by
// Kind/Namespace/Name, any of which may be left empty to not filter on it)
// and a match rule: Status, StatusList, or Predicate (at least one
// required; Predicate wins if set).
type WaitForStatusOptions struct {
	Kind       string
	Name       string
	Namespace  string
	Status     kubeapi.State
	StatusList []kubeapi.State
	Predicate  StatusPredicate
	Timeout    time.Duration
	// CheckPastEvents, when true, first scans every currently tracked object
	// for a match before waiting on new status events (spec default: true).
	CheckPastEvents bool
}

type statusEvent struct {
	status kubeapi.State
	ow     *watcher.ObjectWatcher
}

// WaitFor blocks until an event named eventType is emitted on nw.Bus()
// whose arguments satisfy predicate, or until timeout elapses (timeout <= 0
// means wait forever).
func (nw *NamespaceWatch) WaitFor(eventType string, predicate func(args ...any) bool, timeout time.Duration) (*watcher.ObjectWatcher, error) {
	matchCh := make(chan []any, 16)
	id := nw.bus.On(eventType, func(args ...any) {
		matchCh <- args
	})
	defer nw.bus.Off(eventType, id)

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}

	for {
		select {
		case args := <-matchCh:
			if predicate(args...) {
				if len(args) == 0 {
					return nil, nil
				}
				if ow, ok := args[len(args)-1].(*watcher.ObjectWatcher); ok {
					return ow, nil
				}
				return nil, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("fanout: timed out waiting for event %q", eventType)
		}
	}
}

// WaitForStatus blocks until a tracked object's status matches opts, per
// the rules above. When opts.CheckPastEvents is true, the scan over
// already-tracked objects and the subscription to future status events
// happen under a single read-lock hold, so a status transition landing in
// between cannot be missed (a stale object snapshot racing a live status
// event is a correctness bug, not an optimization).
func (nw *NamespaceWatch) WaitForStatus(opts WaitForStatusOptions) (*watcher.ObjectWatcher, error) {
	if opts.Predicate == nil && opts.Status == kubeapi.StateUnknown && len(opts.StatusList) == 0 {
		return nil, fmt.Errorf("fanout: WaitForStatus requires a Status, StatusList, or Predicate")
	}

	match := func(status kubeapi.State, ow *watcher.ObjectWatcher) bool {
		if opts.Name != "" && ow.Name() != opts.Name {
			return false
		}
		if opts.Namespace != "" && ow.Namespace() != opts.Namespace {
			return false
		}
		if opts.Kind != "" && ow.Kind().Name != opts.Kind {
			return false
		}
		if opts.Predicate != nil {
			return opts.Predicate(status, ow)
		}
		if opts.Status != kubeapi.StateUnknown && status == opts.Status {
			return true
		}
		for _, s := range opts.StatusList {
			if status == s {
				return true
			}
		}
		return false
	}

	matchCh := make(chan statusEvent, 16)

	nw.mu.RLock()
	if opts.CheckPastEvents {
		for _, ow := range nw.objectWatchers {
			status := ow.Status()
			if match(status, ow) {
				nw.mu.RUnlock()
				return ow, nil
			}
		}
	}
	id := nw.bus.On(watcher.StatusEventName, func(args ...any) {
		if len(args) < 2 {
			return
		}
		status, ok := args[0].(kubeapi.State)
		if !ok {
			return
		}
		ow, ok := args[1].(*watcher.ObjectWatcher)
		if !ok {
			return
		}
		matchCh <- statusEvent{status: status, ow: ow}
	})
	nw.mu.RUnlock()
	defer nw.bus.Off(watcher.StatusEventName, id)

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		deadline = time.After(opts.Timeout)
	}

	for {
		select {
		case ev := <-matchCh:
			if match(ev.status, ev.ow) {
				return ev.ow, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("fanout: timed out waiting for status")
		}
	}
}
