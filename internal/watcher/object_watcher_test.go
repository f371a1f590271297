package watcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
)

func newTestRESTClient(t *testing.T, handler http.HandlerFunc) (rest.Interface, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	client, err := rest.RESTClientFor(&rest.Config{
		Host: server.URL,
		ContentConfig: rest.ContentConfig{
			GroupVersion:         &corev1.SchemeGroupVersion,
			NegotiatedSerializer: scheme.Codecs.WithoutConversion(),
		},
	})
	if err != nil {
		server.Close()
		t.Fatalf("rest.RESTClientFor() error = %v", err)
	}
	return client, server.Close
}

func jobBody(failed, backoffLimit int, startTime, completionTime string) map[string]any {
	status := map[string]any{}
	if failed > 0 {
		status["failed"] = int64(failed)
	}
	if startTime != "" {
		status["startTime"] = startTime
	}
	if completionTime != "" {
		status["completionTime"] = completionTime
	}
	return map[string]any{
		"metadata": map[string]any{"name": "my-job", "namespace": "default"},
		"spec":     map[string]any{"backoffLimit": int64(backoffLimit)},
		"status":   status,
	}
}

func TestObjectWatcher_EmitsStatusOnlyOnChange(t *testing.T) {
	registry := kubeapi.NewDefaultRegistry()
	job, _ := registry.Get("job")
	w := New(nil, job, "default", "my-job", false)

	var events []kubeapi.State
	w.Bus().On(StatusEventName, func(args ...any) {
		events = append(events, args[0].(kubeapi.State))
	})

	ctx := context.Background()
	w.UpdateObjectState(ctx, "ADDED", jobBody(0, 3, "", ""))
	w.UpdateObjectState(ctx, "MODIFIED", jobBody(0, 3, "", ""))
	w.UpdateObjectState(ctx, "MODIFIED", jobBody(0, 3, "2024-01-01T00:00:00Z", ""))
	w.UpdateObjectState(ctx, "MODIFIED", jobBody(0, 3, "2024-01-01T00:00:00Z", "2024-01-01T00:05:00Z"))

	want := []kubeapi.State{kubeapi.StatePending, kubeapi.StateRunning, kubeapi.StateSucceeded}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestObjectWatcher_DeletionForcesDeletedState(t *testing.T) {
	registry := kubeapi.NewDefaultRegistry()
	job, _ := registry.Get("job")
	w := New(nil, job, "default", "my-job", false)

	w.UpdateObjectState(context.Background(), "ADDED", jobBody(0, 3, "2024-01-01T00:00:00Z", ""))
	if w.Status() != kubeapi.StateRunning {
		t.Fatalf("Status() = %v, want Running", w.Status())
	}

	w.UpdateObjectState(context.Background(), "DELETED", jobBody(0, 3, "2024-01-01T00:00:00Z", ""))
	if w.Status() != kubeapi.StateDeleted {
		t.Fatalf("Status() = %v, want Deleted", w.Status())
	}
}

func TestObjectWatcher_PodNotRunningReadsLogsSyncExactlyOnce(t *testing.T) {
	var requests int
	client, closeServer := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("line one\nline two\n"))
	})
	defer closeServer()

	registry := kubeapi.NewDefaultRegistry()
	pod, _ := registry.Get("pod")
	watcher := New(client, pod, "default", "my-pod", true)

	logCh := make(chan string, 8)
	watcher.Bus().On(LogEventName, func(args ...any) {
		logCh <- args[0].(string)
	})

	succeededBody := map[string]any{
		"metadata": map[string]any{"name": "my-pod", "namespace": "default"},
		"status":   map[string]any{"phase": "Succeeded"},
	}

	watcher.UpdateObjectState(context.Background(), "MODIFIED", succeededBody)
	// Re-delivering the same terminal state must not re-trigger a log read.
	watcher.UpdateObjectState(context.Background(), "MODIFIED", succeededBody)

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case line := <-logCh:
			got = append(got, line)
		case <-deadline:
			t.Fatalf("timed out waiting for log lines, got %v", got)
		}
	}

	if got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("got = %v", got)
	}
	if requests != 1 {
		t.Fatalf("requests = %d, want exactly 1 (logs read once)", requests)
	}
}

func TestObjectWatcher_PodPendingDoesNotReadLogs(t *testing.T) {
	var requests int
	client, closeServer := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
	})
	defer closeServer()

	registry := kubeapi.NewDefaultRegistry()
	pod, _ := registry.Get("pod")
	watcher := New(client, pod, "default", "my-pod", true)

	watcher.UpdateObjectState(context.Background(), "ADDED", map[string]any{
		"metadata": map[string]any{"name": "my-pod", "namespace": "default"},
		"status":   map[string]any{"phase": "Pending"},
	})

	time.Sleep(50 * time.Millisecond)
	if requests != 0 {
		t.Fatalf("requests = %d, want 0 while pod is still Pending", requests)
	}
}
