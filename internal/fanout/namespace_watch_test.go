package fanout

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

const jobWatchBody = `{"type":"ADDED","object":{"metadata":{"name":"my-job","namespace":"default"},"spec":{"backoffLimit":3},"status":{}}}
{"type":"MODIFIED","object":{"metadata":{"name":"my-job","namespace":"default"},"spec":{"backoffLimit":3},"status":{"startTime":"2024-01-01T00:00:00Z"}}}
{"type":"MODIFIED","object":{"metadata":{"name":"my-job","namespace":"default"},"spec":{"backoffLimit":3},"status":{"startTime":"2024-01-01T00:00:00Z","completionTime":"2024-01-01T00:05:00Z"}}}
`

func TestNamespaceWatch_ObservesJobThroughToSucceeded(t *testing.T) {
	client, closeServer := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobWatchBody))
	})
	defer closeServer()

	registry := kubeapi.NewDefaultRegistry()
	job, _ := registry.Get("job")

	nw := New(client, Options{
		Namespace:               "default",
		Kinds:                   []kubeapi.Kind{job},
		RemoveDeletedFromMemory: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := nw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer nw.Stop()

	if err := nw.WaitUntilRunning(2 * time.Second); err != nil {
		t.Fatalf("WaitUntilRunning() error = %v", err)
	}

	ow, err := nw.WaitForStatus(WaitForStatusOptions{
		Name:            "my-job",
		Status:          kubeapi.StateSucceeded,
		Timeout:         2 * time.Second,
		CheckPastEvents: true,
	})
	if err != nil {
		t.Fatalf("WaitForStatus() error = %v", err)
	}
	if ow.Name() != "my-job" {
		t.Fatalf("ow.Name() = %q, want my-job", ow.Name())
	}
}

func TestNamespaceWatch_WaitForStatusCheckPastEventsFindsAlreadySucceeded(t *testing.T) {
	client, closeServer := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jobWatchBody))
	})
	defer closeServer()

	registry := kubeapi.NewDefaultRegistry()
	job, _ := registry.Get("job")

	nw := New(client, Options{
		Namespace: "default",
		Kinds:     []kubeapi.Kind{job},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := nw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer nw.Stop()

	if err := nw.WaitUntilRunning(2 * time.Second); err != nil {
		t.Fatalf("WaitUntilRunning() error = %v", err)
	}

	// Give the watch stream time to fully drain before the past-events scan,
	// so this exercises the "already succeeded" branch rather than racing
	// the live status event used by the other test.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		watchers := nw.ObjectWatchers()
		if len(watchers) == 1 && watchers[0].Status() == kubeapi.StateSucceeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ow, err := nw.WaitForStatus(WaitForStatusOptions{
		StatusList:      []kubeapi.State{kubeapi.StateSucceeded, kubeapi.StateFailed},
		Timeout:         time.Second,
		CheckPastEvents: true,
	})
	if err != nil {
		t.Fatalf("WaitForStatus() error = %v", err)
	}
	if ow.Status() != kubeapi.StateSucceeded {
		t.Fatalf("ow.Status() = %v, want Succeeded", ow.Status())
	}
}

func TestNamespaceWatch_WaitUntilRunningSucceedsOnEmptyStream(t *testing.T) {
	client, closeServer := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeServer()

	registry := kubeapi.NewDefaultRegistry()
	pod, _ := registry.Get("pod")

	nw := New(client, Options{Namespace: "default", Kinds: []kubeapi.Kind{pod}})
	if err := nw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer nw.Stop()

	// The server answers with an empty body, but the stream still starts
	// (EventStarted fires on connection, independent of whether any bytes
	// ever arrive), so WaitUntilRunning should succeed quickly rather than
	// block for the full timeout.
	if err := nw.WaitUntilRunning(2 * time.Second); err != nil {
		t.Fatalf("WaitUntilRunning() error = %v", err)
	}
}
