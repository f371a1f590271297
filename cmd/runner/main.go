// Command runner executes one manifest bundle to completion: it creates the
// objects described by a YAML file, streams their logs and events, waits for
// the primary object to reach a terminal state, and applies the configured
// delete policy.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/runner"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	opts, err := runner.OptionsFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	manifests, err := loadManifests(os.Args[1:])
	if err != nil {
		slog.Error("failed to load manifests", "error", err)
		os.Exit(1)
	}

	clientset, err := initKubernetesClient()
	if err != nil {
		slog.Error("failed to initialize kubernetes client", "error", err)
		os.Exit(1)
	}

	r, err := runner.New(clientset, manifests, kubeapi.NewDefaultRegistry(), opts)
	if err != nil {
		slog.Error("failed to create runner", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutdown signal received, aborting")
		r.Abort()
		cancel()
	}()

	slog.Info("runner starting", "instanceID", r.ID())

	state, err := r.Execute(ctx)
	if err != nil {
		slog.Error("execution failed", "state", state.String(), "error", err)
		os.Exit(1)
	}

	slog.Info("execution finished", "state", state.String())
	if state != kubeapi.StateSucceeded {
		os.Exit(1)
	}
}

// loadManifests reads the manifest YAML from the path given as the first
// CLI argument, or from stdin if none was given.
func loadManifests(args []string) (string, error) {
	var r io.Reader = os.Stdin
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// initKubernetesClient initializes the Kubernetes client, preferring
// in-cluster config and falling back to kubeconfig.
func initKubernetesClient() (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, err
		}
	}
	return kubernetes.NewForConfig(config)
}
