// Package runner drives a bundle of Kubernetes manifests through
// preparation, creation, and completion: label/name stamping, kind-specific
// defaulting, a namespace-scoped watch of the bundle's objects, and a
// configurable delete policy once the primary object reaches a terminal
// state.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/fanout"
	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
)

// Runner executes one manifest bundle to completion. The zero value is not
// usable; construct with New.
type Runner struct {
	clientset kubernetes.Interface
	registry  *kubeapi.Registry
	opts      Options

	id          string
	namespace   string
	namePostfix string

	defaultNamespaceOnce sync.Once
	resolvedDefaultNS    string

	rawManifests any
	prepared     []*kubeapi.Descriptor
	isPrepared   bool

	logger *slog.Logger
	fan    *fanout.NamespaceWatch
}

// New constructs a Runner. manifests is a YAML string (multi-document), a
// single map, or a list of maps (spec.md §4.G step 1). registry supplies
// the kind catalog; pass kubeapi.NewDefaultRegistry() for the built-ins.
func New(clientset kubernetes.Interface, manifests any, registry *kubeapi.Registry, opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Runner{
		clientset:    clientset,
		registry:     registry,
		opts:         opts,
		id:           uuid.NewString(),
		namespace:    opts.Namespace,
		namePostfix:  resolvePostfix(opts.NamePostfix, opts.RandomNamePostfixLength),
		rawManifests: manifests,
		logger:       slog.Default(),
	}, nil
}

// ID returns the runner's instance ID, stamped as a label on every object it
// creates.
func (r *Runner) ID() string {
	return r.id
}

// LabelSelector returns the selector that scopes this runner's watch and
// diagnostics queries to only the objects it created.
func (r *Runner) LabelSelector() string {
	return fmt.Sprintf("%s=%s", InstanceIDLabelName, r.id)
}

// resolveNamespace returns the runner's configured namespace, or (if unset)
// the ambient kubeconfig's default namespace, resolved once and cached
// (spec.md §4.G step 2).
func (r *Runner) resolveNamespace() string {
	if r.namespace != "" {
		return r.namespace
	}
	r.defaultNamespaceOnce.Do(func() {
		r.resolvedDefaultNS = clientDefaultNamespace()
	})
	return r.resolvedDefaultNS
}

// Prepare normalizes and labels the manifest bundle. It is idempotent:
// calling it again re-derives the same bundle from the original input
// rather than re-stamping an already-prepared one.
func (r *Runner) Prepare() ([]*kubeapi.Descriptor, error) {
	manifests, err := normalizeManifests(r.rawManifests)
	if err != nil {
		return nil, err
	}

	prepared := make([]*kubeapi.Descriptor, 0, len(manifests))
	for _, body := range manifests {
		descriptor, err := r.prepareObject(body, r.registry)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, descriptor)
	}

	r.prepared = prepared
	r.isPrepared = true
	return prepared, nil
}

func (r *Runner) log(level slog.Level, msg string, args ...any) {
	if !r.opts.ShowExecutorLogs {
		return
	}
	marker := "job-runner"
	if r.opts.ShowRunnerIDInLogs {
		marker = "job-runner-" + r.id
	}
	r.logger.Log(context.Background(), level, msg, append([]any{"marker", marker}, args...)...)
}

// Execute prepares (if needed), creates, watches, and finalizes the bundle.
// It returns the primary object's final state. Preparation, validation and
// discovery failures are returned as they are; failures from the point the
// watcher is started on are returned as an *ExecutionError.
func (r *Runner) Execute(ctx context.Context) (kubeapi.State, error) {
	if !r.isPrepared {
		if _, err := r.Prepare(); err != nil {
			return kubeapi.StateUnknown, err
		}
	}
	if len(r.prepared) == 0 {
		return kubeapi.StateUnknown, &OptionsError{Field: "Manifests", Message: "at least one resource is required"}
	}

	primary := r.prepared[0]
	if !primary.Kind.Parseable() {
		return kubeapi.StateUnknown, &kubeapi.ValidationError{
			Kind:   primary.Kind.Name,
			Reason: "the first object's kind must have a parseable state",
		}
	}

	namespaces := r.collectNamespaces()

	kinds, err := r.checkDiscovery(primary.Kind, r.collectWatchKinds())
	if err != nil {
		return kubeapi.StateUnknown, err
	}

	r.log(slog.LevelInfo, "executing", "namespaces", namespaces, "instanceID", r.id)

	r.fan = fanout.New(r.restClientOrNil(), fanout.Options{
		Namespace:               firstOrEmpty(namespaces),
		Kinds:                   kinds,
		LabelSelector:           r.LabelSelector(),
		AutoWatchPodLogs:        r.opts.ShowPodLogs,
		RemoveDeletedFromMemory: false,
	})

	if r.opts.ShowWatcherLogs {
		r.fan.Bus().On("error", func(args ...any) {
			r.log(slog.LevelWarn, "watcher error", "args", args)
		})
	}

	if err := r.fan.Start(ctx); err != nil {
		return kubeapi.StateUnknown, &ExecutionError{Reason: "failed to start watcher", Err: err}
	}

	if err := r.fan.WaitUntilRunning(r.opts.WatcherStartTimeout); err != nil {
		return kubeapi.StateUnknown, &ExecutionError{Reason: "timed out waiting for watcher to start", Err: err}
	}

	r.log(slog.LevelInfo, "watcher started", "kinds", kindNames(kinds))

	createErrCh := make(chan error, len(r.prepared))
	go r.createAll(ctx, createErrCh)

	go func() {
		if err := <-createErrCh; err != nil {
			r.fan.Bus().Emit("error", err)
		}
	}()

	ow, err := r.fan.WaitForStatus(fanout.WaitForStatusOptions{
		Kind:            primary.Kind.Name,
		Name:            primary.Name(),
		Namespace:       primary.Namespace(),
		StatusList:      []kubeapi.State{kubeapi.StateFailed, kubeapi.StateSucceeded, kubeapi.StateDeleted},
		Timeout:         r.opts.Timeout,
		CheckPastEvents: true,
	})
	if err != nil {
		r.log(slog.LevelError, "execution timeout, aborting")
		r.Abort()
		return kubeapi.StateUnknown, &ExecutionError{Reason: "execution timed out", Terminal: true, Err: err}
	}

	finalState := ow.Status()

	if finalState == kubeapi.StateDeleted {
		r.log(slog.LevelError, "primary resource deleted mid-run", "object", primary.ID())
		r.Abort()
		return finalState, &ExecutionError{Reason: "resource was deleted while execution was running", Terminal: true}
	}

	r.log(slog.LevelInfo, "execution finished", "state", finalState.String())

	if finalState == kubeapi.StateFailed && r.opts.ShowErrorLogs {
		r.logFailureDiagnostics(ctx, kinds, namespaces)
	}

	if r.shouldDelete(finalState) {
		r.log(slog.LevelInfo, "deleting resources", "policy", r.opts.DeletePolicy.String())
		r.deleteAll(ctx)
	}

	r.fan.Stop()
	return finalState, nil
}

func (r *Runner) shouldDelete(finalState kubeapi.State) bool {
	switch r.opts.DeletePolicy {
	case DeletePolicyAlways:
		return true
	case DeletePolicyIfFailed:
		return finalState == kubeapi.StateFailed
	case DeletePolicyIfSucceeded:
		return finalState == kubeapi.StateSucceeded
	default:
		return false
	}
}

// Abort deletes every prepared object and stops the watcher. It is
// idempotent and safe to call even if Execute never ran to completion.
func (r *Runner) Abort() {
	r.log(slog.LevelInfo, "aborting")
	r.deleteAll(context.Background())
	if r.fan != nil {
		r.fan.Stop()
	}
}

func (r *Runner) collectWatchKinds() []kubeapi.Kind {
	seen := make(map[string]kubeapi.Kind)
	for _, k := range r.registry.Watchable() {
		seen[k.Name] = k
	}
	for _, d := range r.prepared {
		seen[d.Kind.Name] = d.Kind
	}
	out := make([]kubeapi.Kind, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) collectNamespaces() []string {
	seen := make(map[string]bool)
	for _, d := range r.prepared {
		if d.Namespace() != "" {
			seen[d.Namespace()] = true
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func kindNames(kinds []kubeapi.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.Name
	}
	return out
}

// checkDiscovery discovers which of kinds the cluster actually serves and
// returns the intersected set (spec.md §4.G step 2: "discover available API
// kinds from the cluster and intersect … warn for any registry-watchable
// kind missing"). It fails only if the primary's own kind is unavailable.
func (r *Runner) checkDiscovery(primary kubeapi.Kind, kinds []kubeapi.Kind) ([]kubeapi.Kind, error) {
	if r.clientset == nil {
		return kinds, nil
	}
	discovery := r.clientset.Discovery()
	primaryFound := false
	available := make([]kubeapi.Kind, 0, len(kinds))
	for _, k := range kinds {
		found := false
		if list, err := discovery.ServerResourcesForGroupVersion(k.APIVersion); err == nil {
			for _, res := range list.APIResources {
				if res.Name == k.Plural() {
					found = true
					break
				}
			}
		}
		if k.Name == primary.Name {
			primaryFound = found
		}
		if !found {
			r.log(slog.LevelWarn, "kind not found in api server, will not be watched", "kind", k.Name)
			continue
		}
		available = append(available, k)
	}
	if !primaryFound {
		return nil, &DiscoveryError{Kind: primary.Name, Message: "not found in the cluster's API discovery document"}
	}
	return available, nil
}

func (r *Runner) restClientOrNil() rest.Interface {
	client, err := restClientForAPIVersion(r.clientset, "v1")
	if err != nil {
		return nil
	}
	return client
}

func (r *Runner) createAll(ctx context.Context, errCh chan<- error) {
	for _, d := range r.prepared {
		client, err := restClientForAPIVersion(r.clientset, d.Kind.APIVersion)
		if err != nil {
			errCh <- err
			continue
		}
		path := d.Kind.ComposeResourcePath(d.Namespace(), "", "", "")
		if err := client.Post().AbsPath(path).Body(bodyToJSON(d.Body)).Do(ctx).Error(); err != nil {
			errCh <- fmt.Errorf("runner: create %s: %w", d, err)
			continue
		}
		if r.opts.ShowOperationLogs {
			r.log(slog.LevelInfo, "created", "object", d.ID())
		}
	}
	errCh <- nil
}

func (r *Runner) deleteAll(ctx context.Context) {
	for _, d := range r.prepared {
		if d.Kind.Name == "" || d.Name() == "" || d.Namespace() == "" {
			continue
		}
		client, err := restClientForAPIVersion(r.clientset, d.Kind.APIVersion)
		if err != nil {
			r.log(slog.LevelWarn, "skipping delete, no rest client", "object", d.ID(), "error", err)
			continue
		}
		path := d.ResourcePath("")
		if err := client.Delete().AbsPath(path).Do(ctx).Error(); err != nil {
			r.log(slog.LevelWarn, "delete failed", "object", d.ID(), "error", err)
			continue
		}
		if r.opts.ShowOperationLogs {
			r.log(slog.LevelInfo, "deleted", "object", d.ID())
		}
	}
}

func (r *Runner) logFailureDiagnostics(ctx context.Context, kinds []kubeapi.Kind, namespaces []string) {
	r.log(slog.LevelInfo, "reading result status objects")
	for _, ns := range namespaces {
		for _, k := range kinds {
			client, err := restClientForAPIVersion(r.clientset, k.APIVersion)
			if err != nil {
				continue
			}
			path := k.ComposeResourcePath(ns, "", "", "")
			raw, err := client.Get().AbsPath(path).Param("labelSelector", r.LabelSelector()).DoRaw(ctx)
			if err != nil {
				continue
			}
			r.logListedObjects(k, raw)
		}
	}
}

func (r *Runner) logListedObjects(kind kubeapi.Kind, raw []byte) {
	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := jsonUnmarshal(raw, &list); err != nil {
		return
	}
	for _, item := range list.Items {
		descriptor := kubeapi.NewDescriptor(kind, item)
		state := descriptor.State(false)
		status := descriptor.Status()
		if status == nil {
			r.logger.Error(fmt.Sprintf("[%s]: %s (status not provided)", descriptor, state))
			continue
		}
		dump, err := yaml.Marshal(status)
		if err != nil {
			dump = []byte(fmt.Sprintf("%v", status))
		}
		r.logger.Error(fmt.Sprintf("[%s]: %s, status:\n%s", descriptor, state, dump))
	}
}
