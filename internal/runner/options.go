package runner

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Options configures a Runner. The zero value is not valid; start from
// DefaultOptions.
type Options struct {
	// Namespace is the default namespace stamped onto prepared objects that
	// don't already carry one. Empty means "use the client's default
	// namespace" (resolved at Prepare time).
	Namespace string

	ShowPodLogs       bool
	ShowOperationLogs bool
	ShowWatcherLogs   bool
	ShowExecutorLogs  bool
	ShowErrorLogs     bool

	DeletePolicy DeletePolicy

	// NamePrefix/NamePostfix are joined around each object's original name
	// as "prefix-name-postfix" (empty parts skipped).
	NamePrefix string
	NamePostfix string
	// RandomNamePostfixLength, when NamePostfix is empty and this is > 0,
	// generates a random alphanumeric postfix of this length instead.
	RandomNamePostfixLength int

	// ShowRunnerIDInLogs switches the log marker from "job-runner" to
	// "job-runner-<id>".
	ShowRunnerIDInLogs bool

	// Timeout bounds Execute's wait for a terminal state.
	Timeout time.Duration
	// WatcherStartTimeout bounds Execute's wait for the fan-out to confirm
	// every watch stream is connected.
	WatcherStartTimeout time.Duration
}

// DefaultOptions returns the runner's defaults, matching the ancestor
// JobRunner constructor's keyword defaults.
func DefaultOptions() Options {
	return Options{
		ShowPodLogs:             true,
		ShowOperationLogs:       true,
		ShowWatcherLogs:         true,
		ShowExecutorLogs:        true,
		ShowErrorLogs:           true,
		DeletePolicy:            DeletePolicyIfSucceeded,
		RandomNamePostfixLength: 8,
		Timeout:                 5 * time.Minute,
		WatcherStartTimeout:     10 * time.Second,
	}
}

// OptionsFromEnv starts from DefaultOptions and overrides fields present as
// KUBE_JOB_RUNNER_* / KUBERNETES_JOB_OPERATOR_* environment variables.
func OptionsFromEnv() (Options, error) {
	opts := DefaultOptions()

	if v := os.Getenv("KUBE_JOB_RUNNER_NAMESPACE"); v != "" {
		opts.Namespace = v
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_DELETE_POLICY"); v != "" {
		p, err := parseDeletePolicy(v)
		if err != nil {
			return Options{}, &OptionsError{Field: "DeletePolicy", Message: err.Error()}
		}
		opts.DeletePolicy = p
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_NAME_PREFIX"); v != "" {
		opts.NamePrefix = v
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_NAME_POSTFIX"); v != "" {
		opts.NamePostfix = v
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_RANDOM_POSTFIX_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, &OptionsError{Field: "RandomNamePostfixLength", Message: "must be an integer"}
		}
		opts.RandomNamePostfixLength = n
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, &OptionsError{Field: "Timeout", Message: "must be a duration (e.g. \"5m\")"}
		}
		opts.Timeout = d
	}
	if v := os.Getenv("KUBE_JOB_RUNNER_WATCHER_START_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, &OptionsError{Field: "WatcherStartTimeout", Message: "must be a duration (e.g. \"10s\")"}
		}
		opts.WatcherStartTimeout = d
	}
	if v := os.Getenv("KUBERNETES_JOB_OPERATOR_SHOW_RUNNER_ID_IN_LOGS"); v != "" {
		opts.ShowRunnerIDInLogs = strings.EqualFold(v, "true")
	}

	return opts, nil
}

// Validate checks opts for internal consistency.
func (o Options) Validate() error {
	if !o.DeletePolicy.valid() {
		return &OptionsError{Field: "DeletePolicy", Message: "unrecognized delete policy " + string(o.DeletePolicy)}
	}
	if o.Timeout <= 0 {
		return &OptionsError{Field: "Timeout", Message: "must be positive"}
	}
	if o.WatcherStartTimeout <= 0 {
		return &OptionsError{Field: "WatcherStartTimeout", Message: "must be positive"}
	}
	if o.RandomNamePostfixLength < 0 {
		return &OptionsError{Field: "RandomNamePostfixLength", Message: "must not be negative"}
	}
	return nil
}
