package kubeapi

import (
	"regexp"
	"strings"
)

// apiVersionPrefixPattern matches a bare "v<N>" core API version, which is
// served under /api rather than /apis (spec.md §3).
var apiVersionPrefixPattern = regexp.MustCompile(`^v[0-9]+$`)

// ParseStateFunc computes a Kind's state from a raw manifest body. Modeling
// this as a function value (rather than a Kind subclass per kind) is the
// statically-typed equivalent of the Python source's per-kind
// parse_kind_state callable (spec.md §9 "Dynamic dispatch on kind").
type ParseStateFunc func(body map[string]any) State

// Kind describes a Kubernetes resource kind: its API group/version, how to
// compute its live State from a manifest body, and whether the fan-out
// should watch it by default.
type Kind struct {
	// Name is the lowercase singular kind name, e.g. "job".
	Name string
	// APIVersion is the group/version, e.g. "v1" or "batch/v1".
	APIVersion string
	// ParseState computes state from a manifest body. Nil means the kind is
	// not "parseable" (spec.md §4.C) and every live object is Active.
	ParseState ParseStateFunc
	// AutoIncludeInWatch marks the kind as "watchable" (spec.md GLOSSARY):
	// included in a fan-out's default kind set.
	AutoIncludeInWatch bool
}

// Plural returns the pluralized form used in REST paths (spec.md §3: "name
// + 's'").
func (k Kind) Plural() string {
	return k.Name + "s"
}

// Parseable reports whether this kind has a non-default state parser.
func (k Kind) Parseable() bool {
	return k.ParseState != nil
}

// State computes the kind's state for body. Deletion always overrides the
// parsed state (spec.md §3).
func (k Kind) State(body map[string]any, wasDeleted bool) State {
	if wasDeleted {
		return StateDeleted
	}
	parse := k.ParseState
	if parse == nil {
		parse = parseStateDefault
	}
	return parse(body)
}

// ComposeResourcePath builds a Kubernetes REST path for this kind:
// /(api|apis)/<version>/namespaces/<ns>/<plural>[/<name>[/<suffix>]]
// (spec.md §3). The apiVersion of the Kind itself is used unless
// overrideAPIVersion is non-empty.
func (k Kind) ComposeResourcePath(namespace, name, overrideAPIVersion, suffix string) string {
	apiVersion := k.APIVersion
	if overrideAPIVersion != "" {
		apiVersion = overrideAPIVersion
	}

	prefix := "apis"
	if apiVersionPrefixPattern.MatchString(apiVersion) {
		prefix = "api"
	}

	segments := []string{prefix, apiVersion, "namespaces", namespace, k.Plural()}
	if name != "" {
		segments = append(segments, name)
		if suffix != "" {
			segments = append(segments, suffix)
		}
	}

	return "/" + strings.Join(segments, "/")
}

func (k Kind) String() string {
	return k.APIVersion + "/" + k.Plural()
}

// Registry is a catalog of known Kinds, keyed by lowercase name. The spec
// source models this as a process-wide global (spec.md §9); here it is an
// explicit value threaded through the runner and fan-out, with
// NewDefaultRegistry bootstrapping the built-ins.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// NewDefaultRegistry creates a registry pre-populated with the built-in
// kinds from spec.md §3: Pod (parseable, watchable), Service (watchable),
// Event (not auto-watched), Job (parseable, watchable), Deployment
// (watchable).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Kind{Name: "pod", APIVersion: "v1", ParseState: parseStatePod, AutoIncludeInWatch: true})
	r.Register(Kind{Name: "service", APIVersion: "v1", AutoIncludeInWatch: true})
	r.Register(Kind{Name: "event", APIVersion: "v1", AutoIncludeInWatch: false})
	r.Register(Kind{Name: "job", APIVersion: "batch/v1", ParseState: parseStateJob, AutoIncludeInWatch: true})
	r.Register(Kind{Name: "deployment", APIVersion: "apps/v1", AutoIncludeInWatch: true})
	return r
}

// Register adds or replaces a kind in the registry.
func (r *Registry) Register(k Kind) {
	r.kinds[strings.ToLower(k.Name)] = k
}

// Get returns the registered kind by (case-insensitive) name.
func (r *Registry) Get(name string) (Kind, bool) {
	k, ok := r.kinds[strings.ToLower(name)]
	return k, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.kinds[strings.ToLower(name)]
	return ok
}

// All returns every registered kind, in no particular order.
func (r *Registry) All() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	return out
}

// Parseable returns every registered kind with a non-default state parser.
func (r *Registry) Parseable() []Kind {
	var out []Kind
	for _, k := range r.kinds {
		if k.Parseable() {
			out = append(out, k)
		}
	}
	return out
}

// Watchable returns every registered kind with AutoIncludeInWatch set.
func (r *Registry) Watchable() []Kind {
	var out []Kind
	for _, k := range r.kinds {
		if k.AutoIncludeInWatch {
			out = append(out, k)
		}
	}
	return out
}

// CreateFromExisting builds a Kind for name, inheriting APIVersion and
// ParseState from the registered entry (if any) when the caller doesn't
// supply them explicitly — mirroring the Python source's
// KubeResourceKind.create_from_existing (spec.md §4.C).
func (r *Registry) CreateFromExisting(name, apiVersion string, parseState ParseStateFunc) Kind {
	name = strings.ToLower(name)
	existing, ok := r.kinds[name]
	if !ok {
		return Kind{Name: name, APIVersion: apiVersion, ParseState: parseState}
	}

	k := Kind{
		Name:               name,
		APIVersion:         apiVersion,
		ParseState:         parseState,
		AutoIncludeInWatch: existing.AutoIncludeInWatch,
	}
	if k.APIVersion == "" {
		k.APIVersion = existing.APIVersion
	}
	if k.ParseState == nil {
		k.ParseState = existing.ParseState
	}
	return k
}
