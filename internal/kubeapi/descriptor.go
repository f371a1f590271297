package kubeapi

import "fmt"

// Descriptor is a thin lens over a raw manifest (map[string]any), giving
// typed access to the handful of fields the runner/watcher/fanout layers
// care about without requiring a generated Go type per kind (spec.md §3 —
// arbitrary auxiliary kinds must be representable). Reads and mutations go
// straight through to the underlying Body.
type Descriptor struct {
	Kind Kind
	Body map[string]any
}

// NewDescriptor wraps body as a Descriptor of kind k. body is used directly,
// not copied: mutations through the Descriptor are visible to any other
// holder of body.
func NewDescriptor(k Kind, body map[string]any) *Descriptor {
	return &Descriptor{Kind: k, Body: body}
}

func (d *Descriptor) metadata() map[string]any {
	meta, ok := d.Body["metadata"].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		d.Body["metadata"] = meta
	}
	return meta
}

// Name returns metadata.name, or "" if unset.
func (d *Descriptor) Name() string {
	name, _ := d.metadata()["name"].(string)
	return name
}

// SetName sets metadata.name.
func (d *Descriptor) SetName(name string) {
	d.metadata()["name"] = name
}

// Namespace returns metadata.namespace, or "" if unset.
func (d *Descriptor) Namespace() string {
	ns, _ := d.metadata()["namespace"].(string)
	return ns
}

// SetNamespace sets metadata.namespace.
func (d *Descriptor) SetNamespace(ns string) {
	d.metadata()["namespace"] = ns
}

// Labels returns metadata.labels, creating an empty map (and attaching it to
// Body) if absent.
func (d *Descriptor) Labels() map[string]any {
	labels, ok := d.metadata()["labels"].(map[string]any)
	if !ok {
		labels = make(map[string]any)
		d.metadata()["labels"] = labels
	}
	return labels
}

// SetLabel stamps a single label.
func (d *Descriptor) SetLabel(key, value string) {
	d.Labels()[key] = value
}

// APIVersion returns the manifest's top-level apiVersion field, which may
// differ from d.Kind.APIVersion when the caller overrode it.
func (d *Descriptor) APIVersion() string {
	v, _ := d.Body["apiVersion"].(string)
	return v
}

// Spec returns the manifest's spec block, or nil if absent.
func (d *Descriptor) Spec() map[string]any {
	spec, _ := d.Body["spec"].(map[string]any)
	return spec
}

// Status returns the manifest's status block, or nil if absent.
func (d *Descriptor) Status() map[string]any {
	status, _ := d.Body["status"].(map[string]any)
	return status
}

// State computes the object's current lifecycle state via the descriptor's
// Kind (spec.md §3).
func (d *Descriptor) State(wasDeleted bool) State {
	return d.Kind.State(d.Body, wasDeleted)
}

// ResourcePath composes the REST path for this object via the descriptor's
// Kind (spec.md §3).
func (d *Descriptor) ResourcePath(suffix string) string {
	return d.Kind.ComposeResourcePath(d.Namespace(), d.Name(), d.APIVersion(), suffix)
}

// ID returns the string used throughout the runner/fanout/watcher layers to
// uniquely identify an object: "<kind>/<namespace>/<name>".
func (d *Descriptor) ID() string {
	return d.Kind.Name + "/" + d.Namespace() + "/" + d.Name()
}

// String returns "<namespace>/<plural>/<name>" for a namespaced object, or
// "<apiVersion>/<kind>" otherwise (spec.md §4.D).
func (d *Descriptor) String() string {
	if ns := d.Namespace(); ns != "" {
		return fmt.Sprintf("%s/%s/%s", ns, d.Kind.Plural(), d.Name())
	}
	return fmt.Sprintf("%s/%s", d.Kind.APIVersion, d.Kind.Name)
}
