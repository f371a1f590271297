package runner

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jvalencia-cbs/kubernetes-job-runner/internal/kubeapi"
)

// normalizeManifests turns a string (multi-document YAML), a single map, or
// a list of maps into a slice of maps, per spec step 1.
func normalizeManifests(manifests any) ([]map[string]any, error) {
	switch v := manifests.(type) {
	case string:
		return decodeYAMLDocuments(v)
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, &OptionsError{Field: "Manifests", Message: "every element must be a map"}
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, &OptionsError{Field: "Manifests", Message: "must be a YAML string, a map, or a list of maps"}
	}
}

func decodeYAMLDocuments(text string) ([]map[string]any, error) {
	dec := yaml.NewDecoder(strings.NewReader(text))
	var out []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("runner: parsing manifest yaml: %w", err)
		}
		if doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

// prepareObject applies the common preparation steps (namespace default,
// name composition, label stamping) to a single element, then the kind's
// registered prepare hook.
func (r *Runner) prepareObject(body map[string]any, registry *kubeapi.Registry) (*kubeapi.Descriptor, error) {
	kindName, _ := body["kind"].(string)
	kind, ok := registry.Get(kindName)
	if !ok {
		return nil, &kubeapi.ValidationError{Kind: kindName, Reason: "unrecognized kubernetes object kind"}
	}

	descriptor := kubeapi.NewDescriptor(kind, body)
	if descriptor.Spec() == nil {
		return nil, &kubeapi.ValidationError{Kind: kindName, Reason: "spec is not defined"}
	}

	if descriptor.Namespace() == "" {
		descriptor.SetNamespace(r.resolveNamespace())
	}

	name, err := composeName(r.opts.NamePrefix, descriptor.Name(), r.namePostfix)
	if err != nil {
		return nil, err
	}
	descriptor.SetName(name)

	stampLabels(body, map[string]string{InstanceIDLabelName: r.id})

	if hook, ok := prepareHooks[kind.Name]; ok {
		if err := hook(descriptor); err != nil {
			return nil, err
		}
	}

	return descriptor, nil
}

var prepareHooks = map[string]func(*kubeapi.Descriptor) error{
	"job": prepareJobKind,
	"pod": preparePodKind,
}

// prepareJobKind mirrors custom_prepare_job_kind: requires a pod template,
// defaults backoffLimit/restartPolicy, ensures the foreground-deletion
// finalizer.
func prepareJobKind(d *kubeapi.Descriptor) error {
	spec := d.Spec()
	template, ok := spec["template"].(map[string]any)
	if !ok {
		return &kubeapi.ValidationError{Kind: "job", Reason: "spec.template is missing or not a map"}
	}
	templateSpec, ok := template["spec"].(map[string]any)
	if !ok {
		return &kubeapi.ValidationError{Kind: "job", Reason: "spec.template.spec is missing or not a map"}
	}

	if _, ok := spec["backoffLimit"]; !ok {
		spec["backoffLimit"] = int64(0)
	}
	if _, ok := templateSpec["restartPolicy"]; !ok {
		templateSpec["restartPolicy"] = "Never"
	}

	metadata := d.Body["metadata"].(map[string]any)
	finalizers, _ := metadata["finalizers"].([]any)
	for _, f := range finalizers {
		if s, _ := f.(string); s == ForegroundDeletionFinalizer {
			return nil
		}
	}
	metadata["finalizers"] = append(finalizers, ForegroundDeletionFinalizer)
	return nil
}

// preparePodKind mirrors custom_prepare_pod_kind.
func preparePodKind(d *kubeapi.Descriptor) error {
	spec := d.Spec()
	if _, ok := spec["restartPolicy"]; !ok {
		spec["restartPolicy"] = "Never"
	}
	return nil
}
