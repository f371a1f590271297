package runner

import "fmt"

// DeletePolicy controls whether Runner.Execute deletes the resources it
// created once a run reaches a terminal state.
type DeletePolicy string

const (
	// DeletePolicyAlways deletes the resources regardless of outcome.
	DeletePolicyAlways DeletePolicy = "Always"
	// DeletePolicyNever leaves the resources in place for inspection.
	DeletePolicyNever DeletePolicy = "Never"
	// DeletePolicyIfFailed deletes only when the primary resource failed.
	DeletePolicyIfFailed DeletePolicy = "IfFailed"
	// DeletePolicyIfSucceeded deletes only when the primary resource
	// succeeded; this is the default, matching the ancestor runner's
	// JobRunnerDeletePolicy.IfSucceeded.
	DeletePolicyIfSucceeded DeletePolicy = "IfSucceeded"
)

func (p DeletePolicy) String() string {
	return string(p)
}

func (p DeletePolicy) valid() bool {
	switch p {
	case DeletePolicyAlways, DeletePolicyNever, DeletePolicyIfFailed, DeletePolicyIfSucceeded:
		return true
	default:
		return false
	}
}

func parseDeletePolicy(s string) (DeletePolicy, error) {
	p := DeletePolicy(s)
	if !p.valid() {
		return "", fmt.Errorf("unrecognized delete policy %q", s)
	}
	return p, nil
}
