package kubeapi

import "strings"

// State is the lifecycle state of a watched Kubernetes resource.
type State string

const (
	// StateUnknown is never reported by a Kind's ParseState; it is used by
	// callers (internal/watcher) as a sentinel for "no state observed yet".
	StateUnknown   State = ""
	StatePending   State = "Pending"
	StateActive    State = "Active"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateDeleted   State = "Deleted"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether s ends a run (spec: Succeeded | Failed | Deleted).
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateDeleted:
		return true
	default:
		return false
	}
}

// parseStateDefault is the fallback ParseState for kinds that don't register
// one: every live object reports Active.
func parseStateDefault(body map[string]any) State {
	return StateActive
}

// parseStateJob implements the Job state rules from spec.md §3:
// failed > backoffLimit wins, then startTime+completionTime, then startTime
// alone, else Pending.
func parseStateJob(body map[string]any) State {
	status, _ := body["status"].(map[string]any)
	spec, _ := body["spec"].(map[string]any)

	backoffLimit := int64(0)
	if spec != nil {
		backoffLimit = toInt64(spec["backoffLimit"])
	}

	if status == nil {
		return StatePending
	}

	if failed, ok := status["failed"]; ok && toInt64(failed) > backoffLimit {
		return StateFailed
	}
	if _, hasStart := status["startTime"]; hasStart {
		if _, hasCompletion := status["completionTime"]; hasCompletion {
			return StateSucceeded
		}
		return StateRunning
	}
	return StatePending
}

// parseStatePod implements the Pod state rules from spec.md §3: a BackOff
// waiting reason or a top-level container error forces Failed regardless of
// phase; otherwise phase maps to the same-named state, and any phase this
// registry doesn't recognize normalizes to Active (spec.md §9 Open
// Question — the Python source's probable bug of returning the raw phase
// string is deliberately not reproduced).
func parseStatePod(body map[string]any) State {
	status, _ := body["status"].(map[string]any)
	if status == nil {
		return StatePending
	}

	if containerStatuses, ok := status["containerStatuses"].([]any); ok {
		for _, raw := range containerStatuses {
			cs, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			state, _ := cs["state"].(map[string]any)
			if state == nil {
				continue
			}
			if waiting, ok := state["waiting"].(map[string]any); ok {
				if reason, ok := waiting["reason"].(string); ok && containsBackOff(reason) {
					return StateFailed
				}
			}
			if _, hasError := state["error"]; hasError {
				return StateFailed
			}
		}
	}

	phase, _ := status["phase"].(string)
	switch phase {
	case "Pending":
		return StatePending
	case "Running":
		return StateRunning
	case "Succeeded":
		return StateSucceeded
	case "Failed":
		return StateFailed
	default:
		return StateActive
	}
}

func containsBackOff(reason string) bool {
	return strings.Contains(reason, "BackOff")
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}
