package kubeapi

import "testing"

func TestParseStateJob(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want State
	}{
		{
			name: "no status is pending",
			body: map[string]any{},
			want: StatePending,
		},
		{
			name: "failed exceeds backoff limit",
			body: map[string]any{
				"spec":   map[string]any{"backoffLimit": int64(2)},
				"status": map[string]any{"failed": int64(3)},
			},
			want: StateFailed,
		},
		{
			name: "failed within backoff limit keeps waiting",
			body: map[string]any{
				"spec":   map[string]any{"backoffLimit": int64(3)},
				"status": map[string]any{"failed": int64(2)},
			},
			want: StatePending,
		},
		{
			name: "start time without completion is running",
			body: map[string]any{
				"status": map[string]any{"startTime": "2024-01-01T00:00:00Z"},
			},
			want: StateRunning,
		},
		{
			name: "start and completion time is succeeded",
			body: map[string]any{
				"status": map[string]any{
					"startTime":      "2024-01-01T00:00:00Z",
					"completionTime": "2024-01-01T00:05:00Z",
				},
			},
			want: StateSucceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseStateJob(tc.body)
			if got != tc.want {
				t.Fatalf("parseStateJob() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseStatePod(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		want State
	}{
		{
			name: "no status is pending",
			body: map[string]any{},
			want: StatePending,
		},
		{
			name: "running phase",
			body: map[string]any{"status": map[string]any{"phase": "Running"}},
			want: StateRunning,
		},
		{
			name: "unknown phase normalizes to active",
			body: map[string]any{"status": map[string]any{"phase": "Unschedulable"}},
			want: StateActive,
		},
		{
			name: "crash loop backoff forces failed despite running phase",
			body: map[string]any{
				"status": map[string]any{
					"phase": "Running",
					"containerStatuses": []any{
						map[string]any{
							"state": map[string]any{
								"waiting": map[string]any{"reason": "CrashLoopBackOff"},
							},
						},
					},
				},
			},
			want: StateFailed,
		},
		{
			name: "container error forces failed",
			body: map[string]any{
				"status": map[string]any{
					"phase": "Running",
					"containerStatuses": []any{
						map[string]any{"state": map[string]any{"error": map[string]any{}}},
					},
				},
			},
			want: StateFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseStatePod(tc.body)
			if got != tc.want {
				t.Fatalf("parseStatePod() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateSucceeded, StateFailed, StateDeleted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = false, want true", s)
		}
	}

	nonTerminal := []State{StatePending, StateActive, StateRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = true, want false", s)
		}
	}
}

func TestKind_State_DeletionOverridesParsedState(t *testing.T) {
	k := Kind{Name: "job", ParseState: parseStateJob}
	body := map[string]any{
		"status": map[string]any{
			"startTime":      "2024-01-01T00:00:00Z",
			"completionTime": "2024-01-01T00:05:00Z",
		},
	}

	if got := k.State(body, true); got != StateDeleted {
		t.Fatalf("State(deleted=true) = %v, want Deleted", got)
	}
	if got := k.State(body, false); got != StateSucceeded {
		t.Fatalf("State(deleted=false) = %v, want Succeeded", got)
	}
}
