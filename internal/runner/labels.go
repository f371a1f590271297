package runner

// InstanceIDLabelName is stamped onto every metadata block of every prepared
// object, and used to build the label selector the fan-out watches with.
const InstanceIDLabelName = "kubernetes-job-runner-instance-id"

// ForegroundDeletionFinalizer is appended to a Job's metadata.finalizers
// during preparation.
const ForegroundDeletionFinalizer = "foregroundDeletion"

// stampLabels recursively walks body, and for every nested map that itself
// carries a "spec" or "metadata" key, merges labels into its metadata.labels
// block (creating metadata/labels as needed). This mirrors the ancestor
// runner's update_metadata_labels, which stamps every embedded object
// (e.g. a Job's pod template) in addition to the top-level object.
func stampLabels(body map[string]any, labels map[string]string) {
	_, hasSpec := body["spec"].(map[string]any)
	_, hasMetadata := body["metadata"].(map[string]any)
	if hasSpec || hasMetadata {
		metadata, ok := body["metadata"].(map[string]any)
		if !ok {
			metadata = make(map[string]any)
			body["metadata"] = metadata
		}
		existing, ok := metadata["labels"].(map[string]any)
		if !ok {
			existing = make(map[string]any)
			metadata["labels"] = existing
		}
		for k, v := range labels {
			existing[k] = v
		}
	}

	for _, v := range body {
		if nested, ok := v.(map[string]any); ok {
			stampLabels(nested, labels)
		}
	}
}
