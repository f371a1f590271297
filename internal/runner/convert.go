package runner

import "encoding/json"

// bodyToJSON marshals a prepared object's body for a create request. The
// manifest bodies produced by prepareObject are plain
// map[string]any/[]any/string/... trees straight out of YAML decoding, so a
// marshal error here would mean a bug upstream, not a user input problem.
func bodyToJSON(body map[string]any) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return data
}

// jsonUnmarshal decodes a raw API response body, e.g. a resource list
// fetched for failure diagnostics.
func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
