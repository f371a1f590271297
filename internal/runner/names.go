package runner

import (
	"strings"

	utilrand "k8s.io/apimachinery/pkg/util/rand"
)

// composeName builds "prefix-name-postfix", skipping empty parts, matching
// the ancestor runner's name_prefix/name/name_postfix join.
func composeName(prefix, name, postfix string) (string, error) {
	var parts []string
	for _, p := range []string{prefix, name, postfix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", &OptionsError{Field: "Name", Message: "composed name has no non-empty parts"}
	}
	return strings.Join(parts, "-"), nil
}

// resolvePostfix returns opts.NamePostfix if set, otherwise a random
// lowercase alphanumeric string of opts.RandomNamePostfixLength characters
// (or "" if that length is <= 0).
func resolvePostfix(explicit string, randomLength int) string {
	if explicit != "" {
		return explicit
	}
	if randomLength <= 0 {
		return ""
	}
	return strings.ToLower(utilrand.String(randomLength))
}
