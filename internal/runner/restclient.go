package runner

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// restClientForAPIVersion resolves the typed sub-client whose REST client
// speaks the given group/version. Only the built-in registry's kinds are
// supported for create/delete/list; an auxiliary kind registered against an
// unsupported group needs its own rest.Interface wired in by the caller
// (spec.md §3 "arbitrary auxiliary kinds" is honored at the watch/describe
// layer via kubeapi.Kind; the typed clientset used here for mutation calls
// only covers the groups the teacher's dependency already vendors).
func restClientForAPIVersion(clientset kubernetes.Interface, apiVersion string) (rest.Interface, error) {
	switch apiVersion {
	case "v1":
		return clientset.CoreV1().RESTClient(), nil
	case "batch/v1":
		return clientset.BatchV1().RESTClient(), nil
	case "apps/v1":
		return clientset.AppsV1().RESTClient(), nil
	default:
		return nil, fmt.Errorf("runner: no REST client wired for API version %q", apiVersion)
	}
}
