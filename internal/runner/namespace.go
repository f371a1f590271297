package runner

import "k8s.io/client-go/tools/clientcmd"

// clientDefaultNamespace resolves the namespace carried by the ambient
// kubeconfig's current context, mirroring the Python source's
// `self.client.get_default_namespace()` (spec.md §4.G step 2: "default
// `metadata.namespace` to the runner's namespace or the client's default").
// Falls back to "default", exactly like kubectl, when no context sets one or
// no kubeconfig can be loaded at all.
func clientDefaultNamespace() string {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})
	ns, _, err := cfg.Namespace()
	if err != nil || ns == "" {
		return "default"
	}
	return ns
}
