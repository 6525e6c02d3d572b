package docker

import (
	"fmt"
	"os"
)

// resolveCredentialEnv looks up each named credential in the runtime
// process's environment (optionally under envPrefix) and returns it
// as a "KEY=value" entry ready to append to a ContainerSpec's Env,
// skipping names that resolve to nothing rather than erroring: an
// agent configuration may reference a credential that happens not to
// be configured in this deployment.
//
// Adapted from the environment-backed credential provider this
// package generalizes from: that provider served a pull API
// (GetCredential/ListAvailable) for many consumers; this template
// only ever needs "resolve these named keys once, at container
// creation," so the provider collapses to a single function.
func resolveCredentialEnv(names []string, envPrefix string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			out = append(out, fmt.Sprintf("%s=%s", name, value))
			continue
		}
		if envPrefix != "" {
			if value := os.Getenv(envPrefix + name); value != "" {
				out = append(out, fmt.Sprintf("%s=%s", name, value))
			}
		}
	}
	return out
}
