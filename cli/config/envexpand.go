// Package config loads ferry.yaml for the ferry commands.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in input. Unset or empty
// variables take their fallback, which defaults to "".
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, fallback := m[1], m[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
