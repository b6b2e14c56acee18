// Package dsconfig resolves the small set of environment-driven defaults
// that the rest of streamfs consults: the default API host, the
// environment-variable token override, and the location of the persisted
// token cache. It plays the same role the teacher's syfs package plays for
// locating on-disk configuration.
package dsconfig

import (
	"os"
	"path/filepath"
)

// DefaultHost is used when a mount does not specify a repo host explicitly.
const DefaultHost = "dagshub.com"

// EnvUserToken is checked first by the credential store; when set, its value
// is synthesized into an EnvVar token for DefaultHost and never persisted.
const EnvUserToken = "DAGSHUB_USER_TOKEN"

// Token returns the value of the environment-variable token override, and
// whether it was set to a non-empty value.
func Token() (string, bool) {
	v, ok := os.LookupEnv(EnvUserToken)
	return v, ok && v != ""
}

// CacheLocation returns the default path to the persisted token cache,
// honoring $DAGSHUB_CACHE_LOCATION, falling back to
// $XDG_CACHE_HOME/dagshub/tokens.yml, then $HOME/.cache/dagshub/tokens.yml.
func CacheLocation() string {
	if v := os.Getenv("DAGSHUB_CACHE_LOCATION"); v != "" {
		return v
	}
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "dagshub", "tokens.yml")
}
