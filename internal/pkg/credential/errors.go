package credential

import "errors"

// ErrNoToken is raised by GetTokenObject when fail_if_no_token is true and
// no valid token could be found or obtained.
var ErrNoToken = errors.New("credential: no valid token found for host")

// ErrInvalidToken is returned by AddAppToken when the supplied token fails
// validation against the remote identity endpoint.
var ErrInvalidToken = errors.New("credential: token failed validation")

// ErrOAuthUnavailable is returned by the OAuth device flow when interactive
// authentication is not possible (headless environment, disabled flow).
var ErrOAuthUnavailable = errors.New("credential: interactive OAuth login is not available")

// ErrCorruptCache is fatal: the persisted cache file has an unknown schema
// version and cannot be parsed at all.
type ErrCorruptCache struct {
	Version string
}

func (e *ErrCorruptCache) Error() string {
	return "credential: token cache has unsupported schema version " + e.Version
}
