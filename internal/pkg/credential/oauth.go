package credential

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/dagshub/streamfs/internal/pkg/dlog"
)

// defaultDeviceFlow implements the standard OAuth device-authorization
// grant against a DagsHub host, modeled on golang.org/x/oauth2's device-flow
// types. It never blocks indefinitely: if the process isn't attached to an
// interactive terminal it fails immediately with ErrOAuthUnavailable,
// matching spec.md's "fail_if_no_token=true is the discipline for CI" note
// applied symmetrically to the interactive fallback itself.
type defaultDeviceFlow struct {
	// ClientID identifies the CLI/library to the OAuth provider.
	ClientID string
	// HTTPClient is used for the device-code and polling requests.
	HTTPClient *http.Client
	// Prompt, when set, is called with the verification URL and user code
	// so the caller can surface them (defaults to printing to stderr).
	Prompt func(verificationURI, userCode string)
}

const defaultOAuthClientID = "streamfs-cli"

func (f defaultDeviceFlow) Authenticate(ctx context.Context, host string) (Token, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) && !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil, fmt.Errorf("%w: no interactive terminal attached", ErrOAuthUnavailable)
	}

	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clientID := f.ClientID
	if clientID == "" {
		clientID = defaultOAuthClientID
	}

	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: fmt.Sprintf("https://%s/login/oauth/device/code", host),
			TokenURL:      fmt.Sprintf("https://%s/login/oauth/access_token", host),
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	devAuth, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: starting OAuth device flow: %w", err)
	}

	prompt := f.Prompt
	if prompt == nil {
		prompt = func(verificationURI, userCode string) {
			dlog.Infof("To authenticate, visit %s and enter code %s", verificationURI, userCode)
		}
	}
	uri := devAuth.VerificationURIComplete
	if uri == "" {
		uri = devAuth.VerificationURI
	}
	prompt(uri, devAuth.UserCode)

	tok, err := cfg.DeviceAccessToken(ctx, devAuth)
	if err != nil {
		return nil, fmt.Errorf("credential: completing OAuth device flow: %w", err)
	}

	return NewOAuthToken(tok.AccessToken, tok.Expiry, nil), nil
}
