// Package remote implements the HTTP client against the DagsHub content
// API: resolving a branch or commit to a concrete revision, listing
// directory contents at a revision, and downloading raw file bytes. It is
// grounded on the teacher's internal/pkg/remote/endpoint/service.go
// (timeout'd *http.Client, a User-Agent header on every request, status-code
// driven error translation) and on ociimage/fetch.go's context-carrying
// fetch calls.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dagshub/streamfs/internal/pkg/credential"
	"github.com/dagshub/streamfs/internal/pkg/dlog"
)

const defaultTimeout = 30 * time.Second

const userAgent = "dagshub-streamfs/1.0"

// Entry describes one child reported by a directory listing.
type Entry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size *int64 `json:"size,omitempty"`
}

// IsDir reports whether the entry represents a directory.
func (e Entry) IsDir() bool { return e.Type == "dir" }

// Name returns the final path component of the entry.
func (e Entry) Name() string { return path.Base(e.Path) }

type listingKey struct {
	relpath     string
	includeSize bool
}

// Client talks to a single repository's content API on a single host.
type Client struct {
	host  string
	owner string
	repo  string

	httpClient *http.Client
	creds      *credential.Store

	mu      sync.Mutex
	listing map[listingKey][]Entry
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHTTPClient overrides the default timeout'd client, for tests that
// point a Client at an httptest server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client for owner/repo on host, authenticating via creds.
func New(host, owner, repo string, creds *credential.Store, opts ...Option) *Client {
	c := &Client{
		host:       host,
		owner:      owner,
		repo:       repo,
		httpClient: &http.Client{Timeout: defaultTimeout},
		creds:      creds,
		listing:    map[listingKey][]Entry{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("https://%s/api/v1/repos/%s/%s", c.host, c.owner, c.repo)
}

// ResolveRevision resolves a branch name or HEAD ref to a concrete commit
// SHA. If branchOrRef looks like a raw SHA it is verified against the
// remote and returned unchanged; otherwise it is looked up as a branch.
func (c *Client) ResolveRevision(ctx context.Context, branchOrRef string) (string, error) {
	if looksLikeSHA(branchOrRef) {
		ok, err := c.commitExists(ctx, branchOrRef)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: commit %q", ErrRevisionNotFound, branchOrRef)
		}
		return branchOrRef, nil
	}
	return c.branchHead(ctx, branchOrRef)
}

func looksLikeSHA(s string) bool {
	if len(s) < 7 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func (c *Client) commitExists(ctx context.Context, sha string) (bool, error) {
	u := fmt.Sprintf("%s/commits/%s", c.baseURL(), url.PathEscape(sha))
	resp, err := c.authedGet(ctx, "commitExists", u, nil)
	if err != nil {
		if errIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	return true, nil
}

func (c *Client) branchHead(ctx context.Context, branch string) (string, error) {
	u := fmt.Sprintf("%s/branches/%s", c.baseURL(), url.PathEscape(branch))
	resp, err := c.authedGet(ctx, "branchHead", u, nil)
	if err != nil {
		if errIsNotFound(err) {
			return "", fmt.Errorf("%w: branch %q", ErrRevisionNotFound, branch)
		}
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Commit struct {
			ID string `json:"id"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Op: "branchHead", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if body.Commit.ID == "" {
		return "", &Error{Op: "branchHead", Err: fmt.Errorf("response missing commit.id")}
	}
	return body.Commit.ID, nil
}

// ListDir lists the contents of relpath at revision. An empty slice with a
// nil error is a valid response for an empty directory. Responses are
// cached per (relpath, includeSize); a listing previously fetched with
// includeSize=true also satisfies a later includeSize=false lookup.
func (c *Client) ListDir(ctx context.Context, revision, relpath string, includeSize bool) ([]Entry, error) {
	relpath = strings.TrimPrefix(relpath, "/")

	c.mu.Lock()
	if cached, ok := c.listing[listingKey{relpath, includeSize}]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	if !includeSize {
		if cached, ok := c.listing[listingKey{relpath, true}]; ok {
			c.mu.Unlock()
			return cached, nil
		}
	}
	c.mu.Unlock()

	u := fmt.Sprintf("%s/content/%s/%s", c.baseURL(), url.PathEscape(revision), relpath)
	query := url.Values{}
	if includeSize {
		query.Set("include_size", "true")
	}

	resp, err := c.authedGet(ctx, "listDir", u, query)
	if err != nil {
		if errIsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relpath)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &Error{Op: "listDir", Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.mu.Lock()
	c.listing[listingKey{relpath, includeSize}] = entries
	c.mu.Unlock()

	return entries, nil
}

// FetchFile downloads the raw bytes of relpath at revision.
func (c *Client) FetchFile(ctx context.Context, revision, relpath string) ([]byte, error) {
	relpath = strings.TrimPrefix(relpath, "/")
	u := fmt.Sprintf("%s/raw/%s/%s", c.baseURL(), url.PathEscape(revision), relpath)

	resp, err := c.authedGet(ctx, "fetchFile", u, nil)
	if err != nil {
		if errIsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relpath)
		}
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "fetchFile", Err: fmt.Errorf("reading response: %w", err)}
	}
	return b, nil
}

// authedGet performs a bearer-authenticated GET, retrying exactly once
// after invalidating the current token on a 401 (spec.md 5, "Auth
// renegotiation"). The caller must close the returned response body.
func (c *Client) authedGet(ctx context.Context, op, rawURL string, query url.Values) (*http.Response, error) {
	resp, usedToken, err := c.doGet(ctx, rawURL, query)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized && usedToken != "" {
		resp.Body.Close()
		dlog.Debugf("Got 401 from %s, invalidating token and retrying once", op)
		c.creds.Invalidate(c.host, usedToken)
		resp, _, err = c.doGet(ctx, rawURL, query)
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, &Error{Op: op, StatusCode: http.StatusNotFound, Err: ErrNotFound}
	default:
		resp.Body.Close()
		return nil, &Error{Op: op, StatusCode: resp.StatusCode}
	}
}

func (c *Client) doGet(ctx context.Context, rawURL string, query url.Values) (*http.Response, string, error) {
	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	var tokenText string
	if c.creds != nil {
		tok, err := c.creds.GetToken(ctx, c.host, false)
		if err == nil && tok != "" {
			tokenText = tok
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	return resp, tokenText, nil
}

func errIsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
