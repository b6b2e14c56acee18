// Package credential implements the persistent, validated bearer-token
// store that authenticates requests made by the remote repo client. It is
// grounded on the teacher's internal/pkg/remote.Config (YAML
// ReadFrom/WriteTo) for persistence and on internal/pkg/build/buildkit/auth's
// flock-guarded read-modify-write idiom for safe concurrent access to the
// cache file.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dagshub/streamfs/internal/pkg/dlog"
	"github.com/dagshub/streamfs/internal/pkg/dsconfig"
)

const schemaVersion = "1"

// DeviceFlow is the pluggable capability the store depends on to obtain a
// token interactively. The default implementation lives in oauth.go;
// headless callers can substitute one that always returns
// ErrOAuthUnavailable.
type DeviceFlow interface {
	Authenticate(ctx context.Context, host string) (Token, error)
}

// Store is a process-wide cache of bearer tokens keyed by host. All cache
// mutation is guarded by mu; concurrent readers/writers across goroutines
// in one process are safe. An flock on the on-disk file is held while the
// file is loaded and while it is written, each separately; it is not held
// from a load through a later write.
type Store struct {
	cacheLocation string
	httpClient    *http.Client
	flow          DeviceFlow
	envToken      func() (string, bool)

	mu        sync.Mutex
	byHost    map[string][]Token
	knownGood map[string]map[string]bool
	loaded    bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDeviceFlow overrides the default OAuth device flow implementation.
func WithDeviceFlow(f DeviceFlow) Option {
	return func(s *Store) { s.flow = f }
}

// WithHTTPClient overrides the client used for identity-endpoint validation.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// withEnvTokenFunc is test-only: lets tests simulate DAGSHUB_USER_TOKEN
// without mutating process environment.
func withEnvTokenFunc(f func() (string, bool)) Option {
	return func(s *Store) { s.envToken = f }
}

// New constructs a Store backed by the cache file at cacheLocation. If
// cacheLocation is empty, dsconfig.CacheLocation() is used.
func New(cacheLocation string, opts ...Option) *Store {
	if cacheLocation == "" {
		cacheLocation = dsconfig.CacheLocation()
	}
	s := &Store{
		cacheLocation: cacheLocation,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		flow:          defaultDeviceFlow{},
		envToken:      dsconfig.Token,
		byHost:        map[string][]Token{},
		knownGood:     map[string]map[string]bool{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// process-wide singleton, lazily initialized on first use (mirrors the
// teacher's credential.Manager / sylog default-logger pattern).
var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide Store singleton.
func Default() *Store {
	defaultOnce.Do(func() { defaultStore = New("") })
	return defaultStore
}

func tokenKey(t Token) string { return t.TypeTag() + ":" + t.Text() }

// ensureLoaded loads the cache file exactly once, pruning expired tokens.
// Must be called with mu held.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	hosts, err := s.loadCacheFile()
	if err != nil {
		return err
	}
	s.byHost = hosts
	s.loaded = true
	if s.pruneExpiredLocked() {
		return s.storeCacheFileLocked()
	}
	return nil
}

func (s *Store) pruneExpiredLocked() bool {
	changed := false
	for host, tokens := range s.byHost {
		kept := tokens[:0]
		for _, t := range tokens {
			if t.IsExpired() {
				changed = true
				continue
			}
			kept = append(kept, t)
		}
		s.byHost[host] = kept
	}
	if changed {
		dlog.Infof("Removed expired tokens from the token cache")
	}
	return changed
}

// GetTokenObject implements the retrieval algorithm in spec.md 4.2.
func (s *Store) GetTokenObject(ctx context.Context, host string, failIfNoToken bool) (Token, error) {
	if host == "" {
		host = dsconfig.DefaultHost
	}

	if host == dsconfig.DefaultHost {
		if v, ok := s.envToken(); ok {
			return NewEnvToken(v), nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	tokens := append([]Token(nil), s.byHost[host]...)
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].Priority() < tokens[j].Priority() })

	good := s.knownGood[host]
	if good == nil {
		good = map[string]bool{}
		s.knownGood[host] = good
	}

	var survivors []Token
	var chosen Token
	changed := false

	for _, t := range tokens {
		if t.IsExpired() {
			changed = true
			continue
		}
		if chosen != nil {
			survivors = append(survivors, t)
			continue
		}
		if good[tokenKey(t)] {
			chosen = t
			survivors = append(survivors, t)
			continue
		}
		if s.isValidTokenLocked(ctx, t, host) {
			good[tokenKey(t)] = true
			chosen = t
			survivors = append(survivors, t)
		} else {
			changed = true
		}
	}

	if changed {
		s.byHost[host] = survivors
		if err := s.storeCacheFileLocked(); err != nil {
			return nil, err
		}
	}

	if chosen != nil {
		return chosen, nil
	}

	if failIfNoToken {
		return nil, fmt.Errorf("%w for host %q", ErrNoToken, host)
	}

	dlog.Debugf("No valid tokens found for host %q. Authenticating with OAuth", host)
	newTok, err := s.flow.Authenticate(ctx, host)
	if err != nil {
		return nil, err
	}
	s.byHost[host] = append(s.byHost[host], newTok)
	s.knownGood[host][tokenKey(newTok)] = true
	if err := s.storeCacheFileLocked(); err != nil {
		return nil, err
	}
	return newTok, nil
}

// GetToken is the lower-level accessor returning only the raw bearer string.
func (s *Store) GetToken(ctx context.Context, host string, failIfNoToken bool) (string, error) {
	t, err := s.GetTokenObject(ctx, host, failIfNoToken)
	if err != nil {
		return "", err
	}
	return t.Text(), nil
}

// Invalidate removes a token from the known-good set and the persisted
// cache for host, used after a remote 401 to force revalidation exactly
// once (spec.md 5, "Auth renegotiation").
func (s *Store) Invalidate(host, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return
	}
	kept := s.byHost[host][:0]
	for _, t := range s.byHost[host] {
		if t.Text() == text {
			delete(s.knownGood[host], tokenKey(t))
			continue
		}
		kept = append(kept, t)
	}
	s.byHost[host] = kept
	_ = s.storeCacheFileLocked()
}

// AddAppToken validates and inserts a long-lived application token.
func (s *Store) AddAppToken(ctx context.Context, text, host string) error {
	if host == "" {
		host = dsconfig.DefaultHost
	}
	if !s.IsValidToken(ctx, text, host) {
		return ErrInvalidToken
	}
	tok := NewAppToken(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.byHost[host] = append(s.byHost[host], tok)
	if s.knownGood[host] == nil {
		s.knownGood[host] = map[string]bool{}
	}
	s.knownGood[host][tokenKey(tok)] = true
	return s.storeCacheFileLocked()
}

// AddOAuthToken runs the OAuth flow and inserts the result without
// re-validation (it was just minted by the identity provider).
func (s *Store) AddOAuthToken(ctx context.Context, host string) error {
	if host == "" {
		host = dsconfig.DefaultHost
	}
	tok, err := s.flow.Authenticate(ctx, host)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.byHost[host] = append(s.byHost[host], tok)
	if s.knownGood[host] == nil {
		s.knownGood[host] = map[string]bool{}
	}
	s.knownGood[host][tokenKey(tok)] = true
	return s.storeCacheFileLocked()
}

// IsValidToken checks token validity against the remote identity endpoint.
// 2xx with a "login" field is valid; 4xx is invalid; 5xx is treated as
// valid since it signals a server error rather than a credential failure.
func (s *Store) IsValidToken(ctx context.Context, text, host string) bool {
	return s.isValidTokenLocked(ctx, NewEnvToken(text), host)
}

func (s *Store) isValidTokenLocked(ctx context.Context, t Token, host string) bool {
	checkURL := fmt.Sprintf("https://%s/api/v1/user", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+t.Text())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode <= 499 {
		return false
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var body map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		_, ok := body["login"]
		return ok
	}
	// 5xx and anything else: treat as a server hiccup, not a bad credential.
	return true
}

// cacheDocument is the on-disk shape: {version: "1", <host>: [...records]}.
type cacheDocument struct {
	Version string                   `yaml:"version"`
	Hosts   map[string][]tokenRecord `yaml:",inline"`
}

func (s *Store) loadCacheFile() (map[string][]Token, error) {
	dlog.Debugf("Loading token cache from %s", s.cacheLocation)
	f, err := os.Open(s.cacheLocation)
	if os.IsNotExist(err) {
		return map[string][]Token{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("credential: opening token cache: %w", err)
	}
	defer f.Close()

	lock := flock.New(s.cacheLocation + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	var doc cacheDocument
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("credential: parsing token cache: %w", err)
	}
	if doc.Version == "" {
		doc.Version = schemaVersion
	}
	if doc.Version != schemaVersion {
		return nil, &ErrCorruptCache{Version: doc.Version}
	}

	out := map[string][]Token{}
	for host, records := range doc.Hosts {
		var tokens []Token
		for _, rec := range records {
			tok, err := deserialize(rec)
			if err != nil {
				dlog.Warningf("Failed to deserialize token for host %q: %v", host, err)
				continue
			}
			tokens = append(tokens, tok)
		}
		out[host] = tokens
	}
	return out, nil
}

// storeCacheFileLocked writes the cache atomically: temp file in the same
// directory, then rename. Must be called with mu held.
func (s *Store) storeCacheFileLocked() error {
	dlog.Debugf("Dumping token cache to %s", s.cacheLocation)

	dir := filepath.Dir(s.cacheLocation)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential: creating cache dir: %w", err)
	}

	lock := flock.New(s.cacheLocation + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	doc := cacheDocument{Version: schemaVersion, Hosts: map[string][]tokenRecord{}}
	for host, tokens := range s.byHost {
		recs := make([]tokenRecord, 0, len(tokens))
		for _, t := range tokens {
			if t.TypeTag() == typeEnvVar {
				continue
			}
			recs = append(recs, t.record())
		}
		doc.Hosts[host] = recs
	}

	b, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("credential: marshaling token cache: %w", err)
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("credential: writing token cache: %w", err)
	}
	if err := os.Rename(tmp, s.cacheLocation); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("credential: replacing token cache: %w", err)
	}
	return nil
}
