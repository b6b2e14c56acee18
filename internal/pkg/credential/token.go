package credential

import (
	"fmt"
	"strings"
	"time"
)

// Token is the sum type over the three credential kinds the store can hold.
// Each variant knows its own priority (lower tried first) and expiry, and
// can serialize itself to/from the on-disk record shape.
type Token interface {
	// Text is the raw bearer token string sent to the remote.
	Text() string
	// TypeTag identifies the variant in the persisted cache file.
	TypeTag() string
	// Priority orders retrieval; lower values are tried first.
	Priority() int
	// IsExpired reports whether the token should no longer be offered.
	IsExpired() bool
	// record converts the token to its persisted representation.
	record() tokenRecord
}

const (
	// PriorityEnvVar is highest: an environment override always wins, but
	// is synthesized on the fly and never reaches the persisted cache.
	PriorityEnvVar = 0
	PriorityApp    = 10
	PriorityOAuth  = 20
)

const (
	typeApp    = "app-token"
	typeOAuth  = "oauth"
	typeEnvVar = "env-var"
)

// expiryLayout trims to microsecond precision before parsing/formatting,
// resolving the spec's open question (c) about sub-millisecond precision.
const expiryLayout = "2006-01-02T15:04:05.000000Z"

const expiryNever = "never"

// AppToken is a long-lived, non-expiring token a user creates explicitly on
// DagsHub and pastes in, or adds via AddAppToken.
type AppToken struct {
	text      string
	createdAt time.Time
}

func NewAppToken(text string) *AppToken {
	return &AppToken{text: text, createdAt: time.Now().UTC()}
}

func (t *AppToken) Text() string    { return t.text }
func (t *AppToken) TypeTag() string { return typeApp }
func (t *AppToken) Priority() int   { return PriorityApp }
func (t *AppToken) IsExpired() bool { return false }

func (t *AppToken) record() tokenRecord {
	return tokenRecord{
		TokenType: typeApp,
		TokenText: t.text,
		Expiry:    expiryNever,
		CreatedAt: formatTime(t.createdAt),
	}
}

// OAuthToken is a short-lived token obtained through the interactive OAuth
// device/browser flow.
type OAuthToken struct {
	text    string
	expiry  time.Time
	refresh map[string]string
}

func NewOAuthToken(text string, expiry time.Time, refresh map[string]string) *OAuthToken {
	return &OAuthToken{text: text, expiry: expiry.UTC(), refresh: refresh}
}

func (t *OAuthToken) Text() string    { return t.text }
func (t *OAuthToken) TypeTag() string { return typeOAuth }
func (t *OAuthToken) Priority() int   { return PriorityOAuth }
func (t *OAuthToken) IsExpired() bool { return !t.expiry.IsZero() && time.Now().UTC().After(t.expiry) }

func (t *OAuthToken) record() tokenRecord {
	exp := expiryNever
	if !t.expiry.IsZero() {
		exp = formatTime(t.expiry)
	}
	return tokenRecord{
		TokenType: typeOAuth,
		TokenText: t.text,
		Expiry:    exp,
		Refresh:   t.refresh,
	}
}

// EnvToken wraps the DAGSHUB_USER_TOKEN environment override. It is
// synthesized fresh on every lookup and is never written to the cache file.
type EnvToken struct {
	text string
}

func NewEnvToken(text string) *EnvToken {
	return &EnvToken{text: text}
}

func (t *EnvToken) Text() string    { return t.text }
func (t *EnvToken) TypeTag() string { return typeEnvVar }
func (t *EnvToken) Priority() int   { return PriorityEnvVar }
func (t *EnvToken) IsExpired() bool { return false }
func (t *EnvToken) record() tokenRecord {
	panic("EnvToken must never be serialized to the persistent cache")
}

// tokenRecord is the wire shape of one entry under a host key in the cache
// file (see cacheDocument in store.go).
type tokenRecord struct {
	TokenType string            `yaml:"token_type"`
	TokenText string            `yaml:"token_text"`
	Expiry    string            `yaml:"expiry,omitempty"`
	CreatedAt string            `yaml:"created_at,omitempty"`
	Refresh   map[string]string `yaml:"refresh,omitempty"`
}

func formatTime(t time.Time) string {
	// Trim to microsecond precision before formatting, mirroring the
	// parse-side trim below, so a write/read round trip is lossless.
	return t.UTC().Truncate(time.Microsecond).Format(expiryLayout)
}

// ErrTokenDeserialize signals that a single cache entry was malformed; the
// loader skips the entry and logs a warning rather than aborting the load.
type ErrTokenDeserialize struct {
	TypeTag string
	Reason  string
}

func (e *ErrTokenDeserialize) Error() string {
	return fmt.Sprintf("failed to deserialize token of type %q: %s", e.TypeTag, e.Reason)
}

// deserialize dispatches on rec.TokenType to build the matching Token
// variant, trimming any precision beyond microseconds from expiry
// timestamps before parsing (spec open question (c)).
func deserialize(rec tokenRecord) (Token, error) {
	switch rec.TokenType {
	case typeApp:
		created, _ := parseTimeOrZero(rec.CreatedAt)
		return &AppToken{text: rec.TokenText, createdAt: created}, nil
	case typeOAuth:
		if rec.TokenText == "" {
			return nil, &ErrTokenDeserialize{TypeTag: rec.TokenType, Reason: "missing token_text"}
		}
		var expiry time.Time
		if rec.Expiry != "" && rec.Expiry != expiryNever {
			var err error
			expiry, err = parseTime(rec.Expiry)
			if err != nil {
				return nil, &ErrTokenDeserialize{TypeTag: rec.TokenType, Reason: err.Error()}
			}
		}
		return &OAuthToken{text: rec.TokenText, expiry: expiry, refresh: rec.Refresh}, nil
	default:
		return nil, &ErrTokenDeserialize{TypeTag: rec.TokenType, Reason: "unknown token_type"}
	}
}

// parseTime trims any sub-microsecond precision in the fractional-seconds
// field before parsing an ISO-8601 UTC timestamp.
func parseTime(s string) (time.Time, error) {
	s = trimToMicroseconds(s)
	return time.Parse(expiryLayout, s)
}

func parseTimeOrZero(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// trimToMicroseconds truncates the fractional-second digits of an ISO-8601
// "...Z" timestamp to at most six, right-padding with zeros if fewer were
// given. This satisfies spec.md's rule that "any sub-millisecond precision
// beyond microseconds must be trimmed before parsing".
func trimToMicroseconds(s string) string {
	if !strings.HasSuffix(s, "Z") {
		return s
	}
	body := strings.TrimSuffix(s, "Z")
	dot := strings.IndexByte(body, '.')
	if dot < 0 {
		return body + ".000000Z"
	}
	frac := body[dot+1:]
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	return body[:dot+1] + frac + "Z"
}
