package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/opsgate/opsgate/internal/capability"
)

var (
	// ErrSessionTokenMissing indicates no gateway session token was configured.
	ErrSessionTokenMissing = errors.New("gateway session token is not configured")
	// ErrBearerTokenMissing indicates the Authorization header carried no bearer token.
	ErrBearerTokenMissing = errors.New("missing or malformed Authorization bearer token")
	// ErrBearerTokenInvalid indicates the presented token did not match the session token.
	ErrBearerTokenInvalid = errors.New("invalid bearer token for gateway session")
)

// SessionPrincipal carries the chat-platform caller identity. End users are
// authenticated by the chat platform itself; this principal identifies the
// platform session, not the user.
type SessionPrincipal struct {
	Subject string
	Scopes  []string
}

// SessionAuthenticator authenticates inbound gateway calls.
type SessionAuthenticator interface {
	Authenticate(r *http.Request) (SessionPrincipal, error)
}

// TokenSessionAuthenticator validates bearer tokens against a configured
// session token. JWT-shaped tokens contribute subject and scope claims;
// opaque tokens default to the broad admin scope.
type TokenSessionAuthenticator struct {
	token     string
	principal SessionPrincipal
}

// NewTokenSessionAuthenticator creates a session authenticator.
func NewTokenSessionAuthenticator(token string) *TokenSessionAuthenticator {
	trimmed := strings.TrimSpace(token)
	return &TokenSessionAuthenticator{
		token:     trimmed,
		principal: derivePrincipal(trimmed),
	}
}

// Authenticate validates the Authorization bearer token.
func (a *TokenSessionAuthenticator) Authenticate(r *http.Request) (SessionPrincipal, error) {
	if a.token == "" {
		return SessionPrincipal{}, fmt.Errorf("%w; set OPSGATE_SESSION_TOKEN", ErrSessionTokenMissing)
	}
	presented := parseBearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		return SessionPrincipal{}, ErrBearerTokenMissing
	}
	if presented != a.token {
		return SessionPrincipal{}, ErrBearerTokenInvalid
	}
	scopes := make([]string, len(a.principal.Scopes))
	copy(scopes, a.principal.Scopes)
	return SessionPrincipal{Subject: a.principal.Subject, Scopes: scopes}, nil
}

// requireScopes gates destructive capabilities behind the admin scope.
func requireScopes(entry capability.Entry, principal SessionPrincipal) error {
	if !entry.Destructive {
		return nil
	}
	if slices.Contains(principal.Scopes, "admin") {
		return nil
	}
	return fmt.Errorf(
		"operation %s requires the admin scope (granted: %s)",
		entry.Key,
		strings.Join(principal.Scopes, ", "),
	)
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func derivePrincipal(token string) SessionPrincipal {
	subject := "gateway-session"
	scopes := []string{"admin"}

	if parsedSubject, parsedScopes, ok := parseJWTPrincipal(token); ok {
		if parsedSubject != "" {
			subject = parsedSubject
		}
		scopes = parsedScopes
	}
	return SessionPrincipal{Subject: subject, Scopes: scopes}
}

func parseJWTPrincipal(token string) (string, []string, bool) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return "", nil, false
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return "", nil, false
	}

	subject, _ := payload["sub"].(string)
	scopes := parseScopeClaims(payload["scope"])
	if len(scopes) == 0 {
		scopes = parseScopeClaims(payload["scopes"])
	}
	if len(scopes) == 0 {
		scopes = parseScopeClaims(payload["scp"])
	}
	for _, role := range parseScopeClaims(payload["roles"]) {
		if role == "admin" && !slices.Contains(scopes, "admin") {
			scopes = append(scopes, "admin")
		}
	}
	return strings.TrimSpace(subject), scopes, true
}

func parseScopeClaims(value any) []string {
	switch typed := value.(type) {
	case string:
		return strings.Fields(typed)
	case []any:
		var scopes []string
		for _, item := range typed {
			if asString, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(asString); trimmed != "" {
					scopes = append(scopes, trimmed)
				}
			}
		}
		return scopes
	default:
		return nil
	}
}
