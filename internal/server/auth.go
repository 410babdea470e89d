package server

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Roles recognized in the api_tokens table. Strategy tokens use the form
// "strategy:{id}" and may only file reports for that id.
const (
	RoleGovernance = "governance"
	RoleManagement = "management"
	RoleGuardian   = "guardian"

	strategyRolePrefix = "strategy:"
)

type contextKey string

// callerKey carries the authenticated role through the request context.
const callerKey contextKey = "caller_role"

// TokenStore resolves bearer tokens to roles from the api_tokens table.
type TokenStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTokenStore creates a token store over the config database.
func NewTokenStore(db *sql.DB, log zerolog.Logger) *TokenStore {
	return &TokenStore{
		db:  db,
		log: log.With().Str("component", "auth").Logger(),
	}
}

// Resolve returns the role for a bearer token, or "" when unknown.
func (t *TokenStore) Resolve(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	var role string
	err := t.db.QueryRow("SELECT role FROM api_tokens WHERE token = ?", token).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// roleAllows reports whether a caller role satisfies a required role.
// Governance implies management; governance and management imply guardian.
func roleAllows(callerRole, required string) bool {
	if callerRole == required {
		return true
	}
	switch required {
	case RoleManagement:
		return callerRole == RoleGovernance
	case RoleGuardian:
		return callerRole == RoleGovernance || callerRole == RoleManagement
	}
	return false
}

// Require wraps a handler with a role check.
func (t *TokenStore) Require(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerRole, ok := t.authenticate(w, r)
		if !ok {
			return
		}
		if !roleAllows(callerRole, role) {
			t.log.Warn().
				Str("role", callerRole).
				Str("required", role).
				Str("path", r.URL.Path).
				Msg("Insufficient role")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, callerRole)))
	}
}

// RequireAny wraps a handler requiring any valid token.
func (t *TokenStore) RequireAny(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerRole, ok := t.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, callerRole)))
	}
}

// RequireStrategy wraps a handler requiring a strategy token. The strategy
// id is available via CallerStrategyID.
func (t *TokenStore) RequireStrategy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerRole, ok := t.authenticate(w, r)
		if !ok {
			return
		}
		if !strings.HasPrefix(callerRole, strategyRolePrefix) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey, callerRole)))
	}
}

// authenticate extracts and resolves the bearer token. On failure it writes
// the error response and returns ok=false.
func (t *TokenStore) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	role, err := t.Resolve(token)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to resolve API token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}
	if role == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return role, true
}

// bearerToken extracts the token from the Authorization header, falling
// back to the `token` query parameter for websocket clients.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// CallerRole returns the authenticated role stored in the request context.
func CallerRole(r *http.Request) string {
	if role, ok := r.Context().Value(callerKey).(string); ok {
		return role
	}
	return ""
}

// CallerStrategyID returns the strategy id of a strategy token, or "".
func CallerStrategyID(r *http.Request) string {
	role := CallerRole(r)
	if strings.HasPrefix(role, strategyRolePrefix) {
		return strings.TrimPrefix(role, strategyRolePrefix)
	}
	return ""
}
