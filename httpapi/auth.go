package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ajazfarhad/chainofcustody/custody"
)

// Users resolves bearer tokens to accounts. custody.Store implementations
// satisfy it.
type Users interface {
	UserByTokenHash(ctx context.Context, tokenHash string) (custody.User, error)
}

// HashToken is the digest under which a bearer token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type callerKey struct{}

type caller struct {
	user  custody.User
	actor custody.Actor
}

func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerKey{}).(caller)
	return c, ok
}

// authenticate resolves the bearer token on every request, so a role change
// or deactivation applies immediately.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := parseBearer(r.Header.Get("Authorization"))
		if !ok {
			WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "bearer token required", nil)
			return
		}

		u, err := s.users.UserByTokenHash(r.Context(), HashToken(token))
		if errors.Is(err, custody.ErrNotFound) || (err == nil && !u.Active) {
			WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token or inactive user", nil)
			return
		}
		if err != nil {
			s.logger.Error("resolving bearer token", "request_id", RequestID(r.Context()), "error", err)
			WriteError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
			return
		}

		c := caller{
			user: u,
			actor: custody.Actor{
				ID:   u.ID,
				Role: u.Role,
				Meta: map[string]string{
					custody.MetaIP:        clientIP(r),
					custody.MetaUserAgent: r.UserAgent(),
				},
			},
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

func parseBearer(authorization string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
