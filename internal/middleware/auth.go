package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Roles and audiences carried by service tokens.
const (
	RoleAdmin          = "admin"
	AudienceWatchdog   = "watchdog"
	AudienceCompletion = "completion-bus"
)

type identityKey struct{}

// Identity is the verified caller of a request.
type Identity struct {
	Subject  string
	Role     string
	Audience []string
}

// HasAudience reports whether the token was issued for aud.
func (id Identity) HasAudience(aud string) bool {
	return slices.Contains(id.Audience, aud)
}

// NewTokenAuth returns the HS256 verifier shared by all protected routes.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IdentityFromClaims reads the claims this service relies on.
func IdentityFromClaims(claims jwt.MapClaims) (Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, err
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return Identity{}, err
	}
	role, _ := claims["role"].(string)
	if sub == "" && len(aud) == 0 {
		return Identity{}, errors.New("token has neither subject nor audience")
	}
	return Identity{Subject: sub, Role: role, Audience: aud}, nil
}

// Authenticate requires a token verified by jwtauth.Verifier and stores the
// caller's Identity in the request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		id, err := IdentityFromClaims(claims)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// RequireUser admits end-user tokens, which always carry a subject.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user context")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits callers whose role claim equals role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || id.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAudience admits service tokens issued for aud.
func RequireAudience(aud string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.HasAudience(aud) {
				writeError(w, http.StatusForbidden, "forbidden", "token not valid for this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the token subject, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
