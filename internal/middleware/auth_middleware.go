package middleware

import (
	"net/http"
	"strings"

	"statebridge/internal/identity"
	"statebridge/pkg/jwt"
	"statebridge/pkg/response"
)

// OptionalAuthMiddleware attaches the identity of a valid bearer token to the
// request context. Requests without a token continue as anonymous sessions;
// a token that is present but invalid is rejected.
func OptionalAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := bearerIdentity(authHeader, jwtSecret)
			if !ok {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), userID)))
		})
	}
}

// RequireAuthMiddleware rejects requests that carry no identity. It runs
// after OptionalAuthMiddleware.
func RequireAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := identity.FromContext(r.Context()); !ok {
				response.Unauthorized(w, "Missing authorization header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerIdentity(authHeader, jwtSecret string) (string, bool) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	claims, err := jwt.ValidateAccessToken(parts[1], jwtSecret)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

func GetUserID(r *http.Request) string {
	userID, _ := identity.FromContext(r.Context())
	return userID
}
