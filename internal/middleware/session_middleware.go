package middleware

import (
	"net/http"

	"statebridge/internal/identity"

	"github.com/google/uuid"
)

// SessionHeader carries the client session between requests.
const SessionHeader = "X-Session-ID"

// SessionMiddleware puts every request in a client session so local copies
// kept by the server stay with the client that wrote them. A request without
// a valid session id starts a new one; the id in use is echoed back and the
// client must send it on later requests to reach its local copy.
func SessionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get(SessionHeader)
			if parsed, err := uuid.Parse(sessionID); err == nil {
				sessionID = parsed.String()
			} else {
				sessionID = uuid.NewString()
			}

			w.Header().Set(SessionHeader, sessionID)
			w.Header().Set("Access-Control-Expose-Headers", SessionHeader)

			next.ServeHTTP(w, r.WithContext(identity.WithSession(r.Context(), sessionID)))
		})
	}
}
