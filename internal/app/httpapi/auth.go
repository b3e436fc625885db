package httpapi

import "net/http"

// authMiddleware gates worker routes behind the X-Worker-Id/X-Worker-Token
// header pair when a TokenSource is enabled. Disabled sources (no
// WORKER_TOKEN_SECRET configured) accept every request unauthenticated.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		workerID := r.Header.Get("X-Worker-Id")
		token := r.Header.Get("X-Worker-Token")
		if workerID == "" || !s.tokens.Verify(workerID, token) {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type unauthenticatedError struct{}

func (unauthenticatedError) Error() string { return "missing or invalid worker token" }

var errUnauthenticated = unauthenticatedError{}
