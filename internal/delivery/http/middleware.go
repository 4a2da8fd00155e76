package http

import (
	"net/http"
	"wssimple/internal/usecase"
)

const APIKeyHeader = "X-API-Key"

type AuthMiddleware struct {
	authUc usecase.AuthUsecase
}

func NewAuthMiddleware(authUc usecase.AuthUsecase) *AuthMiddleware {
	return &AuthMiddleware{
		authUc: authUc,
	}
}

// RequireAPIKey guards the admin API. It passes every request through when
// no API key hash is configured.
func (m *AuthMiddleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.authUc.APIKeyRequired() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeMessage(w, http.StatusUnauthorized, "api key required")
			return
		}
		if err := m.authUc.ValidateAPIKey(key); err != nil {
			writeMessage(w, http.StatusForbidden, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
