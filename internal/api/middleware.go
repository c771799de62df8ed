package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"ratechat-backend/internal/auth"
	"ratechat-backend/pkg/httputil"
)

var (
	errMissingAuthHeader   = errors.New("Authorization header required")
	errMalformedAuthHeader = errors.New("Malformed Authorization header (Expected: Bearer <token>)")
)

// JwtAuthMiddleware verifies the bearer token and puts its user id into the
// request context, where auth.ThreadKey picks it up.
func JwtAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())

			tokenString, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				log.Printf("Auth Middleware [%s]: %v", reqID, err)
				httputil.RespondError(w, http.StatusUnauthorized, err.Error())
				return
			}

			claims, err := auth.ParseAccessToken(tokenString, jwtSecret)
			if err != nil {
				log.Printf("Auth Middleware [%s]: rejecting token: %v", reqID, err)
				httputil.RespondError(w, http.StatusUnauthorized, tokenErrorMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), claims.UserID)))
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingAuthHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errMalformedAuthHeader
	}
	return strings.TrimSpace(token), nil
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token has expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}
