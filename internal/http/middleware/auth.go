package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const ownerIDContextKey contextKey = "owner_id"

// DevOwnerHeader identifies the caller when no signing secret is configured.
const DevOwnerHeader = "X-Owner-Id"

type AuthConfig struct {
	// JWTSecret signs HS256 access tokens whose subject is the owner id.
	JWTSecret string
	Issuer    string
}

// Auth resolves the owner of every /v1/ request. Ownership is never taken
// from the request body.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(options...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			var ownerID string
			if len(secret) == 0 {
				ownerID = strings.TrimSpace(r.Header.Get(DevOwnerHeader))
			} else {
				authorization := r.Header.Get("Authorization")
				const prefix = "Bearer "
				if !strings.HasPrefix(authorization, prefix) {
					writeUnauthorized(w, r)
					return
				}
				subject, err := parseSubject(parser, secret, strings.TrimSpace(strings.TrimPrefix(authorization, prefix)))
				if err != nil {
					writeUnauthorized(w, r)
					return
				}
				ownerID = subject
			}
			if ownerID == "" || len(ownerID) > 128 {
				writeUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSubject(parser *jwt.Parser, secret []byte, tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("empty token")
	}
	token, err := parser.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	return strings.TrimSpace(claims.Subject), nil
}

// GetOwnerID returns the authenticated owner, or "" outside /v1/.
func GetOwnerID(ctx context.Context) string {
	value, _ := ctx.Value(ownerIDContextKey).(string)
	return value
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
