/**
 * @description
 * Authentication middleware for the checkout API. The directory front-end signs
 * users in with Supabase, which issues HS256 JWTs signed with the project's JWT
 * secret. The payer identity used for checkout is taken from the token claims.
 */
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/directory/payment-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const payerContextKey = contextKey("payer")

// SupabaseAuthMiddleware validates Supabase JWTs and injects the payer into context.
func SupabaseAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	configured := strings.TrimSpace(secret) != ""
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !configured {
				// An empty HMAC key verifies tokens anyone can mint.
				log.Println("level=error component=auth msg=\"jwt secret not configured; rejecting request\"")
				respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid Authorization header format")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			payer, ok := payerFromClaims(claims)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), payerContextKey, payer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func payerFromClaims(claims jwt.MapClaims) (domain.User, bool) {
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return domain.User{}, false
	}

	payer := domain.User{ID: strings.TrimSpace(sub)}
	payer.Email, _ = claims["email"].(string)
	payer.Phone, _ = claims["phone"].(string)
	if meta, ok := claims["user_metadata"].(map[string]interface{}); ok {
		for _, field := range []string{"full_name", "name"} {
			if name, ok := meta[field].(string); ok && strings.TrimSpace(name) != "" {
				payer.Name = strings.TrimSpace(name)
				break
			}
		}
		if payer.Phone == "" {
			payer.Phone, _ = meta["phone"].(string)
		}
	}
	return payer, true
}

// PayerFromContext returns the authenticated payer.
func PayerFromContext(ctx context.Context) (domain.User, bool) {
	payer, ok := ctx.Value(payerContextKey).(domain.User)
	return payer, ok
}
