package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/tokencache"

	"go.uber.org/zap"
)

// Verifier valida um bearer token e devolve suas claims.
type Verifier interface {
	Verify(token string) (tokencache.Claims, error)
}

type claimsKey struct{}

// ClaimsFromContext devolve as claims do token validado por RequireBearer.
func ClaimsFromContext(ctx context.Context) (tokencache.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(tokencache.Claims)
	return c, ok
}

// RequireBearer exige "Authorization: Bearer <jwt>" válido.
// Sem header: TOKEN_MISSING; expirado: TOKEN_EXPIRED; qualquer outro problema: TOKEN_INVALID.
func RequireBearer(v Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn("missing bearer token", zap.String("path", r.URL.Path))
				apierror.Write(w, r, apierror.New(apierror.CodeTokenMissing, ""))
				return
			}

			claims, err := v.Verify(token)
			if err != nil {
				logger.Warn("bearer token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				code := apierror.CodeTokenInvalid
				if errors.Is(err, tokencache.ErrTokenExpired) {
					code = apierror.CodeTokenExpired
				}
				apierror.Write(w, r, apierror.Wrap(code, "", err))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
