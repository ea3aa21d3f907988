// Package requestid propaga um identificador por request (header X-Request-ID).
package requestid

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const Header = "X-Request-ID"

type contextKey struct{}

// Middleware garante um request id no contexto e no header da resposta.
// Ordem: id do chi (se chimw.RequestID rodou antes), header do cliente, uuid novo.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimw.GetReqID(r.Context())
		if id == "" {
			id = r.Header.Get(Header)
		}
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(Header, id)
		ctx := context.WithValue(r.Context(), contextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext devolve o request id, ou "" quando nenhum foi registrado.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return chimw.GetReqID(ctx)
}
