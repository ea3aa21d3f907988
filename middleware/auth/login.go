package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/circuitbreaker"

	"go.uber.org/zap"
)

const maxLoginBody = 4 << 10

// TokenIssuer emite o token de usuário depois do login.
type TokenIssuer interface {
	IssueUserToken(ctx context.Context, subject string) (string, error)
}

type LoginOptions struct {
	Users   UserStore
	Tokens  TokenIssuer
	Breaker *circuitbreaker.Breaker
	Logger  *zap.Logger
	// OnAttempt recebe "success" ou "failure" a cada tentativa com credenciais completas.
	OnAttempt func(result string)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler atende POST /login.
//
// A conferência de senha roda dentro do breaker; credencial inválida é um
// resultado normal e não conta como falha, só erro da store conta. A emissão
// do token fica fora: falha do signer é sempre AUTH_SETUP_ERROR.
func LoginHandler(opts LoginOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{Name: "login", Logger: opts.Logger})
	}
	attempt := func(result string) {
		if opts.OnAttempt != nil {
			opts.OnAttempt(result)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
		if err := dec.Decode(&req); err != nil {
			apierror.Write(w, r, apierror.Wrap(apierror.CodeInvalidJSON, "", err))
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			apierror.Write(w, r, apierror.New(apierror.CodeCredentialsRequired, ""))
			return
		}

		ok, err := circuitbreaker.Execute(r.Context(), opts.Breaker, func(ctx context.Context) (bool, error) {
			return opts.Users.Authenticate(ctx, req.Username, req.Password)
		})
		if err != nil {
			opts.Logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
			attempt("failure")
			apierror.Write(w, r, apierror.Wrap(apierror.CodeServiceUnavailable, "authentication temporarily unavailable", err))
			return
		}
		if !ok {
			opts.Logger.Info("invalid credentials", zap.String("username", req.Username))
			attempt("failure")
			apierror.Write(w, r, apierror.New(apierror.CodeInvalidCredentials, ""))
			return
		}

		// emissão fora do breaker
		token, err := opts.Tokens.IssueUserToken(r.Context(), req.Username)
		if err != nil {
			opts.Logger.Error("user token issuance failed", zap.String("username", req.Username), zap.Error(err))
			attempt("failure")
			if apierror.HasCode(err, apierror.CodeAuthSetupError) {
				apierror.Write(w, r, err)
				return
			}
			apierror.Write(w, r, apierror.Wrap(apierror.CodeAuthSetupError, "", err))
			return
		}

		attempt("success")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(loginResponse{Token: token})
	})
}
