// Package apierror define os códigos de erro expostos pelo gateway e o corpo
// JSON devolvido ao cliente.
//
// Todo erro que chega ao cliente passa por Write: nunca há stack trace ou
// detalhe interno no corpo, apenas código estável + mensagem.
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"payroll-gateway/middleware/requestid"
)

// Code é o identificador estável de um tipo de erro.
type Code string

const (
	CodeTooManyRequests      Code = "TOO_MANY_REQUESTS"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeIPVerificationFailed Code = "IP_VERIFICATION_FAILED"
	CodeAuthSetupError       Code = "AUTH_SETUP_ERROR"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeInvalidJSON          Code = "INVALID_JSON"
	CodeCredentialsRequired  Code = "CREDENTIALS_REQUIRED"
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeTokenMissing         Code = "TOKEN_MISSING"
	CodeTokenInvalid         Code = "TOKEN_INVALID"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeMethodNotAllowed     Code = "METHOD_NOT_ALLOWED"
	CodeBadGateway           Code = "BAD_GATEWAY"
)

type codeInfo struct {
	status  int
	message string
}

var codes = map[Code]codeInfo{
	CodeTooManyRequests:      {http.StatusTooManyRequests, "Too many requests, try again later"},
	CodeServiceUnavailable:   {http.StatusServiceUnavailable, "Service temporarily unavailable"},
	CodeIPVerificationFailed: {http.StatusForbidden, "IP verification failed"},
	CodeAuthSetupError:       {http.StatusInternalServerError, "Authentication setup error"},
	CodeInternal:             {http.StatusInternalServerError, "Internal server error"},
	CodeInvalidJSON:          {http.StatusBadRequest, "Invalid JSON body"},
	CodeCredentialsRequired:  {http.StatusBadRequest, "Username and password are required"},
	CodeInvalidCredentials:   {http.StatusUnauthorized, "Invalid username or password"},
	CodeTokenMissing:         {http.StatusUnauthorized, "Bearer token is missing"},
	CodeTokenInvalid:         {http.StatusUnauthorized, "Bearer token is invalid"},
	CodeTokenExpired:         {http.StatusUnauthorized, "Bearer token has expired"},
	CodeNotFound:             {http.StatusNotFound, "Resource not found"},
	CodeMethodNotAllowed:     {http.StatusMethodNotAllowed, "Method not allowed"},
	CodeBadGateway:           {http.StatusBadGateway, "Upstream service unavailable"},
}

// Status devolve o HTTP status associado ao código (500 para códigos desconhecidos).
func (c Code) Status() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error é um erro com semântica de API: status HTTP + código + mensagem.
// Err guarda a causa interna, que nunca é serializada.
type Error struct {
	Status  int
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, apierror.New(code, "")) comparar apenas pelo código.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New cria um erro com o status do código. Mensagem vazia usa a padrão.
func New(code Code, message string) *Error {
	if message == "" {
		message = codes[code].message
	}
	return &Error{Status: code.Status(), Code: code, Message: message}
}

// Wrap é como New, guardando a causa.
func Wrap(code Code, message string, err error) *Error {
	e := New(code, message)
	e.Err = err
	return e
}

// From converte qualquer erro em *Error. Erros sem semântica de API viram INTERNAL_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "", err)
}

// HasCode informa se err (ou algo na cadeia) é um *Error com o código dado.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Body é o corpo JSON de erro.
type Body struct {
	Success   bool   `json:"success"`
	ErrorCode Code   `json:"error_code"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

// Write serializa err como JSON, com o status HTTP correspondente.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	e := From(err)
	if e == nil {
		e = New(CodeInternal, "")
	}

	body := Body{
		Success:   false,
		ErrorCode: e.Code,
		Message:   e.Message,
		Status:    e.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if r != nil {
		body.RequestID = requestid.FromContext(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}
