package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 64 << 10

// StatusError é a resposta 5xx do serviço de verificação.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("verification service returned status %d", e.Status)
}

// Response é a resposta interpretável do serviço (qualquer status < 500).
// Message fica vazio quando o corpo não é o JSON esperado.
type Response struct {
	Status  int
	Message string
	IP      string
}

// Client chama o serviço de verificação em um path fixo.
type Client struct {
	http     *http.Client
	endpoint *url.URL
}

// NewClient monta o endpoint base+path. httpClient nil usa um client com timeout de 10s;
// o timeout efetivo por chamada vem do breaker, pelo contexto.
func NewClient(baseURL, path string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("verification url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("verification url %q: scheme and host are required", baseURL)
	}
	endpoint := base.JoinPath(path)

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{http: httpClient, endpoint: endpoint}, nil
}

func (c *Client) Endpoint() string { return c.endpoint.String() }

// Verify faz GET <endpoint>?address=<address>. token vazio não envia Authorization.
// Erro apenas para falha de transporte ou status >= 500.
func (c *Client) Verify(ctx context.Context, address, token string) (Response, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("verification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Response{}, &StatusError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read verification response: %w", err)
	}

	out := Response{Status: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		IP      string `json:"ip"`
	}
	if json.Unmarshal(raw, &body) == nil {
		out.Message = body.Message
		out.IP = body.IP
	}
	return out, nil
}
