package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/circuitbreaker"
	"payroll-gateway/middleware/ratelimit"
	"payroll-gateway/middleware/ratelimit/domain"
	"payroll-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier é o serviço de verificação controlado pelo teste.
type fakeVerifier struct {
	mu      sync.Mutex
	status  int
	body    string
	delay   time.Duration
	calls   atomic.Int32
	lastReq *http.Request
}

func (f *fakeVerifier) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeVerifier) last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeVerifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = r.Clone(context.Background())
	status, body, delay := f.status, f.body, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) ServiceToken(context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

type fixture struct {
	verifier *fakeVerifier
	pipeline *Pipeline
	public   *circuitbreaker.Breaker
	private  *circuitbreaker.Breaker
	tokens   *staticTokens
	stats    *infra.MemoryStatsStore
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	fv := &fakeVerifier{status: http.StatusOK, body: `{"ip":"10.0.0.1","message":"Success"}`}
	srv := httptest.NewServer(fv)
	t.Cleanup(srv.Close)

	publicClient, err := NewClient(srv.URL, "/v1/ip", srv.Client())
	require.NoError(t, err)
	protectedClient, err := NewClient(srv.URL, "/v3/ip", srv.Client())
	require.NoError(t, err)

	bcfg := circuitbreaker.Config{MaxFailures: 3, ExecutionTimeout: 200 * time.Millisecond, ResetTimeout: time.Hour}
	bcfg.Name = "v1"
	public := circuitbreaker.New(bcfg)
	bcfg.Name = "v3"
	private := circuitbreaker.New(bcfg)
	t.Cleanup(public.Reset)
	t.Cleanup(private.Reset)

	tokens := &staticTokens{token: "svc-token"}
	stats := infra.NewMemoryStatsStore()

	p := New(Options{
		Limiter:   infra.NewFixedWindowStore(limit, time.Minute),
		Public:    Route{Name: "v1", Client: publicClient, Breaker: public},
		Protected: Route{Name: "v3", Client: protectedClient, Breaker: private, Tokens: tokens},
		Stats:     stats,
	})

	return &fixture{verifier: fv, pipeline: p, public: public, private: private, tokens: tokens, stats: stats}
}

func TestPipeline_SuccessAdmits(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	require.NoError(t, err)

	req := f.verifier.last()
	require.NotNil(t, req)
	assert.Equal(t, "/v1/ip", req.URL.Path)
	assert.Equal(t, "10.0.0.1", req.URL.Query().Get("address"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Zero(t, f.tokens.calls.Load())
	assert.Equal(t, int64(1), f.stats.Outcome(domain.OutcomeAllowed))
}

func TestPipeline_ProtectedRouteSendsBearer(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", true)
	require.NoError(t, err)

	req := f.verifier.last()
	require.NotNil(t, req)
	assert.Equal(t, "/v3/ip", req.URL.Path)
	assert.Equal(t, "Bearer svc-token", req.Header.Get("Authorization"))
	assert.Equal(t, int32(1), f.tokens.calls.Load())
}

func TestPipeline_FailureMessageDeniesWithoutCountingFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.verifier.set(http.StatusOK, `{"message":"Failure: blocked"}`)

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeIPVerificationFailed))
	assert.Equal(t, http.StatusForbidden, apierror.From(err).Status)
	assert.Equal(t, 0, f.public.Failures())
	assert.Equal(t, int64(1), f.stats.Outcome(domain.OutcomeIPDenied))
}

func TestPipeline_ServerErrorCountsAsBreakerFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.verifier.set(http.StatusServiceUnavailable, `{"message":"down"}`)

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeServiceUnavailable))
	assert.Equal(t, 1, f.public.Failures())
	assert.Equal(t, 0, f.private.Failures())

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestPipeline_UnexpectedBodyIsUnavailableButHealthy(t *testing.T) {
	f := newFixture(t, 10)

	for _, body := range []string{`not json`, `{"message":"Maybe"}`, ``} {
		f.verifier.set(http.StatusOK, body)
		_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
		require.Error(t, err, body)
		assert.True(t, apierror.HasCode(err, apierror.CodeServiceUnavailable), body)
	}
	assert.Equal(t, 0, f.public.Failures())
}

func TestPipeline_OpenBreakerSkipsDownstream(t *testing.T) {
	f := newFixture(t, 100)
	f.verifier.set(http.StatusInternalServerError, ``)

	for i := 0; i < 3; i++ {
		_, _ = f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	}
	require.Equal(t, circuitbreaker.StateOpen, f.public.State())
	callsBefore := f.verifier.calls.Load()

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.True(t, apierror.HasCode(err, apierror.CodeServiceUnavailable))
	assert.Equal(t, callsBefore, f.verifier.calls.Load())

	// a outra variante tem breaker próprio
	f.verifier.set(http.StatusOK, `{"message":"Success"}`)
	_, err = f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", true)
	assert.NoError(t, err)
}

func TestPipeline_SlowDownstreamTimesOut(t *testing.T) {
	f := newFixture(t, 10)
	f.verifier.mu.Lock()
	f.verifier.delay = time.Second
	f.verifier.mu.Unlock()

	start := time.Now()
	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrTimeout))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, f.public.Failures())
}

func TestPipeline_RateLimitedBeforeAnythingElse(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", true)
		require.NoError(t, err)
	}

	dec, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", true)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeTooManyRequests))
	assert.False(t, dec.Allowed)
	assert.Positive(t, dec.RetryAfter)
	assert.Equal(t, int32(2), f.tokens.calls.Load())
	assert.Equal(t, int32(2), f.verifier.calls.Load())

	// outro cliente ainda passa
	_, err = f.pipeline.Check(context.Background(), "10.0.0.2", "10.0.0.2", true)
	assert.NoError(t, err)
}

func TestPipeline_TokenFailureIsAuthSetupError(t *testing.T) {
	f := newFixture(t, 10)
	f.tokens.err = errors.New("signer exploded")

	_, err := f.pipeline.Check(context.Background(), "10.0.0.1", "10.0.0.1", true)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeAuthSetupError))
	assert.Zero(t, f.verifier.calls.Load())
	assert.Equal(t, int64(1), f.stats.Outcome(domain.OutcomeAuthError))
}

func TestMiddleware_WritesJSONDenial(t *testing.T) {
	f := newFixture(t, 10)
	f.verifier.set(http.StatusOK, `{"message":"Failure: not allow-listed"}`)

	called := false
	h := Middleware(f.pipeline, MiddlewareOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/employees", nil)
	r.RemoteAddr = "10.0.0.7:4444"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var body apierror.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apierror.CodeIPVerificationFailed, body.ErrorCode)
	assert.Equal(t, "10.0.0.7", f.verifier.last().URL.Query().Get("address"))
}

func TestMiddleware_PassesThroughOnSuccess(t *testing.T) {
	f := newFixture(t, 10)

	h := Middleware(f.pipeline, MiddlewareOptions{RequiresAuth: true, AddRateLimitHeaders: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v3/employees", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddleware_VerifiesClientAddressNotRateLimitKey(t *testing.T) {
	f := newFixture(t, 10)

	h := Middleware(f.pipeline, MiddlewareOptions{
		KeyFn:               ratelimit.DefaultKeyFunc("X-Client-Key", false),
		AddRateLimitHeaders: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/employees", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Client-Key", "10.0.0.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10.0.0.1", w.Header().Get("X-RateLimit-Key"))
	assert.Equal(t, "203.0.113.9", f.verifier.last().URL.Query().Get("address"))
}

func TestPipeline_RateLimitsByKeyAndVerifiesAddress(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.pipeline.Check(context.Background(), "tenant-a", "203.0.113.9", false)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", f.verifier.last().URL.Query().Get("address"))

	// mesma chave, outro endereço: o limite é da chave
	_, err = f.pipeline.Check(context.Background(), "tenant-a", "198.51.100.4", false)
	assert.True(t, apierror.HasCode(err, apierror.CodeTooManyRequests))
	assert.Equal(t, int32(1), f.verifier.calls.Load())
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient("localhost:8080", "/ip", nil)
	assert.Error(t, err)

	c, err := NewClient("http://verifier:8080", "/v1/ip", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://verifier:8080/v1/ip", c.Endpoint())
}
