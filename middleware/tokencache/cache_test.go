package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payroll-gateway/middleware/apierror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSigner devolve tokens distintos por chamada.
type countingSigner struct {
	calls  atomic.Int32
	claims []Claims
	mu     sync.Mutex
	err    error
}

func (s *countingSigner) Sign(claims Claims, ttl time.Duration) (string, error) {
	n := s.calls.Add(1)
	s.mu.Lock()
	s.claims = append(s.claims, claims)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%s-%d-%s", claims.Subject, n, ttl), nil
}

func newTestCache(t *testing.T, signer Signer) (*Cache, *time.Time) {
	t.Helper()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := New(signer, Config{
		ServiceSubject: "gateway-test",
		ServiceTTL:     time.Hour,
		UserTTL:        15 * time.Minute,
		RefreshBuffer:  5 * time.Minute,
	})
	c.now = func() time.Time { return now }
	return c, &now
}

func TestServiceToken_CachedWithinBuffer(t *testing.T) {
	signer := &countingSigner{}
	c, now := newTestCache(t, signer)
	ctx := context.Background()

	first, err := c.ServiceToken(ctx)
	require.NoError(t, err)

	*now = now.Add(54 * time.Minute)
	second, err := c.ServiceToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), signer.calls.Load())
}

func TestServiceToken_RefreshedAfterBufferThreshold(t *testing.T) {
	signer := &countingSigner{}
	c, now := newTestCache(t, signer)
	ctx := context.Background()

	first, err := c.ServiceToken(ctx)
	require.NoError(t, err)

	// expira às 11:00; com buffer de 5min fica velho às 10:55
	*now = now.Add(55 * time.Minute)
	second, err := c.ServiceToken(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), signer.calls.Load())

	third, err := c.ServiceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestIssueUserToken_NeverCachedAndDoesNotTouchServiceToken(t *testing.T) {
	signer := &countingSigner{}
	c, _ := newTestCache(t, signer)
	ctx := context.Background()

	svc, err := c.ServiceToken(ctx)
	require.NoError(t, err)

	u1, err := c.IssueUserToken(ctx, "alice")
	require.NoError(t, err)
	u2, err := c.IssueUserToken(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, u1, u2)

	again, err := c.ServiceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, svc, again)

	signer.mu.Lock()
	defer signer.mu.Unlock()
	require.Len(t, signer.claims, 3)
	assert.Equal(t, Claims{Subject: "gateway-test"}, signer.claims[0])
	assert.Equal(t, Claims{Subject: "alice", Role: UserRole}, signer.claims[1])
}

func TestServiceToken_SignerFailureIsAuthSetupError(t *testing.T) {
	signer := &countingSigner{err: errors.New("hsm unreachable")}
	c, _ := newTestCache(t, signer)

	_, err := c.ServiceToken(context.Background())
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeAuthSetupError))

	// falha transitória: tenta assinar de novo
	_, err = c.ServiceToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), signer.calls.Load())
}

func TestServiceToken_InvalidKeyFailsFast(t *testing.T) {
	signer := &countingSigner{err: fmt.Errorf("%w: truncated", ErrInvalidKey)}
	c, _ := newTestCache(t, signer)

	for i := 0; i < 3; i++ {
		_, err := c.ServiceToken(context.Background())
		require.Error(t, err)
		assert.True(t, apierror.HasCode(err, apierror.CodeAuthSetupError))
	}
	_, err := c.IssueUserToken(context.Background(), "bob")
	assert.True(t, apierror.HasCode(err, apierror.CodeAuthSetupError))

	assert.Equal(t, int32(1), signer.calls.Load())
}

func TestNewFailed_AlwaysAuthSetupError(t *testing.T) {
	c := NewFailed("missing RSA_PRIVATE_KEY", nil)

	_, err := c.ServiceToken(context.Background())
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.CodeAuthSetupError))
	assert.Contains(t, apierror.From(err).Message, "missing RSA_PRIVATE_KEY")
}

func TestServiceToken_ConcurrentCallersConverge(t *testing.T) {
	signer := &countingSigner{}
	c, _ := newTestCache(t, signer)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ServiceToken(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	latest, err := c.ServiceToken(context.Background())
	require.NoError(t, err)
	cur := c.cached.Load()
	require.NotNil(t, cur)
	assert.Equal(t, cur.token, latest)
}

func TestCache_OnMintHook(t *testing.T) {
	var kinds []string
	c := New(&countingSigner{}, Config{OnMint: func(kind string) { kinds = append(kinds, kind) }})

	_, _ = c.ServiceToken(context.Background())
	_, _ = c.ServiceToken(context.Background())
	_, _ = c.IssueUserToken(context.Background(), "carol")

	assert.Equal(t, []string{"service", "user"}, kinds)
}
