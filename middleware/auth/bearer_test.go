package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payroll-gateway/middleware/apierror"
	"payroll-gateway/middleware/tokencache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bearerFixture struct {
	signer  *tokencache.JWTSigner
	handler http.Handler
	seen    *tokencache.Claims
}

func newBearerFixture(t *testing.T) *bearerFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &bearerFixture{signer: tokencache.NewJWTSigner(key, "test")}
	f.handler = RequireBearer(tokencache.NewJWTVerifier(&key.PublicKey), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := ClaimsFromContext(r.Context()); ok {
				f.seen = &c
			}
			w.WriteHeader(http.StatusOK)
		}))
	return f
}

func (f *bearerFixture) do(authHeader string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/v3/employees", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestRequireBearer_ValidToken(t *testing.T) {
	f := newBearerFixture(t)
	token, err := f.signer.Sign(tokencache.Claims{Subject: "alice", Role: tokencache.UserRole}, time.Minute)
	require.NoError(t, err)

	w := f.do("Bearer " + token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.seen)
	assert.Equal(t, "alice", f.seen.Subject)
	assert.Equal(t, tokencache.UserRole, f.seen.Role)
}

func TestRequireBearer_Missing(t *testing.T) {
	f := newBearerFixture(t)

	for _, h := range []string{"", "Basic abc", "Bearer ", "Bearer"} {
		w := f.do(h)
		assert.Equal(t, http.StatusUnauthorized, w.Code, h)
		assert.Equal(t, apierror.CodeTokenMissing, errorCode(t, w), h)
	}
}

func TestRequireBearer_InvalidToken(t *testing.T) {
	f := newBearerFixture(t)

	w := f.do("Bearer garbage.token.here")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierror.CodeTokenInvalid, errorCode(t, w))
	assert.Nil(t, f.seen)
}

func TestRequireBearer_ExpiredToken(t *testing.T) {
	f := newBearerFixture(t)
	token, err := f.signer.Sign(tokencache.Claims{Subject: "alice"}, -time.Minute)
	require.NoError(t, err)

	w := f.do("Bearer " + token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apierror.CodeTokenExpired, errorCode(t, w))
}
