package tokencache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"payroll-gateway/middleware/apierror"

	"go.uber.org/zap"
)

// Claims são as informações de identidade embutidas no token.
type Claims struct {
	Subject string
	Role    string
}

// Signer emite um token com as claims e validade dadas.
type Signer interface {
	Sign(claims Claims, ttl time.Duration) (string, error)
}

// ErrInvalidKey marca falhas permanentes do material de chave: repetir não adianta.
var ErrInvalidKey = errors.New("invalid signing key")

const UserRole = "user"

type Config struct {
	ServiceSubject string
	ServiceTTL     time.Duration
	UserTTL        time.Duration
	RefreshBuffer  time.Duration
	Logger         *zap.Logger
	// OnMint é chamado a cada token emitido com sucesso ("service" ou "user").
	OnMint func(kind string)
}

func DefaultConfig() Config {
	return Config{
		ServiceSubject: "payroll-gateway",
		ServiceTTL:     time.Hour,
		UserTTL:        15 * time.Minute,
		RefreshBuffer:  5 * time.Minute,
	}
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Cache guarda o token de serviço numa única célula atômica {token, expiresAt}.
//
// Várias goroutines podem renovar ao mesmo tempo quando o token fica velho;
// cada uma emite o seu e a célula fica com a última escrita. Emitir é barato
// perto do volume de requests, então não há single-flight.
type Cache struct {
	signer Signer
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	cached atomic.Pointer[cachedToken]
	broken atomic.Pointer[apierror.Error]
}

// New cria o cache. Campos zerados de cfg usam DefaultConfig.
func New(signer Signer, cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.ServiceSubject == "" {
		cfg.ServiceSubject = def.ServiceSubject
	}
	if cfg.ServiceTTL <= 0 {
		cfg.ServiceTTL = def.ServiceTTL
	}
	if cfg.UserTTL <= 0 {
		cfg.UserTTL = def.UserTTL
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = def.RefreshBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Cache{signer: signer, cfg: cfg, logger: cfg.Logger, now: time.Now}
	if signer == nil {
		c.broken.Store(apierror.New(apierror.CodeAuthSetupError, "authentication service failed to initialize: no signer"))
	}
	return c
}

// NewFailed cria um cache que sempre falha com AUTH_SETUP_ERROR.
// Usado quando a chave não pôde ser carregada na subida: o processo sobe e
// as rotas que precisam de token respondem o erro.
func NewFailed(reason string, logger *zap.Logger) *Cache {
	c := New(nil, Config{Logger: logger})
	c.broken.Store(apierror.New(apierror.CodeAuthSetupError, "authentication service failed to initialize: "+reason))
	return c
}

// ServiceToken devolve o token de serviço do cache ou emite um novo.
func (c *Cache) ServiceToken(ctx context.Context) (string, error) {
	if err := c.broken.Load(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := c.now()
	if cur := c.cached.Load(); cur != nil && now.Before(cur.expiresAt.Add(-c.cfg.RefreshBuffer)) {
		return cur.token, nil
	}

	token, err := c.mint(Claims{Subject: c.cfg.ServiceSubject}, c.cfg.ServiceTTL)
	if err != nil {
		return "", err
	}
	c.cached.Store(&cachedToken{token: token, expiresAt: now.Add(c.cfg.ServiceTTL)})
	c.logger.Info("service token minted", zap.Duration("expires_in", c.cfg.ServiceTTL))
	c.observe("service")
	return token, nil
}

// IssueUserToken sempre emite um token novo para subject com o papel "user".
// Não lê nem escreve o cache do token de serviço.
func (c *Cache) IssueUserToken(ctx context.Context, subject string) (string, error) {
	if err := c.broken.Load(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := c.mint(Claims{Subject: subject, Role: UserRole}, c.cfg.UserTTL)
	if err != nil {
		return "", err
	}
	c.logger.Info("user token minted", zap.String("subject", subject), zap.Duration("expires_in", c.cfg.UserTTL))
	c.observe("user")
	return token, nil
}

func (c *Cache) mint(claims Claims, ttl time.Duration) (string, error) {
	token, err := c.signer.Sign(claims, ttl)
	if err == nil {
		return token, nil
	}

	c.logger.Error("token signing failed", zap.String("subject", claims.Subject), zap.Error(err))
	apiErr := apierror.Wrap(apierror.CodeAuthSetupError, "token generation failed", err)
	if errors.Is(err, ErrInvalidKey) {
		// a chave não vai melhorar sozinha: falha rápido daqui em diante
		c.broken.CompareAndSwap(nil, apiErr)
	}
	return "", apiErr
}

func (c *Cache) observe(kind string) {
	if c.cfg.OnMint != nil {
		c.cfg.OnMint(kind)
	}
}
