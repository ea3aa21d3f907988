package tokencache

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSigner assina tokens RS256.
type JWTSigner struct {
	key    *rsa.PrivateKey
	issuer string
	now    func() time.Time
}

func NewJWTSigner(key *rsa.PrivateKey, issuer string) *JWTSigner {
	return &JWTSigner{key: key, issuer: issuer, now: time.Now}
}

// NewJWTSignerFromPEM carrega a chave privada (formatos aceitos em ParseRSAPrivateKey).
func NewJWTSignerFromPEM(raw, issuer string) (*JWTSigner, error) {
	key, err := ParseRSAPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewJWTSigner(key, issuer), nil
}

// PublicKey devolve a metade pública da chave, para validar os próprios tokens.
func (s *JWTSigner) PublicKey() *rsa.PublicKey {
	if s == nil || s.key == nil {
		return nil
	}
	return &s.key.PublicKey
}

func (s *JWTSigner) Sign(claims Claims, ttl time.Duration) (string, error) {
	if s == nil || s.key == nil {
		return "", fmt.Errorf("%w: no private key", ErrInvalidKey)
	}

	now := s.now()
	mc := jwt.MapClaims{
		"sub": claims.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if claims.Role != "" {
		mc["role"] = claims.Role
	}
	if s.issuer != "" {
		mc["iss"] = s.issuer
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, mc).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// JWTVerifier valida tokens RS256 com a chave pública.
type JWTVerifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

func NewJWTVerifier(key *rsa.PublicKey) *JWTVerifier {
	return &JWTVerifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func NewJWTVerifierFromPEM(raw string) (*JWTVerifier, error) {
	key, err := ParseRSAPublicKey(raw)
	if err != nil {
		return nil, err
	}
	return NewJWTVerifier(key), nil
}

// Verify devolve as claims de um token válido. Erros: ErrTokenExpired ou ErrTokenInvalid.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	sub, _ := mc.GetSubject()
	role, _ := mc["role"].(string)
	return Claims{Subject: sub, Role: role}, nil
}
