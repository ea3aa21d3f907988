package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// UserStore confere credenciais. Senha errada ou usuário desconhecido é
// (false, nil); erro fica reservado para falha da própria store.
type UserStore interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// MemoryUserStore guarda hashes bcrypt em memória.
type MemoryUserStore struct {
	hashes map[string][]byte
	// dummy é comparado quando o usuário não existe, para o tempo de resposta
	// não revelar quais usuários existem.
	dummy []byte
}

func NewMemoryUserStore(hashes map[string]string) (*MemoryUserStore, error) {
	s := &MemoryUserStore{hashes: make(map[string][]byte, len(hashes))}
	for user, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid bcrypt hash: %w", user, err)
		}
		s.hashes[user] = []byte(hash)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	s.dummy = dummy
	return s, nil
}

// ParseUsers lê "user:hash,user2:hash2" (formato da variável AUTH_USERS).
func ParseUsers(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, hash, ok := strings.Cut(entry, ":")
		user, hash = strings.TrimSpace(user), strings.TrimSpace(hash)
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("invalid user entry %q: expected user:bcrypt-hash", entry)
		}
		out[user] = hash
	}
	return out, nil
}

func (s *MemoryUserStore) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	hash, ok := s.hashes[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare password: %w", err)
	}
}
