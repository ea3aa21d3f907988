// Package auth protege rotas com bearer token (RS256) e emite tokens de
// usuário no login (usuário/senha conferidos com bcrypt).
package auth
