// Package tokencache emite tokens assinados para chamadas de saída e de usuários.
//
// O token de serviço (usado pelo gateway contra o serviço de verificação) fica
// em cache até faltar menos de RefreshBuffer para expirar. Tokens de usuário
// (emitidos no /login) nunca são cacheados.
//
// A assinatura fica atrás da interface Signer; JWTSigner é a implementação RS256.
package tokencache
