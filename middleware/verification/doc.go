// Package verification compõe rate limit, token de serviço e circuit breaker
// em volta da chamada ao serviço externo de verificação de IP.
//
// Para cada request:
//
//  1. rate limiter global por cliente (429 TOO_MANY_REQUESTS)
//  2. rota autenticada: token de serviço do cache (500 AUTH_SETUP_ERROR)
//  3. GET <path>?address=<ip> dentro do breaker da variante da rota
//  4. {"message":"Success"} libera; "Failure..." nega com 403 IP_VERIFICATION_FAILED;
//     qualquer outra coisa, breaker aberto, timeout ou 5xx nega com 503 SERVICE_UNAVAILABLE
//
// Só 5xx, timeout e erro de transporte contam como falha no breaker: uma negação
// de negócio ("Failure...") é resposta saudável do serviço.
package verification
