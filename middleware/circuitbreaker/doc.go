// Package circuitbreaker implementa um circuit breaker em memória, sem locks.
//
// Estados:
//
//   - closed: chamadas passam; falhas consecutivas são contadas
//   - open: chamadas são rejeitadas na hora com ErrOpen, sem chamar a operação
//   - half_open: uma única chamada de prova passa; sucesso fecha, falha reabre
//
// Toda transição é um compare-and-set na célula de estado: quem perde o CAS
// sabe que outra goroutine já fez a transição, então cada mudança de estado
// notifica OnStateChange exatamente uma vez.
//
// O breaker não faz retry. Timeout de execução conta como falha; o resultado
// tardio da operação é descartado.
package circuitbreaker
