// Package rate implementa limitadores fixed-window por clave.
//
// El validador zero-trust lo usa para el throttle de mint por provider y el
// lockout por fallos de verificación por (provider, actor). Hay dos backends:
// memoria sharded (single-node) y Redis (multi-réplica).
package rate

import (
	"context"
	"time"
)

// Result es el veredicto de un limitador para una clave.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter cuenta hits por clave dentro de una ventana fija.
// Allow nunca bloquea: retorna el veredicto de inmediato.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
