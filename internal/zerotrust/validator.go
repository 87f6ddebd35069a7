// Package zerotrust gatea cada request de mint/verify sin confianza previa.
//
// Tres chequeos por request: entropía del payload (re-envolver un secreto
// estático ya filtrado se bloquea), rate limiting (throttle de mint y
// lockout por fallos de verificación) y anomalía de cadencia (burst
// detection). Ninguno bloquea indefinidamente: el veredicto es inmediato.
package zerotrust

import (
	"context"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/rate"
	"github.com/dropDatabas3/tokenforge/internal/scanner"
	"go.uber.org/zap"
)

// Kind es el veredicto de admisión.
type Kind int

const (
	Admit Kind = iota
	Flag
	Block
)

func (k Kind) String() string {
	switch k {
	case Admit:
		return "admit"
	case Flag:
		return "flag"
	default:
		return "block"
	}
}

// Razones de Flag/Block.
const (
	ReasonRateLimited   = "rate_limited"
	ReasonVerifyLockout = "verify_lockout"
	ReasonSecretShaped  = "secret_shaped_payload"
	ReasonBurstAnomaly  = "burst_anomaly"
)

// Decision es el resultado de Admit: veredicto + razón (vacía en Admit).
type Decision struct {
	Kind   Kind
	Reason string
}

func admitted() Decision        { return Decision{Kind: Admit} }
func flagged(r string) Decision { return Decision{Kind: Flag, Reason: r} }
func blocked(r string) Decision { return Decision{Kind: Block, Reason: r} }

// Config del validador. Cero-value usa los defaults de producción.
type Config struct {
	MintPerMinute   int     // default 60
	FailuresPerHour int     // default 10
	EntropyMin      float64 // bits/byte, default 4.0
	BurstFactor     float64 // default 3.0
}

func (c *Config) defaults() {
	if c.MintPerMinute <= 0 {
		c.MintPerMinute = 60
	}
	if c.FailuresPerHour <= 0 {
		c.FailuresPerHour = 10
	}
	if c.EntropyMin <= 0 {
		c.EntropyMin = 4.0
	}
	if c.BurstFactor <= 0 {
		c.BurstFactor = 3.0
	}
}

// Validator admite, marca o bloquea requests. Estado compartido: contadores
// sharded por clave y tracker de cadencia por provider; nada más.
type Validator struct {
	cfg Config

	mints    rate.Limiter
	failures *rate.MemoryLimiter
	cadence  *cadenceTracker
	now      func() time.Time

	log *zap.Logger
}

// New crea el validador con limitador de mint en memoria.
func New(cfg Config) *Validator {
	cfg.defaults()
	return &Validator{
		cfg:      cfg,
		mints:    rate.NewMemoryLimiter(cfg.MintPerMinute, time.Minute),
		failures: rate.NewMemoryLimiter(cfg.FailuresPerHour, time.Hour),
		cadence:  newCadenceTracker(cfg.BurstFactor),
		now:      time.Now,
		log:      logger.Named("zerotrust"),
	}
}

// WithClock reemplaza el reloj del tracker de cadencia. Para tests.
func (v *Validator) WithClock(fn func() time.Time) *Validator {
	if fn != nil {
		v.now = fn
	}
	return v
}

// WithMintLimiter reemplaza el limitador de mint (p.ej. RedisLimiter para
// contadores compartidos entre réplicas).
func (v *Validator) WithMintLimiter(l rate.Limiter) *Validator {
	v.mints = l
	return v
}

// AdmitMint gatea un request de mint. candidatePayload es cualquier string
// literal embebido en el request que podría ser un secreto.
func (v *Validator) AdmitMint(ctx context.Context, provider, actor, candidatePayload string) Decision {
	// 1. Entropía: no re-emitir secretos estáticos ya filtrados.
	if candidatePayload != "" &&
		scanner.Entropy(candidatePayload) >= v.cfg.EntropyMin &&
		scanner.MatchesSecretShape(candidatePayload) {
		v.log.Warn("payload con shape de secreto bloqueado",
			logger.Provider(provider), logger.Actor(actor))
		return blocked(ReasonSecretShaped)
	}

	// 2. Lockout por fallos de verificación del actor.
	if v.failures.Peek(failKey(provider, actor)) >= int64(v.cfg.FailuresPerHour) {
		return blocked(ReasonVerifyLockout)
	}

	// 3. Throttle de mint por provider. Nunca se descarta en silencio:
	// el caller recibe Block y debe hacer back off.
	res, err := v.mints.Allow(ctx, "mint:"+provider)
	if err != nil {
		// Limitador caído: fail closed, la emisión es la operación sensible.
		v.log.Error("mint limiter error", logger.Provider(provider), logger.Err(err))
		return blocked(ReasonRateLimited)
	}
	if !res.Allowed {
		return blocked(ReasonRateLimited)
	}

	// 4. Anomalía de cadencia: Flag, no Block, para no perder
	// disponibilidad por falsos positivos.
	if v.cadence.observe(provider, v.now()) {
		return flagged(ReasonBurstAnomaly)
	}

	return admitted()
}

// AdmitVerify gatea un request de verificación: solo lockout, la
// verificación no consume el throttle de mint.
func (v *Validator) AdmitVerify(ctx context.Context, provider, actor string) Decision {
	if v.failures.Peek(failKey(provider, actor)) >= int64(v.cfg.FailuresPerHour) {
		return blocked(ReasonVerifyLockout)
	}
	return admitted()
}

// RecordVerifyFailure acumula un fallo de verificación de (provider, actor).
// Al exceder el máximo por hora, AdmitVerify y AdmitMint bloquean.
func (v *Validator) RecordVerifyFailure(ctx context.Context, provider, actor string) {
	_, _ = v.failures.Allow(ctx, failKey(provider, actor))
}

func failKey(provider, actor string) string {
	return "vfail:" + provider + ":" + actor
}
