// Package authority emite y verifica tokens efímeros firmados con claves
// derivadas por (provider, época).
//
// Cada mint pasa por la admisión zero-trust y por la política de
// resonancia; cada verify termina en exactamente un status enumerado.
// Nunca devuelve estados parciales ni ambiguos.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/cache"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/metrics"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/resonance"
	"github.com/dropDatabas3/tokenforge/internal/security/tokens"
	"github.com/dropDatabas3/tokenforge/internal/zerotrust"
	"go.uber.org/zap"
)

var (
	ErrProviderUnknown  = errors.New("provider_unknown")
	ErrRateLimited      = errors.New("rate_limited")
	ErrAdmissionBlocked = errors.New("admission_blocked")
	ErrReplaySuspected  = errors.New("replay_suspected")
	ErrNotNearExpiry    = errors.New("not_near_expiry")
)

// nonceBytes: 16 => 128 bits.
const nonceBytes = 16

// Provider es un consumidor externo de credenciales, con su tier de
// entorno para la política de TTL.
type Provider struct {
	Name        string
	Environment string // tier: "production" | "development" | otro
}

// Authority compone keys, admisión, política y auditoría.
type Authority struct {
	keys      *keys.Source
	validator *zerotrust.Validator
	policy    *resonance.Policy
	feed      resonance.Feed
	recorder  *audit.Recorder

	// replay: (provider, nonce, iat-second) -> hash del envelope firmado.
	// revoked: jti -> "1", expira junto con el token.
	replay  cache.Client
	revoked cache.Client

	providers map[string]Provider
	registry  *registry

	log *zap.Logger
	now func() time.Time

	// nonceFn es inyectable para forzar nonces en tests de replay.
	nonceFn func() (string, error)
}

// Config de la autoridad. Keys, Validator y Policy son obligatorios.
type Config struct {
	Keys      *keys.Source
	Validator *zerotrust.Validator
	Policy    *resonance.Policy
	Feed      resonance.Feed
	Recorder  *audit.Recorder
	Replay    cache.Client
	Revoked   cache.Client
	Providers []Provider
}

func New(cfg Config) (*Authority, error) {
	if cfg.Keys == nil {
		return nil, keys.ErrRootKeyUnavailable
	}
	if cfg.Policy == nil {
		return nil, resonance.ErrPolicyMisconfigured
	}
	if cfg.Validator == nil {
		cfg.Validator = zerotrust.New(zerotrust.Config{})
	}
	if cfg.Feed == nil {
		cfg.Feed = resonance.StaticFeed{Score: 75}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(nil)
	}
	if cfg.Replay == nil {
		cfg.Replay = cache.NewMemory("replay")
	}
	if cfg.Revoked == nil {
		cfg.Revoked = cache.NewMemory("revoked")
	}

	provs := make(map[string]Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provs[p.Name] = p
	}

	return &Authority{
		keys:      cfg.Keys,
		validator: cfg.Validator,
		policy:    cfg.Policy,
		feed:      cfg.Feed,
		recorder:  cfg.Recorder,
		replay:    cfg.Replay,
		revoked:   cfg.Revoked,
		providers: provs,
		registry:  newRegistry(),
		log:       logger.Named("authority"),
		now:       time.Now,
		nonceFn: func() (string, error) {
			return tokens.GenerateNonce(nonceBytes)
		},
	}, nil
}

// MintRequest describe un pedido de emisión.
type MintRequest struct {
	Provider     string
	Subject      string
	Scopes       []string
	Actor        string
	RequestedTTL time.Duration

	// Payload es cualquier literal embebido en el request que podría ser
	// un secreto; la admisión lo somete al chequeo de entropía.
	Payload string
}

// Mint emite un token firmado para el provider. El TTL efectivo es
// min(RequestedTTL, política de resonancia); con RequestedTTL <= 0 se usa
// el de la política directo.
func (a *Authority) Mint(ctx context.Context, req MintRequest) (*Token, error) {
	start := a.now()

	prov, ok := a.providers[req.Provider]
	if !ok {
		// Error del caller: se reporta, sin side effects.
		return nil, fmt.Errorf("authority: %q: %w", req.Provider, ErrProviderUnknown)
	}

	sample, _ := a.feed.Sample(ctx)
	env := prov.Environment
	if env == "" {
		env = sample.Environment
	}

	dec := a.validator.AdmitMint(ctx, req.Provider, req.Actor, req.Payload)
	metrics.AdmissionDecisions.WithLabelValues(dec.Kind.String(), dec.Reason).Inc()
	if dec.Kind == zerotrust.Block {
		a.audit(ctx, audit.ActionReject, dec.Reason, sample.Score, req.Provider, "")
		metrics.MintOutcomes.WithLabelValues(req.Provider, "rejected").Inc()
		if dec.Reason == zerotrust.ReasonSecretShaped {
			return nil, fmt.Errorf("authority: %s: %w", dec.Reason, ErrAdmissionBlocked)
		}
		return nil, fmt.Errorf("authority: %s: %w", dec.Reason, ErrRateLimited)
	}

	ttl := a.policy.TTLFor(sample.Score, env)
	if req.RequestedTTL > 0 && req.RequestedTTL < ttl {
		ttl = req.RequestedTTL
	}

	nonce, err := a.nonceFn()
	if err != nil {
		return nil, fmt.Errorf("authority: nonce: %w", err)
	}

	issued := a.now().UTC().Truncate(time.Second)
	tok := &Token{
		Provider:  req.Provider,
		Subject:   req.Subject,
		Scopes:    req.Scopes,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
		Nonce:     nonce,
	}

	key, epoch, err := a.keys.CurrentKeyFor(req.Provider)
	if err != nil {
		return nil, err
	}
	tok.Epoch = epoch
	if err := tok.sign(key); err != nil {
		return nil, err
	}

	// Registrar el nonce: first-writer-wins por (provider, nonce,
	// segundo de emisión). Un duplicado dentro de la validez es replay.
	won, err := a.replay.SetNX(ctx, replayKey(tok), tokens.Hash16(tok.Signed), ttl)
	if err != nil {
		a.log.Error("replay cache error", logger.Provider(req.Provider), logger.Err(err))
		return nil, fmt.Errorf("authority: replay cache: %w", err)
	}
	if !won {
		a.audit(ctx, audit.ActionReject, "replay_suspected", sample.Score, req.Provider, "")
		metrics.MintOutcomes.WithLabelValues(req.Provider, "replay").Inc()
		return nil, fmt.Errorf("authority: nonce duplicado: %w", ErrReplaySuspected)
	}

	a.registry.add(tok)

	outcome := "minted"
	if dec.Kind == zerotrust.Flag {
		// Procede pero queda marcado en la auditoría.
		outcome = "minted_flagged"
	}
	a.audit(ctx, audit.ActionMint, outcome, sample.Score, req.Provider, tok.Nonce)
	metrics.MintOutcomes.WithLabelValues(req.Provider, outcome).Inc()
	metrics.MintLatency.Observe(float64(a.now().Sub(start).Microseconds()) / 1000)

	a.log.Info("token minted",
		logger.Provider(req.Provider),
		logger.Subject(req.Subject),
		logger.Epoch(epoch),
		logger.TTL(ttl),
		logger.Band(a.policy.Classify(sample.Score).String()),
		logger.Decision(dec.Kind.String()),
	)
	return tok, nil
}

// Rotate rota el root key y avanza la época.
func (a *Authority) Rotate() (uint64, error) {
	epoch, err := a.keys.Rotate()
	if err != nil {
		return 0, err
	}
	metrics.KeyRotations.Inc()
	a.log.Info("root key rotated", logger.Epoch(epoch))
	return epoch, nil
}

// audit emite un registro sin material criptográfico: el nonce va hasheado.
func (a *Authority) audit(ctx context.Context, action audit.Action, outcome string, score float64, provider, nonce string) {
	fields := map[string]any{"provider": provider}
	if nonce != "" {
		fields["nonce_hash"] = tokens.Hash16(nonce)
	}
	a.recorder.Record(ctx, action, outcome, score, fields)
}

func replayKey(t *Token) string {
	return fmt.Sprintf("%s:%s:%d", t.Provider, t.Nonce, t.IssuedAt.Unix())
}
