package authority

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
)

// ErrTerminalState: Expired y Revoked no se renuevan, se emite de cero.
var ErrTerminalState = errors.New("token_terminal_state")

// DefaultRenewThreshold: renovar cuando queda menos del 20% de la vida.
const DefaultRenewThreshold = 0.2

// RenewIfNearExpiry renueva un token solo si le queda menos de
// thresholdFraction de su TTL original y la admisión sigue aceptando.
// El nuevo expiry nunca supera el techo de la política para el tier del
// provider: el TTL pedido es el original y la política lo recorta.
func (a *Authority) RenewIfNearExpiry(ctx context.Context, tok *Token, actor string, thresholdFraction float64) (*Token, error) {
	if thresholdFraction <= 0 {
		thresholdFraction = DefaultRenewThreshold
	}
	now := a.now()

	if now.After(tok.ExpiresAt) {
		return nil, ErrTerminalState
	}
	if revoked, _ := a.revoked.Exists(ctx, tok.Nonce); revoked {
		return nil, ErrTerminalState
	}

	if tok.Remaining(now) >= time.Duration(thresholdFraction*float64(tok.TTL())) {
		return nil, ErrNotNearExpiry
	}

	// Mint aplica de nuevo la admisión completa y recorta el TTL pedido
	// contra la política vigente.
	nt, err := a.Mint(ctx, MintRequest{
		Provider:     tok.Provider,
		Subject:      tok.Subject,
		Scopes:       tok.Scopes,
		Actor:        actor,
		RequestedTTL: tok.TTL(),
	})
	if err != nil {
		return nil, err
	}

	sample, _ := a.feed.Sample(ctx)
	a.audit(ctx, audit.ActionRenew, "renewed", sample.Score, tok.Provider, nt.Nonce)
	a.log.Info("token renewed",
		logger.Provider(tok.Provider),
		logger.TTL(nt.TTL()),
	)
	return nt, nil
}

// Lifecycle mantiene tokens frescos por provider: valida el vigente y
// renueva los que están cerca de expirar, para operación sin downtime.
type Lifecycle struct {
	authority *Authority
	threshold float64
}

func NewLifecycle(a *Authority, threshold float64) *Lifecycle {
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	return &Lifecycle{authority: a, threshold: threshold}
}

// EnsureFresh retorna un token vivo para el provider: el vigente si le
// queda vida, el renovado si estaba cerca de expirar, o uno nuevo si no
// había ninguno.
func (l *Lifecycle) EnsureFresh(ctx context.Context, provider, subject string, scopes []string, actor string) (*Token, error) {
	cur := l.authority.registry.latest(provider)
	if cur == nil {
		return l.authority.Mint(ctx, MintRequest{
			Provider: provider,
			Subject:  subject,
			Scopes:   scopes,
			Actor:    actor,
		})
	}

	nt, err := l.authority.RenewIfNearExpiry(ctx, cur, actor, l.threshold)
	switch {
	case err == nil:
		return nt, nil
	case errors.Is(err, ErrNotNearExpiry):
		return cur, nil
	default:
		return nil, err
	}
}
