package authority

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/cache"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/metrics"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/security/tokens"
	"github.com/dropDatabas3/tokenforge/internal/zerotrust"
)

// Status enumera los resultados de verificación. Toda verificación
// termina en exactamente uno.
type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusTamperDetected
	StatusReplaySuspected
	StatusUnknownEpoch
	StatusRevoked
	StatusMalformed
	StatusRateLimited
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	case StatusTamperDetected:
		return "tamper_detected"
	case StatusReplaySuspected:
		return "replay_suspected"
	case StatusUnknownEpoch:
		return "unknown_epoch"
	case StatusRevoked:
		return "revoked"
	case StatusMalformed:
		return "malformed"
	default:
		return "rate_limited"
	}
}

// Result de una verificación. Token queda seteado solo si el envelope
// parseó, aunque el status no sea Valid.
type Result struct {
	Status Status
	Token  *Token
}

// Verify verifica un envelope firmado. El chequeo de expiración corre
// antes e independiente de la firma; la firma se recomputa bajo la clave
// de la época registrada en el token (legible durante la gracia
// post-rotación) con comparación en tiempo constante.
func (a *Authority) Verify(ctx context.Context, tokenString, actor string) Result {
	res := a.verify(ctx, tokenString, actor)
	provider := "unknown"
	if res.Token != nil {
		provider = res.Token.Provider
	}
	metrics.VerifyOutcomes.WithLabelValues(provider, res.Status.String()).Inc()
	return res
}

func (a *Authority) verify(ctx context.Context, tokenString, actor string) Result {
	d, err := decodeEnvelope(tokenString)
	if err != nil {
		// Malformado = inválido, se loguea y falla cerrado.
		a.log.Warn("token malformed", logger.Actor(actor), logger.Err(err))
		return Result{Status: StatusMalformed}
	}
	tok := d.token

	if dec := a.validator.AdmitVerify(ctx, tok.Provider, actor); dec.Kind == zerotrust.Block {
		return Result{Status: StatusRateLimited, Token: tok}
	}

	// Expiración: independiente de la validez de la firma.
	if a.now().After(tok.ExpiresAt) {
		return Result{Status: StatusExpired, Token: tok}
	}

	key, err := a.keys.KeyFor(tok.Provider, tok.Epoch)
	if err != nil {
		if errors.Is(err, keys.ErrUnknownEpoch) {
			a.validator.RecordVerifyFailure(ctx, tok.Provider, actor)
			return Result{Status: StatusUnknownEpoch, Token: tok}
		}
		// Root key caído: no hay forma de verificar nada.
		a.log.Error("key unavailable during verify", logger.Err(err))
		return Result{Status: StatusTamperDetected, Token: tok}
	}

	if err := d.verifySignature(key); err != nil {
		a.validator.RecordVerifyFailure(ctx, tok.Provider, actor)
		return Result{Status: StatusTamperDetected, Token: tok}
	}

	if revoked, _ := a.revoked.Exists(ctx, tok.Nonce); revoked {
		return Result{Status: StatusRevoked, Token: tok}
	}

	// Replay: el registro del nonce debe corresponder a ESTE envelope.
	// Si el nonce figura asociado a otra firma, alguien lo re-usó.
	stored, err := a.replay.Get(ctx, replayKey(tok))
	if err == nil && stored != tokens.Hash16(tok.Signed) {
		a.validator.RecordVerifyFailure(ctx, tok.Provider, actor)
		a.audit(ctx, audit.ActionReject, "replay_suspected", 0, tok.Provider, tok.Nonce)
		return Result{Status: StatusReplaySuspected, Token: tok}
	}
	if err != nil && !cache.IsNotFound(err) {
		a.log.Error("replay cache error en verify", logger.Err(err))
	}

	return Result{Status: StatusValid, Token: tok}
}

// Revoke pasa un token Active a Revoked (terminal). La entrada vive en el
// set de revocación hasta que el token expira solo.
func (a *Authority) Revoke(ctx context.Context, tok *Token) error {
	ttl := tok.Remaining(a.now())
	if ttl <= 0 {
		return nil // ya expirado, terminal de todas formas
	}
	if err := a.revoked.Set(ctx, tok.Nonce, "1", ttl); err != nil {
		return err
	}
	a.registry.markRevoked(tok.Nonce)
	a.audit(ctx, audit.ActionReject, "revoked", 0, tok.Provider, tok.Nonce)
	a.log.Info("token revoked", logger.Provider(tok.Provider), logger.TokenID(tokens.Hash16(tok.Nonce)))
	return nil
}

// RevokeMintedAfter revoca todo token del provider emitido después del
// instante dado. Lo usa el rollback de deploy.
func (a *Authority) RevokeMintedAfter(ctx context.Context, provider string, after time.Time) (int, error) {
	var n int
	for _, tok := range a.registry.mintedAfter(provider, after) {
		if err := a.Revoke(ctx, tok); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
