package authority

import (
	"sync"
	"time"
)

// registry lleva los tokens emitidos por provider, para renovación y para
// la revocación masiva del rollback. Se poda de forma oportunista: los
// expirados salen en cada recorrido.
type registry struct {
	mu     sync.RWMutex
	byProv map[string][]*issued
	now    func() time.Time
}

type issued struct {
	token   *Token
	revoked bool
}

func newRegistry() *registry {
	return &registry{
		byProv: make(map[string][]*issued),
		now:    time.Now,
	}
}

func (r *registry) add(t *Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProv[t.Provider] = append(r.prunedLocked(t.Provider), &issued{token: t})
}

// prunedLocked filtra los expirados del provider. Caller sostiene el lock.
func (r *registry) prunedLocked(provider string) []*issued {
	now := r.now()
	in := r.byProv[provider]
	out := in[:0]
	for _, it := range in {
		if it.token.ExpiresAt.After(now) {
			out = append(out, it)
		}
	}
	return out
}

func (r *registry) markRevoked(nonce string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.byProv {
		for _, it := range list {
			if it.token.Nonce == nonce {
				it.revoked = true
				return
			}
		}
	}
}

// mintedAfter retorna los tokens vivos del provider emitidos después del
// instante dado (exclusive).
func (r *registry) mintedAfter(provider string, after time.Time) []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Token
	now := r.now()
	for _, it := range r.byProv[provider] {
		if it.revoked || !it.token.ExpiresAt.After(now) {
			continue
		}
		if it.token.IssuedAt.After(after) {
			out = append(out, it.token)
		}
	}
	return out
}

// latest retorna el token vivo más reciente del provider, si existe.
func (r *registry) latest(provider string) *Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var best *Token
	for _, it := range r.byProv[provider] {
		if it.revoked || !it.token.ExpiresAt.After(now) {
			continue
		}
		if best == nil || it.token.IssuedAt.After(best.IssuedAt) {
			best = it.token
		}
	}
	return best
}

// LiveTokens retorna los tokens vivos (no revocados, no expirados) del
// provider. Lo consume el gate de deploy para confirmar que todos
// verifican Valid.
func (a *Authority) LiveTokens(provider string) []*Token {
	return a.registry.liveTokens(provider)
}

func (r *registry) liveTokens(provider string) []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Token
	now := r.now()
	for _, it := range r.byProv[provider] {
		if it.revoked || !it.token.ExpiresAt.After(now) {
			continue
		}
		out = append(out, it.token)
	}
	return out
}
