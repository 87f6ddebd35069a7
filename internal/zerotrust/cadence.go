package zerotrust

import (
	"sort"
	"sync"
	"time"
)

// gapWindow: cantidad de gaps entre requests que entran en la mediana
// rodante por provider.
const gapWindow = 32

// minSamples antes de emitir veredictos: con menos historia no hay
// baseline contra el cual comparar.
const minSamples = 8

// cadenceTracker mantiene una mediana rodante del gap entre requests por
// provider. Un gap menor a mediana/factor es un burst: se marca (Flag),
// nunca se bloquea. Heurística conservadora, pendiente de tuning con
// datos reales.
type cadenceTracker struct {
	factor float64

	mu    sync.Mutex
	state map[string]*providerCadence
}

type providerCadence struct {
	lastSeen time.Time
	gaps     [gapWindow]time.Duration
	n        int // cuántos slots válidos
	next     int // próximo slot del ring
}

func newCadenceTracker(factor float64) *cadenceTracker {
	return &cadenceTracker{
		factor: factor,
		state:  make(map[string]*providerCadence),
	}
}

// observe registra un request y reporta si es un burst contra la mediana
// rodante del provider.
func (t *cadenceTracker) observe(provider string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.state[provider]
	if !ok {
		t.state[provider] = &providerCadence{lastSeen: now}
		return false
	}

	gap := now.Sub(pc.lastSeen)
	pc.lastSeen = now
	if gap < 0 {
		gap = 0
	}

	med := pc.median()

	pc.gaps[pc.next] = gap
	pc.next = (pc.next + 1) % gapWindow
	if pc.n < gapWindow {
		pc.n++
	}

	if pc.n < minSamples || med <= 0 {
		return false
	}
	// Burst: la cadencia actual supera factor× la mediana, o sea el gap
	// cayó por debajo de mediana/factor.
	return gap < time.Duration(float64(med)/t.factor)
}

func (pc *providerCadence) median() time.Duration {
	if pc.n == 0 {
		return 0
	}
	tmp := make([]time.Duration, pc.n)
	copy(tmp, pc.gaps[:pc.n])
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	return tmp[pc.n/2]
}
