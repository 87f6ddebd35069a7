package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type window struct {
	start time.Time
	hits  int64
}

type shard struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// sweepLocked borra ventanas ya vencidas. Se invoca con el lock tomado,
// a lo sumo una vez por ventana, para que claves de un solo uso
// (vfail:<provider>:<actor>, etc.) no queden acumuladas para siempre.
func (s *shard) sweepLocked(now, winStart time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	for k, w := range s.windows {
		if w.start.Before(winStart) {
			delete(s.windows, k)
		}
	}
	s.lastSweep = now
}

// MemoryLimiter: fixed window en memoria, sharded por clave para que
// providers no relacionados no compartan lock (single-writer-per-key).
type MemoryLimiter struct {
	max    int64
	window time.Duration
	shards [shardCount]*shard
	now    func() time.Time // inyectable para tests
}

func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		max:    int64(max),
		window: win,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return l
}

// WithClock reemplaza el reloj del limitador. Pensado para tests que
// necesitan ventanas deterministas.
func (l *MemoryLimiter) WithClock(fn func() time.Time) *MemoryLimiter {
	if fn != nil {
		l.now = fn
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)

	s := l.shardFor(key)
	s.mu.Lock()
	s.sweepLocked(now, winStart, l.window)
	w, ok := s.windows[key]
	if !ok || w.start.Before(winStart) {
		// Ventana nueva: el contador anterior decae completo
		w = &window{start: winStart}
		s.windows[key] = w
	}
	w.hits++
	hits := w.hits
	s.mu.Unlock()

	allowed := hits <= l.max
	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:     allowed,
		Remaining:   remaining,
		CurrentHits: hits,
	}
	if !allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = winStart.Add(l.window).Sub(now)
	}
	return res, nil
}

// Peek retorna los hits actuales sin consumir uno. Si la ventana ya
// venció, retorna 0.
func (l *MemoryLimiter) Peek(key string) int64 {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || w.start.Before(winStart) {
		return 0
	}
	return w.hits
}
