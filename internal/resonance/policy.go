// Package resonance mapea el score de salud externo a política de TTL.
//
// El score es input no confiable: se clampa a [0,100] antes de clasificar.
// El TTL final siempre queda dentro de [MinTTL, MaxTTL] sin importar banda
// ni modificadores de entorno.
package resonance

import (
	"errors"
	"fmt"
	"time"
)

// Band clasifica el score de resonancia.
type Band int

const (
	Critical Band = iota
	Degraded
	Normal
	Optimal
)

func (b Band) String() string {
	switch b {
	case Critical:
		return "critical"
	case Degraded:
		return "degraded"
	case Normal:
		return "normal"
	case Optimal:
		return "optimal"
	}
	return "unknown"
}

// ErrPolicyMisconfigured: la política falla cerrada antes de emitir nada.
var ErrPolicyMisconfigured = errors.New("policy_misconfigured")

// Range define el TTL mínimo y máximo de una banda.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Policy contiene los cortes de banda, los rangos de TTL y el clamp global.
// Inmutable después de New: segura para lectores concurrentes.
type Policy struct {
	// Cortes de banda. El score en el corte pertenece a la banda superior:
	// 30 es Degraded, nunca Critical.
	degradedAt float64
	normalAt   float64
	optimalAt  float64

	ranges map[Band]Range

	// BaseTTL se clampa dentro del rango de la banda (estilo base_ttl).
	baseTTL time.Duration

	// Clamp global post-modificadores.
	minTTL time.Duration
	maxTTL time.Duration
}

// Config permite ajustar límites desde la configuración externa.
// Cero-value en un campo usa el default.
type Config struct {
	Ranges  map[Band]Range
	BaseTTL time.Duration
	MinTTL  time.Duration
	MaxTTL  time.Duration
}

// New construye la política. Valida todo de entrada: una política
// inconsistente es fatal, nunca se emite con ella.
func New(cfg Config) (*Policy, error) {
	p := &Policy{
		degradedAt: 30,
		normalAt:   60,
		optimalAt:  80,
		ranges: map[Band]Range{
			Critical: {60 * time.Second, 120 * time.Second},
			Degraded: {120 * time.Second, 300 * time.Second},
			Normal:   {300 * time.Second, 1800 * time.Second},
			Optimal:  {1800 * time.Second, 3600 * time.Second},
		},
		baseTTL: time.Hour,
		minTTL:  60 * time.Second,
		maxTTL:  3600 * time.Second,
	}
	if cfg.Ranges != nil {
		for b, r := range cfg.Ranges {
			p.ranges[b] = r
		}
	}
	if cfg.BaseTTL > 0 {
		p.baseTTL = cfg.BaseTTL
	}
	if cfg.MinTTL > 0 {
		p.minTTL = cfg.MinTTL
	}
	if cfg.MaxTTL > 0 {
		p.maxTTL = cfg.MaxTTL
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Default retorna la política con los rangos estándar. Solo puede fallar si
// alguien rompe los defaults, así que panic sería aceptable; devolvemos
// error igual para mantener la disciplina fail-closed.
func Default() (*Policy, error) {
	return New(Config{})
}

func (p *Policy) validate() error {
	if p.minTTL <= 0 || p.maxTTL <= p.minTTL {
		return fmt.Errorf("resonance: clamp global inválido [%s,%s]: %w", p.minTTL, p.maxTTL, ErrPolicyMisconfigured)
	}
	for _, b := range []Band{Critical, Degraded, Normal, Optimal} {
		r, ok := p.ranges[b]
		if !ok {
			return fmt.Errorf("resonance: banda %s sin rango: %w", b, ErrPolicyMisconfigured)
		}
		if r.Min <= 0 || r.Max < r.Min {
			return fmt.Errorf("resonance: rango inválido en banda %s: %w", b, ErrPolicyMisconfigured)
		}
	}
	// Las bandas deben ser no decrecientes entre sí
	if p.ranges[Critical].Max > p.ranges[Degraded].Max ||
		p.ranges[Degraded].Max > p.ranges[Normal].Max ||
		p.ranges[Normal].Max > p.ranges[Optimal].Max {
		return fmt.Errorf("resonance: rangos de banda no monótonos: %w", ErrPolicyMisconfigured)
	}
	return nil
}

// ClampScore lleva cualquier input al rango [0,100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify clasifica un score (ya clampado internamente) en banda.
// El corte pertenece a la banda superior.
func (p *Policy) Classify(score float64) Band {
	score = ClampScore(score)
	switch {
	case score < p.degradedAt:
		return Critical
	case score < p.normalAt:
		return Degraded
	case score < p.optimalAt:
		return Normal
	default:
		return Optimal
	}
}

// envModifier: production acorta, development alarga, el resto neutro.
func envModifier(environment string) float64 {
	switch environment {
	case "production":
		return 0.8
	case "development":
		return 1.2
	default:
		return 1.0
	}
}

// TTLFor calcula el TTL para un score y entorno: clampa el BaseTTL dentro
// del rango de la banda, aplica el modificador de entorno y clampa al
// rango global.
func (p *Policy) TTLFor(score float64, environment string) time.Duration {
	band := p.Classify(score)
	r := p.ranges[band]

	ttl := p.baseTTL
	if ttl < r.Min {
		ttl = r.Min
	}
	if ttl > r.Max {
		ttl = r.Max
	}

	ttl = time.Duration(float64(ttl) * envModifier(environment))
	return p.clamp(ttl)
}

// Ceiling retorna el techo de TTL para la banda del score, con modificador
// y clamp aplicados. Las renovaciones nunca pueden superarlo.
func (p *Policy) Ceiling(score float64, environment string) time.Duration {
	r := p.ranges[p.Classify(score)]
	return p.clamp(time.Duration(float64(r.Max) * envModifier(environment)))
}

func (p *Policy) clamp(ttl time.Duration) time.Duration {
	if ttl < p.minTTL {
		return p.minTTL
	}
	if ttl > p.maxTTL {
		return p.maxTTL
	}
	return ttl
}
