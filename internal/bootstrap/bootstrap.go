// Package bootstrap arma el grafo de componentes a partir de la
// configuración: root key, admisión, política, caches, autoridad y
// orquestador de deploy.
package bootstrap

import (
	"fmt"
	"os"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/authority"
	"github.com/dropDatabas3/tokenforge/internal/cache"
	"github.com/dropDatabas3/tokenforge/internal/config"
	"github.com/dropDatabas3/tokenforge/internal/deploy"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/metrics"
	"github.com/dropDatabas3/tokenforge/internal/rate"
	"github.com/dropDatabas3/tokenforge/internal/resonance"
	"github.com/dropDatabas3/tokenforge/internal/scanner"
	"github.com/dropDatabas3/tokenforge/internal/zerotrust"
)

// App agrupa los componentes ya cableados.
type App struct {
	Cfg          *config.Config
	Keys         *keys.Source
	Authority    *authority.Authority
	Orchestrator *deploy.Orchestrator
	Scanner      *scanner.Scanner

	closers []func() error
}

// New construye la app completa. RootKeyUnavailable y
// PolicyMisconfigured abortan acá: nada se emite con config rota.
func New(cfg *config.Config) (*App, error) {
	src, err := rootKeySource(cfg)
	if err != nil {
		return nil, err
	}
	if g := config.Dur(cfg.RootKey.Grace, 0); g > 0 {
		src.SetGrace(g)
	}

	policy, err := resonancePolicy(cfg)
	if err != nil {
		return nil, err
	}

	feed := resonanceFeed(cfg)

	validator := zerotrust.New(zerotrust.Config{
		MintPerMinute:   cfg.Rate.MintPerMinute,
		FailuresPerHour: cfg.Rate.FailuresPerHour,
	})

	var closers []func() error

	// Con backend redis los contadores de mint se comparten entre
	// réplicas; en memoria cada réplica cuenta por su cuenta.
	if cfg.Cache.Kind == "redis" {
		mintMax := cfg.Rate.MintPerMinute
		if mintMax <= 0 {
			mintMax = 60
		}
		rl := rdb.NewClient(&rdb.Options{
			Addr:     redisAddr(cfg.Cache.Redis.Addr),
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		validator.WithMintLimiter(rate.NewRedisLimiter(
			rl,
			prefixed(cfg.Cache.Redis.Prefix, "rate"),
			mintMax,
			time.Minute,
		))
		closers = append(closers, rl.Close)
	}

	replayCache, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   prefixed(cfg.Cache.Redis.Prefix, "replay"),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: replay cache: %w", err)
	}
	revokedCache, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   prefixed(cfg.Cache.Redis.Prefix, "revoked"),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: revoked cache: %w", err)
	}

	recorder := audit.NewRecorder(nil)

	provs := make([]authority.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		env := p.Environment
		if env == "" {
			env = cfg.App.Environment
		}
		provs = append(provs, authority.Provider{Name: p.Name, Environment: env})
	}

	auth, err := authority.New(authority.Config{
		Keys:      src,
		Validator: validator,
		Policy:    policy,
		Feed:      feed,
		Recorder:  recorder,
		Replay:    replayCache,
		Revoked:   revokedCache,
		Providers: provs,
	})
	if err != nil {
		return nil, err
	}

	sc := scanner.New()
	orch := deploy.New(deploy.Config{
		Scanner:   sc,
		Authority: auth,
		Keys:      src,
		Recorder:  recorder,
		Feed:      feed,
		Timeout:   config.Dur(cfg.Deploy.CheckTimeout, deploy.DefaultCheckTimeout),
	})

	_ = metrics.Register(nil)

	closers = append(closers, replayCache.Close, revokedCache.Close, src.Close)

	return &App{
		Cfg:          cfg,
		Keys:         src,
		Authority:    auth,
		Orchestrator: orch,
		Scanner:      sc,
		closers:      closers,
	}, nil
}

// Close zeroiza el root key y cierra conexiones. Llamar en shutdown.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func rootKeySource(cfg *config.Config) (*keys.Source, error) {
	switch cfg.RootKey.Source {
	case "file":
		return keys.FromFile(cfg.RootKey.File)
	case "generate":
		return keys.Generate()
	default:
		return keys.FromEnv()
	}
}

func resonancePolicy(cfg *config.Config) (*resonance.Policy, error) {
	rc := resonance.Config{BaseTTL: config.Dur(cfg.TTL.Base, 0)}
	ranges := map[resonance.Band]resonance.Range{}
	addRange := func(b resonance.Band, min, max string) {
		mn, mx := config.Dur(min, 0), config.Dur(max, 0)
		if mn > 0 && mx > 0 {
			ranges[b] = resonance.Range{Min: mn, Max: mx}
		}
	}
	addRange(resonance.Critical, cfg.TTL.Critical.Min, cfg.TTL.Critical.Max)
	addRange(resonance.Degraded, cfg.TTL.Degraded.Min, cfg.TTL.Degraded.Max)
	addRange(resonance.Normal, cfg.TTL.Normal.Min, cfg.TTL.Normal.Max)
	addRange(resonance.Optimal, cfg.TTL.Optimal.Min, cfg.TTL.Optimal.Max)
	if len(ranges) > 0 {
		rc.Ranges = ranges
	}
	return resonance.New(rc)
}

func resonanceFeed(cfg *config.Config) resonance.Feed {
	if cfg.Resonance.StateFile != "" {
		if _, err := os.Stat(cfg.Resonance.StateFile); err == nil {
			return resonance.FileFeed{
				Path:        cfg.Resonance.StateFile,
				Environment: cfg.App.Environment,
			}
		}
	}
	return resonance.StaticFeed{
		Score:       cfg.Resonance.Static,
		Environment: cfg.App.Environment,
	}
}

func redisAddr(addr string) string {
	if addr == "" {
		return "localhost:6379"
	}
	return addr
}

func prefixed(base, suffix string) string {
	if base == "" {
		return suffix
	}
	return base + ":" + suffix
}
