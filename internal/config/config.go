// Package config carga la superficie de configuración del servicio:
// origen del root key, umbrales de rate limit, bordes de bandas de TTL,
// scanner y server. YAML como base, variables de entorno pisan encima.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
		// Entorno de emisión para la política: production | development | otro
		Environment string `yaml:"environment"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	RootKey struct {
		// env | file | generate
		Source string `yaml:"source"`
		File   string `yaml:"file"`
		// Ventana de gracia post-rotación
		Grace string `yaml:"grace"`
	} `yaml:"root_key"`

	Providers []struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"providers"`

	Rate struct {
		MintPerMinute   int `yaml:"mint_per_minute"`
		FailuresPerHour int `yaml:"failures_per_hour"`
	} `yaml:"rate"`

	TTL struct {
		// Rangos por banda, en duraciones Go ("60s", "2m").
		Critical struct{ Min, Max string } `yaml:"critical"`
		Degraded struct{ Min, Max string } `yaml:"degraded"`
		Normal   struct{ Min, Max string } `yaml:"normal"`
		Optimal  struct{ Min, Max string } `yaml:"optimal"`
		Base     string                    `yaml:"base"`
	} `yaml:"ttl"`

	Resonance struct {
		// Path del documento de estado con el score. Vacío => feed estático.
		StateFile string  `yaml:"state_file"`
		Static    float64 `yaml:"static"`
	} `yaml:"resonance"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Scanner struct {
		Roots []string `yaml:"roots"`
	} `yaml:"scanner"`

	Deploy struct {
		CheckTimeout string `yaml:"check_timeout"`
	} `yaml:"deploy"`
}

// Load lee el YAML (opcional: path vacío => solo defaults+env) y aplica
// overrides de entorno.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.RootKey.Source == "" {
		c.RootKey.Source = "env"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Rate.MintPerMinute == 0 {
		c.Rate.MintPerMinute = 60
	}
	if c.Rate.FailuresPerHour == 0 {
		c.Rate.FailuresPerHour = 10
	}
	if c.Resonance.Static == 0 {
		c.Resonance.Static = 75
	}
	if c.Deploy.CheckTimeout == "" {
		c.Deploy.CheckTimeout = "30s"
	}
	if len(c.Scanner.Roots) == 0 {
		c.Scanner.Roots = []string{"."}
	}

	c.applyEnvOverrides()
	return &c, nil
}

// Dur parsea una duración con fallback.
func Dur(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return fallback
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("TOKENFORGE_ENVIRONMENT"); ok {
		c.App.Environment = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("ROOT_KEY_SOURCE"); ok {
		c.RootKey.Source = v
	}
	if v, ok := getEnvStr("ROOT_KEY_FILE"); ok {
		c.RootKey.File = v
	}
	if v, ok := getEnvInt("RATE_MINT_PER_MINUTE"); ok {
		c.Rate.MintPerMinute = v
	}
	if v, ok := getEnvInt("RATE_FAILURES_PER_HOUR"); ok {
		c.Rate.FailuresPerHour = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("RESONANCE_STATE_FILE"); ok {
		c.Resonance.StateFile = v
	}
	if v, ok := getEnvFloat("RESONANCE_STATIC"); ok {
		c.Resonance.Static = v
	}
}
