package resonance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/resonance"
)

func mustPolicy(t *testing.T) *resonance.Policy {
	t.Helper()
	p, err := resonance.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return p
}

func TestClassify_BoundaryBelongsToUpperBand(t *testing.T) {
	p := mustPolicy(t)
	cases := []struct {
		score float64
		want  resonance.Band
	}{
		{0, resonance.Critical},
		{29.9, resonance.Critical},
		{30, resonance.Degraded}, // el corte es de la banda superior
		{59.9, resonance.Degraded},
		{60, resonance.Normal},
		{79.9, resonance.Normal},
		{80, resonance.Optimal},
		{100, resonance.Optimal},
	}
	for _, c := range cases {
		if got := p.Classify(c.score); got != c.want {
			t.Errorf("Classify(%v) = %s, esperaba %s", c.score, got, c.want)
		}
	}
}

func TestClampScore_OutOfRangeInputs(t *testing.T) {
	if resonance.ClampScore(-5) != 0 {
		t.Fatal("score negativo debe clamparse a 0")
	}
	if resonance.ClampScore(250) != 100 {
		t.Fatal("score > 100 debe clamparse a 100")
	}
	p := mustPolicy(t)
	if p.Classify(-5) != resonance.Critical || p.Classify(250) != resonance.Optimal {
		t.Fatal("clasificación fuera de rango incorrecta")
	}
}

func TestTTLFor_ClampsBaseIntoBandRange(t *testing.T) {
	p := mustPolicy(t)

	// Base 1h cae fuera del rango Critical [60s,120s]: clamp a 120s
	if got := p.TTLFor(10, ""); got != 120*time.Second {
		t.Fatalf("Critical: esperaba 120s, llegó %s", got)
	}
	// Degraded [120s,300s]
	if got := p.TTLFor(45, ""); got != 300*time.Second {
		t.Fatalf("Degraded: esperaba 300s, llegó %s", got)
	}
	// Normal [300s,1800s]
	if got := p.TTLFor(70, ""); got != 1800*time.Second {
		t.Fatalf("Normal: esperaba 1800s, llegó %s", got)
	}
	// Optimal [1800s,3600s]: base 1h entra entera
	if got := p.TTLFor(95, ""); got != time.Hour {
		t.Fatalf("Optimal: esperaba 1h, llegó %s", got)
	}
}

func TestTTLFor_EnvironmentModifiers(t *testing.T) {
	p := mustPolicy(t)

	// production 0.8: score 29 (Critical) => 120s * 0.8 = 96s
	if got := p.TTLFor(29, "production"); got != 96*time.Second {
		t.Fatalf("production Critical: esperaba 96s, llegó %s", got)
	}
	// score 30 ya es Degraded: 300s * 0.8 = 240s
	if got := p.TTLFor(30, "production"); got != 240*time.Second {
		t.Fatalf("production Degraded: esperaba 240s, llegó %s", got)
	}
	// development 1.2 en Optimal chocaría el clamp global: 3600s * 1.2 => 3600s
	if got := p.TTLFor(95, "development"); got != 3600*time.Second {
		t.Fatalf("development Optimal: esperaba clamp a 3600s, llegó %s", got)
	}
	// entorno desconocido es neutro
	if got := p.TTLFor(95, "staging"); got != time.Hour {
		t.Fatalf("staging: esperaba 1h, llegó %s", got)
	}
}

func TestTTLFor_GlobalClampFloor(t *testing.T) {
	p, err := resonance.New(resonance.Config{BaseTTL: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Base de 1s clampa al piso del rango Critical (60s); production lo
	// dejaría en 48s, por debajo del piso global: clamp a 60s.
	if got := p.TTLFor(0, "production"); got != 60*time.Second {
		t.Fatalf("esperaba piso global 60s, llegó %s", got)
	}
}

func TestNew_RejectsMisconfiguredRanges(t *testing.T) {
	_, err := resonance.New(resonance.Config{
		Ranges: map[resonance.Band]resonance.Range{
			resonance.Critical: {Min: 120 * time.Second, Max: 60 * time.Second},
		},
	})
	if !errors.Is(err, resonance.ErrPolicyMisconfigured) {
		t.Fatalf("esperaba ErrPolicyMisconfigured, llegó %v", err)
	}
}

func TestFileFeed_MissingFileFallsBackToDefault(t *testing.T) {
	f := resonance.FileFeed{Path: "no-existe.json", Environment: "production"}
	s, err := f.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.Score != 75 || s.Environment != "production" {
		t.Fatalf("fallback inesperado: %+v", s)
	}
}
