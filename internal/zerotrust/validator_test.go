package zerotrust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/rate"
)

const secretLike = "aZ3kQ9xV1mP7rT5wL2nB8cY4hJ6dFgSuEiOoMqWz"

func TestDefaults(t *testing.T) {
	v := New(Config{})
	if v.cfg.MintPerMinute != 60 || v.cfg.FailuresPerHour != 10 {
		t.Fatalf("defaults de rate inesperados: %+v", v.cfg)
	}
	if v.cfg.EntropyMin != 4.0 || v.cfg.BurstFactor != 3.0 {
		t.Fatalf("defaults de heurística inesperados: %+v", v.cfg)
	}
}

func TestAdmitMint_BlocksSecretShapedPayload(t *testing.T) {
	v := New(Config{})
	d := v.AdmitMint(context.Background(), "netlify", "ci", secretLike)
	if d.Kind != Block || d.Reason != ReasonSecretShaped {
		t.Fatalf("payload con shape de secreto debe bloquear, llegó %+v", d)
	}

	// Texto de baja entropía pasa aunque sea largo
	d = v.AdmitMint(context.Background(), "netlify", "ci", "deploy de la rama main")
	if d.Kind != Admit {
		t.Fatalf("payload inocuo debe admitir, llegó %+v", d)
	}
}

func TestAdmitMint_ThrottleBlocksOverLimit(t *testing.T) {
	v := New(Config{MintPerMinute: 3})
	for i := 0; i < 3; i++ {
		if d := v.AdmitMint(context.Background(), "render", "ci", ""); d.Kind == Block {
			t.Fatalf("request %d dentro del límite bloqueado: %+v", i+1, d)
		}
	}
	d := v.AdmitMint(context.Background(), "render", "ci", "")
	if d.Kind != Block || d.Reason != ReasonRateLimited {
		t.Fatalf("request sobre el límite debe bloquear, llegó %+v", d)
	}

	// El throttle es por provider: otro provider sigue admitido
	if d := v.AdmitMint(context.Background(), "netlify", "ci", ""); d.Kind == Block {
		t.Fatalf("el throttle no puede cruzar providers: %+v", d)
	}
}

func TestAdmitMint_DefaultSixtyPerMinute(t *testing.T) {
	// Reloj congelado a mitad de ventana: los 61 requests caen en el
	// mismo minuto sin depender del reloj de pared.
	fixed := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	clock := func() time.Time { return fixed }
	v := New(Config{}).
		WithMintLimiter(rate.NewMemoryLimiter(60, time.Minute).WithClock(clock)).
		WithClock(clock)

	ctx := context.Background()
	for i := 1; i <= 60; i++ {
		if d := v.AdmitMint(ctx, "netlify", "ci", ""); d.Kind == Block {
			t.Fatalf("mint %d debe admitirse (Flag es aceptable): %+v", i, d)
		}
	}
	if d := v.AdmitMint(ctx, "netlify", "ci", ""); d.Kind != Block || d.Reason != ReasonRateLimited {
		t.Fatalf("el mint 61 dentro del minuto debe bloquear: %+v", d)
	}
}

type stubLimiter struct {
	res rate.Result
	err error
}

func (s stubLimiter) Allow(ctx context.Context, key string) (rate.Result, error) {
	return s.res, s.err
}

func TestWithMintLimiter_ReplacesThrottle(t *testing.T) {
	ctx := context.Background()

	// El limitador inyectado (p.ej. el compartido vía Redis) gobierna la
	// decisión: si niega, el validador bloquea aunque sea el primer request.
	v := New(Config{}).WithMintLimiter(stubLimiter{res: rate.Result{Allowed: false}})
	if d := v.AdmitMint(ctx, "netlify", "ci", ""); d.Kind != Block || d.Reason != ReasonRateLimited {
		t.Fatalf("limitador inyectado que niega debe bloquear: %+v", d)
	}

	// Limitador caído => fail closed
	v = New(Config{}).WithMintLimiter(stubLimiter{err: errors.New("conexión rechazada")})
	if d := v.AdmitMint(ctx, "netlify", "ci", ""); d.Kind != Block || d.Reason != ReasonRateLimited {
		t.Fatalf("error del limitador debe cerrar la puerta: %+v", d)
	}
}

func TestVerifyLockout_BlocksMintAndVerify(t *testing.T) {
	v := New(Config{FailuresPerHour: 2})
	ctx := context.Background()

	if d := v.AdmitVerify(ctx, "netlify", "atacante"); d.Kind != Admit {
		t.Fatalf("sin fallos debe admitir: %+v", d)
	}
	v.RecordVerifyFailure(ctx, "netlify", "atacante")
	v.RecordVerifyFailure(ctx, "netlify", "atacante")

	if d := v.AdmitVerify(ctx, "netlify", "atacante"); d.Kind != Block || d.Reason != ReasonVerifyLockout {
		t.Fatalf("lockout debe bloquear verify: %+v", d)
	}
	if d := v.AdmitMint(ctx, "netlify", "atacante", ""); d.Kind != Block || d.Reason != ReasonVerifyLockout {
		t.Fatalf("lockout debe bloquear mint del mismo actor: %+v", d)
	}
	// Otro actor del mismo provider no hereda el lockout
	if d := v.AdmitVerify(ctx, "netlify", "ci"); d.Kind != Admit {
		t.Fatalf("el lockout es por (provider, actor): %+v", d)
	}
}

func TestCadence_BurstFlagsAfterBaseline(t *testing.T) {
	tr := newCadenceTracker(3.0)
	now := time.Unix(1_700_000_000, 0)

	// Baseline: gaps regulares de 100ms
	for i := 0; i < 10; i++ {
		if tr.observe("netlify", now) {
			t.Fatalf("baseline no debería marcar burst (i=%d)", i)
		}
		now = now.Add(100 * time.Millisecond)
	}

	// Gap de 10ms: bien por debajo de mediana/3 => burst
	now = now.Add(-100 * time.Millisecond) // deshacer el último avance
	if !tr.observe("netlify", now.Add(10*time.Millisecond)) {
		t.Fatal("gap de 10ms contra mediana de 100ms debe marcar burst")
	}
}

func TestCadence_NoVerdictWithoutHistory(t *testing.T) {
	tr := newCadenceTracker(3.0)
	now := time.Unix(1_700_000_000, 0)
	// Menos de minSamples gaps: nunca hay veredicto, ni con gaps de cero
	for i := 0; i < minSamples; i++ {
		if tr.observe("render", now) {
			t.Fatalf("sin baseline no hay veredicto (i=%d)", i)
		}
	}
}
