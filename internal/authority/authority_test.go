package authority

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/metrics"
	"github.com/dropDatabas3/tokenforge/internal/resonance"
	"github.com/dropDatabas3/tokenforge/internal/zerotrust"
)

func testKeys(t *testing.T) *keys.Source {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	src, err := keys.FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return src
}

func testAuthority(t *testing.T) (*Authority, *audit.MemorySink) {
	t.Helper()
	pol, err := resonance.Default()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	sink := audit.NewMemorySink()
	a, err := New(Config{
		Keys:     testKeys(t),
		Policy:   pol,
		Recorder: audit.NewRecorder(sink),
		Providers: []Provider{
			{Name: "netlify"},
			{Name: "render", Environment: "production"},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, sink
}

func mustMint(t *testing.T, a *Authority, req MintRequest) *Token {
	t.Helper()
	tok, err := a.Mint(context.Background(), req)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return tok
}

func TestMintVerify_RoundTrip(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{
		Provider: "netlify",
		Subject:  "deploy-bot",
		Scopes:   []string{"deploy", "read"},
		Actor:    "ci",
	})
	if tok.Signed == "" || tok.Nonce == "" || tok.Epoch != 1 {
		t.Fatalf("token incompleto: %+v", tok)
	}

	res := a.Verify(context.Background(), tok.Signed, "ci")
	if res.Status != StatusValid {
		t.Fatalf("esperaba Valid, llegó %s", res.Status)
	}
	got := res.Token
	if got.Provider != "netlify" || got.Subject != "deploy-bot" || len(got.Scopes) != 2 {
		t.Fatalf("claims no round-trippean: %+v", got)
	}
}

func TestMint_UnknownProvider(t *testing.T) {
	a, _ := testAuthority(t)
	_, err := a.Mint(context.Background(), MintRequest{Provider: "vercel", Subject: "x"})
	if !errors.Is(err, ErrProviderUnknown) {
		t.Fatalf("esperaba ErrProviderUnknown, llegó %v", err)
	}
}

func TestMint_RequestedTTLShortensPolicy(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{
		Provider:     "netlify",
		Subject:      "x",
		RequestedTTL: 90 * time.Second,
	})
	if tok.TTL() != 90*time.Second {
		t.Fatalf("TTL pedido más corto debe respetarse, llegó %s", tok.TTL())
	}

	// Pedir más que la política no alarga
	tok = mustMint(t, a, MintRequest{
		Provider:     "netlify",
		Subject:      "x",
		RequestedTTL: 24 * time.Hour,
	})
	if tok.TTL() > time.Hour {
		t.Fatalf("el TTL nunca supera la política, llegó %s", tok.TTL())
	}
}

func TestMint_ProductionTierShortensTTL(t *testing.T) {
	a, _ := testAuthority(t)
	dev := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})
	prod := mustMint(t, a, MintRequest{Provider: "render", Subject: "x"})
	if prod.TTL() >= dev.TTL() {
		t.Fatalf("production debe acortar TTL: prod=%s dev=%s", prod.TTL(), dev.TTL())
	}
}

func TestVerify_Malformed(t *testing.T) {
	a, _ := testAuthority(t)
	for _, bad := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if res := a.Verify(context.Background(), bad, "ci"); res.Status != StatusMalformed {
			t.Errorf("Verify(%q) = %s, esperaba Malformed", bad, res.Status)
		}
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	flipped := []byte(tok.Signed)
	last := len(flipped) - 1
	if flipped[last] == 'A' {
		flipped[last] = 'B'
	} else {
		flipped[last] = 'A'
	}
	res := a.Verify(context.Background(), string(flipped), "ci")
	if res.Status != StatusTamperDetected {
		t.Fatalf("firma alterada debe dar TamperDetected, llegó %s", res.Status)
	}
}

func TestVerify_ExpiredWinsOverTamper(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	// Avanzar el reloj más allá del expiry
	a.now = func() time.Time { return tok.ExpiresAt.Add(time.Minute) }

	if res := a.Verify(context.Background(), tok.Signed, "ci"); res.Status != StatusExpired {
		t.Fatalf("esperaba Expired, llegó %s", res.Status)
	}

	// Expirado Y con firma rota: la expiración se reporta igual, el
	// chequeo es independiente de la firma.
	flipped := []byte(tok.Signed)
	if flipped[len(flipped)-1] == 'A' {
		flipped[len(flipped)-1] = 'B'
	} else {
		flipped[len(flipped)-1] = 'A'
	}
	if res := a.Verify(context.Background(), string(flipped), "ci"); res.Status != StatusExpired {
		t.Fatalf("expirado+alterado debe reportar Expired, llegó %s", res.Status)
	}
}

func TestMint_DuplicateNonceIsReplay(t *testing.T) {
	a, _ := testAuthority(t)
	fixed := time.Now().UTC().Truncate(time.Second)
	a.now = func() time.Time { return fixed }
	a.nonceFn = func() (string, error) { return "nonce-fijo", nil }

	if _, err := a.Mint(context.Background(), MintRequest{Provider: "netlify", Subject: "x"}); err != nil {
		t.Fatalf("primer mint: %v", err)
	}
	_, err := a.Mint(context.Background(), MintRequest{Provider: "netlify", Subject: "x"})
	if !errors.Is(err, ErrReplaySuspected) {
		t.Fatalf("nonce duplicado debe dar ErrReplaySuspected, llegó %v", err)
	}
}

func TestVerify_ForgedEnvelopeWithReusedNonce(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "deploy-bot"})

	// Envelope distinto con el mismo (provider, nonce, iat), firmado con
	// la clave legítima: firma válida, pero el registro del nonce apunta
	// a OTRO envelope.
	forged := &Token{
		Provider:  tok.Provider,
		Subject:   "otro-subject",
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		Nonce:     tok.Nonce,
		Epoch:     tok.Epoch,
	}
	key, err := a.keys.KeyFor(tok.Provider, tok.Epoch)
	if err != nil {
		t.Fatalf("KeyFor: %v", err)
	}
	if err := forged.sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}

	res := a.Verify(context.Background(), forged.Signed, "ci")
	if res.Status != StatusReplaySuspected {
		t.Fatalf("nonce re-usado debe dar ReplaySuspected, llegó %s", res.Status)
	}
	// El original sigue verificando
	if res := a.Verify(context.Background(), tok.Signed, "ci"); res.Status != StatusValid {
		t.Fatalf("el envelope legítimo debe seguir Valid, llegó %s", res.Status)
	}
}

func TestVerify_AfterRotationWithinGrace(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	epoch, err := a.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if epoch != 2 {
		t.Fatalf("época esperada 2, llegó %d", epoch)
	}

	// Token de la época 1 verifica durante la gracia
	if res := a.Verify(context.Background(), tok.Signed, "ci"); res.Status != StatusValid {
		t.Fatalf("época en gracia debe dar Valid, llegó %s", res.Status)
	}

	// Los nuevos se firman con la época activa
	fresh := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})
	if fresh.Epoch != 2 {
		t.Fatalf("mint post-rotación debe usar época 2, llegó %d", fresh.Epoch)
	}
}

func TestVerify_AfterGraceExpires(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	a.keys.SetGrace(-time.Second)
	if _, err := a.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if res := a.Verify(context.Background(), tok.Signed, "ci"); res.Status != StatusUnknownEpoch {
		t.Fatalf("gracia vencida debe dar UnknownEpoch, llegó %s", res.Status)
	}
}

func TestRevoke_TerminalAndVerifyRevoked(t *testing.T) {
	a, _ := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	if err := a.Revoke(context.Background(), tok); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if res := a.Verify(context.Background(), tok.Signed, "ci"); res.Status != StatusRevoked {
		t.Fatalf("esperaba Revoked, llegó %s", res.Status)
	}
	// Revocado no se renueva
	if _, err := a.RenewIfNearExpiry(context.Background(), tok, "ci", 0.99); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("renovar un revocado debe dar ErrTerminalState, llegó %v", err)
	}
}

func TestRevokeMintedAfter_OnlyNewerTokens(t *testing.T) {
	a, _ := testAuthority(t)
	base := time.Now().UTC().Truncate(time.Second)

	clock := base
	a.now = func() time.Time { return clock }

	old := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "old"})
	clock = base.Add(10 * time.Second)
	newer := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "newer"})

	n, err := a.RevokeMintedAfter(context.Background(), "netlify", base.Add(5*time.Second))
	if err != nil {
		t.Fatalf("RevokeMintedAfter: %v", err)
	}
	if n != 1 {
		t.Fatalf("esperaba revocar 1, revocó %d", n)
	}
	if res := a.Verify(context.Background(), newer.Signed, "ci"); res.Status != StatusRevoked {
		t.Fatalf("el posterior debe quedar Revoked, llegó %s", res.Status)
	}
	if res := a.Verify(context.Background(), old.Signed, "ci"); res.Status != StatusValid {
		t.Fatalf("el anterior debe seguir Valid, llegó %s", res.Status)
	}
}

func TestRenewIfNearExpiry(t *testing.T) {
	a, _ := testAuthority(t)
	base := time.Now().UTC().Truncate(time.Second)
	clock := base
	a.now = func() time.Time { return clock }

	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})
	ttl := tok.TTL()

	// Lejos del expiry: no renueva
	if _, err := a.RenewIfNearExpiry(context.Background(), tok, "ci", 0.2); !errors.Is(err, ErrNotNearExpiry) {
		t.Fatalf("lejos del expiry debe dar ErrNotNearExpiry, llegó %v", err)
	}

	// Dentro del último 20% de vida: renueva
	clock = tok.ExpiresAt.Add(-time.Duration(float64(ttl) * 0.1))
	nt, err := a.RenewIfNearExpiry(context.Background(), tok, "ci", 0.2)
	if err != nil {
		t.Fatalf("RenewIfNearExpiry: %v", err)
	}
	if nt.Nonce == tok.Nonce {
		t.Fatal("el renovado debe tener nonce propio")
	}
	if nt.Subject != tok.Subject || nt.Provider != tok.Provider {
		t.Fatalf("el renovado debe conservar identidad: %+v", nt)
	}
	if !nt.ExpiresAt.After(tok.ExpiresAt) {
		t.Fatal("el renovado debe extender el expiry")
	}

	// Expirado: terminal, se emite de cero
	clock = tok.ExpiresAt.Add(time.Minute)
	if _, err := a.RenewIfNearExpiry(context.Background(), tok, "ci", 0.2); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expirado debe dar ErrTerminalState, llegó %v", err)
	}
}

func TestLifecycle_EnsureFresh(t *testing.T) {
	a, _ := testAuthority(t)
	lc := NewLifecycle(a, 0.2)

	// Sin token vigente: mintea
	tok, err := lc.EnsureFresh(context.Background(), "netlify", "deploy-bot", nil, "ci")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	// Con token fresco: devuelve el mismo
	again, err := lc.EnsureFresh(context.Background(), "netlify", "deploy-bot", nil, "ci")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if again.Nonce != tok.Nonce {
		t.Fatal("con token fresco EnsureFresh no debe re-emitir")
	}
}

func TestMint_AuditTrailWithoutRawMaterial(t *testing.T) {
	a, sink := testAuthority(t)
	tok := mustMint(t, a, MintRequest{Provider: "netlify", Subject: "x"})

	recs := sink.Records()
	if len(recs) == 0 {
		t.Fatal("mint debe dejar registro de auditoría")
	}
	last := recs[len(recs)-1]
	if last.Action != audit.ActionMint || last.Outcome != "minted" {
		t.Fatalf("registro inesperado: %+v", last)
	}
	if last.Fields["nonce_hash"] == tok.Nonce {
		t.Fatal("la auditoría no puede contener el nonce crudo")
	}
}

func TestMint_FlaggedOutcomeConsistente(t *testing.T) {
	pol, err := resonance.Default()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	// Reloj del validador scripteado: baseline de gaps de 100ms y después
	// un gap de 10ms, bien por debajo de mediana/3 => Flag.
	cur := time.Unix(1_700_000_000, 0)
	v := zerotrust.New(zerotrust.Config{}).WithClock(func() time.Time { return cur })

	sink := audit.NewMemorySink()
	a, err := New(Config{
		Keys:      testKeys(t),
		Validator: v,
		Policy:    pol,
		Recorder:  audit.NewRecorder(sink),
		Providers: []Provider{{Name: "railway"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 10; i++ {
		mustMint(t, a, MintRequest{Provider: "railway", Subject: "bot", Actor: "ci"})
		cur = cur.Add(100 * time.Millisecond)
	}

	// El último observe fue en cur-100ms; el próximo llega 10ms después.
	cur = cur.Add(-90 * time.Millisecond)
	tok := mustMint(t, a, MintRequest{Provider: "railway", Subject: "bot", Actor: "ci"})
	if tok == nil {
		t.Fatal("un mint marcado procede igual")
	}

	recs := sink.Records()
	last := recs[len(recs)-1]
	if last.Action != audit.ActionMint || last.Outcome != "minted_flagged" {
		t.Fatalf("esperaba outcome minted_flagged en auditoría: %+v", last)
	}

	// Métrica y auditoría cuentan lo mismo: 10 limpios, 1 marcado.
	if got := testutil.ToFloat64(metrics.MintOutcomes.WithLabelValues("railway", "minted_flagged")); got != 1 {
		t.Fatalf("contador minted_flagged esperado 1, llegó %v", got)
	}
	if got := testutil.ToFloat64(metrics.MintOutcomes.WithLabelValues("railway", "minted")); got != 10 {
		t.Fatalf("contador minted esperado 10, llegó %v", got)
	}
}
