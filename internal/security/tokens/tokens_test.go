package tokens_test

import (
	"testing"

	"github.com/dropDatabas3/tokenforge/internal/security/tokens"
)

func TestGenerateNonce_UniqueAndURLSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n, err := tokens.GenerateNonce(16)
		if err != nil {
			t.Fatalf("GenerateNonce: %v", err)
		}
		if len(n) != 22 { // 16 bytes base64url sin padding
			t.Fatalf("largo inesperado: %d", len(n))
		}
		if seen[n] {
			t.Fatal("nonce repetido")
		}
		seen[n] = true
	}
}

func TestHash16(t *testing.T) {
	h := tokens.Hash16("hola")
	if len(h) != 16 {
		t.Fatalf("largo esperado 16, llegó %d", len(h))
	}
	if h != tokens.Hash16("hola") {
		t.Fatal("el hash debe ser determinístico")
	}
	if h == tokens.Hash16("hole") {
		t.Fatal("inputs distintos no pueden colisionar acá")
	}
	if tokens.SHA256Hex("hola")[:16] != h {
		t.Fatal("Hash16 es el prefijo del SHA-256 completo")
	}
}
