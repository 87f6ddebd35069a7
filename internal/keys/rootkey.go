// Package keys es el dueño del root key del proceso y de las claves
// derivadas por (provider, época).
//
// El root key vive solo en memoria, se rota con protocolo de épocas
// (la época anterior queda legible durante una ventana de gracia para que
// los tokens en vuelo sigan verificando) y se zeroiza en Close.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// rootKeySize: 32 bytes => 256 bits.
	rootKeySize = 32

	// DefaultGrace es la ventana durante la cual la época anterior
	// sigue siendo legible después de una rotación.
	DefaultGrace = 5 * time.Minute

	// EnvRootKey es la variable de entorno con el root key en base64.
	EnvRootKey = "TOKENFORGE_ROOT_KEY"
)

var (
	ErrRootKeyUnavailable = errors.New("root_key_unavailable")
	ErrUnknownEpoch       = errors.New("unknown_epoch")
)

// Source posee el root key y controla su ciclo de vida.
// Read-mostly: muchos lectores concurrentes entre rotaciones, escritor
// exclusivo solo durante Rotate y Close.
type Source struct {
	mu sync.RWMutex

	key   []byte
	epoch uint64

	prevKey   []byte
	prevEpoch uint64
	prevUntil time.Time

	grace  time.Duration
	closed bool
	now    func() time.Time

	derived map[string][]byte // cache por "provider/epoch"
}

// Generate crea un Source con un root key aleatorio nuevo.
func Generate() (*Source, error) {
	k := make([]byte, rootKeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("keys: generate root: %w", err)
	}
	return newSource(k), nil
}

// FromBytes crea un Source con material explícito (copia el slice).
func FromBytes(raw []byte) (*Source, error) {
	if len(raw) != rootKeySize {
		return nil, fmt.Errorf("keys: root key debe ser de %d bytes, llegó %d: %w",
			rootKeySize, len(raw), ErrRootKeyUnavailable)
	}
	k := make([]byte, rootKeySize)
	copy(k, raw)
	return newSource(k), nil
}

// FromEnv carga el root key (base64) desde EnvRootKey.
// Si la variable no está seteada retorna ErrRootKeyUnavailable: el
// arranque debe abortar, nunca operar sin root key.
func FromEnv() (*Source, error) {
	b64 := strings.TrimSpace(os.Getenv(EnvRootKey))
	if b64 == "" {
		return nil, fmt.Errorf("keys: %s no seteada; genere una con: openssl rand -base64 32: %w",
			EnvRootKey, ErrRootKeyUnavailable)
	}
	return decodeB64(b64)
}

// FromFile carga el root key (base64) desde un archivo.
func FromFile(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: leer %s: %w", path, ErrRootKeyUnavailable)
	}
	return decodeB64(strings.TrimSpace(string(b)))
}

func decodeB64(b64 string) (*Source, error) {
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode base64: %w", ErrRootKeyUnavailable)
	}
	return FromBytes(k)
}

func newSource(key []byte) *Source {
	return &Source{
		key:     key,
		epoch:   1,
		grace:   DefaultGrace,
		now:     time.Now,
		derived: make(map[string][]byte),
	}
}

// SetGrace ajusta la ventana de gracia post-rotación.
func (s *Source) SetGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

// Epoch retorna la época activa.
func (s *Source) Epoch() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrRootKeyUnavailable
	}
	return s.epoch, nil
}

// Rotate genera un root key nuevo y avanza la época. La época anterior
// queda legible durante la ventana de gracia. Fase exclusiva breve: solo
// el swap de punteros ocurre bajo el write-lock.
func (s *Source) Rotate() (uint64, error) {
	nk := make([]byte, rootKeySize)
	if _, err := rand.Read(nk); err != nil {
		return 0, fmt.Errorf("keys: rotate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrRootKeyUnavailable
	}

	// Zeroizar la gracia previa antes de pisarla
	zeroize(s.prevKey)

	s.prevKey = s.key
	s.prevEpoch = s.epoch
	s.prevUntil = s.now().Add(s.grace)

	s.key = nk
	s.epoch++

	// Las derivadas cacheadas de épocas más viejas que la retiring ya no
	// pueden verificar nada: fuera.
	for ck := range s.derived {
		if !strings.HasSuffix(ck, epochSuffix(s.epoch)) && !strings.HasSuffix(ck, epochSuffix(s.prevEpoch)) {
			zeroize(s.derived[ck])
			delete(s.derived, ck)
		}
	}
	return s.epoch, nil
}

// Fingerprint retorna los primeros 16 hex del SHA-256 del root key,
// para auditoría. El material crudo nunca sale del paquete.
func (s *Source) Fingerprint() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrRootKeyUnavailable
	}
	sum := sha256.Sum256(s.key)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Close zeroiza todo el material y deja el Source inutilizable.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	zeroize(s.key)
	zeroize(s.prevKey)
	for ck, d := range s.derived {
		zeroize(d)
		delete(s.derived, ck)
	}
	s.key = nil
	s.prevKey = nil
	s.closed = true
	return nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func epochSuffix(e uint64) string {
	return fmt.Sprintf("/%d", e)
}
