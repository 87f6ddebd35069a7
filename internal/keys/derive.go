package keys

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// derivedKeySize: 32 bytes para HMAC-SHA256.
const derivedKeySize = 32

// KeyFor deriva (o devuelve cacheada) la clave de firma para un
// (provider, época) vía HKDF-SHA256 sobre el root key de esa época.
// Épocas válidas: la activa, y la anterior mientras dure la gracia.
func (s *Source) KeyFor(provider string, epoch uint64) ([]byte, error) {
	if provider == "" {
		return nil, fmt.Errorf("keys: provider vacío: %w", ErrUnknownEpoch)
	}

	cacheKey := provider + epochSuffix(epoch)

	s.mu.RLock()
	if d, ok := s.derived[cacheKey]; ok && !s.closed {
		out := make([]byte, len(d))
		copy(out, d)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrRootKeyUnavailable
	}

	// Double-check: otro goroutine pudo derivarla mientras esperábamos.
	if d, ok := s.derived[cacheKey]; ok {
		out := make([]byte, len(d))
		copy(out, d)
		return out, nil
	}

	root, err := s.rootForEpochLocked(epoch)
	if err != nil {
		return nil, err
	}

	info := fmt.Sprintf("tokenforge/v1/%s/%d", provider, epoch)
	r := hkdf.New(sha256.New, root, nil, []byte(info))
	d := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(r, d); err != nil {
		return nil, fmt.Errorf("keys: hkdf %s: %w", provider, err)
	}

	s.derived[cacheKey] = d
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

// CurrentKeyFor deriva la clave del provider para la época activa y la
// retorna junto con la época, para firmar.
func (s *Source) CurrentKeyFor(provider string) ([]byte, uint64, error) {
	epoch, err := s.Epoch()
	if err != nil {
		return nil, 0, err
	}
	k, err := s.KeyFor(provider, epoch)
	if err != nil {
		return nil, 0, err
	}
	return k, epoch, nil
}

// rootForEpochLocked resuelve el root de una época bajo el lock ya tomado.
func (s *Source) rootForEpochLocked(epoch uint64) ([]byte, error) {
	switch epoch {
	case s.epoch:
		return s.key, nil
	case s.prevEpoch:
		if s.prevKey == nil || s.now().After(s.prevUntil) {
			// La gracia venció: purgar derivadas de esa época de forma
			// oportunista y reportar época desconocida.
			for ck := range s.derived {
				if hasEpochSuffix(ck, epoch) {
					zeroize(s.derived[ck])
					delete(s.derived, ck)
				}
			}
			return nil, ErrUnknownEpoch
		}
		return s.prevKey, nil
	default:
		return nil, ErrUnknownEpoch
	}
}

func hasEpochSuffix(cacheKey string, epoch uint64) bool {
	suf := epochSuffix(epoch)
	return len(cacheKey) >= len(suf) && cacheKey[len(cacheKey)-len(suf):] == suf
}
