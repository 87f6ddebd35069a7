package resonance

import (
	"context"
	"encoding/json"
	"os"
)

// Sample es una lectura del feed de resonancia. Input no confiable:
// los consumidores deben pasar Score por ClampScore antes de usarlo
// (Feed implementations ya lo hacen).
type Sample struct {
	Score       float64 `json:"resonance_score"`
	Environment string  `json:"environment"`
}

// Feed provee la lectura vigente de resonancia. Este core solo consume el
// score, nunca lo computa.
type Feed interface {
	Sample(ctx context.Context) (Sample, error)
}

// defaultScore cuando no hay estado disponible: asumir salud normal en vez
// de bloquear la emisión entera.
const defaultScore = 75.0

// StaticFeed retorna siempre el mismo sample. Para tests y para operar con
// un score fijado por configuración.
type StaticFeed struct {
	Score       float64
	Environment string
}

func (f StaticFeed) Sample(ctx context.Context) (Sample, error) {
	return Sample{Score: ClampScore(f.Score), Environment: f.Environment}, nil
}

// FileFeed lee el sample de un documento JSON de estado externo
// ({"resonance_score": ..., "environment": ...}). Si el archivo no existe
// o no parsea, retorna el default: la ausencia del feed degrada la política,
// no la disponibilidad.
type FileFeed struct {
	Path        string
	Environment string // fallback si el documento no trae entorno
}

func (f FileFeed) Sample(ctx context.Context) (Sample, error) {
	out := Sample{Score: defaultScore, Environment: f.Environment}

	b, err := os.ReadFile(f.Path)
	if err != nil {
		return out, nil
	}
	var doc Sample
	if err := json.Unmarshal(b, &doc); err != nil {
		return out, nil
	}
	out.Score = ClampScore(doc.Score)
	if doc.Environment != "" {
		out.Environment = doc.Environment
	}
	return out, nil
}
