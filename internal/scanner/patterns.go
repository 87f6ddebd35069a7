// Package scanner detecta shapes de secretos en texto plano.
//
// El set de patrones es fijo y ordenado: se extiende agregando variantes,
// nunca parcheando en runtime. El primer patrón que matchea en una línea
// gana; un archivo puede producir múltiples hallazgos de líneas distintas.
// El texto matcheado nunca se almacena, solo un hash truncado.
package scanner

import (
	"math"
	"regexp"
)

// Severity de un hallazgo.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	CriticalSeverity
)

func (s Severity) String() string {
	switch s {
	case CriticalSeverity:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// Pattern es una variante etiquetada: nombre, matcher y severidad.
type Pattern struct {
	Kind     string
	Severity Severity
	re       *regexp.Regexp

	// minEntropy, si es > 0, exige entropía Shannon mínima (bits/byte)
	// sobre el texto matcheado. Filtra hex largos y strings repetitivos.
	minEntropy float64
}

// entropyThreshold: 4.0 bits/byte, el mismo corte que usa la admisión
// zero-trust para secretos re-envueltos.
const entropyThreshold = 4.0

// defaultPatterns en orden de precedencia: headers de claves privadas y
// shapes de credenciales de providers primero, genéricos después.
var defaultPatterns = []Pattern{
	{
		Kind:     "private-key-header",
		Severity: CriticalSeverity,
		re:       regexp.MustCompile(`-----BEGIN\s+(?:[A-Z]+ )*PRIVATE KEY-----`),
	},
	{
		Kind:     "aws-access-key",
		Severity: CriticalSeverity,
		re:       regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	},
	{
		Kind:     "github-token",
		Severity: CriticalSeverity,
		re:       regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
	},
	{
		Kind:     "netlify-token",
		Severity: CriticalSeverity,
		re:       regexp.MustCompile(`nf[kp]_[A-Za-z0-9]{40,}`),
	},
	{
		Kind:     "render-token",
		Severity: CriticalSeverity,
		re:       regexp.MustCompile(`rnd_[A-Za-z0-9]{32,}`),
	},
	{
		// Antes que el genérico de alta entropía: un JWT también es
		// base64url largo y quedaría mal clasificado como High.
		Kind:     "jwt",
		Severity: Medium,
		re:       regexp.MustCompile(`eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`),
	},
	{
		Kind:       "high-entropy-token",
		Severity:   High,
		re:         regexp.MustCompile(`[A-Za-z0-9+/_\-]{32,}`),
		minEntropy: entropyThreshold,
	},
	{
		Kind:     "password-literal",
		Severity: Medium,
		re:       regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{6,}`),
	},
	{
		Kind:     "credential-assignment",
		Severity: Low,
		re:       regexp.MustCompile(`(?i)(?:secret|token|api[_-]?key|credential)\s*[:=]\s*['"]?[^\s'"]{8,}`),
	},
}

// ignoreLine: falsos positivos esperados (templates, placeholders,
// ejemplos) y nuestras propias variables gestionadas.
var ignoreLine = []*regexp.Regexp{
	regexp.MustCompile(`TOKENFORGE_ROOT_KEY`),
	regexp.MustCompile(`\$\{[^}]+\}`),
	regexp.MustCompile(`<[^>]+>`),
	regexp.MustCompile(`(?i)example|sample|dummy|placeholder|changeme`),
}

// excludeFile: sufijos de archivos que son plantillas, no secretos.
var excludeFile = []string{".example", ".template", ".sample"}

// Match describe qué patrón matcheó, sin exponer el texto.
type Match struct {
	Kind     string
	Severity Severity
}

// MatchLine corre el set ordenado contra una línea. El primer patrón que
// matchea gana. Retorna además el texto matcheado para que el caller lo
// hashee; nunca debe almacenarse.
func MatchLine(line string) (Match, string, bool) {
	for _, ig := range ignoreLine {
		if ig.MatchString(line) {
			return Match{}, "", false
		}
	}
	for i := range defaultPatterns {
		p := &defaultPatterns[i]
		loc := p.re.FindString(line)
		if loc == "" {
			continue
		}
		if p.minEntropy > 0 && Entropy(loc) < p.minEntropy {
			continue
		}
		return Match{Kind: p.Kind, Severity: p.Severity}, loc, true
	}
	return Match{}, "", false
}

// MatchesSecretShape reporta si un string tiene shape de secreto conocido.
// La admisión zero-trust lo usa para rechazar mints que re-envuelven un
// secreto estático ya filtrado.
func MatchesSecretShape(s string) bool {
	for i := range defaultPatterns {
		if defaultPatterns[i].re.MatchString(s) {
			return true
		}
	}
	return false
}

// Entropy calcula la entropía Shannon sobre el histograma de bytes,
// en bits por byte.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	var hist [256]int
	for i := 0; i < len(s); i++ {
		hist[s[i]]++
	}
	n := float64(len(s))
	e := 0.0
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		e -= p * math.Log2(p)
	}
	return e
}
