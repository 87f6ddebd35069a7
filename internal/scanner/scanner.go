package scanner

import (
	"bufio"
	"io/fs"
	"iter"
	"strings"

	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/security/tokens"
	"go.uber.org/zap"
)

// Finding es un hallazgo por línea. Nunca contiene el texto matcheado:
// SnippetHash es un SHA-256 truncado para correlación entre corridas.
type Finding struct {
	Path        string   `json:"path"`
	Line        int      `json:"line"`
	PatternKind string   `json:"pattern_kind"`
	Severity    Severity `json:"-"`
	SeverityStr string   `json:"severity"`
	SnippetHash string   `json:"snippet_hash"`
}

// scanErrorKind marca hallazgos producidos por errores de IO: severidad
// Low, el scan continúa con el resto de los archivos.
const scanErrorKind = "scan-error"

// maxLineBytes limita líneas gigantes (archivos minificados, binarios).
const maxLineBytes = 1 << 20

// Scanner recorre un file-tree read-only y emite hallazgos.
type Scanner struct {
	log *zap.Logger
}

func New() *Scanner {
	return &Scanner{log: logger.Named("scanner")}
}

// Scan produce una secuencia lazy, finita y reiniciable de hallazgos sobre
// los roots dados. No hay cursor persistido: cada range vuelve a recorrer.
// Nunca escribe en el filesystem.
func (s *Scanner) Scan(fsys fs.FS, roots ...string) iter.Seq[Finding] {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	return func(yield func(Finding) bool) {
		for _, root := range roots {
			stop := false
			_ = fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
				if stop {
					return fs.SkipAll
				}
				if err != nil {
					if !yield(ioFinding(path)) {
						stop = true
					}
					return nil
				}
				if d.IsDir() || excluded(path) {
					return nil
				}
				if !s.scanFile(fsys, path, yield) {
					stop = true
				}
				return nil
			})
			if stop {
				return
			}
		}
	}
}

// ScanAll materializa la secuencia completa. Conveniencia para el gate de
// deploy y la CLI.
func (s *Scanner) ScanAll(fsys fs.FS, roots ...string) []Finding {
	var out []Finding
	for f := range s.Scan(fsys, roots...) {
		out = append(out, f)
	}
	return out
}

// scanFile emite los hallazgos de un archivo. Retorna false si el
// consumidor cortó la secuencia.
func (s *Scanner) scanFile(fsys fs.FS, path string, yield func(Finding) bool) bool {
	f, err := fsys.Open(path)
	if err != nil {
		s.log.Debug("open failed", logger.Path(path), logger.Err(err))
		return yield(ioFinding(path))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		m, matched, ok := MatchLine(text)
		if !ok {
			continue
		}
		fd := Finding{
			Path:        path,
			Line:        line,
			PatternKind: m.Kind,
			Severity:    m.Severity,
			SeverityStr: m.Severity.String(),
			SnippetHash: tokens.Hash16(matched),
		}
		if !yield(fd) {
			return false
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Debug("read failed", logger.Path(path), logger.Err(err))
		return yield(ioFinding(path))
	}
	return true
}

func ioFinding(path string) Finding {
	return Finding{
		Path:        path,
		PatternKind: scanErrorKind,
		Severity:    Low,
		SeverityStr: Low.String(),
	}
}

func excluded(path string) bool {
	for _, suf := range excludeFile {
		if strings.HasSuffix(path, suf) {
			return true
		}
	}
	return false
}
