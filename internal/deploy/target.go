package deploy

import (
	"context"
	"io/fs"
	"time"
)

// Target es lo que se quiere deployar: su file-tree (read-only), los
// roots a escanear y los providers cuyos tokens deben estar Valid.
type Target struct {
	Name      string
	FS        fs.FS
	Roots     []string
	Providers []string
}

// Revision identifica un artefacto deployado.
type Revision struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"ts"`
	Artifact  string    `json:"artifact"`
}

// Applier aplica un artefacto al target. Colaborador externo: el core
// solo secuencia, no sabe cómo se despliega.
type Applier interface {
	Apply(ctx context.Context, target string, rev Revision) error
}

// noopApplier: default cuando nadie inyecta un Applier real.
type noopApplier struct{}

func (noopApplier) Apply(ctx context.Context, target string, rev Revision) error { return nil }
