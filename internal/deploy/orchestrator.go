// Package deploy secuencia scanner + verificación de tokens antes de
// permitir un deploy, y soporta rollback con revocación masiva.
//
// PreDeployCheck es read-only y cancelable en cualquier momento antes del
// Pass; corre con timeout acotado y falla cerrado si se agota. Una vez
// que Deploy empezó, solo Rollback lo deshace.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/audit"
	"github.com/dropDatabas3/tokenforge/internal/authority"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/metrics"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/resonance"
	"github.com/dropDatabas3/tokenforge/internal/scanner"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCheckFailed     = errors.New("pre_deploy_check_failed")
	ErrRevisionUnknown = errors.New("revision_unknown")
)

// DefaultCheckTimeout acota PreDeployCheck. Se agota => Fail, nunca cuelga.
const DefaultCheckTimeout = 30 * time.Second

// Report es el resultado de un pre-deploy check.
type Report struct {
	Pass               bool           `json:"pass"`
	Scan               scanner.Report `json:"scan"`
	Violations         []string       `json:"violations,omitempty"`
	RootKeyFingerprint string         `json:"root_key_fingerprint,omitempty"`
	Timestamp          time.Time      `json:"ts"`
}

// Orchestrator compone scanner, autoridad y auditoría.
type Orchestrator struct {
	scanner   *scanner.Scanner
	authority *authority.Authority
	keys      *keys.Source
	recorder  *audit.Recorder
	feed      resonance.Feed
	applier   Applier
	timeout   time.Duration

	mu       sync.Mutex
	history  map[string][]Revision // por target, en orden de deploy
	lastGood map[string]Revision

	log *zap.Logger
}

// Config del orquestador. Scanner, Authority y Keys son obligatorios.
type Config struct {
	Scanner   *scanner.Scanner
	Authority *authority.Authority
	Keys      *keys.Source
	Recorder  *audit.Recorder
	Feed      resonance.Feed
	Applier   Applier
	Timeout   time.Duration
}

func New(cfg Config) *Orchestrator {
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(nil)
	}
	if cfg.Feed == nil {
		cfg.Feed = resonance.StaticFeed{Score: 75}
	}
	if cfg.Applier == nil {
		cfg.Applier = noopApplier{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckTimeout
	}
	return &Orchestrator{
		scanner:   cfg.Scanner,
		authority: cfg.Authority,
		keys:      cfg.Keys,
		recorder:  cfg.Recorder,
		feed:      cfg.Feed,
		applier:   cfg.Applier,
		timeout:   cfg.Timeout,
		history:   make(map[string][]Revision),
		lastGood:  make(map[string]Revision),
		log:       logger.Named("deploy"),
	}
}

// PreDeployCheck corre scanner y verificación de tokens en paralelo, con
// timeout acotado. Cualquier hallazgo Critical/High fuerza Fail; cualquier
// token no-Valid fuerza Fail; timeout o cancelación fuerza Fail.
// Hasta el Pass todo es read-only: cancelar siempre es seguro.
func (o *Orchestrator) PreDeployCheck(ctx context.Context, target Target) Report {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sample, _ := o.feed.Sample(ctx)
	rep := Report{Timestamp: time.Now().UTC()}

	if fp, err := o.keys.Fingerprint(); err == nil {
		rep.RootKeyFingerprint = fp
	} else {
		rep.Violations = append(rep.Violations, "root_key_unavailable")
	}

	var (
		findings   []scanner.Finding
		violations []string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for f := range o.scanner.Scan(target.FS, target.Roots...) {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			findings = append(findings, f)
			metrics.ScanFindings.WithLabelValues(f.SeverityStr).Inc()
		}
		return nil
	})

	g.Go(func() error {
		for _, provider := range target.Providers {
			for _, tok := range o.authority.LiveTokens(provider) {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res := o.authority.Verify(gctx, tok.Signed, "deploy-gate")
				if res.Status != authority.StatusValid {
					violations = append(violations,
						fmt.Sprintf("token %s: %s", provider, res.Status))
				}
			}
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		// Timeout/cancelación: fail closed.
		rep.Violations = append(rep.Violations, "check_timeout")
		rep.Scan = scanner.Summarize(findings)
		o.finishCheck(ctx, &rep, target, sample.Score)
		return rep
	}

	rep.Scan = scanner.Summarize(findings)
	rep.Violations = append(rep.Violations, violations...)
	rep.Pass = !rep.Scan.Blocking() && len(rep.Violations) == 0
	o.finishCheck(ctx, &rep, target, sample.Score)
	return rep
}

func (o *Orchestrator) finishCheck(ctx context.Context, rep *Report, target Target, score float64) {
	result := "fail"
	if rep.Pass {
		result = "pass"
	}
	metrics.DeployChecks.WithLabelValues(result).Inc()
	o.recorder.Record(ctx, audit.ActionScan, rep.Scan.Status, score, map[string]any{
		"target":     target.Name,
		"findings":   len(rep.Scan.Findings),
		"violations": len(rep.Violations),
	})
	o.log.Info("pre-deploy check",
		logger.Target(target.Name),
		logger.Outcome(result),
		logger.Count(len(rep.Scan.Findings)),
	)
}

// Deploy corre el check y, solo con Pass, registra la revisión nueva y la
// aplica. La revisión queda como última conocida-buena.
func (o *Orchestrator) Deploy(ctx context.Context, target Target, artifact string) (Revision, error) {
	rep := o.PreDeployCheck(ctx, target)
	if !rep.Pass {
		return Revision{}, fmt.Errorf("deploy %s: %w", target.Name, ErrCheckFailed)
	}

	rev := Revision{
		ID:        uuid.NewString(),
		Target:    target.Name,
		Timestamp: time.Now().UTC(),
		Artifact:  artifact,
	}
	if err := o.applier.Apply(ctx, target.Name, rev); err != nil {
		return Revision{}, fmt.Errorf("deploy %s: apply: %w", target.Name, err)
	}

	o.mu.Lock()
	o.history[target.Name] = append(o.history[target.Name], rev)
	o.lastGood[target.Name] = rev
	o.mu.Unlock()

	sample, _ := o.feed.Sample(ctx)
	o.recorder.Record(ctx, audit.ActionDeploy, "deployed", sample.Score, map[string]any{
		"target":   target.Name,
		"revision": rev.ID,
	})
	o.log.Info("deployed", logger.Target(target.Name), logger.Revision(rev.ID))
	return rev, nil
}

// Rollback vuelve el target a la revisión conocida-buena dada: re-aplica
// su artefacto y revoca todo token emitido después de su timestamp para
// los providers del target (los tokens de la revisión fallida incluidos).
func (o *Orchestrator) Rollback(ctx context.Context, target Target, toRevision string) error {
	o.mu.Lock()
	var good *Revision
	for i := range o.history[target.Name] {
		if o.history[target.Name][i].ID == toRevision {
			good = &o.history[target.Name][i]
			break
		}
	}
	o.mu.Unlock()

	if good == nil {
		return fmt.Errorf("rollback %s: %q: %w", target.Name, toRevision, ErrRevisionUnknown)
	}

	if err := o.applier.Apply(ctx, target.Name, *good); err != nil {
		return fmt.Errorf("rollback %s: re-apply %s: %w", target.Name, good.ID, err)
	}
	o.mu.Lock()
	o.lastGood[target.Name] = *good
	o.mu.Unlock()

	var revokedTotal int
	for _, provider := range target.Providers {
		n, err := o.authority.RevokeMintedAfter(ctx, provider, good.Timestamp)
		revokedTotal += n
		if err != nil {
			return fmt.Errorf("rollback %s: revoke %s: %w", target.Name, provider, err)
		}
	}

	sample, _ := o.feed.Sample(ctx)
	o.recorder.Record(ctx, audit.ActionRollback, "rolled_back", sample.Score, map[string]any{
		"target":      target.Name,
		"to_revision": toRevision,
		"revoked":     revokedTotal,
	})
	o.log.Info("rollback",
		logger.Target(target.Name),
		logger.Revision(toRevision),
		logger.Count(revokedTotal),
	)
	return nil
}

// LastGood retorna la última revisión conocida-buena del target.
func (o *Orchestrator) LastGood(target string) (Revision, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rev, ok := o.lastGood[target]
	return rev, ok
}
