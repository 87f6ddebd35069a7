// Package audit emite registros inmutables append-only hacia un sink
// externo de observabilidad. Este core garantiza la creación del registro,
// no su almacenamiento ni retención.
//
// Ningún material criptográfico entra a un registro: solo identificadores,
// decisiones y el score de resonancia vigente.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action enumera las acciones auditables.
type Action string

const (
	ActionMint     Action = "mint"
	ActionRenew    Action = "renew"
	ActionReject   Action = "reject"
	ActionScan     Action = "scan"
	ActionDeploy   Action = "deploy"
	ActionRollback Action = "rollback"
)

// Record es un registro de auditoría. Inmutable una vez emitido.
type Record struct {
	ID              string         `json:"id"`
	Action          Action         `json:"action"`
	Timestamp       time.Time      `json:"ts"`
	Outcome         string         `json:"outcome"`
	ResonanceAtTime float64        `json:"resonance_at_time"`
	Fields          map[string]any `json:"fields,omitempty"`
}

// Sink recibe registros. Append no debe bloquear operaciones del caller.
type Sink interface {
	Append(ctx context.Context, r Record)
}

// Recorder arma y emite registros con ID y timestamp propios.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = NewZapSink()
	}
	return &Recorder{sink: sink, now: time.Now}
}

// Record emite un registro con el outcome y la resonancia vigente.
func (r *Recorder) Record(ctx context.Context, action Action, outcome string, resonance float64, fields map[string]any) {
	r.sink.Append(ctx, Record{
		ID:              uuid.NewString(),
		Action:          action,
		Timestamp:       r.now().UTC(),
		Outcome:         outcome,
		ResonanceAtTime: resonance,
		Fields:          fields,
	})
}

// ZapSink escribe registros como log estructurado. Default en producción:
// el pipeline de logs es el colaborador de observabilidad.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink() *ZapSink {
	return &ZapSink{log: logger.Named("audit")}
}

func (s *ZapSink) Append(ctx context.Context, r Record) {
	s.log.Info("audit",
		zap.String("audit_id", r.ID),
		zap.String("action", string(r.Action)),
		zap.Time("ts", r.Timestamp),
		logger.Outcome(r.Outcome),
		logger.Resonance(r.ResonanceAtTime),
		zap.Any("fields", r.Fields),
	)
}

// MemorySink acumula registros en memoria. Para tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(ctx context.Context, r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Records retorna una copia de lo acumulado.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
