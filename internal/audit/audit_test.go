package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/audit"
)

func TestRecorder_AppendsImmutableRecords(t *testing.T) {
	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(sink)

	rec.Record(context.Background(), audit.ActionMint, "minted", 82.5, map[string]any{
		"provider": "netlify",
	})
	rec.Record(context.Background(), audit.ActionReject, "rate_limited", 82.5, nil)

	records := sink.Records()
	if len(records) != 2 {
		t.Fatalf("esperaba 2 registros, llegaron %d", len(records))
	}

	first := records[0]
	if first.ID == "" {
		t.Fatal("cada registro lleva ID propio")
	}
	if first.Action != audit.ActionMint || first.Outcome != "minted" {
		t.Fatalf("registro inesperado: %+v", first)
	}
	if first.ResonanceAtTime != 82.5 {
		t.Fatalf("el score vigente debe quedar en el registro: %v", first.ResonanceAtTime)
	}
	if time.Since(first.Timestamp) > time.Minute {
		t.Fatalf("timestamp fuera de rango: %v", first.Timestamp)
	}
	if first.ID == records[1].ID {
		t.Fatal("los IDs no pueden repetirse")
	}

	// Records() es una copia: mutarla no toca el sink
	records[0].Outcome = "mutado"
	if sink.Records()[0].Outcome != "minted" {
		t.Fatal("el sink no puede verse afectado por copias mutadas")
	}
}

func TestRecorder_NilSinkDefaultsToLog(t *testing.T) {
	rec := audit.NewRecorder(nil)
	// No debe paniquear ni requerir sink explícito
	rec.Record(context.Background(), audit.ActionScan, "CLEAN", 75, nil)
}
