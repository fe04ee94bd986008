package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	led, err := Open(filepath.Join(t.TempDir(), "launches.db"))
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	return led
}

func TestRecordAndQueryBatch(t *testing.T) {
	led := openTestLedger(t)

	batch := Batch{
		ID:        "batch-1",
		Stamp:     "20260831_120000",
		PlanPath:  "plan.yaml",
		JobCount:  3,
		StartedAt: time.Now(),
	}
	if err := led.RecordBatch(batch); err != nil {
		t.Fatalf("Failed to record batch: %v", err)
	}

	batches, err := led.Batches(10)
	if err != nil {
		t.Fatalf("Failed to list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if batches[0].ID != "batch-1" || batches[0].JobCount != 3 {
		t.Fatalf("Unexpected batch record: %+v", batches[0])
	}
}

func TestRecordAndQueryLaunches(t *testing.T) {
	led := openTestLedger(t)

	if err := led.RecordBatch(Batch{ID: "b", Stamp: "s", PlanPath: "p", JobCount: 2, StartedAt: time.Now()}); err != nil {
		t.Fatalf("Failed to record batch: %v", err)
	}

	launches := []Launch{
		{BatchID: "b", JobName: "exp1", PID: 101, Device: 0, LogPath: "/logs/exp1.log", OutputPath: "/out/exp1.json", StartedAt: time.Now()},
		{BatchID: "b", JobName: "exp2", PID: 0, Device: 3, LogPath: "/logs/exp2.log", OutputPath: "/out/exp2.json", StartedAt: time.Now(), Error: "start worker: no such file"},
	}
	for _, rec := range launches {
		if err := led.RecordLaunch(rec); err != nil {
			t.Fatalf("Failed to record launch %s: %v", rec.JobName, err)
		}
	}

	got, err := led.Launches("b")
	if err != nil {
		t.Fatalf("Failed to query launches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 launches, got %d", len(got))
	}
	if got[0].JobName != "exp1" || got[0].PID != 101 {
		t.Fatalf("Unexpected first launch: %+v", got[0])
	}
	if got[1].Error == "" {
		t.Fatal("Expected second launch to carry its start error")
	}
}

func TestLaunchesUnknownBatch(t *testing.T) {
	led := openTestLedger(t)

	got, err := led.Launches("nope")
	if err != nil {
		t.Fatalf("Failed to query launches: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no launches, got %d", len(got))
	}
}
