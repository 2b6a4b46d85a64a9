package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

func sampleStore(t *testing.T) *globals.Store {
	t.Helper()
	st := globals.NewStore()
	nodes := []globals.Entry{
		{Global: "^DPT", Subs: []globals.Subscript{globals.Int(0)}, Value: `"PATIENT"^2^1^3241015`},
		{Global: "^DPT", Subs: []globals.Subscript{globals.Int(1), globals.Int(0)}, Value: `"DOE,JOHN"^"M"^2800515`},
		{Global: "^DPT", Subs: []globals.Subscript{globals.Str("B"), globals.Str("DOE,JOHN"), globals.Int(1)}, Value: `""`},
		{Global: "^AUPNVSIT", Subs: []globals.Subscript{globals.Int(1), globals.Int(0)}, Value: `3240115.103^"A"^1`},
	}
	if err := st.PutAll(nodes); err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	return st
}

func TestSnapshotDB_SaveLoad(t *testing.T) {
	ctx := context.Background()
	sdb, err := OpenSnapshotDB(filepath.Join(t.TempDir(), "out", "export.db"))
	if err != nil {
		t.Fatalf("OpenSnapshotDB: %v", err)
	}
	defer sdb.Close()

	st := sampleStore(t)
	run := RunInfo{RunID: "run-1", Mode: "pointer-clean", ExportDate: "2024-10-15"}
	if err := sdb.Save(ctx, run, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := sdb.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.String() != st.String() {
		t.Errorf("reloaded store differs:\n%s\nwant:\n%s", loaded, st)
	}

	runs, err := sdb.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Entries != 4 || runs[0].Mode != "pointer-clean" || runs[0].CreatedAt.IsZero() {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestSnapshotDB_Errors(t *testing.T) {
	ctx := context.Background()
	sdb, err := OpenSnapshotDB(filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("OpenSnapshotDB: %v", err)
	}
	defer sdb.Close()

	if _, err := sdb.Load(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	run := RunInfo{RunID: "run-1", Mode: "legacy", ExportDate: "2024-10-15"}
	if err := sdb.Save(ctx, run, sampleStore(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := sdb.Save(ctx, run, sampleStore(t)); err == nil {
		t.Error("expected error saving the same run twice")
	}
	if _, err := OpenSnapshotDB(""); err == nil {
		t.Error("expected error for empty path")
	}
}
