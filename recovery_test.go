package booker

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bugsnag/booker/journal"
)

func writeTestSnapshot(t *testing.T, path string, data map[string]any) {
	t.Helper()
	m := deepCopyMap(data)
	if err := writeSnapshot(path, m); err != nil {
		t.Fatal(err)
	}
}

func TestRecoverDocument_snapshotOnly(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no journal commands, got %d", len(cmds))
	}
	v, ok := root.Get("count")
	if !ok || v.(int64) != 1 {
		t.Fatalf("count = %v, %v, want 1", v, ok)
	}
}

func TestRecoverDocument_snapshotPlusJournal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})

	j := journal.New[*Command]("testdoc", 1)
	j.Add(&Command{Path: "count", Value: int64(2)})
	f, err := os.Create(base + ".journal")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Serialize(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 || cmds[0].Path != "count" {
		t.Fatalf("cmds = %+v, want one command for path count", cmds)
	}
	applied, err := replayCommands(root, cmds)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := applied.Get("count")
	if v.(int64) != 2 {
		t.Fatalf("count = %v after replay, want 2", v)
	}
}

func TestRecoverDocument_corruptJournalFallsBackToSnapshot(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})
	if err := os.WriteFile(base+".journal", []byte("not a journal at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected a corrupt journal to be discarded, got %d commands", len(cmds))
	}
	v, _ := root.Get("count")
	if v.(int64) != 1 {
		t.Fatalf("count = %v, want the snapshot's value of 1", v)
	}
}

func TestRecoverDocument_journalVersionMismatchFallsBackToSnapshot(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})

	j := journal.New[*Command]("testdoc", 2) // wrong version
	j.Add(&Command{Path: "count", Value: int64(99)})
	f, err := os.Create(base + ".journal")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Serialize(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Fatal("expected a version-mismatched journal to be discarded")
	}
	v, _ := root.Get("count")
	if v.(int64) != 1 {
		t.Fatalf("count = %v, want the snapshot's value of 1", v)
	}
}

func TestRecoverDocument_missingJournalFallsBackToSnapshot(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Fatal("expected no commands when the journal file is absent")
	}
	v, _ := root.Get("count")
	if v.(int64) != 1 {
		t.Fatalf("count = %v, want 1", v)
	}
}

func TestRecoverDocument_snapshotNewTakesPriorityAndSkipsJournal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	writeTestSnapshot(t, base+".snapshot", map[string]any{"count": int64(1)})
	writeTestSnapshot(t, base+".snapshot.new", map[string]any{"count": int64(2)})

	j := journal.New[*Command]("testdoc", 1)
	j.Add(&Command{Path: "count", Value: int64(999)})
	f, err := os.Create(base + ".journal")
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Serialize(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	root, cmds, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Fatal("a completed snapshot.new must skip the journal entirely")
	}
	v, _ := root.Get("count")
	if v.(int64) != 2 {
		t.Fatalf("count = %v, want snapshot.new's value of 2", v)
	}
}

func TestRecoverDocument_noSnapshotAtAllIsFatal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "doc")
	_, _, err := recoverDocument(base, "testdoc", 1, slog.Default())
	if err == nil {
		t.Fatal("expected an error when no snapshot exists at all")
	}
	if _, ok := err.(*FatalError); !ok {
		t.Fatalf("got %T, want *FatalError", err)
	}
}
