package events

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileJournalAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	journal, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	if err := journal.Append([]byte(`{"order_id":"O1"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := journal.Append([]byte(`{"order_id":"O2"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !bytes.Contains(lines[0], []byte("O1")) || !bytes.Contains(lines[1], []byte("O2")) {
		t.Fatalf("unexpected journal contents: %s", data)
	}
}

func TestFileJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")

	journal, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := journal.Append([]byte("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	journal.Close()

	journal, err = NewFileJournal(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer journal.Close()
	if err := journal.Append([]byte("second")); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if !bytes.Contains(data, []byte("first")) || !bytes.Contains(data, []byte("second")) {
		t.Fatalf("journal lost entries across reopen: %s", data)
	}
}
