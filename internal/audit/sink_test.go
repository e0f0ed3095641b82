package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileSinkRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	s.Record("ipn", "first")
	s.Record("ipn", "second")

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (same-second writes must not collide)", len(files))
	}
	var contents []string
	for _, f := range files {
		if !strings.HasPrefix(f.Name(), "ipn_20260102_030405_") {
			t.Errorf("unexpected file name %s", f.Name())
		}
		b, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			t.Fatal(err)
		}
		contents = append(contents, string(b))
	}
	joined := strings.Join(contents, ",")
	if !strings.Contains(joined, "first") || !strings.Contains(joined, "second") {
		t.Errorf("contents = %v", contents)
	}
}

func TestFileSinkSwallowsErrors(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.Dir = filepath.Join(dir, "missing", "nested")

	// Must not panic or surface anything.
	s.Record("complete", "payload")
}
