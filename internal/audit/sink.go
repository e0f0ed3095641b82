// Package audit keeps the raw request trail. Writes are fire-and-forget:
// a failing sink never changes the outcome of the request that called it.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type Sink interface {
	Record(label, content string)
}

// FileSink writes each blob to its own file under Dir.
type FileSink struct {
	Dir string
	now func() time.Time
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{Dir: dir, now: time.Now}, nil
}

func (s *FileSink) Record(label, content string) {
	ts := s.now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s.log", label, ts, uuid.NewString()[:8])
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		slog.Warn("audit write failed", "path", path, "error", err)
	}
}

type nop struct{}

func (nop) Record(string, string) {}

// Nop discards everything.
var Nop Sink = nop{}
