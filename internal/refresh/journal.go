package refresh

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/prasertk/setpulse/internal/domain"
)

// Journal is the write-only record of finished cycles: an append-only file
// of msgpack-encoded CycleReports. The engine never reads it back; it exists
// for offline triage with standard msgpack tooling.
type Journal struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// NewJournal creates a journal writing to the given path. The file is opened
// per append so a corrupt or deleted file never wedges the engine.
func NewJournal(path string, log zerolog.Logger) *Journal {
	return &Journal{
		path: path,
		log:  log.With().Str("component", "journal").Logger(),
	}
}

// Append writes one cycle report. Failures are returned but callers treat
// them as non-fatal: losing a journal entry must not fail a cycle.
func (j *Journal) Append(report *domain.CycleReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", j.path, err)
	}
	defer f.Close()

	if err := msgpack.NewEncoder(f).Encode(report); err != nil {
		return fmt.Errorf("append cycle %s to journal: %w", report.CycleID, err)
	}

	j.log.Debug().
		Str("cycle_id", report.CycleID).
		Str("status", string(report.Status)).
		Msg("Cycle journaled")
	return nil
}
