// Package history implements a capped transfer-history log, JSON-file
// backed with a single-writer/multi-reader guard. Parse-on-load failures
// are treated as non-fatal (the log starts empty and logs a warning)
// rather than failing construction, unlike favorites.Open, which is fatal
// on parse error since a favorites list is user-curated and worth failing
// loudly over.
package history

import (
	"encoding/json"
	"os"
	"sync"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/logging"
	"lanxfer/internal/models"
)

// MaxRecords is the cap on stored history entries.
const MaxRecords = 100

type document struct {
	Records []models.TransferRecord `json:"records"`
}

// Log is the head-newest, capped history collection.
type Log struct {
	mu      sync.RWMutex
	path    string
	records []models.TransferRecord
}

// Open loads history from path. A missing file is equivalent to empty; a
// present-but-unparsable file logs a warning and starts fresh (non-fatal,
// unlike favorites.Open).
func Open(path string, logger *logging.Logger) *Log {
	l := &Log{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return l
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("path", path).Msg("history file unreadable, starting fresh")
		}
		return l
	}
	l.records = doc.Records
	return l
}

func (l *Log) persistLocked() error {
	doc := document{Records: l.records}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.Serialization, "encode history", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.FileIo, "write history file", err)
	}
	return nil
}

// List returns a snapshot of all records, head (newest) first.
func (l *Log) List() []models.TransferRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.TransferRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Add inserts a record at the head, truncating to MaxRecords, and persists.
func (l *Log) Add(rec models.TransferRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]models.TransferRecord{rec}, l.records...)
	if len(l.records) > MaxRecords {
		l.records = l.records[:MaxRecords]
	}
	return l.persistLocked()
}

// Clear empties the log and persists.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	return l.persistLocked()
}

// Count returns the number of stored records.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
