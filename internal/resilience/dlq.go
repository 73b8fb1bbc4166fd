package resilience

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/netsight/reconciled/internal/model"
)

// DLQEntry is one observation that exhausted its ingestion retries.
type DLQEntry struct {
	Observation model.Observation `json:"observation"`
	Error       string            `json:"error"`
	ErrorType   string            `json:"error_type"` // "transient" or "permanent"
	Attempts    int               `json:"attempts"`
	FailedAt    time.Time         `json:"failed_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// DeadLetterLog appends failed observations to a JSONL file so they can be
// replayed after the underlying fault is fixed. Safe for concurrent use.
type DeadLetterLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenDeadLetterLog opens (or creates) the dead-letter file for appending.
func OpenDeadLetterLog(path string) (*DeadLetterLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "resilience: open dead-letter log %s", path)
	}
	return &DeadLetterLog{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one failed observation.
func (d *DeadLetterLog) Record(obs model.Observation, cause error, attempts int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := DLQEntry{
		Observation: obs,
		Error:       cause.Error(),
		ErrorType:   ClassifyError(cause),
		Attempts:    attempts,
		FailedAt:    time.Now().UTC(),
	}
	if err := d.enc.Encode(entry); err != nil {
		return eris.Wrap(err, "resilience: write dead-letter entry")
	}
	return nil
}

func (d *DeadLetterLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
