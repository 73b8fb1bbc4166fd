package resilience

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netsight/reconciled/internal/model"
)

func TestDeadLetterLog_RecordAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead-letters.jsonl")
	dlq, err := OpenDeadLetterLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	obs := model.Observation{
		EntityID:   "device:core-1",
		FieldName:  "ip_address",
		SourceID:   "nmap",
		Value:      model.StringValue("10.0.0.5"),
		ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Confidence: 0.9,
	}
	if err := dlq.Record(obs, NewTransientError(errors.New("database is locked")), 3); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := dlq.Record(obs, errors.New("schema violation"), 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := dlq.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	var entries []DLQEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e DLQEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ErrorType != "transient" || entries[0].Attempts != 3 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ErrorType != "permanent" {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
	if entries[0].Observation.EntityID != "device:core-1" {
		t.Errorf("observation did not round-trip: %+v", entries[0].Observation)
	}
}
