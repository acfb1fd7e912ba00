// Package audit writes an append-only JSONL trail of security-relevant
// bridge events: handshake decisions, resets, and applied mutations. The
// trail never contains the token; every free-text field passes through
// redaction first.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/basket/zotbridge/internal/shared"
)

type entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome"`
	Endpoint  string `json:"endpoint,omitempty"`
	ItemKey   string `json:"item_key,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu        sync.Mutex
	file      *os.File
	denyCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DenyCount returns the total number of deny outcomes since startup.
func DenyCount() int64 {
	return denyCount.Load()
}

// Record appends one audit entry. event names the action (init, reset,
// auth, tag, note); outcome is allow or deny.
func Record(event, outcome, endpoint, itemKey, batchID, detail string) {
	if outcome == "deny" {
		denyCount.Add(1)
	}

	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}

	ev := entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Outcome:   outcome,
		Endpoint:  endpoint,
		ItemKey:   itemKey,
		BatchID:   batchID,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
