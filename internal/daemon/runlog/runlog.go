// Package runlog keeps the per-task append-only run ledger.
//
// Each task directory holds runs.jsonl with one JSON object per run attempt.
// Entries are never rewritten; the live task record is independent of them.
package runlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// maxLineSize bounds a single ledger line. Longer lines are skipped.
const maxLineSize = 1024 * 1024

// Ledger appends and reads run ledgers.
type Ledger struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{logger: logger.With("component", "runlog")}
}

// Append assigns a fresh id and writes entry as one line to the task's ledger under root.
func (l *Ledger) Append(taskID string, entry models.TaskRunLog, root string) (*models.TaskRunLog, error) {
	entry.ID = uuid.NewString()
	entry.TaskID = taskID
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.FinishedAt != nil && entry.DurationMs == 0 {
		entry.DurationMs = entry.FinishedAt.Sub(entry.StartedAt).Milliseconds()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run log: %w", err)
	}
	data = append(data, '\n')

	path := config.RunLogFile(root, taskID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("failed to append run log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync run log: %w", err)
	}
	return &entry, nil
}

// Read returns up to limit most recent entries for the task, newest first.
// Roots are tried in order and the first non-empty ledger wins, so project
// ledgers take precedence over the workspace ledger. limit <= 0 returns all.
func (l *Ledger) Read(taskID string, roots []string, limit int) ([]*models.TaskRunLog, error) {
	for _, root := range roots {
		entries, err := l.readFile(config.RunLogFile(root, taskID))
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}

		// Newest first
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}
	return []*models.TaskRunLog{}, nil
}

func (l *Ledger) readFile(path string) ([]*models.TaskRunLog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var entries []*models.TaskRunLog
	reader := bufio.NewReaderSize(f, 64*1024)
	var line []byte
	oversized := false
	lineNum := 0
	for {
		chunk, err := reader.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineSize {
				oversized, line = true, line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("error reading run log: %w", err)
		}

		if len(chunk) > 0 || oversized {
			lineNum++
		}
		if oversized {
			l.logger.Debug("skipping oversized run log line", "path", path, "line", lineNum)
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var entry models.TaskRunLog
			if err := json.Unmarshal(trimmed, &entry); err != nil {
				l.logger.Debug("skipping corrupt run log line", "path", path, "line", lineNum, "error", err)
			} else {
				entries = append(entries, &entry)
			}
		}
		line, oversized = line[:0], false

		if err != nil {
			break
		}
	}
	return entries, nil
}
