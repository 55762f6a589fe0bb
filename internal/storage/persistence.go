// Package storage persists task snapshots and append-only event logs on disk.
// Layout: <base>/tasks/<task_id>.json and <base>/events/<task_id>.jsonl.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"courseloop/internal/task"
)

// Persistence owns the on-disk task state. Snapshot writes are atomic
// (tmp + rename); event appends are one compact JSON line each.
type Persistence struct {
	mu        sync.RWMutex
	tasksDir  string
	eventsDir string
	logger    *slog.Logger
}

// NewPersistence creates the layout under baseDir.
func NewPersistence(baseDir string) (*Persistence, error) {
	p := &Persistence{
		tasksDir:  filepath.Join(baseDir, "tasks"),
		eventsDir: filepath.Join(baseDir, "events"),
		logger:    slog.With("component", "storage"),
	}
	for _, dir := range []string{p.tasksDir, p.eventsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return p, nil
}

func (p *Persistence) snapshotPath(taskID string) string {
	return filepath.Join(p.tasksDir, taskID+".json")
}

func (p *Persistence) eventLogPath(taskID string) string {
	return filepath.Join(p.eventsDir, taskID+".jsonl")
}

// SaveSnapshot atomically writes the full task state.
func (p *Persistence) SaveSnapshot(t *task.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := p.snapshotPath(t.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a task snapshot. Returns nil, nil when absent.
func (p *Persistence) LoadSnapshot(taskID string) (*task.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.snapshotPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &t, nil
}

// ListTaskIDs returns the ids of all persisted snapshots.
func (p *Persistence) ListTaskIDs() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.tasksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tasks dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// AppendEvent appends one event to the task's log.
func (p *Persistence) AppendEvent(ev task.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(p.eventLogPath(ev.TaskID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	return nil
}

// LoadEvents reads the full event log for a task. Corrupted lines are
// skipped with a warning so a torn final write cannot poison replay.
func (p *Persistence) LoadEvents(taskID string) ([]task.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f, err := os.Open(p.eventLogPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []task.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev task.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			p.logger.Warn("skipping corrupted event line", "task_id", taskID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// Replay rebuilds a task from its event log alone.
func (p *Persistence) Replay(taskID string) (*task.Task, error) {
	events, err := p.LoadEvents(taskID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return task.Replay(events), nil
}
