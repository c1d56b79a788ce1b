package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Entry is the durable outcome of one scraped event.
type Entry struct {
	Status    Status    `json:"status"`
	Matches   int       `json:"matches"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// File maps event ids to their last run outcome for one adapter.
type File map[string]Entry

// Done reports whether an event already completed in a previous run.
func (f File) Done(eventID string) bool {
	entry, ok := f[eventID]

	return ok && entry.Status == StatusCompleted
}

// MarkCompleted records a finished event with its match count.
func (f File) MarkCompleted(eventID string, matches int, at time.Time) {
	f[eventID] = Entry{Status: StatusCompleted, Matches: matches, Timestamp: at}
}

// MarkFailed records a failed event with its error message. Failed events
// are retried on the next run.
func (f File) MarkFailed(eventID string, message string, at time.Time) {
	f[eventID] = Entry{Status: StatusError, Timestamp: at, Error: message}
}

// Store persists per-adapter checkpoint files so reruns skip completed
// events. Files are rewritten whole after each event via temp-and-rename,
// so a crash never leaves a torn checkpoint behind.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	return &Store{dir: dir}, nil
}

// Path returns the checkpoint file location for one adapter.
func (s *Store) Path(adapterID string) string {
	return filepath.Join(s.dir, "."+adapterID+"_checkpoint.json")
}

// Load reads an adapter's checkpoint. A missing file is an empty
// checkpoint, not an error.
func (s *Store) Load(adapterID string) (File, error) {
	raw, err := os.ReadFile(s.Path(adapterID))
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint for %s: %w", adapterID, err)
	}

	var file File
	if err := sonic.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode checkpoint for %s: %w", adapterID, err)
	}
	if file == nil {
		file = File{}
	}

	return file, nil
}

// Save atomically rewrites an adapter's checkpoint file.
func (s *Store) Save(adapterID string, file File) error {
	raw, err := sonic.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode checkpoint for %s: %w", adapterID, err)
	}

	path := s.Path(adapterID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint for %s: %w", adapterID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint for %s: %w", adapterID, err)
	}

	return nil
}
