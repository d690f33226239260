// Package progress persists which containers a run has completed, so an
// interrupted audit can resume without rescanning. The on-disk record is
// always written as a complete structure: updates re-read the file,
// merge, and rewrite the whole thing under a lock, never patching
// individual fields in place.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/blobaudit/blobaudit/internal/models"
	"github.com/blobaudit/blobaudit/pkg/utils"
)

// ErrIncompleteState marks a progress file missing a required field.
// Resume fails loudly on these rather than defaulting silently, so the
// corruption surfaces instead of producing a wrong audit.
var ErrIncompleteState = errors.New("cannot resume")

const filePrefix = "blobaudit-progress-"

// requiredFields must be present in every progress file. ResourceGroup
// is deliberately absent: files written before it existed load with an
// empty default.
var requiredFields = []string{
	"Timestamp",
	"AccountId",
	"RetentionDays",
	"StartTime",
	"LastUpdate",
	"CompletedContainers",
}

// Store manages one run's progress file. MarkCompleted is safe to call
// from any number of workers: a process-wide mutex plus a file lock
// named by the progress path serialize the read-modify-write.
type Store struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	path string
	flk  *flock.Flock
}

// NewStore creates a store rooted at dir. The directory is created if
// missing.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating progress directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the progress file the store is bound to, empty before
// Init or a successful Load.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Init creates a fresh progress file for a new run and binds the store
// to it.
func (s *Store) Init(accountID, resourceGroup string, retentionDays int, now time.Time) (*models.ProgressState, error) {
	state := &models.ProgressState{
		Timestamp:           utils.RunTimestamp(now),
		AccountID:           accountID,
		ResourceGroup:       resourceGroup,
		RetentionDays:       retentionDays,
		StartTime:           now.Format(time.RFC3339),
		LastUpdate:          now.Format(time.RFC3339),
		CompletedContainers: []string{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bind(filepath.Join(s.dir, fileName(accountID, state.Timestamp)))
	if err := writeWhole(s.path, state); err != nil {
		return nil, err
	}

	s.logger.Info("progress file created", zap.String("path", s.path))
	return state, nil
}

// Load finds the most recent progress file for the account and binds
// the store to it. Returns (nil, nil) when no file exists.
func (s *Store) Load(accountID string) (*models.ProgressState, error) {
	pattern := filepath.Join(s.dir, fileName(accountID, "*"))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("error searching for progress files: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Timestamps sort lexically in chronological order, so the last
	// match is the most recent run.
	sort.Strings(matches)
	path := matches[len(matches)-1]

	state, err := readValidated(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.bind(path)
	s.mu.Unlock()

	s.logger.Info("progress file loaded",
		zap.String("path", path),
		zap.Int("completed", len(state.CompletedContainers)))
	return state, nil
}

// MarkCompleted adds a container to the completed set. The on-disk
// state is re-read first so updates from concurrent workers are merged
// rather than overwritten; the full structure is then rewritten.
func (s *Store) MarkCompleted(container string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("progress store not initialized")
	}

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("error locking progress file: %w", err)
	}
	defer func() { _ = s.flk.Unlock() }()

	state, err := readValidated(s.path)
	if err != nil {
		return err
	}

	if !state.IsCompleted(container) {
		state.CompletedContainers = append(state.CompletedContainers, container)
		sort.Strings(state.CompletedContainers)
	}
	state.LastUpdate = time.Now().UTC().Format(time.RFC3339)

	return writeWhole(s.path, state)
}

func (s *Store) bind(path string) {
	s.path = path
	s.flk = flock.New(path + ".lock")
}

func fileName(accountID, timestamp string) string {
	return fmt.Sprintf("%s%s-%s.json", filePrefix, accountID, timestamp)
}

// readValidated loads a progress file, failing with the missing field
// name when a required field is absent.
func readValidated(path string) (*models.ProgressState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading progress file %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: progress file %s is not valid JSON: %v", ErrIncompleteState, path, err)
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("%w: progress file %s missing field %s", ErrIncompleteState, path, field)
		}
	}

	var state models.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: progress file %s: %v", ErrIncompleteState, path, err)
	}
	if state.CompletedContainers == nil {
		state.CompletedContainers = []string{}
	}
	return &state, nil
}

// writeWhole writes the complete state through a temp file and rename,
// so a crash mid-write never leaves a partially-written file behind.
func writeWhole(path string, state *models.ProgressState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding progress state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".progress-*")
	if err != nil {
		return fmt.Errorf("error creating temp progress file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing progress state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temp progress file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing progress file: %w", err)
	}
	return nil
}
