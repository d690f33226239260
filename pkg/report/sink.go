// Package report persists per-container results. Rows are appended the
// moment a container completes so partial results survive a crash; a
// finalize pass rewrites the file sorted and deduplicated once the run
// ends.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/blobaudit/blobaudit/internal/models"
)

// ErrMalformedRow marks a results file row that cannot be parsed on
// resume.
var ErrMalformedRow = errors.New("malformed results row")

const bytesPerGB = 1024 * 1024 * 1024

var header = []string{
	"Container",
	"TotalBlobCount",
	"TotalSizeGB",
	"BlobsToDelete",
	"SizeToDeleteGB",
	"PercentToDelete",
	"EstMonthlySavings",
}

// Sink writes the results file. Append is safe from any number of
// workers; the lock identity (the results path) is distinct from the
// progress store's so the two never contend with each other.
type Sink struct {
	path string

	mu  sync.Mutex
	flk *flock.Flock
}

// NewSink creates a sink for the given results file path.
func NewSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating results directory: %w", err)
	}
	return &Sink{path: path, flk: flock.New(path + ".lock")}, nil
}

// Path returns the results file location.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one completed container's row immediately, creating the
// file with a header row on first use.
func (s *Sink) Append(result models.ContainerResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("error locking results file: %w", err)
	}
	defer func() { _ = s.flk.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("error opening results file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("error checking results file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("error writing results header: %w", err)
		}
	}
	if err := w.Write(encodeRow(result)); err != nil {
		return fmt.Errorf("error writing results row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("error flushing results row: %w", err)
	}
	return nil
}

// Reset discards any rows a previous run left at this path. A fresh
// run owns the results file outright; without the reset, rows from an
// earlier finalized run would resurface when the new run is resumed.
func (s *Sink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("error locking results file: %w", err)
	}
	defer func() { _ = s.flk.Unlock() }()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error resetting results file: %w", err)
	}
	return nil
}

// Load reads previously-written rows, for resuming a run. A missing
// file is not an error: there is simply nothing to resume.
func (s *Sink) Load() ([]models.ContainerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error opening results file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	var results []models.ContainerResult
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		if first {
			first = false
			continue // header
		}
		result, err := decodeRow(record)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Finalize rewrites the file with the full result set, sorted by
// container name and deduplicated (a later row for the same container
// wins). Called once after the run completes.
func (s *Sink) Finalize(results []models.ContainerResult) error {
	byName := make(map[string]models.ContainerResult, len(results))
	for _, result := range results {
		byName[result.Container] = result
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("error locking results file: %w", err)
	}
	defer func() { _ = s.flk.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".results-*")
	if err != nil {
		return fmt.Errorf("error creating temp results file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error writing results header: %w", err)
	}
	for _, name := range names {
		if err := w.Write(encodeRow(byName[name])); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("error writing results row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("error flushing results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error closing temp results file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("error replacing results file: %w", err)
	}
	return nil
}

func encodeRow(r models.ContainerResult) []string {
	return []string{
		r.Container,
		strconv.FormatInt(r.TotalBlobCount, 10),
		strconv.FormatFloat(float64(r.TotalSizeBytes)/bytesPerGB, 'f', 4, 64),
		strconv.FormatInt(r.BlobsToDelete, 10),
		strconv.FormatFloat(float64(r.SizeToDeleteBytes)/bytesPerGB, 'f', 4, 64),
		strconv.FormatFloat(r.PercentToDelete, 'f', 2, 64),
		strconv.FormatFloat(r.EstMonthlySavings, 'f', 4, 64),
	}
}

func decodeRow(record []string) (models.ContainerResult, error) {
	if len(record) != len(header) {
		return models.ContainerResult{}, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformedRow, len(header), len(record))
	}

	var (
		result models.ContainerResult
		err    error
	)
	result.Container = record[0]
	if result.TotalBlobCount, err = strconv.ParseInt(record[1], 10, 64); err != nil {
		return result, fmt.Errorf("%w: TotalBlobCount %q", ErrMalformedRow, record[1])
	}
	totalGB, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return result, fmt.Errorf("%w: TotalSizeGB %q", ErrMalformedRow, record[2])
	}
	result.TotalSizeBytes = int64(totalGB * bytesPerGB)
	if result.BlobsToDelete, err = strconv.ParseInt(record[3], 10, 64); err != nil {
		return result, fmt.Errorf("%w: BlobsToDelete %q", ErrMalformedRow, record[3])
	}
	deleteGB, err := strconv.ParseFloat(record[4], 64)
	if err != nil {
		return result, fmt.Errorf("%w: SizeToDeleteGB %q", ErrMalformedRow, record[4])
	}
	result.SizeToDeleteBytes = int64(deleteGB * bytesPerGB)
	if result.PercentToDelete, err = strconv.ParseFloat(record[5], 64); err != nil {
		return result, fmt.Errorf("%w: PercentToDelete %q", ErrMalformedRow, record[5])
	}
	if result.EstMonthlySavings, err = strconv.ParseFloat(record[6], 64); err != nil {
		return result, fmt.Errorf("%w: EstMonthlySavings %q", ErrMalformedRow, record[6])
	}
	return result, nil
}
