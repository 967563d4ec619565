// Package ledger persists ingestion progress to a JSON file so interrupted
// runs resume without repeating completed work.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// flushEvery bounds how much progress can be lost on a crash: state is
// persisted after this many mutations, and always when a query completes.
const flushEvery = 50

// fileState is the on-disk JSON shape.
type fileState struct {
	CompletedQueries []string  `json:"completed_queries"`
	DownloadedPMIDs  []string  `json:"downloaded_pmids"`
	IndexedPMIDs     []string  `json:"indexed_pmids"`
	FailedPMIDs      []string  `json:"failed_pmids"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Counts is a read-only snapshot of ledger totals.
type Counts struct {
	CompletedQueries int `json:"completed_queries"`
	Downloaded       int `json:"downloaded"`
	Indexed          int `json:"indexed"`
	Failed           int `json:"failed"`
}

// Ledger tracks which queries and records have been processed. All methods
// are safe for concurrent use; mutations from worker goroutines are
// serialized on one mutex.
type Ledger struct {
	path string
	lock *flock.Flock

	mu        sync.Mutex
	completed map[string]struct{}
	download  map[string]struct{}
	indexed   map[string]struct{}
	failed    map[string]struct{}
	pending   int
}

// Open acquires an exclusive lock on the ledger and loads any existing state.
// A missing file yields an empty ledger. A second process opening the same
// ledger gets domain.ErrLedgerLocked; an unparseable file yields
// domain.ErrLedgerCorrupt.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", domain.ErrLedgerLocked, path)
	}

	l := &Ledger{
		path:      path,
		lock:      lock,
		completed: make(map[string]struct{}),
		download:  make(map[string]struct{}),
		indexed:   make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}

	if err := l.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrLedgerCorrupt, l.path, err)
	}

	for _, q := range state.CompletedQueries {
		l.completed[q] = struct{}{}
	}
	for _, id := range state.DownloadedPMIDs {
		l.download[id] = struct{}{}
	}
	for _, id := range state.IndexedPMIDs {
		l.indexed[id] = struct{}{}
	}
	for _, id := range state.FailedPMIDs {
		l.failed[id] = struct{}{}
	}

	return nil
}

// IsQueryComplete reports whether the query finished in this or a prior run.
func (l *Ledger) IsQueryComplete(query string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.completed[query]
	return ok
}

// IsDownloaded reports whether the record's metadata has been fetched.
func (l *Ledger) IsDownloaded(recordID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.download[recordID]
	return ok
}

// IsIndexed reports whether the record's chunks reached the vector store.
func (l *Ledger) IsIndexed(recordID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.indexed[recordID]
	return ok
}

// RecordDownloaded marks a record's metadata as fetched.
func (l *Ledger) RecordDownloaded(recordID string) error {
	return l.mutate(func() {
		l.download[recordID] = struct{}{}
	}, false)
}

// RecordIndexed marks a record as fully indexed. Sets only grow during a run;
// a prior failure mark for the record is left in place.
func (l *Ledger) RecordIndexed(recordID string) error {
	return l.mutate(func() {
		l.indexed[recordID] = struct{}{}
	}, false)
}

// RecordFailed marks a record as failed so the run summary reflects it.
func (l *Ledger) RecordFailed(recordID string) error {
	return l.mutate(func() {
		l.failed[recordID] = struct{}{}
	}, false)
}

// RecordQueryComplete marks a query as done and forces a flush, so a crash
// after this point never replays the query.
func (l *Ledger) RecordQueryComplete(query string) error {
	return l.mutate(func() {
		l.completed[query] = struct{}{}
	}, true)
}

// mutate applies fn under the lock and flushes when the pending mutation
// count reaches the cadence or force is set.
func (l *Ledger) mutate(fn func(), force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fn()
	l.pending++

	if force || l.pending >= flushEvery {
		return l.flushLocked()
	}
	return nil
}

// Flush persists the current state immediately.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// flushLocked writes the state atomically: marshal, write a temp file in the
// same directory, rename over the ledger. Callers must hold l.mu.
func (l *Ledger) flushLocked() error {
	state := fileState{
		CompletedQueries: sortedKeys(l.completed),
		DownloadedPMIDs:  sortedKeys(l.download),
		IndexedPMIDs:     sortedKeys(l.indexed),
		FailedPMIDs:      sortedKeys(l.failed),
		LastUpdated:      time.Now().UTC(),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}

	l.pending = 0
	return nil
}

// Counts returns current totals for progress reporting.
func (l *Ledger) Counts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Counts{
		CompletedQueries: len(l.completed),
		Downloaded:       len(l.download),
		Indexed:          len(l.indexed),
		Failed:           len(l.failed),
	}
}

// Close flushes remaining state and releases the file lock.
func (l *Ledger) Close() error {
	flushErr := l.Flush()
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release ledger lock: %w", err)
	}
	return flushErr
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
