package workspace

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxRecentOps bounds the rolling operation log.
const maxRecentOps = 20

// OpRecord is one entry in the rolling operation log.
type OpRecord struct {
	Name      string
	Success   bool
	Timestamp time.Time
	Paths     []string
}

// Pattern pairs an operation name with the parent directory it last
// succeeded in. The counts feed the suggestion output.
type Pattern struct {
	Operation string
	Dir       string
}

// Stats is a point-in-time copy of the running operation statistics.
type Stats struct {
	SuccessCount int
	FailureCount int
	Patterns     map[Pattern]int
	ErrorCounts  map[string]int
}

// State tracks the observed condition of the sandbox across a session:
// the latest FileState per path, the last 20 operations in a circular
// buffer, and running statistics. Created once per session against a
// fixed root; never persisted.
//
// The agent loop mutates it single-threaded, but the interactive front
// end reads stats concurrently, so access is mutex-guarded.
type State struct {
	mu   sync.RWMutex
	root string

	files map[string]FileState

	ops     []OpRecord // circular buffer, pre-allocated
	opHead  int        // next write position
	opCount int        // entries currently stored (≤ len(ops))

	successCount int
	failureCount int
	patterns     map[Pattern]int
	errorCounts  map[string]int

	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewState creates an empty environment state for the given sandbox
// root. The root should already be absolute.
func NewState(root string, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		root:        root,
		files:       make(map[string]FileState),
		ops:         make([]OpRecord, maxRecentOps),
		patterns:    make(map[Pattern]int),
		errorCounts: make(map[string]int),
		nowFunc:     time.Now,
		logger:      logger,
	}
}

// Root returns the sandbox root this state observes.
func (s *State) Root() string {
	return s.root
}

// CaptureFile snapshots a single path into the file map and returns the
// new state. Latest capture wins.
func (s *State) CaptureFile(path string) FileState {
	state := Capture(path)

	s.mu.Lock()
	s.files[path] = state
	s.mu.Unlock()

	return state
}

// SnapshotAll walks the sandbox root and refreshes the file map entry
// for every visited path. Safe to call repeatedly; each capture
// overwrites by path key. Walk errors on individual entries are logged
// and skipped rather than propagated.
func (s *State) SnapshotAll() {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("snapshot skipping entry", "path", path, "error", err)
			return nil
		}
		if path == s.root {
			return nil
		}
		s.CaptureFile(path)
		return nil
	})
	if err != nil {
		s.logger.Debug("snapshot walk failed", "root", s.root, "error", err)
	}
}

// Files returns a copy of the current path→FileState map.
func (s *State) Files() map[string]FileState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]FileState, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

// RecordOperation appends an operation outcome to the rolling log and
// updates the running statistics. For successes with at least one
// affected path, the (operation, parent directory) pattern count is
// bumped; for failures, the diagnostic kind's frequency is bumped.
func (s *State) RecordOperation(name string, success bool, errorKind string, affected []string) {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops[s.opHead] = OpRecord{
		Name:      name,
		Success:   success,
		Timestamp: now,
		Paths:     append([]string(nil), affected...),
	}
	s.opHead = (s.opHead + 1) % len(s.ops)
	if s.opCount < len(s.ops) {
		s.opCount++
	}

	if success {
		s.successCount++
		if len(affected) > 0 {
			key := Pattern{Operation: name, Dir: filepath.Base(filepath.Dir(affected[0]))}
			s.patterns[key]++
		}
	} else {
		s.failureCount++
		if errorKind == "" {
			errorKind = "unknown"
		}
		s.errorCounts[errorKind]++
	}
}

// RecentOperations returns up to n most recent operations in
// chronological order (oldest of the n first).
func (s *State) RecentOperations(n int) []OpRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.opCount {
		n = s.opCount
	}
	if n <= 0 {
		return nil
	}

	bufLen := len(s.ops)
	out := make([]OpRecord, 0, n)
	for i := n - 1; i >= 0; i-- {
		idx := (s.opHead - 1 - i + bufLen) % bufLen
		out = append(out, s.ops[idx])
	}
	return out
}

// Stats returns a copy of the running statistics.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
		Patterns:     make(map[Pattern]int, len(s.patterns)),
		ErrorCounts:  make(map[string]int, len(s.errorCounts)),
	}
	for k, v := range s.patterns {
		stats.Patterns[k] = v
	}
	for k, v := range s.errorCounts {
		stats.ErrorCounts[k] = v
	}
	return stats
}

// Suggestions derives short hints from the operation history: which
// directories operations tend to succeed in, and which error kind keeps
// recurring. Returned in deterministic order.
func (s *State) Suggestions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string

	if len(s.patterns) > 0 {
		seen := make(map[string]bool)
		var dirs []string
		for key := range s.patterns {
			if !seen[key.Dir] {
				seen[key.Dir] = true
				dirs = append(dirs, key.Dir)
			}
		}
		sort.Strings(dirs)
		out = append(out, "Consider using these directories: "+strings.Join(dirs, ", "))
	}

	if len(s.errorCounts) > 0 {
		topKind, topCount := "", 0
		for kind, count := range s.errorCounts {
			if count > topCount || (count == topCount && kind < topKind) {
				topKind, topCount = kind, count
			}
		}
		out = append(out, fmt.Sprintf("Watch out for %s errors, seen %d times", topKind, topCount))
	}

	return out
}
