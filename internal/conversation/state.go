package conversation

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/reeve-ai-agent/internal/budget"
	"github.com/nugget/reeve-ai-agent/internal/events"
	"github.com/nugget/reeve-ai-agent/internal/workspace"
)

const (
	// activeWindow is how many trailing entries are protected from
	// trimming and accounted to the active category.
	activeWindow = 3

	// logFloor is the minimum number of entries trimming leaves in
	// either log, even when the budget is still exceeded.
	logFloor = 3

	// historyExchanges is how many trailing exchanges the rendered
	// history includes.
	historyExchanges = 5
)

// State holds the exchange and operation logs for one session. Every
// mutation re-derives the conversation-owned budget categories, so the
// allocator always reflects the logs as they stand.
type State struct {
	alloc  *budget.Allocator
	env    *workspace.State
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.RWMutex
	exchanges []Exchange
	opLog     []OpEntry

	nowFunc func() time.Time
}

// New creates an empty conversation state. The allocator is required;
// env and bus may be nil (workspace accounting and event publication
// are skipped).
func New(alloc *budget.Allocator, env *workspace.State, bus *events.Bus, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		alloc:   alloc,
		env:     env,
		bus:     bus,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// AddExchange records a completed user/assistant round. The incoming
// exchange's cost is estimated first, older entries are trimmed until
// it fits, and only then is the exchange appended and the budget
// recomputed.
func (s *State) AddExchange(user, assistant string, result *Outcome, operation string) {
	ex := Exchange{User: user, Assistant: assistant, Result: result, Operation: operation}
	cost := budget.Estimate(ex.costText())

	s.mu.Lock()
	s.trimExchangesLocked(cost)
	s.exchanges = append(s.exchanges, ex)
	s.recomputeLocked()
	count := len(s.exchanges)
	s.mu.Unlock()

	s.logger.Debug("exchange added",
		"cost_tokens", cost,
		"exchanges", count,
		"error", result.IsError())
	s.bus.Emit(events.SourceConversation, events.KindExchangeAdded, map[string]any{
		"cost_tokens": cost,
		"exchanges":   count,
		"used_tokens": s.alloc.TotalUsed(),
	})
}

// AddOperationResult records one tool outcome in the operation log,
// trimming older entries first so the new one fits.
func (s *State) AddOperationResult(tool string, success bool, result string) {
	entry := OpEntry{Tool: tool, Success: success, Result: result}
	cost := budget.Estimate(entry.text())

	s.mu.Lock()
	s.trimOperationsLocked(cost)
	s.opLog = append(s.opLog, entry)
	s.recomputeLocked()
	s.mu.Unlock()

	s.logger.Debug("operation recorded", "tool", tool, "success", success, "cost_tokens", cost)
}

// Recompute re-derives the conversation-owned budget categories from
// the current logs and workspace state. Callers invoke it after
// structural changes outside this package, such as a workspace
// re-snapshot.
func (s *State) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeLocked()
}

// recomputeLocked partitions the exchanges into disjoint categories:
// error exchanges first, then the trailing window of the rest as
// active, everything older as history. The workspace category covers
// the rendered summary plus the operation log.
func (s *State) recomputeLocked() {
	var errorTokens, activeTokens, historyTokens int

	activeStart := len(s.exchanges) - activeWindow
	if activeStart < 0 {
		activeStart = 0
	}
	for i, ex := range s.exchanges {
		cost := budget.Estimate(ex.costText())
		switch {
		case ex.Result.IsError():
			errorTokens += cost
		case i >= activeStart:
			activeTokens += cost
		default:
			historyTokens += cost
		}
	}

	opTokens := 0
	for _, e := range s.opLog {
		opTokens += budget.Estimate(e.text())
	}
	workspaceTokens := opTokens
	if s.env != nil {
		workspaceTokens += budget.Estimate(s.env.Summary(s.nowFunc()))
	}

	s.alloc.Set(budget.CategoryError, errorTokens)
	s.alloc.Set(budget.CategoryActive, activeTokens)
	s.alloc.Set(budget.CategoryHistory, historyTokens)
	s.alloc.Set(budget.CategoryWorkspace, workspaceTokens)
}

// trimExchangesLocked evicts exchanges until the incoming cost fits
// within the remaining headroom or the log is at its floor. The budget
// is recomputed after every eviction so each decision sees current
// numbers.
func (s *State) trimExchangesLocked(incoming int) {
	dropped := 0
	for s.alloc.Available() < incoming && len(s.exchanges) > logFloor {
		flags := make([]bool, len(s.exchanges))
		for i, ex := range s.exchanges {
			flags[i] = ex.Result.IsError()
		}
		idx := pickEviction(flags)
		s.exchanges = append(s.exchanges[:idx], s.exchanges[idx+1:]...)
		dropped++
		s.recomputeLocked()
	}
	if dropped == 0 {
		return
	}
	s.logger.Debug("trimmed exchanges", "dropped", dropped, "remaining", len(s.exchanges))
	s.bus.Emit(events.SourceConversation, events.KindTrim, map[string]any{
		"log":         "exchanges",
		"dropped":     dropped,
		"used_tokens": s.alloc.TotalUsed(),
	})
}

// trimOperationsLocked is the operation-log counterpart of
// trimExchangesLocked, with failed entries playing the error role.
func (s *State) trimOperationsLocked(incoming int) {
	dropped := 0
	for s.alloc.Available() < incoming && len(s.opLog) > logFloor {
		flags := make([]bool, len(s.opLog))
		for i, e := range s.opLog {
			flags[i] = !e.Success
		}
		idx := pickEviction(flags)
		s.opLog = append(s.opLog[:idx], s.opLog[idx+1:]...)
		dropped++
		s.recomputeLocked()
	}
	if dropped == 0 {
		return
	}
	s.logger.Debug("trimmed operations", "dropped", dropped, "remaining", len(s.opLog))
	s.bus.Emit(events.SourceConversation, events.KindTrim, map[string]any{
		"log":         "operations",
		"dropped":     dropped,
		"used_tokens": s.alloc.TotalUsed(),
	})
}

// pickEviction chooses which log entry to evict given per-entry error
// flags. Preference order: the oldest non-error entry outside the
// trailing window, then the oldest error entry outside the window,
// then the front of the log.
func pickEviction(isErr []bool) int {
	cut := len(isErr) - activeWindow
	if cut < 0 {
		cut = 0
	}
	for i := 0; i < cut; i++ {
		if !isErr[i] {
			return i
		}
	}
	for i := 0; i < cut; i++ {
		if isErr[i] {
			return i
		}
	}
	return 0
}

// HistoryText renders the trailing exchanges for prompt assembly.
func (s *State) HistoryText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.exchanges) == 0 {
		return "No conversation history"
	}
	start := len(s.exchanges) - historyExchanges
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, ex := range s.exchanges[start:] {
		lines = append(lines, ex.historyLines()...)
	}
	return strings.Join(lines, "\n")
}

// Exchanges returns a copy of the exchange log in order.
func (s *State) Exchanges() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// Operations returns a copy of the operation log in order.
func (s *State) Operations() []OpEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]OpEntry, len(s.opLog))
	copy(out, s.opLog)
	return out
}
