// Package budget tracks estimated token usage per prompt category
// against a fixed ceiling. It is pure bookkeeping: components recompute
// each category's full cost and overwrite it here, then ask for the
// remaining headroom before growing the conversation.
package budget

import (
	"fmt"
	"sync"
)

// Category names one slice of the assembled prompt for accounting.
type Category string

// The closed set of prompt categories. System and Current are never
// subject to trimming; the rest are evicted in TrimPriority order when
// the conversation would exceed the ceiling.
const (
	// CategorySystem covers system instructions and the tools manual.
	CategorySystem Category = "system"
	// CategoryCurrent covers the in-flight prompt and response.
	CategoryCurrent Category = "current"
	// CategoryWorkspace covers the rendered workspace summary,
	// including recent operations and stats.
	CategoryWorkspace Category = "workspace"
	// CategoryError covers exchanges that carry an error result.
	CategoryError Category = "error"
	// CategoryActive covers the most recent exchanges.
	CategoryActive Category = "active"
	// CategoryHistory covers older conversation history.
	CategoryHistory Category = "history"
	// CategoryContext covers operator-supplied context files.
	CategoryContext Category = "context"
)

// TrimPriority orders the trimmable categories from first-evicted to
// last-evicted. CategorySystem and CategoryCurrent are deliberately
// absent.
var TrimPriority = []Category{
	CategoryWorkspace,
	CategoryError,
	CategoryActive,
	CategoryHistory,
	CategoryContext,
}

// Usage reports one category's share of the ceiling.
type Usage struct {
	Used      int
	Available int
}

// Allocator tracks per-category token usage against a fixed ceiling.
// The agent loop uses it single-threaded, but the interactive front end
// reads reports from another goroutine, so access is mutex-guarded.
type Allocator struct {
	mu      sync.RWMutex
	ceiling int
	usage   map[Category]int
}

// NewAllocator creates an allocator with the given ceiling (the model's
// context window in tokens). All categories start at zero.
func NewAllocator(ceiling int) *Allocator {
	if ceiling <= 0 {
		ceiling = 32768
	}
	return &Allocator{
		ceiling: ceiling,
		usage: map[Category]int{
			CategorySystem:    0,
			CategoryCurrent:   0,
			CategoryWorkspace: 0,
			CategoryError:     0,
			CategoryActive:    0,
			CategoryHistory:   0,
			CategoryContext:   0,
		},
	}
}

// Ceiling returns the fixed token ceiling.
func (a *Allocator) Ceiling() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ceiling
}

// Set overwrites a category's usage. Callers recompute the full cost of
// a category and replace the stored value; Set is never additive.
func (a *Allocator) Set(category Category, tokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tokens < 0 {
		tokens = 0
	}
	a.usage[category] = tokens
}

// TotalUsed returns the sum across all categories.
func (a *Allocator) TotalUsed() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalLocked()
}

// Available returns the remaining headroom, floored at zero.
func (a *Allocator) Available() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return max(0, a.ceiling-a.totalLocked())
}

// Report returns per-category usage. Available is the allocator-wide
// headroom, repeated per category for display convenience.
func (a *Allocator) Report() map[Category]Usage {
	a.mu.RLock()
	defer a.mu.RUnlock()

	avail := max(0, a.ceiling-a.totalLocked())
	out := make(map[Category]Usage, len(a.usage))
	for cat, used := range a.usage {
		out[cat] = Usage{Used: used, Available: avail}
	}
	return out
}

// String renders a compact one-line summary for logs and the stats
// command.
func (a *Allocator) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fmt.Sprintf("budget %d/%d tokens used", a.totalLocked(), a.ceiling)
}

func (a *Allocator) totalLocked() int {
	total := 0
	for _, n := range a.usage {
		total += n
	}
	return total
}
