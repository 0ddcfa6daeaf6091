package workspace

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// activeWindow is how recently a file must have changed to count as
// active in the summary.
const activeWindow = 30 * time.Minute

// summaryOps is how many recent operations the summary lists.
const summaryOps = 3

// otherFilesCap bounds the "other files" section before the summary
// collapses the remainder into a count.
const otherFilesCap = 5

// ignorePatterns hides tooling noise from the summary. A path is
// ignored when any of its segments equals a pattern or ends with one,
// so ".env" also catches "prod.env" and ".pyc" catches compiled
// artifacts.
var ignorePatterns = []string{
	".git",
	".gitignore",
	"node_modules",
	"__pycache__",
	".pyc",
	".pyo",
	".pyd",
	".so",
	".vscode",
	".idea",
	".env",
	"venv",
	"env",
	".DS_Store",
}

func ignored(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pat := range ignorePatterns {
			if seg == pat || strings.HasSuffix(seg, pat) {
				return true
			}
		}
	}
	return false
}

// Summary renders the compact workspace block injected into prompts:
// files changed within the last 30 minutes, the last few operations,
// and a capped listing of everything else. Paths are shown relative to
// the sandbox root and tooling noise is filtered out. An empty
// workspace renders as a single placeholder line.
//
// The clock is passed in so callers and tests control what "recent"
// means.
func (s *State) Summary(now time.Time) string {
	files := s.Files()

	var active, other []string
	for path, st := range files {
		if !st.Exists {
			continue
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			rel = path
		}
		if ignored(rel) {
			continue
		}
		if now.Sub(st.ModTime) < activeWindow {
			active = append(active, rel)
		} else {
			other = append(other, rel)
		}
	}
	sort.Strings(active)
	sort.Strings(other)

	recent := s.RecentOperations(summaryOps)

	var lines []string
	if len(active) > 0 {
		lines = append(lines, "Active Files (Last 30 min):")
		for _, f := range active {
			lines = append(lines, "  - "+f)
		}
		lines = append(lines, "")
	}
	if len(recent) > 0 {
		lines = append(lines, "Recent Operations:")
		for _, op := range recent {
			lines = append(lines, "  - "+op.Name)
		}
		lines = append(lines, "")
	}
	if len(other) > 0 {
		lines = append(lines, "Other Workspace Files:")
		shown := other
		if len(shown) > otherFilesCap {
			shown = shown[:otherFilesCap]
		}
		for _, f := range shown {
			lines = append(lines, "  - "+f)
		}
		if extra := len(other) - len(shown); extra > 0 {
			lines = append(lines, fmt.Sprintf("  ... and %d more", extra))
		}
	}

	if len(lines) == 0 {
		return "Workspace: (Empty)"
	}
	return "Workspace State:\n" + strings.Join(lines, "\n")
}
