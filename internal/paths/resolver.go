// Package paths confines tool target paths to the workspace sandbox.
// Every file operation the model requests is resolved through a single
// [Resolver] built from the workspace root at session start; nothing
// downstream of the resolver ever sees an unconfined path.
package paths

import (
	"path/filepath"
	"strings"
)

// Resolver maps raw target paths from model output to absolute paths
// under the sandbox root. Resolution collapses "." segments and pops one
// directory level per "..", but never climbs above the root: a ".." with
// nothing left to pop is a no-op, not an escape. Absolute targets are
// treated as workspace-relative for the same reason. This is the core
// safety invariant of the tool layer.
type Resolver struct {
	root string
}

// New creates a Resolver confined to root. The root is cleaned and made
// absolute so containment checks are not fooled by relative comparisons.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute sandbox root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve maps a raw target path to an absolute path under the root.
// The result is always the root itself or a descendant of it, for any
// input string.
func (r *Resolver) Resolve(raw string) string {
	segments := strings.FieldsFunc(filepath.ToSlash(raw), func(c rune) bool {
		return c == '/'
	})

	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(clean) > 0 {
				clean = clean[:len(clean)-1]
			}
		default:
			clean = append(clean, seg)
		}
	}

	if len(clean) == 0 {
		return r.root
	}
	return filepath.Join(append([]string{r.root}, clean...)...)
}

// Within reports whether an already-absolute path sits at or below the
// sandbox root. Used by verification to double-check paths that arrive
// from stat results rather than through Resolve.
func (r *Resolver) Within(abs string) bool {
	abs = filepath.Clean(abs)
	if abs == r.root {
		return true
	}
	return strings.HasPrefix(abs, r.root+string(filepath.Separator))
}

// Rel returns the workspace-relative form of an absolute path under the
// root, for display in summaries and results. Paths outside the root
// (which Resolve never produces) are returned unchanged.
func (r *Resolver) Rel(abs string) string {
	if !r.Within(abs) {
		return abs
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return abs
	}
	return rel
}
