// Package workspace captures and tracks the state of the sandbox
// directory: per-path snapshots, a rolling log of recent operations,
// running success/failure statistics, and the bounded textual summary
// injected into prompts.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// FileState is an immutable point-in-time snapshot of one path.
// Recreated on every capture, never mutated in place.
type FileState struct {
	Path     string
	Exists   bool
	Size     int64
	Perm     string // three octal digits, e.g. "644"
	Owner    string // numeric uid, empty where unavailable
	Checksum string // sha256 hex; set only for existing regular files
	ModTime  time.Time
	IsDir    bool
}

// Capture reads the current state of a path. It never fails: a stat
// error degrades to Exists=false and a hash error to an empty Checksum,
// so callers can snapshot freely during and after tool execution.
func Capture(path string) FileState {
	state := FileState{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return state
	}

	state.Exists = true
	state.Size = info.Size()
	state.Perm = fmt.Sprintf("%03o", info.Mode().Perm())
	state.Owner = ownerID(info)
	state.ModTime = info.ModTime()
	state.IsDir = info.IsDir()
	if !state.IsDir {
		state.Checksum = checksum(path)
	}

	return state
}

// checksum computes the sha256 hex digest of a file's content.
// Returns an empty string if the file cannot be read.
func checksum(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}
