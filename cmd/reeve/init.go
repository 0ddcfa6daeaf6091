package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nugget/reeve-ai-agent/internal/defaults"
)

// runInit initializes a reeve working directory: the workspace
// subdirectory the agent operates in, plus an example config. Existing
// files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing reeve in %s\n", dir)

	wsPath := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(wsPath, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", wsPath, err)
	}
	fmt.Fprintf(w, "  ✓ %s%c\n", wsPath, os.PathSeparator)

	configPath := filepath.Join(dir, "reeve.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit reeve.yaml to point at your Ollama instance, then run 'reeve chat'.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never clobbers user customizations.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s exists, skipping\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
