// Package contextfile loads user-supplied context files for inclusion in
// generation prompts. Markdown files are rendered and flattened to plain
// text so markup noise does not spend prompt tokens; everything else passes
// through unchanged. Unreadable files are skipped with a warning, never
// fatal.
package contextfile

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
)

// Load reads each path in order and returns the combined content joined by
// newlines. Files that cannot be read are logged and skipped.
func Load(paths []string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	var parts []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable context file", "path", path, "error", err)
			continue
		}
		text := string(data)
		if isMarkdown(path) {
			text = flattenMarkdown(text)
		}
		parts = append(parts, text)
		logger.Debug("loaded context file", "path", path, "bytes", len(data))
	}
	return strings.Join(parts, "\n")
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// flattenMarkdown renders markdown to HTML and extracts the visible text.
// A render failure returns the raw markdown unchanged.
func flattenMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return htmlToText(buf.String())
}
