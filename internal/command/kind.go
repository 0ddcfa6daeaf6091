// Package command extracts structured tool invocations from raw model
// output.
//
// The grammar is line oriented. A block opens with an operation marker
// naming the tool, declares its target on a path marker line, and
// either ends immediately or carries a literal content section:
//
//	%%tool write_file
//	%%path ./src/main.go
//	%%content
//	package main
//	%%end
//
// Blocks may appear anywhere in a response, interleaved with prose the
// parser ignores. Parsing is tolerant: a malformed block is simply not
// matched, never an error.
package command

import "sort"

// Kind identifies one of the closed set of tool operations.
type Kind string

const (
	// KindWriteFile writes a literal payload to a file, creating
	// parent directories as needed.
	KindWriteFile Kind = "write_file"
	// KindReadFile returns the content of an existing file.
	KindReadFile Kind = "read_file"
	// KindCreateDirectory creates a directory and any missing parents.
	KindCreateDirectory Kind = "create_directory"
	// KindDeleteFile removes a file or directory tree. Deleting an
	// absent target succeeds.
	KindDeleteFile Kind = "delete_file"
	// KindSaveJSON validates the payload as JSON and persists it
	// pretty-printed.
	KindSaveJSON Kind = "save_json"
	// KindLoadJSON reads and parses a JSON file.
	KindLoadJSON Kind = "load_json"
)

// kinds is the parse-boundary registry. Raw operation names resolve to
// a Kind here and nowhere else; everything downstream dispatches on the
// typed Kind.
var kinds = map[string]Kind{
	"write_file":       KindWriteFile,
	"read_file":        KindReadFile,
	"create_directory": KindCreateDirectory,
	"delete_file":      KindDeleteFile,
	"save_json":        KindSaveJSON,
	"load_json":        KindLoadJSON,
}

// KindOf resolves a raw operation name to its Kind. ok is false for
// names outside the registered set; the zero Kind is returned so
// callers can still carry the raw name through to a failure report.
func KindOf(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// Kinds returns the registered operation names in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPayload reports whether the kind carries a content section.
func (k Kind) HasPayload() bool {
	return k == KindWriteFile || k == KindSaveJSON
}
