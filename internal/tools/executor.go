package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/nugget/reeve-ai-agent/internal/command"
	"github.com/nugget/reeve-ai-agent/internal/events"
	"github.com/nugget/reeve-ai-agent/internal/paths"
	"github.com/nugget/reeve-ai-agent/internal/workspace"
)

// Executor runs parsed commands inside the sandbox. Every path is
// resolved through the containment resolver first, every outcome is
// recorded into workspace state, and every failure comes back as a
// Result rather than an error.
type Executor struct {
	resolver    *paths.Resolver
	state       *workspace.State
	bus         *events.Bus
	logger      *slog.Logger
	temperature float64
}

// NewExecutor creates an executor bound to a resolver and workspace
// state. The bus may be nil when nothing observes tool activity.
func NewExecutor(resolver *paths.Resolver, state *workspace.State, bus *events.Bus, logger *slog.Logger, temperature float64) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver:    resolver,
		state:       state,
		bus:         bus,
		logger:      logger,
		temperature: temperature,
	}
}

// ExecuteAll runs commands strictly in order. Execution continues past
// failures so every command reports an outcome; cancellation stops
// between commands, never mid-operation.
func (e *Executor) ExecuteAll(ctx context.Context, cmds []command.Command) []Result {
	results := make([]Result, 0, len(cmds))
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.Execute(ctx, cmd))
	}
	return results
}

// Execute runs one command and always returns a Result. Unexpected
// conditions become failed results; nothing propagates as an error.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) Result {
	start := time.Now()
	e.bus.Emit(events.SourceTools, events.KindToolCall, map[string]any{
		"tool": cmd.Name,
		"path": cmd.Path,
	})

	res := e.run(cmd)
	res.Duration = time.Since(start)
	res.Temperature = TemperatureTrace{Initial: e.temperature, Final: e.temperature}

	for _, p := range res.Affected {
		e.state.CaptureFile(p)
	}
	e.state.RecordOperation(cmd.Name, res.Success, string(res.ErrorKindOf()), res.Affected)

	if res.Success {
		e.logger.Debug("tool succeeded",
			"tool", cmd.Name, "path", res.Path, "duration", res.Duration)
	} else {
		e.logger.Warn("tool failed",
			"tool", cmd.Name, "path", res.Path,
			"kind", res.ErrorKindOf(), "result", res.Output)
	}
	e.bus.Emit(events.SourceTools, events.KindToolDone, map[string]any{
		"tool":        cmd.Name,
		"path":        cmd.Path,
		"ok":          res.Success,
		"duration_ms": res.Duration.Milliseconds(),
		"error_kind":  string(res.ErrorKindOf()),
	})
	return res
}

func (e *Executor) run(cmd command.Command) Result {
	res := Result{Operation: cmd.Name, Kind: cmd.Kind, Path: cmd.Path}

	if cmd.Kind == "" {
		res.Output = fmt.Sprintf("Unsupported operation: %s", cmd.Name)
		res.Diagnostics = &Diagnostics{Kind: ErrorUnsupported, Message: "unsupported operation"}
		return res
	}

	abs := e.resolver.Resolve(cmd.Path)
	res.Path = e.resolver.Rel(abs)

	switch cmd.Kind {
	case command.KindWriteFile:
		return e.writeFile(res, abs, cmd.Content)
	case command.KindReadFile:
		return e.readFile(res, abs)
	case command.KindCreateDirectory:
		return e.createDirectory(res, abs)
	case command.KindDeleteFile:
		return e.deleteFile(res, abs)
	case command.KindSaveJSON:
		return e.saveJSON(res, abs, cmd.Content)
	case command.KindLoadJSON:
		return e.loadJSON(res, abs)
	}

	// Unreachable while the switch covers every registered kind.
	res.Output = fmt.Sprintf("Unsupported operation: %s", cmd.Name)
	res.Diagnostics = &Diagnostics{Kind: ErrorUnsupported, Message: "unsupported operation"}
	return res
}

func (e *Executor) writeFile(res Result, abs, content string) Result {
	existed := workspace.Capture(abs).Exists

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fail(res, err, "Failed to write file")
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fail(res, err, "Failed to write file")
	}

	res.Success = true
	res.Output = fmt.Sprintf("Successfully wrote to %s", res.Path)
	res.Affected = []string{abs}
	if existed {
		res.RollbackHint = "replaced existing content; previous version is not recoverable"
	}
	return verifyExists(res, abs)
}

func (e *Executor) readFile(res Result, abs string) Result {
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		res.Output = fmt.Sprintf("File %s does not exist", res.Path)
		res.Diagnostics = &Diagnostics{Kind: ErrorNotFound, Message: res.Output}
		return res
	}
	if err != nil {
		return fail(res, err, "Failed to read file")
	}

	res.Success = true
	res.Output = string(data)
	res.Verification = fmt.Sprintf("read %d bytes", len(data))
	res.Affected = []string{abs}
	return res
}

func (e *Executor) createDirectory(res Result, abs string) Result {
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fail(res, err, "Failed to create directory")
	}

	res.Success = true
	res.Output = fmt.Sprintf("Successfully created directory %s", res.Path)
	res.Affected = []string{abs}

	st := workspace.Capture(abs)
	switch {
	case !st.Exists:
		res.Success = false
		res.Output = "Directory does not exist"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
	case !st.IsDir:
		res.Success = false
		res.Output = "Path exists but is not a directory"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
	default:
		res.Verification = "verified: directory present"
	}
	return res
}

func (e *Executor) deleteFile(res Result, abs string) Result {
	st := workspace.Capture(abs)
	if !st.Exists {
		res.Success = true
		res.Output = fmt.Sprintf("File %s already does not exist", res.Path)
		res.Verification = "target already absent"
		return res
	}

	if err := os.RemoveAll(abs); err != nil {
		return fail(res, err, "Failed to delete file")
	}

	res.Success = true
	res.Output = fmt.Sprintf("Successfully deleted %s", res.Path)
	res.Affected = []string{abs}
	res.RollbackHint = "removed without backup"
	if st.IsDir {
		res.Warnings = append(res.Warnings, "deleted a directory tree")
	}
	return verifyAbsent(res, abs)
}

func (e *Executor) saveJSON(res Result, abs, content string) Result {
	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		res.Output = fmt.Sprintf("Invalid JSON payload: %v", err)
		res.Diagnostics = &Diagnostics{
			Kind:    ErrorInvalidPayload,
			Message: err.Error(),
			Detail:  map[string]string{"error": err.Error()},
		}
		return res
	}

	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fail(res, err, "Failed to save JSON")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fail(res, err, "Failed to save JSON")
	}
	if err := os.WriteFile(abs, pretty, 0o644); err != nil {
		return fail(res, err, "Failed to save JSON")
	}

	res.Success = true
	res.Output = fmt.Sprintf("Successfully saved JSON to %s", res.Path)
	res.Affected = []string{abs}
	return verifyJSON(res, abs, data)
}

func (e *Executor) loadJSON(res Result, abs string) Result {
	raw, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		res.Output = fmt.Sprintf("File %s does not exist", res.Path)
		res.Diagnostics = &Diagnostics{Kind: ErrorNotFound, Message: res.Output}
		return res
	}
	if err != nil {
		return fail(res, err, "Failed to load JSON")
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		res.Output = fmt.Sprintf("Invalid JSON in %s: %v", res.Path, err)
		res.Diagnostics = &Diagnostics{
			Kind:    ErrorInvalidPayload,
			Message: err.Error(),
			Detail:  map[string]string{"error": err.Error()},
		}
		return res
	}

	compact, err := json.Marshal(data)
	if err != nil {
		return fail(res, err, "Failed to load JSON")
	}

	res.Success = true
	res.Output = string(compact)
	res.Payload = data
	res.Verification = "verified: JSON parsed"
	res.Affected = []string{abs}
	return res
}

// fail maps an unexpected error into a failed Result. This is the
// uniform boundary: no operation lets an error escape as a Go error.
func fail(res Result, err error, prefix string) Result {
	res.Success = false
	res.Output = fmt.Sprintf("%s: %v", prefix, err)
	res.Diagnostics = &Diagnostics{Kind: classify(err), Message: err.Error()}
	return res
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrorPermission
	default:
		return ErrorIO
	}
}

// verifyExists re-stats a path that a write-type operation claims to
// have produced, downgrading the result when the claim does not hold.
func verifyExists(res Result, abs string) Result {
	st := workspace.Capture(abs)
	if !st.Exists {
		res.Success = false
		res.Output = "File does not exist but should"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
		return res
	}
	res.Verification = fmt.Sprintf("verified: %d bytes on disk", st.Size)
	return res
}

// verifyAbsent confirms a deletion actually removed the target.
func verifyAbsent(res Result, abs string) Result {
	if workspace.Capture(abs).Exists {
		res.Success = false
		res.Output = "File still exists after deletion"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
		return res
	}
	res.Verification = "verified: target absent"
	return res
}

// verifyJSON re-reads a saved document, re-parses it, and checks
// structural equality against the intended data.
func verifyJSON(res Result, abs string, want any) Result {
	raw, err := os.ReadFile(abs)
	if err != nil {
		res.Success = false
		res.Output = "File does not exist but should"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
		return res
	}

	var got any
	if err := json.Unmarshal(raw, &got); err != nil {
		res.Success = false
		res.Output = fmt.Sprintf("Invalid JSON format: %v", err)
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
		return res
	}
	if !reflect.DeepEqual(got, want) {
		res.Success = false
		res.Output = "Saved JSON does not match expected structure"
		res.Diagnostics = &Diagnostics{Kind: ErrorVerification, Message: "Verification failed"}
		return res
	}

	res.Verification = "verified: JSON re-parsed and matches"
	return res
}
