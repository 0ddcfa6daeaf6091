// Package tools executes parsed commands against the sandbox root and
// verifies that the file system ended up in the declared state.
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/reeve-ai-agent/internal/command"
)

// ErrorKind classifies why a tool operation failed. The set is closed;
// free-form detail goes in Diagnostics.Detail.
type ErrorKind string

const (
	// ErrorNotFound means the target path does not exist.
	ErrorNotFound ErrorKind = "not_found"
	// ErrorPermission means the operating system denied access.
	ErrorPermission ErrorKind = "permission"
	// ErrorInvalidPayload means a structured payload failed to parse.
	ErrorInvalidPayload ErrorKind = "invalid_payload"
	// ErrorVerification means the operation reported success but the
	// post-condition check failed.
	ErrorVerification ErrorKind = "verification_failed"
	// ErrorUnsupported means the operation name is not registered.
	ErrorUnsupported ErrorKind = "unsupported_operation"
	// ErrorIO covers all other file-system failures.
	ErrorIO ErrorKind = "io_error"
)

// Diagnostics carries the typed failure classification for a Result.
type Diagnostics struct {
	Kind    ErrorKind
	Message string
	// Detail holds optional structured context, such as the parse
	// error for an invalid payload.
	Detail map[string]string
}

// TemperatureTrace records the sampling temperature in effect around an
// operation. Adjustments and Effectiveness are reserved for future
// tuning; executions currently record the session temperature
// unchanged.
type TemperatureTrace struct {
	Initial     float64
	Final       float64
	Adjustments []float64
	// Effectiveness is nil until an adjustment outcome is assessed.
	Effectiveness *float64
}

// Result is the outcome of one tool execution. It is immutable once
// returned; failures are expressed here rather than as Go errors so
// the loop can always fold them back into the conversation.
type Result struct {
	// Operation is the raw operation name from the command block.
	Operation string
	// Kind is the resolved operation, empty when unsupported.
	Kind command.Kind
	// Path is the target shown workspace-relative for display.
	Path string
	// Success reports whether the operation and its verification both
	// held.
	Success bool
	// Output is the result text: file content for reads, a
	// confirmation message otherwise.
	Output string
	// Payload carries parsed structured data for load_json.
	Payload any
	// Verification describes the post-condition check that ran.
	Verification string
	// Diagnostics is set on failure, nil on success.
	Diagnostics *Diagnostics
	// Affected lists the absolute paths the operation touched.
	Affected []string
	// Warnings note conditions worth surfacing that did not fail the
	// operation.
	Warnings []string
	// RollbackHint explains what would be needed to undo the
	// operation, when that is not trivial.
	RollbackHint string
	// Temperature is the sampling-temperature trace for this
	// execution.
	Temperature TemperatureTrace
	// Duration is wall-clock execution time.
	Duration time.Duration
}

// ErrorKindOf returns the diagnostic kind, or the empty string for a
// successful result.
func (r Result) ErrorKindOf() ErrorKind {
	if r.Diagnostics == nil {
		return ""
	}
	return r.Diagnostics.Kind
}

// Summarize renders executed results as feedback for the next
// generation turn: successes first, then failures, each as a
// "tool: result" line.
func Summarize(results []Result) string {
	var successes, failures []Result
	for _, r := range results {
		if r.Success {
			successes = append(successes, r)
		} else {
			failures = append(failures, r)
		}
	}

	var summary []string
	if len(successes) > 0 {
		summary = append(summary, fmt.Sprintf("Successfully completed %d operations:", len(successes)))
		for _, r := range successes {
			summary = append(summary, fmt.Sprintf("- %s: %s", r.Operation, r.Output))
		}
	}
	if len(failures) > 0 {
		summary = append(summary, fmt.Sprintf("\nFailed %d operations:", len(failures)))
		for _, r := range failures {
			summary = append(summary, fmt.Sprintf("- %s: %s", r.Operation, r.Output))
		}
	}
	return strings.Join(summary, "\n")
}
