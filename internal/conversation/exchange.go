// Package conversation owns the ordered exchange and operation logs,
// keeps their rendered cost inside the token budget by priority-based
// trimming, and renders the history text for prompt assembly.
package conversation

import "fmt"

// Outcome is the operation result attached to an exchange: either a
// plain textual result or a structured error with a suggested fix.
type Outcome struct {
	Text       string
	Error      string
	Suggestion string
}

// IsError reports whether the outcome carries an error. Safe on nil.
func (o *Outcome) IsError() bool {
	return o != nil && o.Error != ""
}

// Exchange is one completed user/assistant round, with the operation
// result and label when tools ran.
type Exchange struct {
	User      string
	Assistant string
	Result    *Outcome
	Operation string
}

// costText is the text an exchange contributes to the prompt, used for
// token accounting. Structured errors count their error and suggestion
// lines; textual results count as a result line.
func (ex Exchange) costText() string {
	text := fmt.Sprintf("User: %s\nAssistant: %s", ex.User, ex.Assistant)
	if ex.Result.IsError() {
		text += fmt.Sprintf("\nError Details: %s\nSuggested Fix: %s", ex.Result.Error, ex.Result.Suggestion)
	} else if ex.Result != nil && ex.Result.Text != "" {
		text += fmt.Sprintf("\nResult: %s", ex.Result.Text)
	}
	if ex.Operation != "" {
		text += fmt.Sprintf("\nOperation: %s", ex.Operation)
	}
	return text
}

// historyLines renders the exchange for the conversation-history block
// of a prompt.
func (ex Exchange) historyLines() []string {
	lines := []string{
		"User: " + ex.User,
		"Assistant: " + ex.Assistant,
	}
	if ex.Result.IsError() {
		lines = append(lines, fmt.Sprintf("Result: Error: %s; Suggested fix: %s", ex.Result.Error, ex.Result.Suggestion))
	} else if ex.Result != nil && ex.Result.Text != "" {
		lines = append(lines, "Result: "+ex.Result.Text)
	}
	if ex.Operation != "" {
		lines = append(lines, "Operation: "+ex.Operation)
	}
	return lines
}

// OpEntry is one recorded outcome in the bounded operation log.
type OpEntry struct {
	Tool    string
	Success bool
	Result  string
}

func (e OpEntry) text() string {
	status := "success"
	if !e.Success {
		status = "failed"
	}
	return fmt.Sprintf("- %s [%s]: %s", e.Tool, status, e.Result)
}
