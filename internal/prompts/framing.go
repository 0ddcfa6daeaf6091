package prompts

import "fmt"

// successTemplate frames a completed operation for the next cycle's
// prompt. The wording leans hard on "no further action needed" because
// smaller models otherwise re-issue the same tool commands. Format
// verbs: (1) operation label, (2) aggregated result summary.
const successTemplate = `Previous Operation Complete ✓
Operation: %s
Status: Success - No further action needed
Result: %s
Note: This operation has completed successfully. Unless the user has requested additional actions, no further tool calls are needed.`

// failureTemplate frames a failed operation. Format verbs:
// (1) operation label, (2) error text, (3) diagnostic details.
const failureTemplate = `Last Operation Results:
Operation: %s
Status: Failed
Error: %s
Details: %s
`

// OperationSuccess returns the framing injected into the continuation
// prompt after all commands in a cycle succeeded.
func OperationSuccess(operation, result string) string {
	if operation == "" {
		operation = "Tool Execution"
	}
	return fmt.Sprintf(successTemplate, operation, result)
}

// OperationFailure returns the framing injected after a failed
// command. details is the diagnostic message when one is available.
func OperationFailure(operation, errText, details string) string {
	if operation == "" {
		operation = "Tool Execution"
	}
	if details == "" {
		details = "No additional details"
	}
	return fmt.Sprintf(failureTemplate, operation, errText, details)
}

// MaxInteractionsNotice is the message shown when a request exhausts
// its interaction budget without reaching a natural stopping point.
func MaxInteractionsNotice(limit int) string {
	return fmt.Sprintf("Maximum number of agent-tool interactions (%d) reached.", limit)
}
