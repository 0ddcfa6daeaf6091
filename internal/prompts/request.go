package prompts

import "fmt"

// initialTemplate frames the first generation of a request. Format
// verbs: (1) system prompt, (2) tool manual, (3) workspace state,
// (4) context files, (5) conversation history, (6) user request.
const initialTemplate = `%s

%s

Current Workspace State:
%s

Context Files:
%s

Conversation History:
%s

User Request:
%s`

// continuationTemplate frames every generation after tools have run.
// Format verbs: (1) system prompt, (2) tool manual, (3) previous
// operation results, (4) original request, (5) workspace state,
// (6) context files, (7) conversation history.
const continuationTemplate = `%s

%s

Previous Operation Results:
%s

Current Task Context:
- Original Request: %s
- Current State: %s
- Available Context: %s

Conversation History:
%s

Remember:
1. Always start responses with 🤖
2. If tools were just executed, provide ONLY a brief summary of what was done and ask if anything else is needed
3. If continuing with a task, use tool commands for any file operations
4. Keep responses focused and concise`

// InitialPrompt assembles the prompt for the first cycle of a request.
// contextFiles may be empty; a placeholder is substituted so the model
// never sees a bare section header.
func InitialPrompt(workspaceState, contextFiles, history, userRequest string) string {
	if contextFiles == "" {
		contextFiles = "No additional context provided"
	}
	return fmt.Sprintf(initialTemplate,
		BaseSystemPrompt(), ToolManual(),
		workspaceState, contextFiles, history, userRequest)
}

// ContinuationPrompt assembles the prompt for follow-up cycles, after
// at least one round of tool execution. lastResponse carries the
// success or failure framing from the previous cycle.
func ContinuationPrompt(lastResponse, originalRequest, workspaceState, contextFiles, history string) string {
	if lastResponse == "" {
		lastResponse = "No previous operation results"
	}
	if contextFiles == "" {
		contextFiles = "No additional context"
	}
	return fmt.Sprintf(continuationTemplate,
		BaseSystemPrompt(), ToolManual(),
		lastResponse, originalRequest, workspaceState, contextFiles, history)
}
