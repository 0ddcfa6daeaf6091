// Package agent implements the bounded request loop: assemble a prompt
// from conversation and workspace state, stream a generation, execute
// any tool commands in the response, fold the verified outcome back
// into conversation state, and repeat until the model stops asking for
// tools or the interaction ceiling is reached.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/reeve-ai-agent/internal/budget"
	"github.com/nugget/reeve-ai-agent/internal/command"
	"github.com/nugget/reeve-ai-agent/internal/config"
	"github.com/nugget/reeve-ai-agent/internal/conversation"
	"github.com/nugget/reeve-ai-agent/internal/events"
	"github.com/nugget/reeve-ai-agent/internal/llm"
	"github.com/nugget/reeve-ai-agent/internal/paths"
	"github.com/nugget/reeve-ai-agent/internal/prompts"
	"github.com/nugget/reeve-ai-agent/internal/tools"
	"github.com/nugget/reeve-ai-agent/internal/usage"
	"github.com/nugget/reeve-ai-agent/internal/workspace"
)

// MaxInteractions bounds agent-tool round trips per user request.
const MaxInteractions = 25

// State identifies where the request loop is in its cycle.
type State int

const (
	// StatePrompting assembles the next prompt from conversation and
	// workspace state.
	StatePrompting State = iota
	// StateGenerating streams text from the backend.
	StateGenerating
	// StateExecuting parses and runs tool commands from the response.
	StateExecuting
	// StateDone is the terminal state for a completed request.
	StateDone
	// StateFailed is the terminal state for a failed request.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePrompting:
		return "prompting"
	case StateGenerating:
		return "generating"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome strings recorded in the usage ledger per request.
const (
	OutcomeDone            = "done"
	OutcomeFailed          = "failed"
	OutcomeMaxInteractions = "max_interactions"
	OutcomeCancelled       = "cancelled"
)

// RequestResult summarizes one processed user request.
type RequestResult struct {
	// State is the terminal loop state, StateDone or StateFailed.
	State State
	// Outcome is the ledger outcome: done, failed, max_interactions,
	// or cancelled.
	Outcome string
	// Cycles counts completed interaction cycles.
	Cycles int
	// Response is the last assistant response text.
	Response string
	// Failure describes why the loop failed; empty on success.
	Failure string
	// Elapsed is total wall-clock time for the request.
	Elapsed time.Duration
}

// Deps carries the optional collaborators a Session reports to. Any
// field may be nil.
type Deps struct {
	Usage  *usage.Store
	Bus    *events.Bus
	Logger *slog.Logger
}

// Session drives requests for one conversation against one workspace
// sandbox. It owns the conversation state, the token allocator, and the
// tool executor; the generation backend and observers are injected.
// A Session is not safe for concurrent ProcessRequest calls.
type Session struct {
	generator llm.Generator
	executor  *tools.Executor
	conv      *conversation.State
	env       *workspace.State
	alloc     *budget.Allocator
	resolver  *paths.Resolver
	usage     *usage.Store
	bus       *events.Bus
	logger    *slog.Logger

	sessionID   string
	mode        string
	model       string
	temperature float64
	maxTokens   int
	contextText string

	nowFunc func() time.Time
}

// NewSession builds a session rooted at the configured workspace,
// creating the directory if needed. contextText is prepended context
// file content; mode tags ledger rows ("chat" or "ask").
func NewSession(cfg *config.Config, gen llm.Generator, contextText, mode string, deps Deps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}
	resolver, err := paths.New(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	env := workspace.NewState(resolver.Root(), logger)
	alloc := budget.NewAllocator(cfg.Budget.ContextWindow)

	s := &Session{
		generator:   gen,
		executor:    tools.NewExecutor(resolver, env, deps.Bus, logger, cfg.Generation.Temperature),
		conv:        conversation.New(alloc, env, deps.Bus, logger),
		env:         env,
		alloc:       alloc,
		resolver:    resolver,
		usage:       deps.Usage,
		bus:         deps.Bus,
		logger:      logger,
		sessionID:   id.String(),
		mode:        mode,
		model:       cfg.Ollama.Model,
		temperature: cfg.Generation.Temperature,
		maxTokens:   cfg.Generation.MaxTokens,
		contextText: contextText,
		nowFunc:     time.Now,
	}

	// System instructions and context files are fixed for the life of
	// the session; account for them once.
	s.alloc.Set(budget.CategorySystem, budget.Estimate(prompts.BaseSystemPrompt()+prompts.ToolManual()))
	s.alloc.Set(budget.CategoryContext, budget.Estimate(contextText))

	logger.Debug("session created",
		"session_id", s.sessionID,
		"workspace", resolver.Root(),
		"model", s.model,
		"ceiling", alloc.Ceiling(),
	)
	return s, nil
}

// SessionID returns the unique id tagged onto ledger rows.
func (s *Session) SessionID() string { return s.sessionID }

// Model returns the configured generation model name.
func (s *Session) Model() string { return s.model }

// WorkspaceRoot returns the absolute sandbox root.
func (s *Session) WorkspaceRoot() string { return s.resolver.Root() }

// BudgetReport returns per-category token usage for display.
func (s *Session) BudgetReport() map[budget.Category]budget.Usage { return s.alloc.Report() }

// BudgetLine returns the one-line budget summary.
func (s *Session) BudgetLine() string { return s.alloc.String() }

// WorkspaceStats returns the session's operation counters.
func (s *Session) WorkspaceStats() workspace.Stats { return s.env.Stats() }

// Suggestions returns hints derived from the session's operation
// history.
func (s *Session) Suggestions() []string { return s.env.Suggestions() }

// Exchanges returns a copy of the recorded conversation exchanges.
func (s *Session) Exchanges() []conversation.Exchange { return s.conv.Exchanges() }

// Operations returns a copy of the retained operation log.
func (s *Session) Operations() []conversation.OpEntry { return s.conv.Operations() }

// ProcessRequest runs the agent loop for one user input. Streamed
// response fragments are delivered to onChunk as they arrive (may be
// nil). Tool failures end the loop in StateFailed and are reported in
// the result, not as an error; the returned error is reserved for
// backend transport failures and cancellation.
func (s *Session) ProcessRequest(ctx context.Context, userInput string, onChunk llm.StreamFunc) (*RequestResult, error) {
	start := time.Now()
	requestID := newRequestID()

	s.logger.Info("processing request",
		"request_id", requestID, "session_id", s.sessionID, "chars", len(userInput))
	s.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id": requestID,
		"prompt_len": len(userInput),
	})

	s.alloc.Set(budget.CategoryCurrent, budget.Estimate(userInput))
	s.env.SnapshotAll()

	res := &RequestResult{State: StatePrompting}
	var lastResponse string
	var finalErr error

	for res.Cycles < MaxInteractions {
		cycle := res.Cycles
		s.bus.Emit(events.SourceAgent, events.KindCycleStart, map[string]any{
			"request_id": requestID,
			"cycle":      cycle,
		})

		// PROMPTING: refresh the workspace view so drift from the
		// previous cycle's tools is visible, then assemble the prompt.
		res.State = StatePrompting
		s.env.SnapshotAll()
		s.conv.Recompute()
		workspaceState := s.env.Summary(s.nowFunc())
		history := s.conv.HistoryText()

		var prompt string
		if cycle == 0 {
			prompt = prompts.InitialPrompt(workspaceState, s.contextText, history, userInput)
		} else {
			prompt = prompts.ContinuationPrompt(lastResponse, userInput, workspaceState, s.contextText, history)
		}

		// GENERATING
		res.State = StateGenerating
		s.bus.Emit(events.SourceAgent, events.KindGenerationStart, map[string]any{
			"request_id": requestID,
			"cycle":      cycle,
			"model":      s.model,
		})
		gen, err := s.generator.Generate(ctx, prompt, llm.Options{
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
		}, onChunk)
		if err != nil {
			// The in-flight exchange is never appended; conversation
			// state stays as it was before this cycle.
			res.State = StateFailed
			res.Outcome = OutcomeFailed
			if errors.Is(err, context.Canceled) {
				res.Outcome = OutcomeCancelled
			}
			res.Failure = err.Error()
			finalErr = fmt.Errorf("generation failed: %w", err)
			s.logger.Error("generation failed",
				"request_id", requestID, "cycle", cycle, "error", err)
			break
		}
		s.bus.Emit(events.SourceAgent, events.KindGenerationDone, map[string]any{
			"request_id":  requestID,
			"cycle":       cycle,
			"model":       s.model,
			"chars":       len(gen.Text),
			"duration_ms": gen.Duration.Milliseconds(),
		})
		s.recordGeneration(ctx, requestID, cycle, gen)

		if gen.Text == "" {
			res.State = StateDone
			res.Outcome = OutcomeDone
			break
		}
		res.Response = gen.Text
		s.alloc.Set(budget.CategoryCurrent, budget.Estimate(userInput+"\n"+gen.Text))

		// EXECUTING
		res.State = StateExecuting
		cmds := command.Parse(gen.Text)

		var results []tools.Result
		var failed *tools.Result
		label := ""
		if len(cmds) == 0 {
			s.conv.AddExchange(userInput, gen.Text, &conversation.Outcome{Text: "No tool executed"}, "")
		} else {
			results = s.executor.ExecuteAll(ctx, cmds)
			if len(results) == 0 {
				// Cancelled before the first command ran. Nothing
				// happened, so nothing is recorded.
				res.State = StateFailed
				res.Outcome = OutcomeCancelled
				res.Failure = "cancelled before execution"
				finalErr = fmt.Errorf("execution aborted: %w", ctx.Err())
				break
			}
			for i := range results {
				s.conv.AddOperationResult(results[i].Operation, results[i].Success, results[i].Output)
				if failed == nil && !results[i].Success {
					failed = &results[i]
				}
			}
			label = results[len(results)-1].Operation
			s.conv.AddExchange(userInput, gen.Text, exchangeOutcome(results, failed), label)
		}

		// The completed turn now lives in the exchange log; only the
		// user input remains in flight.
		s.alloc.Set(budget.CategoryCurrent, budget.Estimate(userInput))
		s.env.SnapshotAll()
		res.Cycles++

		if res.Cycles >= MaxInteractions {
			res.State = StateFailed
			res.Outcome = OutcomeMaxInteractions
			res.Failure = prompts.MaxInteractionsNotice(MaxInteractions)
			s.logger.Warn("interaction ceiling reached",
				"request_id", requestID, "cycles", res.Cycles)
			break
		}

		if len(cmds) == 0 {
			res.State = StateDone
			res.Outcome = OutcomeDone
			break
		}

		if failed == nil {
			lastResponse = prompts.OperationSuccess(label, tools.Summarize(results))
			res.State = StatePrompting
			continue
		}

		// A single failed tool call ends the round; the failure framing
		// is recorded for the next request rather than retried here.
		details := ""
		if failed.Diagnostics != nil {
			details = failed.Diagnostics.Message
		}
		lastResponse = prompts.OperationFailure(label, failed.Output, details)
		res.State = StateFailed
		res.Outcome = OutcomeFailed
		res.Failure = failed.Output
		break
	}

	s.alloc.Set(budget.CategoryCurrent, 0)
	res.Elapsed = time.Since(start)

	s.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": requestID,
		"cycles":     res.Cycles,
		"outcome":    res.Outcome,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
	s.recordRequest(requestID, res)
	s.logger.Info("request complete",
		"request_id", requestID,
		"outcome", res.Outcome,
		"cycles", res.Cycles,
		"elapsed", res.Elapsed,
	)
	return res, finalErr
}

// exchangeOutcome converts executed results into the outcome recorded
// on the exchange. Failures carry the error text so the trimming policy
// retains them longer.
func exchangeOutcome(results []tools.Result, failed *tools.Result) *conversation.Outcome {
	if failed == nil {
		return &conversation.Outcome{Text: tools.Summarize(results)}
	}
	return &conversation.Outcome{
		Error:      failed.Output,
		Suggestion: suggestionFor(failed),
	}
}

// suggestionFor maps a failure kind to a short remedial hint for the
// model's next attempt.
func suggestionFor(r *tools.Result) string {
	switch r.ErrorKindOf() {
	case tools.ErrorNotFound:
		return "Check that the file exists and the path is correct"
	case tools.ErrorPermission:
		return "Check file permissions in the workspace"
	case tools.ErrorInvalidPayload:
		return "Provide valid JSON in the content block"
	case tools.ErrorVerification:
		return "Retry the operation and verify the result"
	case tools.ErrorUnsupported:
		return "Use one of the supported tool commands"
	default:
		return "Review the error and adjust the operation"
	}
}

func (s *Session) recordGeneration(ctx context.Context, requestID string, cycle int, gen *llm.Result) {
	if s.usage == nil {
		return
	}
	g := usage.Generation{
		SessionID:    s.sessionID,
		RequestID:    requestID,
		Cycle:        cycle,
		Mode:         s.mode,
		Model:        gen.Model,
		PromptTokens: gen.PromptTokens,
		OutputTokens: gen.OutputTokens,
		DurationMs:   gen.Duration.Milliseconds(),
	}
	if g.Model == "" {
		g.Model = s.model
	}
	if err := s.usage.RecordGeneration(ctx, g); err != nil {
		s.logger.Warn("failed to record generation", "error", err)
	}
}

// recordRequest writes the request row after the loop settles. It uses
// a background context so a cancelled request still gets its ledger
// row.
func (s *Session) recordRequest(requestID string, res *RequestResult) {
	if s.usage == nil {
		return
	}
	req := usage.Request{
		ID:        requestID,
		SessionID: s.sessionID,
		Mode:      s.mode,
		Outcome:   res.Outcome,
		Cycles:    res.Cycles,
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	if err := s.usage.RecordRequest(context.Background(), req); err != nil {
		s.logger.Warn("failed to record request", "error", err)
	}
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
