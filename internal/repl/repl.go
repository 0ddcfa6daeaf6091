// Package repl implements the interactive console front end: a
// readline loop that feeds user input to an agent session, streams the
// assistant's response as it generates, and renders tool activity and
// failures in color. The engine itself never prints; everything the
// user sees on screen originates here.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/nugget/reeve-ai-agent/internal/agent"
	"github.com/nugget/reeve-ai-agent/internal/budget"
	"github.com/nugget/reeve-ai-agent/internal/events"
)

// Console color roles. The prompt is white, assistant output blue,
// tool activity cyan, errors red, and operational notices yellow.
var (
	promptColor = color.New(color.FgWhite)
	aiColor     = color.New(color.FgHiBlue)
	toolColor   = color.New(color.FgCyan)
	errColor    = color.New(color.FgRed)
	noteColor   = color.New(color.FgYellow)
)

// lineReader is the slice of readline the loop depends on, so tests
// can script input without a terminal.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Config wires a REPL to its session factory and output stream.
type Config struct {
	// NewSession builds the initial session and a replacement whenever
	// the user runs the clear command. Each call starts with empty
	// conversation state against the same workspace. Required.
	NewSession func() (*agent.Session, error)

	// Bus carries tool and trim events into the presenter. Optional;
	// without it the REPL shows only streamed text and failures.
	Bus *events.Bus

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Stdout receives all user-facing output. Defaults to os.Stdout.
	Stdout io.Writer

	// HistoryFile persists readline history across runs. Empty keeps
	// history in memory for the current run only.
	HistoryFile string
}

// REPL runs the interactive session loop.
type REPL struct {
	newSession  func() (*agent.Session, error)
	session     *agent.Session
	bus         *events.Bus
	logger      *slog.Logger
	out         io.Writer
	rl          lineReader
	historyFile string
}

// New creates a REPL from cfg.
func New(cfg Config) (*REPL, error) {
	if cfg.NewSession == nil {
		return nil, errors.New("session factory is required")
	}
	r := &REPL{
		newSession:  cfg.NewSession,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		out:         cfg.Stdout,
		historyFile: cfg.HistoryFile,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	return r, nil
}

// Run enters the prompt loop and blocks until the user exits, input
// reaches EOF, or ctx is cancelled. The readline instance owns the
// terminal for the duration.
func (r *REPL) Run(ctx context.Context) error {
	sess, err := r.newSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	r.session = sess

	if r.rl == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:            promptColor.Sprint("> "),
			HistoryFile:       r.historyFile,
			InterruptPrompt:   "^C",
			EOFPrompt:         "exit",
			HistorySearchFold: true,
		})
		if err != nil {
			return fmt.Errorf("initialize readline: %w", err)
		}
		r.rl = rl
	}
	defer r.rl.Close()

	presenter := NewPresenter(r.bus, r.out)
	defer presenter.Stop()

	r.printBanner()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				// Ctrl-C at the prompt: show a fresh prompt.
				continue
			}
			if errors.Is(err, io.EOF) {
				// Ctrl-D: end the session.
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			return nil
		case "clear":
			r.clearSession()
			continue
		case "stats":
			r.printStats()
			continue
		}

		r.processInput(ctx, input)
	}
}

func (r *REPL) printBanner() {
	noteColor.Fprintln(r.out, "\nEntering interactive mode. Type 'exit' or 'quit' to end the session.")
	noteColor.Fprintln(r.out, "Type 'clear' to clear conversation history.")
	fmt.Fprintln(r.out, "----------------------------------------")
}

// clearSession replaces the session with a fresh one against the same
// workspace. The old session's conversation state is dropped; files it
// wrote stay on disk.
func (r *REPL) clearSession() {
	sess, err := r.newSession()
	if err != nil {
		errColor.Fprintf(r.out, "Error: %v\n", err)
		r.logger.Error("session reset failed", "error", err)
		return
	}
	r.session = sess
	noteColor.Fprintln(r.out, "Conversation history cleared.")
}

// statsOrder fixes the category display order for the stats command.
var statsOrder = []budget.Category{
	budget.CategorySystem,
	budget.CategoryCurrent,
	budget.CategoryWorkspace,
	budget.CategoryError,
	budget.CategoryActive,
	budget.CategoryHistory,
	budget.CategoryContext,
}

func (r *REPL) printStats() {
	fmt.Fprintf(r.out, "\nSession %s using %s\n", r.session.SessionID(), r.session.Model())
	fmt.Fprintf(r.out, "Workspace: %s\n", r.session.WorkspaceRoot())
	fmt.Fprintf(r.out, "Exchanges: %d\n", len(r.session.Exchanges()))
	fmt.Fprintf(r.out, "Operation log: %d entries\n", len(r.session.Operations()))

	fmt.Fprintln(r.out, r.session.BudgetLine())
	report := r.session.BudgetReport()
	for _, cat := range statsOrder {
		fmt.Fprintf(r.out, "  %-9s %6d tokens\n", cat, report[cat].Used)
	}

	stats := r.session.WorkspaceStats()
	fmt.Fprintf(r.out, "Operations: %d succeeded, %d failed\n",
		stats.SuccessCount, stats.FailureCount)
	if len(stats.ErrorCounts) > 0 {
		kinds := make([]string, 0, len(stats.ErrorCounts))
		for k := range stats.ErrorCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(r.out, "  %s: %d\n", k, stats.ErrorCounts[k])
		}
	}
	for _, s := range r.session.Suggestions() {
		noteColor.Fprintf(r.out, "%s\n", s)
	}
}

// processInput runs one request against the session. The terminal is
// out of readline's raw mode while the request runs, so Ctrl-C arrives
// as SIGINT; it cancels this request's context and drops back to the
// prompt without ending the session.
func (r *REPL) processInput(ctx context.Context, input string) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-reqCtx.Done():
		}
	}()

	aiColor.Fprint(r.out, "\n> ")
	res, err := r.session.ProcessRequest(reqCtx, input, func(chunk string) {
		aiColor.Fprint(r.out, chunk)
	})
	fmt.Fprintln(r.out)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			noteColor.Fprintln(r.out, "Generation cancelled.")
			return
		}
		errColor.Fprintf(r.out, "Error: %v\n", err)
		return
	}

	switch res.Outcome {
	case agent.OutcomeFailed:
		errColor.Fprintf(r.out, "Tool execution failed: %s\n", res.Failure)
	case agent.OutcomeMaxInteractions:
		noteColor.Fprintln(r.out, res.Failure)
	}
}
