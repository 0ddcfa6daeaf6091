// Reeve is a local AI coding agent for Ollama.
//
// It drives a prompt, generate, execute loop against a sandboxed
// workspace directory: responses from the model may embed tool commands
// (write_file, read_file, and friends) that Reeve executes, feeding the
// results back into the next prompt. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); every setting has a usable default so
// the binary also runs with no config file at all.
//
// Usage:
//
//	reeve                    Start an interactive session
//	reeve ask <prompt>       Process a single request and exit
//	reeve init [dir]         Write an example config and workspace
//	reeve stats              Summarize recorded usage
//	reeve version            Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nugget/reeve-ai-agent/internal/agent"
	"github.com/nugget/reeve-ai-agent/internal/buildinfo"
	"github.com/nugget/reeve-ai-agent/internal/config"
	"github.com/nugget/reeve-ai-agent/internal/contextfile"
	"github.com/nugget/reeve-ai-agent/internal/events"
	"github.com/nugget/reeve-ai-agent/internal/llm"
	"github.com/nugget/reeve-ai-agent/internal/repl"
	"github.com/nugget/reeve-ai-agent/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// flags holds every command-line option. Each one overrides the
// corresponding config file setting; unset flags leave the config
// value alone.
type flags struct {
	configPath  string
	workspace   string
	model       string
	temperature string
	maxTokens   string
	logLevel    string
	logFormat   string
	files       []string
	overrides   []string
}

// flagValue matches args[i] against a flag that takes a value,
// accepting both "-flag value" and "-flag=value" forms. It returns the
// value, the index of the last argument consumed, and whether it
// matched.
func flagValue(name string, args []string, i int) (string, int, bool) {
	if args[i] == name && i+1 < len(args) {
		return args[i+1], i + 1, true
	}
	if strings.HasPrefix(args[i], name+"=") {
		return strings.TrimPrefix(args[i], name+"="), i, true
	}
	return "", i, false
}

// run is the real entry point for the reeve command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process.
//   - stdout receives user-facing output: streamed responses, the
//     interactive session, reports. stderr receives structured logs,
//     so piping stdout stays clean.
//   - args is os.Args[1:]. Arguments are parsed by hand rather than
//     with the flag package to avoid global state that interferes with
//     parallel tests.
//
// run returns nil on success. The caller (main) prints the error and
// sets the exit status.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var fl flags
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		if v, ni, ok := flagValue("-config", args, i); ok {
			fl.configPath, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-workspace", args, i); ok {
			fl.workspace, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-model", args, i); ok {
			fl.model, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-t", args, i); ok {
			fl.temperature, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-max-tokens", args, i); ok {
			fl.maxTokens, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-f", args, i); ok {
			fl.files = append(fl.files, v)
			i = ni
			continue
		}
		if v, ni, ok := flagValue("-o", args, i); ok {
			fl.overrides = append(fl.overrides, v)
			i = ni
			continue
		}
		if v, ni, ok := flagValue("-log-level", args, i); ok {
			fl.logLevel, i = v, ni
			continue
		}
		if v, ni, ok := flagValue("-log-format", args, i); ok {
			fl.logFormat, i = v, ni
			continue
		}

		switch {
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			if command == "" {
				command = args[i]
			} else {
				cmdArgs = append(cmdArgs, args[i])
			}
		case command != "":
			// Dashed words after the command belong to the command, so
			// prompts like `reeve ask explain the -n flag` survive.
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "":
		// A bare invocation starts chat only on a terminal. In a
		// pipeline it prints usage instead of waiting on input.
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return printUsage(stdout)
		}
		return runChat(ctx, stdout, stderr, fl)
	case "chat":
		return runChat(ctx, stdout, stderr, fl)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: reeve ask <prompt>")
		}
		return runAsk(ctx, stdout, stderr, fl, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "stats":
		return runStats(stdout, fl)
	case "version":
		return runVersion(stdout)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w. It is called for
// -h / --help and the help command.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Reeve - local AI coding agent for Ollama")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: reeve [flags] [command] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat            Interactive session (default)")
	fmt.Fprintln(w, "  ask <prompt>    Process a single request and exit")
	fmt.Fprintln(w, "  init [dir]      Write an example config and workspace (default: .)")
	fmt.Fprintln(w, "  stats           Summarize recorded usage")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>      Config file (default: auto-discover)")
	fmt.Fprintln(w, "  -workspace <dir>    Workspace root for file operations")
	fmt.Fprintln(w, "  -model <name>       Ollama model name")
	fmt.Fprintln(w, "  -t <float>          Generation temperature (0.0-1.0)")
	fmt.Fprintln(w, "  -max-tokens <n>     Cap on tokens generated per response")
	fmt.Fprintln(w, "  -f <file>           Context file, prepended to prompts (repeatable)")
	fmt.Fprintln(w, "  -o <key=value>      Config override, e.g. -o budget.context_window=8192")
	fmt.Fprintln(w, "  -log-level <level>  trace, debug, info, warn, or error")
	fmt.Fprintln(w, "  -log-format <fmt>   text or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runVersion prints build metadata in a stable field order.
func runVersion(w io.Writer) error {
	info := buildinfo.Info()
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist. When
// nothing on the search path exists either, built-in defaults plus
// environment variables are used so reeve works with no file at all.
// Returns the config, the path that was loaded (empty for defaults),
// and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// setupConfig loads the configuration, layers the command-line flags
// on top, and validates the result.
func setupConfig(fl flags) (*config.Config, string, error) {
	cfg, cfgPath, err := loadConfig(fl.configPath)
	if err != nil {
		return nil, "", err
	}
	if err := applyFlags(cfg, fl); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, cfgPath, nil
}

// applyFlags layers command-line options onto cfg. Named flags are
// applied first, then -o overrides in order, so the generic form wins
// when both set the same field.
func applyFlags(cfg *config.Config, fl flags) error {
	if fl.workspace != "" {
		cfg.Workspace.Path = fl.workspace
	}
	if fl.model != "" {
		cfg.Ollama.Model = fl.model
	}
	if fl.temperature != "" {
		t, err := strconv.ParseFloat(fl.temperature, 64)
		if err != nil {
			return fmt.Errorf("invalid -t value %q", fl.temperature)
		}
		cfg.Generation.Temperature = t
	}
	if fl.maxTokens != "" {
		n, err := strconv.Atoi(fl.maxTokens)
		if err != nil {
			return fmt.Errorf("invalid -max-tokens value %q", fl.maxTokens)
		}
		cfg.Generation.MaxTokens = n
	}
	if fl.logLevel != "" {
		cfg.LogLevel = fl.logLevel
	}
	if fl.logFormat != "" {
		cfg.LogFormat = fl.logFormat
	}
	cfg.ContextFiles = append(cfg.ContextFiles, fl.files...)

	for _, ov := range fl.overrides {
		if err := applyOverride(cfg, ov); err != nil {
			return err
		}
	}
	return nil
}

// applyOverride sets one configuration field from a -o key=value pair.
// Keys mirror the YAML structure with dots.
func applyOverride(cfg *config.Config, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("invalid override %q (expected key=value)", kv)
	}

	switch key {
	case "ollama.url":
		cfg.Ollama.URL = value
	case "ollama.model":
		cfg.Ollama.Model = value
	case "workspace.path":
		cfg.Workspace.Path = value
	case "generation.temperature":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, value)
		}
		cfg.Generation.Temperature = t
	case "generation.max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, value)
		}
		cfg.Generation.MaxTokens = n
	case "budget.context_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, value)
		}
		cfg.Budget.ContextWindow = n
	case "usage_db":
		cfg.UsageDB = value
	case "log_level":
		cfg.LogLevel = value
	case "log_format":
		cfg.LogFormat = value
	default:
		return fmt.Errorf("unknown override key %q", key)
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in reeve goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLogger derives the logger from cfg. Validate has already
// checked the level string, so the parse error path is unreachable in
// practice.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return newLogger(w, level, cfg.LogFormat)
}

// historyPath returns the readline history location, or empty when no
// home directory is available (history then lives in memory for the
// current run only).
func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".reeve_history")
}

// runChat handles the default interactive mode. It builds the shared
// collaborators (backend client, usage ledger, event bus, context
// files) and hands control to the prompt loop. The loop owns signal
// handling per request, so Ctrl-C cancels the active generation
// without ending the session.
func runChat(ctx context.Context, stdout io.Writer, stderr io.Writer, fl flags) error {
	cfg, cfgPath, err := setupConfig(fl)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	logger.Debug("starting reeve", "version", buildinfo.Version)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	client := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Model, logger)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", cfg.Ollama.URL, err)
	}

	store, err := usage.NewStore(cfg.UsageDB)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.New()
	contextText := contextfile.Load(cfg.ContextFiles, logger)

	deps := agent.Deps{Usage: store, Bus: bus, Logger: logger}
	factory := func() (*agent.Session, error) {
		return agent.NewSession(cfg, client, contextText, "chat", deps)
	}

	r, err := repl.New(repl.Config{
		NewSession:  factory,
		Bus:         bus,
		Logger:      logger,
		Stdout:      stdout,
		HistoryFile: historyPath(),
	})
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// runAsk handles "reeve ask <prompt>": one request against a fresh
// session, response streamed to stdout. The exit status reflects the
// loop outcome so scripts can branch on failure.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, fl flags, args []string) error {
	cfg, cfgPath, err := setupConfig(fl)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}

	// Ctrl-C cancels the request. The deferred stop restores default
	// signal behavior before exit.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Model, logger)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", cfg.Ollama.URL, err)
	}

	store, err := usage.NewStore(cfg.UsageDB)
	if err != nil {
		return err
	}
	defer store.Close()

	// Tool activity renders on stderr so stdout carries only the
	// response text and stays pipeable.
	bus := events.New()
	presenter := repl.NewPresenter(bus, stderr)
	defer presenter.Stop()

	contextText := contextfile.Load(cfg.ContextFiles, logger)

	sess, err := agent.NewSession(cfg, client, contextText, "ask", agent.Deps{
		Usage:  store,
		Bus:    bus,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	res, err := sess.ProcessRequest(ctx, prompt, func(chunk string) {
		fmt.Fprint(stdout, chunk)
	})
	fmt.Fprintln(stdout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("operation cancelled by user")
		}
		return err
	}
	if res.State == agent.StateFailed {
		return fmt.Errorf("request failed after %d cycles: %s", res.Cycles, res.Failure)
	}
	return nil
}

// runStats summarizes the usage ledger: overall totals, per-model and
// per-mode breakdowns, and request outcomes.
func runStats(stdout io.Writer, fl flags) error {
	cfg, _, err := setupConfig(fl)
	if err != nil {
		return err
	}

	store, err := usage.NewStore(cfg.UsageDB)
	if err != nil {
		return err
	}
	defer store.Close()

	// All-time window. Timestamps are stored at second precision, so
	// nudge the upper bound well past now.
	start := time.Unix(0, 0)
	end := time.Now().Add(time.Minute)

	total, err := store.Summary(start, end)
	if err != nil {
		return err
	}
	if total.TotalGenerations == 0 {
		fmt.Fprintln(stdout, "No usage recorded.")
		return nil
	}

	fmt.Fprintf(stdout, "Generations: %d (prompt %d tokens, output %d tokens, mean %s)\n",
		total.TotalGenerations, total.TotalPromptTokens, total.TotalOutputTokens,
		meanDuration(total))

	byModel, err := store.SummaryByModel(start, end)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "By model:")
	printSummaries(stdout, byModel)

	byMode, err := store.SummaryByMode(start, end)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "By mode:")
	printSummaries(stdout, byMode)

	outcomes, err := store.RequestOutcomes(start, end)
	if err != nil {
		return err
	}
	if len(outcomes) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Requests:")
		for _, k := range sortedKeys(outcomes) {
			fmt.Fprintf(stdout, "  %-17s %6d\n", k, outcomes[k])
		}
	}
	return nil
}

// printSummaries renders grouped summaries in alphabetical key order
// so output is stable across runs.
func printSummaries(w io.Writer, groups map[string]*usage.Summary) {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := groups[k]
		fmt.Fprintf(w, "  %-24s %5d calls  %9d prompt  %8d output  mean %s\n",
			k, s.TotalGenerations, s.TotalPromptTokens, s.TotalOutputTokens, meanDuration(s))
	}
}

// meanDuration returns the average generation time, rounded for display.
func meanDuration(s *usage.Summary) time.Duration {
	if s.TotalGenerations == 0 {
		return 0
	}
	mean := time.Duration(s.TotalDurationMs/int64(s.TotalGenerations)) * time.Millisecond
	return mean.Round(10 * time.Millisecond)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
