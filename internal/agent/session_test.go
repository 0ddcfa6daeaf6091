package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/reeve-ai-agent/internal/budget"
	"github.com/nugget/reeve-ai-agent/internal/config"
	"github.com/nugget/reeve-ai-agent/internal/events"
	"github.com/nugget/reeve-ai-agent/internal/llm"
	"github.com/nugget/reeve-ai-agent/internal/prompts"
	"github.com/nugget/reeve-ai-agent/internal/usage"
)

// scriptedGenerator returns pre-configured responses in sequence and
// records each call.
type scriptedGenerator struct {
	mu         sync.Mutex
	responses  []string
	repeatLast bool
	err        error
	calls      []scriptedCall
}

type scriptedCall struct {
	Prompt string
	Opts   llm.Options
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, opts llm.Options, onChunk llm.StreamFunc) (*llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, scriptedCall{Prompt: prompt, Opts: opts})
	if g.err != nil {
		return nil, g.err
	}

	idx := len(g.calls) - 1
	if idx >= len(g.responses) {
		if !g.repeatLast || len(g.responses) == 0 {
			return nil, fmt.Errorf("scriptedGenerator: no response for call %d", idx)
		}
		idx = len(g.responses) - 1
	}
	text := g.responses[idx]
	if onChunk != nil {
		onChunk(text)
	}
	return &llm.Result{
		Text:         text,
		Model:        "test-model",
		DoneReason:   "stop",
		PromptTokens: 100,
		OutputTokens: 20,
		Duration:     50 * time.Millisecond,
	}, nil
}

func (g *scriptedGenerator) Ping(context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession creates a session against a fresh sandbox with fixed
// generation parameters.
func newTestSession(t *testing.T, gen llm.Generator, deps Deps) *Session {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Path = t.TempDir()
	cfg.Generation.Temperature = 0.3
	cfg.Generation.MaxTokens = 2000
	cfg.Budget.ContextWindow = 32768
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}

	sess, err := NewSession(cfg, gen, "", "chat", deps)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestProcessRequest_PlainConversation(t *testing.T) {
	// A response with no command blocks finishes in one cycle.
	gen := &scriptedGenerator{responses: []string{"🤖 Hello! How can I help?"}}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateDone {
		t.Errorf("state = %v, want %v", res.State, StateDone)
	}
	if res.Outcome != OutcomeDone {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeDone)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", res.Cycles)
	}
	if len(gen.calls) != 1 {
		t.Errorf("generator calls = %d, want 1", len(gen.calls))
	}

	exchanges := sess.Exchanges()
	if len(exchanges) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(exchanges))
	}
	ex := exchanges[0]
	if ex.Result == nil || ex.Result.Text != "No tool executed" {
		t.Errorf("exchange result = %+v, want No tool executed", ex.Result)
	}
	if ex.Operation != "" {
		t.Errorf("exchange operation = %q, want empty", ex.Operation)
	}
}

func TestProcessRequest_InitialPromptAssembly(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"🤖 Hi."}}
	sess := newTestSession(t, gen, Deps{})

	if _, err := sess.ProcessRequest(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	prompt := gen.calls[0].Prompt
	for _, want := range []string{
		"🔥 TOOL COMMANDS 🔥",
		"Current Workspace State:",
		"Workspace: (Empty)",
		"No additional context provided",
		"No conversation history",
		"User Request:\nhello",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("initial prompt missing %q", want)
		}
	}

	opts := gen.calls[0].Opts
	if opts.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", opts.Temperature)
	}
	if opts.MaxTokens != 2000 {
		t.Errorf("max tokens = %d, want 2000", opts.MaxTokens)
	}
}

func TestProcessRequest_WriteFileScenario(t *testing.T) {
	// Empty sandbox; the model answers with one write block, then wraps
	// up with a plain confirmation on the next cycle.
	writeResponse := "🤖 Creating the file now.\n\n" +
		"%%tool write_file\n" +
		"%%path a/b.txt\n" +
		"%%content\n" +
		"hi\n" +
		"%%end\n"
	gen := &scriptedGenerator{responses: []string{
		writeResponse,
		"🤖 The file has been created. Anything else?",
	}}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "create a/b.txt containing hi", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateDone {
		t.Errorf("state = %v, want %v", res.State, StateDone)
	}
	if res.Cycles != 2 {
		t.Errorf("cycles = %d, want 2", res.Cycles)
	}
	if len(gen.calls) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(gen.calls))
	}

	data, err := os.ReadFile(filepath.Join(sess.WorkspaceRoot(), "a", "b.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("file content = %q, want %q", data, "hi")
	}

	exchanges := sess.Exchanges()
	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(exchanges))
	}
	first := exchanges[0]
	if first.Operation != "write_file" {
		t.Errorf("first exchange operation = %q, want write_file", first.Operation)
	}
	if first.Result == nil || first.Result.IsError() {
		t.Fatalf("first exchange result = %+v, want success", first.Result)
	}
	if !strings.Contains(first.Result.Text, "Successfully completed 1 operations") {
		t.Errorf("first exchange result = %q, want aggregate summary", first.Result.Text)
	}
	second := exchanges[1]
	if second.Result == nil || second.Result.Text != "No tool executed" {
		t.Errorf("second exchange result = %+v, want No tool executed", second.Result)
	}

	ops := sess.Operations()
	if len(ops) != 1 {
		t.Fatalf("operation log = %d entries, want 1", len(ops))
	}
	if ops[0].Tool != "write_file" || !ops[0].Success {
		t.Errorf("operation log entry = %+v, want successful write_file", ops[0])
	}

	// The continuation prompt carries the success framing, the original
	// request, and the recorded history.
	continuation := gen.calls[1].Prompt
	for _, want := range []string{
		"Previous Operation Complete ✓",
		"Operation: write_file",
		"Status: Success - No further action needed",
		"Original Request: create a/b.txt containing hi",
		"User: create a/b.txt containing hi",
	} {
		if !strings.Contains(continuation, want) {
			t.Errorf("continuation prompt missing %q", want)
		}
	}
}

func TestProcessRequest_MultipleCommandsOneResponse(t *testing.T) {
	multi := "🤖 Writing both files.\n" +
		"%%tool write_file\n%%path one.txt\n%%content\nfirst\n%%end\n" +
		"Some narration between blocks.\n" +
		"%%tool write_file\n%%path two.txt\n%%content\nsecond\n%%end\n"
	gen := &scriptedGenerator{responses: []string{multi, "🤖 Both files created."}}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "write two files", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %v, want %v", res.State, StateDone)
	}

	for name, want := range map[string]string{"one.txt": "first", "two.txt": "second"} {
		data, err := os.ReadFile(filepath.Join(sess.WorkspaceRoot(), name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != want {
			t.Errorf("%s content = %q, want %q", name, data, want)
		}
	}

	exchanges := sess.Exchanges()
	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(exchanges))
	}
	if !strings.Contains(exchanges[0].Result.Text, "Successfully completed 2 operations") {
		t.Errorf("result = %q, want 2 operations summarized", exchanges[0].Result.Text)
	}
	if ops := sess.Operations(); len(ops) != 2 {
		t.Errorf("operation log = %d entries, want one per command", len(ops))
	}
}

func TestProcessRequest_EmptyResponseEndsQuietly(t *testing.T) {
	// An empty full response terminates the loop with nothing recorded.
	gen := &scriptedGenerator{responses: []string{""}}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateDone {
		t.Errorf("state = %v, want %v", res.State, StateDone)
	}
	if res.Cycles != 0 {
		t.Errorf("cycles = %d, want 0", res.Cycles)
	}
	if n := len(sess.Exchanges()); n != 0 {
		t.Errorf("exchanges = %d, want 0", n)
	}
}

func TestProcessRequest_FailingToolStopsLoop(t *testing.T) {
	// Writing to the workspace root itself fails (it is a directory).
	// One failed command ends the request after a single cycle, not
	// after the ceiling.
	failing := "%%tool write_file\n%%path .\n%%content\nhi\n%%end\n"
	gen := &scriptedGenerator{responses: []string{failing}, repeatLast: true}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "break things", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateFailed {
		t.Errorf("state = %v, want %v", res.State, StateFailed)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", res.Cycles)
	}
	if len(gen.calls) != 1 {
		t.Errorf("generator calls = %d, want 1", len(gen.calls))
	}
	if !strings.Contains(res.Failure, "Failed to write file") {
		t.Errorf("failure = %q, want write failure text", res.Failure)
	}

	exchanges := sess.Exchanges()
	if len(exchanges) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(exchanges))
	}
	if exchanges[0].Result == nil || !exchanges[0].Result.IsError() {
		t.Errorf("failed execution should record an error outcome, got %+v", exchanges[0].Result)
	}
}

func TestProcessRequest_UnsupportedOperation(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"%%tool frobnicate\n%%path x.txt\n%%end\n"}}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "do something odd", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateFailed {
		t.Errorf("state = %v, want %v", res.State, StateFailed)
	}
	if !strings.Contains(res.Failure, "Unsupported operation: frobnicate") {
		t.Errorf("failure = %q, want unsupported operation text", res.Failure)
	}

	exchanges := sess.Exchanges()
	if len(exchanges) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(exchanges))
	}
	if got := exchanges[0].Result.Suggestion; got != "Use one of the supported tool commands" {
		t.Errorf("suggestion = %q", got)
	}
}

func TestProcessRequest_InteractionCeiling(t *testing.T) {
	// Every cycle succeeds, so only the ceiling can stop the loop.
	write := "%%tool write_file\n%%path loop.txt\n%%content\nagain\n%%end\n"
	gen := &scriptedGenerator{responses: []string{write}, repeatLast: true}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "loop forever", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.State != StateFailed {
		t.Errorf("state = %v, want %v", res.State, StateFailed)
	}
	if res.Outcome != OutcomeMaxInteractions {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeMaxInteractions)
	}
	if res.Cycles != MaxInteractions {
		t.Errorf("cycles = %d, want %d", res.Cycles, MaxInteractions)
	}
	if len(gen.calls) != MaxInteractions {
		t.Errorf("generator calls = %d, want %d", len(gen.calls), MaxInteractions)
	}
	if res.Failure != prompts.MaxInteractionsNotice(MaxInteractions) {
		t.Errorf("failure = %q, want ceiling notice", res.Failure)
	}
}

func TestProcessRequest_CeilingBeatsPlainFinish(t *testing.T) {
	// The final allowed cycle returns a plain response with no commands.
	// The ceiling check runs before the no-commands exit, so the request
	// still reports max_interactions.
	write := "%%tool write_file\n%%path loop.txt\n%%content\nagain\n%%end\n"
	responses := make([]string, 0, MaxInteractions)
	for i := 0; i < MaxInteractions-1; i++ {
		responses = append(responses, write)
	}
	responses = append(responses, "🤖 All done.")
	gen := &scriptedGenerator{responses: responses}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "long task", nil)
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if res.Outcome != OutcomeMaxInteractions {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeMaxInteractions)
	}
	if res.Cycles != MaxInteractions {
		t.Errorf("cycles = %d, want %d", res.Cycles, MaxInteractions)
	}
}

func TestProcessRequest_GenerationError(t *testing.T) {
	gen := &scriptedGenerator{err: fmt.Errorf("connection refused")}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected error from failed generation")
	}

	if res.State != StateFailed {
		t.Errorf("state = %v, want %v", res.State, StateFailed)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if res.Cycles != 0 {
		t.Errorf("cycles = %d, want 0", res.Cycles)
	}
	if n := len(sess.Exchanges()); n != 0 {
		t.Errorf("exchanges = %d, want 0 (in-flight exchange never appended)", n)
	}
}

func TestProcessRequest_Cancellation(t *testing.T) {
	gen := &scriptedGenerator{err: context.Canceled}
	sess := newTestSession(t, gen, Deps{})

	res, err := sess.ProcessRequest(context.Background(), "hello", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if res.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCancelled)
	}
	if n := len(sess.Exchanges()); n != 0 {
		t.Errorf("exchanges = %d, want 0", n)
	}
}

func TestProcessRequest_StreamsFragments(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"🤖 streamed reply"}}
	sess := newTestSession(t, gen, Deps{})

	var chunks []string
	res, err := sess.ProcessRequest(context.Background(), "hi", func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	if got := strings.Join(chunks, ""); got != "🤖 streamed reply" {
		t.Errorf("streamed fragments = %q", got)
	}
	if res.Response != "🤖 streamed reply" {
		t.Errorf("response = %q", res.Response)
	}
}

func TestProcessRequest_BudgetCategories(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace.Path = t.TempDir()
	cfg.Budget.ContextWindow = 32768

	gen := &scriptedGenerator{responses: []string{"🤖 Noted."}}
	sess, err := NewSession(cfg, gen, "reference notes here", "chat", Deps{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if _, err := sess.ProcessRequest(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	report := sess.BudgetReport()
	if report[budget.CategorySystem].Used == 0 {
		t.Error("system category should account for instructions")
	}
	if want := budget.Estimate("reference notes here"); report[budget.CategoryContext].Used != want {
		t.Errorf("context category = %d, want %d", report[budget.CategoryContext].Used, want)
	}
	if report[budget.CategoryCurrent].Used != 0 {
		t.Errorf("current category = %d, want 0 after request settles", report[budget.CategoryCurrent].Used)
	}
	if report[budget.CategoryActive].Used == 0 {
		t.Error("active category should account for the recorded exchange")
	}
}

func TestProcessRequest_RecordsUsageLedger(t *testing.T) {
	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	writeResponse := "%%tool write_file\n%%path a.txt\n%%content\nhi\n%%end\n"
	gen := &scriptedGenerator{responses: []string{writeResponse, "🤖 Done."}}
	sess := newTestSession(t, gen, Deps{Usage: store})

	if _, err := sess.ProcessRequest(context.Background(), "write a.txt", nil); err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	sum, err := store.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalGenerations != 2 {
		t.Errorf("generations recorded = %d, want 2", sum.TotalGenerations)
	}

	outcomes, err := store.RequestOutcomes(start, end)
	if err != nil {
		t.Fatalf("RequestOutcomes: %v", err)
	}
	if outcomes[OutcomeDone] != 1 {
		t.Errorf("done requests = %d, want 1 (outcomes: %v)", outcomes[OutcomeDone], outcomes)
	}
}

func TestProcessRequest_EmitsLifecycleEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(128)
	defer bus.Unsubscribe(ch)

	gen := &scriptedGenerator{responses: []string{"🤖 Hi."}}
	sess := newTestSession(t, gen, Deps{Bus: bus})

	if _, err := sess.ProcessRequest(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ProcessRequest() error: %v", err)
	}

	kinds := map[string]int{}
drain:
	for {
		select {
		case e := <-ch:
			kinds[e.Kind]++
		default:
			break drain
		}
	}

	for _, want := range []string{
		events.KindRequestStart,
		events.KindCycleStart,
		events.KindGenerationStart,
		events.KindGenerationDone,
		events.KindExchangeAdded,
		events.KindRequestComplete,
	} {
		if kinds[want] == 0 {
			t.Errorf("no %s event published (got %v)", want, kinds)
		}
	}
}

func TestNewSession_CreatesWorkspaceDir(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace.Path = filepath.Join(t.TempDir(), "ws", "nested")

	sess, err := NewSession(cfg, &scriptedGenerator{}, "", "chat", Deps{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	info, err := os.Stat(cfg.Workspace.Path)
	if err != nil {
		t.Fatalf("workspace dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("workspace path is not a directory")
	}
	if sess.SessionID() == "" {
		t.Error("session id should not be empty")
	}
}
