package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/reeve-ai-agent/internal/config"
	"github.com/nugget/reeve-ai-agent/internal/usage"
)

// writeTestConfig writes a config file pointing every filesystem path
// into dir, so tests never touch the real search path or working
// directory.
func writeTestConfig(t *testing.T, dir, ollamaURL string) string {
	t.Helper()
	content := fmt.Sprintf(`ollama:
  url: %s
  model: test-model
workspace:
  path: %s
generation:
  temperature: 0.3
  max_tokens: 2000
budget:
  context_window: 32768
usage_db: %s
log_level: error
`, ollamaURL, filepath.Join(dir, "workspace"), filepath.Join(dir, "usage.db"))

	path := filepath.Join(dir, "reeve.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

// fakeOllama serves the two endpoints reeve talks to: /api/tags for
// Ping and /api/generate for streaming generation.
func fakeOllama(t *testing.T, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[]}`)
		case "/api/generate":
			generate(w, r)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

// chunk writes one NDJSON stream line and flushes it to the client.
func chunk(t *testing.T, w http.ResponseWriter, fields map[string]any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(fields); err != nil {
		t.Errorf("encode chunk: %v", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestFlagValue(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		args    []string
		wantVal string
		wantIdx int
		wantOK  bool
	}{
		{name: "separate value", flag: "-t", args: []string{"-t", "0.5"}, wantVal: "0.5", wantIdx: 1, wantOK: true},
		{name: "equals form", flag: "-t", args: []string{"-t=0.7"}, wantVal: "0.7", wantIdx: 0, wantOK: true},
		{name: "different flag", flag: "-t", args: []string{"-max-tokens", "5"}, wantIdx: 0},
		{name: "longer flag does not match prefix", flag: "-t", args: []string{"-temperature=0.5"}, wantIdx: 0},
		{name: "missing value", flag: "-t", args: []string{"-t"}, wantIdx: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, idx, ok := flagValue(tt.flag, tt.args, 0)
			if val != tt.wantVal || idx != tt.wantIdx || ok != tt.wantOK {
				t.Errorf("flagValue(%q, %v) = (%q, %d, %v), want (%q, %d, %v)",
					tt.flag, tt.args, val, idx, ok, tt.wantVal, tt.wantIdx, tt.wantOK)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-h"}); err != nil {
		t.Fatalf("run -h failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: reeve") {
		t.Errorf("help output missing usage line:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "ask <prompt>") {
		t.Error("help output missing ask command")
	}
}

// Scenario: reeve is invoked bare inside a pipeline. Test processes
// have no TTY on stdin, so this must print usage rather than block on
// interactive input.
func TestRun_BareInvocationWithoutTTY(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, nil); err != nil {
		t.Fatalf("bare run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: reeve") {
		t.Errorf("output = %q, want usage text", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag: -frobnicate") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command: frobnicate") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRun_AskRequiresPrompt(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: reeve ask") {
		t.Errorf("err = %v, want usage error", err)
	}
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard,
		[]string{"-config", "/nonexistent/reeve.yaml", "stats"})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v, want config file not found", err)
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Reeve dev") {
		t.Errorf("version output missing summary line:\n%s", got)
	}
	for _, field := range []string{"version:", "go_version:", "os:", "arch:"} {
		if !strings.Contains(got, field) {
			t.Errorf("version output missing %s", field)
		}
	}
}

func TestApplyOverride(t *testing.T) {
	tests := []struct {
		kv      string
		wantErr bool
		check   func(c *config.Config) bool
	}{
		{kv: "ollama.url=http://other:11434", check: func(c *config.Config) bool { return c.Ollama.URL == "http://other:11434" }},
		{kv: "ollama.model=llama3.2:3b", check: func(c *config.Config) bool { return c.Ollama.Model == "llama3.2:3b" }},
		{kv: "workspace.path=/tmp/ws", check: func(c *config.Config) bool { return c.Workspace.Path == "/tmp/ws" }},
		{kv: "generation.temperature=0.9", check: func(c *config.Config) bool { return c.Generation.Temperature == 0.9 }},
		{kv: "generation.max_tokens=512", check: func(c *config.Config) bool { return c.Generation.MaxTokens == 512 }},
		{kv: "budget.context_window=8192", check: func(c *config.Config) bool { return c.Budget.ContextWindow == 8192 }},
		{kv: "usage_db=other.db", check: func(c *config.Config) bool { return c.UsageDB == "other.db" }},
		{kv: "log_level=debug", check: func(c *config.Config) bool { return c.LogLevel == "debug" }},
		{kv: "log_format=json", check: func(c *config.Config) bool { return c.LogFormat == "json" }},
		{kv: "generation.temperature=hot", wantErr: true},
		{kv: "budget.context_window=wide", wantErr: true},
		{kv: "nope.key=1", wantErr: true},
		{kv: "missing-equals", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kv, func(t *testing.T) {
			cfg := &config.Config{}
			err := applyOverride(cfg, tt.kv)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("applyOverride(%q) succeeded, want error", tt.kv)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyOverride(%q) failed: %v", tt.kv, err)
			}
			if !tt.check(cfg) {
				t.Errorf("applyOverride(%q) did not set the expected field", tt.kv)
			}
		})
	}
}

func TestApplyFlags_NamedFlags(t *testing.T) {
	cfg := &config.Config{}
	fl := flags{
		workspace:   "/tmp/ws",
		model:       "llama3.2:3b",
		temperature: "0.8",
		maxTokens:   "512",
		logLevel:    "debug",
		logFormat:   "json",
		files:       []string{"a.md", "b.txt"},
	}

	if err := applyFlags(cfg, fl); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}

	if cfg.Workspace.Path != "/tmp/ws" {
		t.Errorf("Workspace.Path = %q", cfg.Workspace.Path)
	}
	if cfg.Ollama.Model != "llama3.2:3b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Generation.Temperature != 0.8 {
		t.Errorf("Temperature = %v", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", cfg.Generation.MaxTokens)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log settings = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.ContextFiles) != 2 || cfg.ContextFiles[0] != "a.md" || cfg.ContextFiles[1] != "b.txt" {
		t.Errorf("ContextFiles = %v", cfg.ContextFiles)
	}
}

// Scenario: the same field is set by a named flag and a -o override.
// Overrides are applied last, so the generic form wins.
func TestApplyFlags_OverridePrecedence(t *testing.T) {
	cfg := &config.Config{}
	fl := flags{
		model:     "flag-model",
		overrides: []string{"ollama.model=override-model"},
	}

	if err := applyFlags(cfg, fl); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}
	if cfg.Ollama.Model != "override-model" {
		t.Errorf("Ollama.Model = %q, want override-model", cfg.Ollama.Model)
	}
}

func TestApplyFlags_InvalidNumbers(t *testing.T) {
	if err := applyFlags(&config.Config{}, flags{temperature: "hot"}); err == nil {
		t.Error("expected error for bad -t value")
	}
	if err := applyFlags(&config.Config{}, flags{maxTokens: "many"}); err == nil {
		t.Error("expected error for bad -max-tokens value")
	}
}

func TestRun_StatsEmptyLedger(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://localhost:1")

	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "stats"}); err != nil {
		t.Fatalf("run stats failed: %v", err)
	}
	if !strings.Contains(out.String(), "No usage recorded.") {
		t.Errorf("output = %q, want empty-ledger notice", out.String())
	}
}

func TestRun_StatsRendersLedger(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://localhost:1")
	dbPath := filepath.Join(dir, "usage.db")

	// Seed the ledger the same way a session would.
	store, err := usage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	gens := []usage.Generation{
		{RequestID: "r1", Mode: "chat", Model: "test-model", PromptTokens: 100, OutputTokens: 20, DurationMs: 1500},
		{RequestID: "r1", Mode: "chat", Model: "test-model", PromptTokens: 140, OutputTokens: 30, DurationMs: 2500},
		{RequestID: "r2", Mode: "ask", Model: "other-model", PromptTokens: 50, OutputTokens: 10, DurationMs: 1000},
	}
	for _, g := range gens {
		if err := store.RecordGeneration(ctx, g); err != nil {
			t.Fatalf("seed generation: %v", err)
		}
	}
	reqs := []usage.Request{
		{Mode: "chat", Outcome: "done", Cycles: 2, ElapsedMs: 4000},
		{Mode: "ask", Outcome: "failed", Cycles: 1, ElapsedMs: 1000},
	}
	for _, r := range reqs {
		if err := store.RecordRequest(ctx, r); err != nil {
			t.Fatalf("seed request: %v", err)
		}
	}
	store.Close()

	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "stats"}); err != nil {
		t.Fatalf("run stats failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Generations: 3") {
		t.Errorf("missing overall total:\n%s", got)
	}
	if !strings.Contains(got, "prompt 290 tokens, output 60 tokens") {
		t.Errorf("missing token totals:\n%s", got)
	}
	for _, want := range []string{"test-model", "other-model", "chat", "ask", "done", "failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

// Scenario: a full one-shot request against a fake backend. The
// response streams to stdout and both ledger tables gain a row.
func TestRun_AskStreamsResponse(t *testing.T) {
	ts := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		chunk(t, w, map[string]any{"response": "🤖 All"})
		chunk(t, w, map[string]any{"response": " set."})
		chunk(t, w, map[string]any{"done": true, "done_reason": "stop", "prompt_eval_count": 12, "eval_count": 4})
	})
	defer ts.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, ts.URL)

	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "ask", "hello"}); err != nil {
		t.Fatalf("run ask failed: %v", err)
	}
	if !strings.Contains(out.String(), "🤖 All set.") {
		t.Errorf("stdout = %q, want streamed response", out.String())
	}

	store, err := usage.NewStore(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	start := time.Unix(0, 0)
	end := time.Now().Add(time.Minute)
	sum, err := store.Summary(start, end)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalGenerations != 1 || sum.TotalPromptTokens != 12 || sum.TotalOutputTokens != 4 {
		t.Errorf("ledger summary = %+v, want one generation with 12/4 tokens", sum)
	}
	outcomes, err := store.RequestOutcomes(start, end)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if outcomes["done"] != 1 {
		t.Errorf("outcomes = %v, want one done request", outcomes)
	}
}

// Scenario: a context file passed with -f must reach the prompt.
func TestRun_AskIncludesContextFile(t *testing.T) {
	var gotPrompt string
	ts := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotPrompt = req.Prompt
		chunk(t, w, map[string]any{"response": "noted"})
		chunk(t, w, map[string]any{"done": true, "done_reason": "stop"})
	})
	defer ts.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, ts.URL)
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("Project codename aurora."), 0o644); err != nil {
		t.Fatalf("write context file: %v", err)
	}

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard,
		[]string{"-config", cfgPath, "-f", notes, "ask", "what is the codename?"})
	if err != nil {
		t.Fatalf("run ask failed: %v", err)
	}
	if !strings.Contains(gotPrompt, "Project codename aurora.") {
		t.Error("prompt does not include the context file content")
	}
	if !strings.Contains(gotPrompt, "what is the codename?") {
		t.Error("prompt does not include the user input")
	}
}

// Scenario: the model calls a tool that does not exist. The loop ends
// failed and ask reports a non-nil error so the exit status is 1.
func TestRun_AskToolFailureExitsNonZero(t *testing.T) {
	ts := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		chunk(t, w, map[string]any{"response": "🤖 Trying a tool.\n%%tool frobnicate\n%%path x.txt\n%%end\n"})
		chunk(t, w, map[string]any{"done": true, "done_reason": "stop"})
	})
	defer ts.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, ts.URL)

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "ask", "do it"})
	if err == nil {
		t.Fatal("expected error for failed request")
	}
	if !strings.Contains(err.Error(), "request failed") {
		t.Errorf("err = %v, want request failed", err)
	}
	if !strings.Contains(err.Error(), "Unsupported operation: frobnicate") {
		t.Errorf("err = %v, want the tool failure text", err)
	}
}

// Scenario: the context is cancelled mid-stream, as a Ctrl-C would.
func TestRun_AskCancelledMidGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		chunk(t, w, map[string]any{"response": "partial"})
		cancel()
		// Hold the stream open until the client gives up.
		<-r.Context().Done()
	})
	defer ts.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, ts.URL)

	var out bytes.Buffer
	err := run(ctx, &out, io.Discard, []string{"-config", cfgPath, "ask", "hello"})
	if err == nil || !strings.Contains(err.Error(), "operation cancelled by user") {
		t.Errorf("err = %v, want cancellation message", err)
	}
}

// Scenario: chat refuses to start when the backend is unreachable, so
// the user sees a clear connection error instead of a dead prompt.
func TestRun_ChatUnreachableOllama(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, ts.URL)

	var out bytes.Buffer
	err := run(context.Background(), &out, io.Discard, []string{"-config", cfgPath, "chat"})
	if err == nil || !strings.Contains(err.Error(), "ollama not reachable") {
		t.Errorf("err = %v, want unreachable error", err)
	}
}
