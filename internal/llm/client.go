// Package llm provides the text-generation backend client.
package llm

import (
	"context"
	"time"
)

// StreamFunc is called for each streamed response fragment, in arrival
// order, on the goroutine running Generate. Fragments are delivered
// through this callback rather than the event bus because the bus
// drops events under backpressure.
type StreamFunc func(chunk string)

// Options are per-request generation parameters.
type Options struct {
	// Temperature in [0.0, 1.0].
	Temperature float64
	// MaxTokens caps the tokens generated for this response.
	MaxTokens int
}

// Result is the accumulated outcome of one generation.
type Result struct {
	// Text is the full response with all fragments joined.
	Text string
	// Model is the model that produced the response.
	Model string
	// DoneReason reports why generation stopped, when the backend
	// provides one ("stop", "length").
	DoneReason string
	// PromptTokens is the backend's count of evaluated prompt tokens.
	PromptTokens int
	// OutputTokens is the backend's count of generated tokens.
	OutputTokens int
	// Duration is the backend's total wall time for the request.
	Duration time.Duration
}

// Generator is the interface the agent loop generates text through.
type Generator interface {
	// Generate streams a completion for prompt. Each fragment is passed
	// to onChunk as it arrives (onChunk may be nil); the accumulated
	// text and final metadata are returned when the stream ends.
	// Cancelling ctx aborts the stream and returns the context error.
	Generate(ctx context.Context, prompt string, opts Options, onChunk StreamFunc) (*Result, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
