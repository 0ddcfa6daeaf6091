// Package events provides a publish/subscribe event bus for session
// observability. Events flow from components (agent loop, tool
// executor, conversation state) to subscribers (the interactive
// presenter, future metrics collectors). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
//
// The bus carries lifecycle events only. Streamed generation fragments
// go through the generator's stream callback instead, because the bus
// drops events under backpressure and fragments must not be lost.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the request loop.
	SourceAgent = "agent"
	// SourceTools identifies events from the tool executor.
	SourceTools = "tools"
	// SourceLLM identifies events from the generation backend.
	SourceLLM = "llm"
	// SourceConversation identifies events from conversation and
	// operation-log bookkeeping.
	SourceConversation = "conversation"
)

// Kind constants describe the type of event within a source.
const (
	// KindRequestStart signals the beginning of a user request.
	// Data: request_id, prompt_len.
	KindRequestStart = "request_start"
	// KindCycleStart signals the beginning of an interaction cycle.
	// Data: request_id, cycle.
	KindCycleStart = "cycle_start"
	// KindGenerationStart signals the start of a model generation.
	// Data: request_id, cycle, model.
	KindGenerationStart = "generation_start"
	// KindGenerationDone signals completion of a model generation.
	// Data: request_id, cycle, model, chars, duration_ms.
	KindGenerationDone = "generation_done"
	// KindToolCall signals the start of a tool execution.
	// Data: tool, path.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: tool, path, ok, duration_ms, error_kind.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of a user request.
	// Data: request_id, cycles, outcome, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindExchangeAdded signals a completed exchange was recorded.
	// Data: cost_tokens, exchanges, used_tokens.
	KindExchangeAdded = "exchange_added"
	// KindTrim signals entries were evicted to fit the token budget.
	// Data: log ("exchanges" or "operations"), dropped, used_tokens.
	KindTrim = "trim"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Emit stamps and publishes an event in one call. Safe on a nil
// receiver (no-op).
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full. Drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// an interactive presenter.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
