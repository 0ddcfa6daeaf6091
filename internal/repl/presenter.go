package repl

import (
	"io"

	"github.com/nugget/reeve-ai-agent/internal/events"
)

// Presenter renders bus events as console lines: one line per
// completed tool, a notice when the budget trims history, and the
// response marker for follow-up generation cycles. All other lifecycle
// events are consumed silently.
//
// Rendering runs on its own goroutine. Tool events only fire between
// generation cycles, when nothing else is writing, so lines do not
// interleave with streamed response text in practice.
type Presenter struct {
	bus  *events.Bus
	w    io.Writer
	ch   <-chan events.Event
	done chan struct{}
}

// NewPresenter subscribes to bus and starts rendering to w. A nil bus
// yields an inert presenter. Call Stop to unsubscribe and drain.
func NewPresenter(bus *events.Bus, w io.Writer) *Presenter {
	p := &Presenter{bus: bus, w: w, done: make(chan struct{})}
	if bus == nil {
		close(p.done)
		return p
	}
	p.ch = bus.Subscribe(64)
	go p.run()
	return p
}

// Stop unsubscribes from the bus and blocks until every already
// delivered event has rendered.
func (p *Presenter) Stop() {
	if p.bus == nil {
		return
	}
	p.bus.Unsubscribe(p.ch)
	<-p.done
}

func (p *Presenter) run() {
	defer close(p.done)
	for e := range p.ch {
		p.render(e)
	}
}

func (p *Presenter) render(e events.Event) {
	switch e.Kind {
	case events.KindGenerationStart:
		// The prompt loop prints the first cycle's marker itself,
		// before any event could arrive.
		if cycle, ok := asInt(e.Data["cycle"]); ok && cycle > 0 {
			aiColor.Fprint(p.w, "\n> ")
		}
	case events.KindToolDone:
		tool, _ := e.Data["tool"].(string)
		path, _ := e.Data["path"].(string)
		line := tool
		if path != "" {
			line += " " + path
		}
		if ok, _ := e.Data["ok"].(bool); ok {
			toolColor.Fprintf(p.w, "\n  ✓ %s", line)
		} else {
			kind, _ := e.Data["error_kind"].(string)
			errColor.Fprintf(p.w, "\n  ✗ %s (%s)", line, kind)
		}
	case events.KindTrim:
		logName, _ := e.Data["log"].(string)
		dropped, _ := asInt(e.Data["dropped"])
		noteColor.Fprintf(p.w, "\n  trimmed %d %s to fit the token budget", dropped, logName)
	}
}

// asInt widens the numeric types an event map realistically carries.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
