// Package stream reassembles one streaming assistant turn into either a
// plain message or a completed function call.
package stream

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"momentum/internal/domain"
)

type Kind int

const (
	Text Kind = iota + 1
	Call
	Cancelled
	Failed
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Call:
		return "call"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the single product of a turn. Call is set only when Kind is Call.
// For Cancelled and Failed, Text holds the partial message, finalized.
type Result struct {
	Kind Kind
	Text string
	Call domain.FunctionCall
	Err  error
}

// Terminated reports whether the turn ended before its done event.
func (r Result) Terminated() bool {
	return r.Kind == Cancelled || r.Kind == Failed
}

// Aggregator accumulates one turn. It is single use: Run consumes the
// sequence once, while Cancel and Snapshot may be called from other goroutines.
type Aggregator struct {
	// OnText, if set, receives each text delta as it arrives.
	OnText func(delta string)

	logger    *zap.Logger
	cancelled atomic.Bool

	mu   sync.Mutex
	text strings.Builder
	name string
	args strings.Builder
}

func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// Cancel asks Run to stop before the next event.
func (a *Aggregator) Cancel() {
	a.cancelled.Store(true)
}

// Snapshot returns the text accumulated so far.
func (a *Aggregator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Run consumes seq until done, cancellation or a transport error. A
// sequence that ends without a done event is treated as done.
func (a *Aggregator) Run(ctx context.Context, seq iter.Seq2[domain.StreamEvent, error]) Result {
	if a.stopped(ctx) {
		return a.cancel()
	}
	for ev, err := range seq {
		if a.stopped(ctx) {
			return a.cancel()
		}
		if err != nil {
			return a.fail(err)
		}
		if ev.Kind == domain.StreamDone {
			return a.finish()
		}
		a.apply(ev)
	}
	if a.stopped(ctx) {
		return a.cancel()
	}
	a.logger.Debug("stream ended without done event")
	return a.finish()
}

func (a *Aggregator) stopped(ctx context.Context) bool {
	return a.cancelled.Load() || ctx.Err() != nil
}

func (a *Aggregator) apply(ev domain.StreamEvent) {
	a.mu.Lock()
	switch ev.Kind {
	case domain.StreamTextDelta:
		a.text.WriteString(ev.Text)
	case domain.StreamCallNameDelta:
		a.name = ev.Name
	case domain.StreamCallArgsDelta:
		a.args.WriteString(ev.Fragment)
	default:
		a.logger.Warn("unknown stream event", zap.Stringer("kind", ev.Kind))
	}
	a.mu.Unlock()
	if ev.Kind == domain.StreamTextDelta && a.OnText != nil && ev.Text != "" {
		a.OnText(ev.Text)
	}
}

func (a *Aggregator) finish() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.name != "" {
		return Result{Kind: Call, Text: a.text.String(), Call: domain.FunctionCall{Name: a.name, Arguments: a.args.String()}}
	}
	return Result{Kind: Text, Text: a.text.String()}
}

// cancel drops the call buffers so nothing can be dispatched from this turn.
func (a *Aggregator) cancel() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = ""
	a.args.Reset()
	a.logger.Debug("stream cancelled", zap.Int("text_len", a.text.Len()))
	return Result{Kind: Cancelled, Text: a.text.String(), Err: context.Canceled}
}

func (a *Aggregator) fail(err error) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = ""
	a.args.Reset()
	a.logger.Warn("stream failed", zap.Error(err))
	var terr domain.TransportError
	if !errors.As(err, &terr) {
		terr = domain.TransportError{Op: "stream", Err: err}
	}
	return Result{Kind: Failed, Text: Annotate(a.text.String(), terr), Err: terr}
}

// Annotate appends an interruption note to a partial message.
func Annotate(partial string, err error) string {
	note := "[response interrupted: " + err.Error() + "]"
	if strings.TrimSpace(partial) == "" {
		return note
	}
	return strings.TrimRight(partial, " \n") + "\n\n" + note
}

// Replay yields events in order. It backs scripted transports and tests.
func Replay(events ...domain.StreamEvent) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}
