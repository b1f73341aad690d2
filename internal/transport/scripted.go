package transport

import (
	"context"
	"errors"
	"iter"
	"sync"

	"momentum/internal/domain"
)

// Turn is one scripted assistant reply.
type Turn struct {
	Events []domain.StreamEvent
	// Err, if set, is yielded after Events.
	Err error
	// Hold blocks the stream after Events until the context is cancelled.
	Hold bool
	// Once is returned by SendOnce.
	Once    domain.AssistantReply
	OnceErr error
}

// Scripted replays queued turns in order. It backs the offline chat mode
// and tests.
type Scripted struct {
	mu       sync.Mutex
	turns    []Turn
	requests []domain.AssistantRequest
	// Started receives a value each time a held turn reaches its hold point.
	Started chan struct{}
}

func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{turns: turns, Started: make(chan struct{}, 16)}
}

// Push queues more turns.
func (s *Scripted) Push(turns ...Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turns...)
	s.mu.Unlock()
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []domain.AssistantRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AssistantRequest(nil), s.requests...)
}

var ErrScriptExhausted = errors.New("scripted transport has no more turns")

func (s *Scripted) next(req domain.AssistantRequest) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	t := s.turns[0]
	s.turns = s.turns[1:]
	return t, true
}

func (s *Scripted) Stream(ctx context.Context, req domain.AssistantRequest) iter.Seq2[domain.StreamEvent, error] {
	t, ok := s.next(req)
	return func(yield func(domain.StreamEvent, error) bool) {
		if !ok {
			yield(domain.StreamEvent{}, ErrScriptExhausted)
			return
		}
		for _, ev := range t.Events {
			if !yield(ev, nil) {
				return
			}
		}
		if t.Hold {
			select {
			case s.Started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			yield(domain.StreamEvent{}, ctx.Err())
			return
		}
		if t.Err != nil {
			yield(domain.StreamEvent{}, t.Err)
		}
	}
}

// SendOnce consumes the next turn and returns its Once reply.
func (s *Scripted) SendOnce(ctx context.Context, req domain.AssistantRequest) (domain.AssistantReply, error) {
	t, ok := s.next(req)
	if !ok {
		return domain.AssistantReply{}, ErrScriptExhausted
	}
	return t.Once, t.OnceErr
}

// Offline answers every turn with a fixed notice. It stands in when no
// model credentials are configured.
type Offline struct{}

const offlineNotice = "The assistant is offline. Use momentum dispatch to run commands directly."

func (Offline) Stream(ctx context.Context, req domain.AssistantRequest) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		if yield(domain.TextDelta(offlineNotice), nil) {
			yield(domain.Done(), nil)
		}
	}
}

func (Offline) SendOnce(ctx context.Context, req domain.AssistantRequest) (domain.AssistantReply, error) {
	return domain.AssistantReply{Message: offlineNotice}, nil
}
