package conversation

import (
	"context"
	"sync"
)

// DefaultSystemPrompt is the standing instruction placed at the head of
// every conversation.
const DefaultSystemPrompt = `You are Momentum, a planning assistant for events, tasks, habits, goals, milestones and categories.
Use the provided functions to make changes; never claim a change you did not make through a function.
Refer to existing records by the ids listed in the context block. When a name is ambiguous, ask which one.
New events are shown as a preview and saved only after the user confirms.
Use the multiple_ or all_ variants with ids, items or a filter to change several records at once.
In bulk text fields, {unique} gives each item its own label, {auto} uses the item's title and {context} its schedule.`

// Registry hands out one Orchestrator per conversation id.
type Registry struct {
	Deps   Deps
	Config Config

	mu    sync.Mutex
	convs map[string]*Orchestrator
}

func NewRegistry(deps Deps, cfg Config) *Registry {
	return &Registry{Deps: deps, Config: cfg, convs: map[string]*Orchestrator{}}
}

// Get returns the conversation, loading its history on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.convs[id]; ok {
		return o, nil
	}
	o := New(id, r.Deps, r.Config)
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	r.convs[id] = o
	return o, nil
}

// Lookup returns a conversation that is already open.
func (r *Registry) Lookup(id string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.convs[id]
	return o, ok
}

// CancelAll stops every in-flight turn. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	convs := make([]*Orchestrator, 0, len(r.convs))
	for _, o := range r.convs {
		convs = append(convs, o)
	}
	r.mu.Unlock()
	for _, o := range convs {
		o.Cancel()
	}
}
