package domain

import (
	"context"
	"iter"
	"time"
)

// ChangeOp names the mutation carried by a Change.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// Change is a store notification.
type Change struct {
	Kind EntityKind
	Op   ChangeOp
	ID   string
}

// Store is the persistence contract for one entity kind. The store is
// externally mutable; callers must not assume a listing stays current.
type Store[T Entity] interface {
	List(ctx context.Context) ([]T, error)
	ListFor(ctx context.Context, r Range) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, item T) error
	Delete(ctx context.Context, id string) error
	// Subscribe returns a change feed and a function that ends the subscription.
	Subscribe() (<-chan Change, func())
}

// Stores groups the per-kind stores consumed by the engine.
type Stores struct {
	Events     Store[Event]
	Tasks      Store[Task]
	Habits     Store[Habit]
	Goals      Store[Goal]
	Milestones Store[Milestone]
	Categories Store[Category]
}

// AssistantRequest is what a Transport sends for one turn.
type AssistantRequest struct {
	History []Message
	Context string
}

// AssistantReply is the non-streaming transport response.
type AssistantReply struct {
	Message      string
	FunctionCall *FunctionCall
}

// Transport talks to the assistant model.
type Transport interface {
	Stream(ctx context.Context, req AssistantRequest) iter.Seq2[StreamEvent, error]
	SendOnce(ctx context.Context, req AssistantRequest) (AssistantReply, error)
}

// ContextBuilder summarizes current entities for a system-role history entry.
type ContextBuilder interface {
	BuildContext(ctx context.Context, now time.Time) (string, error)
}

// HistoryStore persists conversation history.
type HistoryStore interface {
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	DeleteMessages(ctx context.Context, conversationID string, ids []string) error
}
