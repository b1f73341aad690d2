package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleContext   Role = "context"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Retained reports whether history trimming must keep entries of this role.
func (r Role) Retained() bool {
	return r == RoleSystem || r == RoleContext
}

// Message is one conversation history entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`

	// FunctionName is set on function-result entries.
	FunctionName string `json:"function_name,omitempty"`
	// Terminated marks a message finalized by cancellation or a transport error.
	Terminated bool `json:"terminated,omitempty"`
	// Pending holds a preview awaiting confirmation.
	Pending *Pending `json:"pending,omitempty"`
}

// Caller carries per-request context threaded explicitly through dispatch.
type Caller struct {
	UserID   string
	Tier     string
	Now      time.Time
	Location *time.Location
	Limits   Limits
}

// Limits bound list and bulk operations.
type Limits struct {
	ListDefault     int
	BulkMax         int
	RecurrenceLimit int
}

// Clock returns the caller's notion of now in its location.
func (c Caller) Clock() time.Time {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	if c.Location != nil {
		now = now.In(c.Location)
	}
	return now
}

type actorKey struct{}

// WithActor tags ctx with the user id recorded by audited stores.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the user id set by WithActor, if any.
func ActorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}
