package domain

import (
	"time"
)

// FunctionCallResult is the uniform return contract of every handler.
// Details is display-only; deferred state travels in Outcome.
type FunctionCallResult struct {
	FunctionName string            `json:"function_name"`
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	Outcome      Outcome           `json:"-"`
}

// Pending returns the deferred drafts carried by the result, if any.
func (r FunctionCallResult) Pending() (Pending, bool) {
	p, ok := r.Outcome.(Pending)
	return p, ok
}

// Outcome is either Committed or Pending.
type Outcome interface {
	outcome()
}

// Committed records entities that were persisted by the call.
type Committed struct {
	Kind EntityKind
	IDs  []string
}

// Pending holds drafts awaiting explicit confirmation.
type Pending struct {
	Drafts []EventDraft
}

func (Committed) outcome() {}
func (Pending) outcome()   {}

// EventDraft is an event that has been validated but not persisted.
type EventDraft struct {
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"all_day,omitempty"`
	Location   string    `json:"location,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	Recurrence string    `json:"recurrence,omitempty"`
	// RecurrenceEnd bounds series expansion when set.
	RecurrenceEnd   *time.Time `json:"recurrence_end,omitempty"`
	RecurrenceLimit int        `json:"recurrence_limit,omitempty"`
}
