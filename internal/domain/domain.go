package domain

import "time"

// Entity is the common surface of every record owned by a Store.
type Entity interface {
	EntityID() string
	DisplayTitle() string
	IsCompleted() bool
	// Anchor is the instant ListFor filters on. ok is false for undated records.
	Anchor() (t time.Time, ok bool)
}

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

func (c Category) EntityID() string          { return c.ID }
func (c Category) DisplayTitle() string      { return c.Name }
func (c Category) IsCompleted() bool         { return false }
func (c Category) Anchor() (time.Time, bool) { return c.CreatedAt, !c.CreatedAt.IsZero() }

type Event struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start" format:"date-time"`
	End        time.Time `json:"end" format:"date-time"`
	AllDay     bool      `json:"all_day,omitempty"`
	Location   string    `json:"location,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	SeriesID   string    `json:"series_id,omitempty"`
	Recurrence string    `json:"recurrence,omitempty"`
	Completed  bool      `json:"completed"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
	UpdatedAt  time.Time `json:"updated_at" format:"date-time"`
}

func (e Event) EntityID() string          { return e.ID }
func (e Event) DisplayTitle() string      { return e.Title }
func (e Event) IsCompleted() bool         { return e.Completed }
func (e Event) Anchor() (time.Time, bool) { return e.Start, !e.Start.IsZero() }

// Overlaps reports whether the two events share any instant.
func (e Event) Overlaps(o Event) bool {
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Notes         string     `json:"notes,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Priority      Priority   `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate       *time.Time `json:"due_date,omitempty" format:"date-time"`
	CategoryID    string     `json:"category_id,omitempty"`
	LinkedEventID string     `json:"linked_event_id,omitempty"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt     time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time  `json:"updated_at" format:"date-time"`
}

func (t Task) EntityID() string     { return t.ID }
func (t Task) DisplayTitle() string { return t.Title }
func (t Task) IsCompleted() bool    { return t.Completed }
func (t Task) Anchor() (time.Time, bool) {
	if t.DueDate == nil {
		return time.Time{}, false
	}
	return *t.DueDate, true
}

// Overdue reports whether an open task's due date has passed.
func (t Task) Overdue(now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

type Habit struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Notes       string      `json:"notes,omitempty"`
	Frequency   string      `json:"frequency" enum:"daily,weekly"`
	CategoryID  string      `json:"category_id,omitempty"`
	Paused      bool        `json:"paused"`
	Streak      int         `json:"streak"`
	BestStreak  int         `json:"best_streak"`
	Completions []time.Time `json:"completions,omitempty"`
	CreatedAt   time.Time   `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time   `json:"updated_at" format:"date-time"`
}

func (h Habit) EntityID() string          { return h.ID }
func (h Habit) DisplayTitle() string      { return h.Name }
func (h Habit) IsCompleted() bool         { return h.Paused }
func (h Habit) Anchor() (time.Time, bool) { return h.CreatedAt, !h.CreatedAt.IsZero() }

type GoalType string

const (
	GoalTypeMilestone GoalType = "milestone"
	GoalTypeProject   GoalType = "project"
	GoalTypeNumeric   GoalType = "numeric"
	GoalTypeHabit     GoalType = "habit"
)

type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        GoalType   `json:"type" enum:"milestone,project,numeric,habit"`
	TargetValue float64    `json:"target_value,omitempty"`
	Progress    float64    `json:"progress"`
	Unit        string     `json:"unit,omitempty"`
	TargetDate  *time.Time `json:"target_date,omitempty" format:"date-time"`
	CategoryID  string     `json:"category_id,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
}

func (g Goal) EntityID() string     { return g.ID }
func (g Goal) DisplayTitle() string { return g.Title }
func (g Goal) IsCompleted() bool    { return g.Completed }
func (g Goal) Anchor() (time.Time, bool) {
	if g.TargetDate == nil {
		return time.Time{}, false
	}
	return *g.TargetDate, true
}

type Milestone struct {
	ID        string     `json:"id"`
	GoalID    string     `json:"goal_id"`
	Title     string     `json:"title"`
	DueDate   *time.Time `json:"due_date,omitempty" format:"date-time"`
	Order     int        `json:"order"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt time.Time  `json:"updated_at" format:"date-time"`
}

func (m Milestone) EntityID() string     { return m.ID }
func (m Milestone) DisplayTitle() string { return m.Title }
func (m Milestone) IsCompleted() bool    { return m.Completed }
func (m Milestone) Anchor() (time.Time, bool) {
	if m.DueDate == nil {
		return time.Time{}, false
	}
	return *m.DueDate, true
}

// Range is a half-open instant interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
