package domain

import (
	"fmt"
	"slices"
)

type EntityKind string

const (
	KindEvent     EntityKind = "event"
	KindTask      EntityKind = "task"
	KindHabit     EntityKind = "habit"
	KindGoal      EntityKind = "goal"
	KindMilestone EntityKind = "milestone"
	KindCategory  EntityKind = "category"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []EntityKind{KindEvent, KindTask, KindHabit, KindGoal, KindMilestone, KindCategory}

// ParseKind accepts singular and plural spellings.
func ParseKind(s string) (EntityKind, bool) {
	switch s {
	case "event", "events":
		return KindEvent, true
	case "task", "tasks":
		return KindTask, true
	case "habit", "habits":
		return KindHabit, true
	case "goal", "goals":
		return KindGoal, true
	case "milestone", "milestones":
		return KindMilestone, true
	case "category", "categories":
		return KindCategory, true
	}
	return "", false
}

// Plural is the collection name used in function names and messages.
func (k EntityKind) Plural() string {
	if k == KindCategory {
		return "categories"
	}
	return string(k) + "s"
}

type ActionKind string

const (
	ActionCreate   ActionKind = "create"
	ActionUpdate   ActionKind = "update"
	ActionDelete   ActionKind = "delete"
	ActionList     ActionKind = "list"
	ActionSearch   ActionKind = "search"
	ActionComplete ActionKind = "complete"
	ActionReopen   ActionKind = "reopen"
	ActionProgress ActionKind = "progress"
	ActionLog      ActionKind = "log"
	ActionPause    ActionKind = "pause"
	ActionStats    ActionKind = "stats"
)

var allowedActions = map[EntityKind][]ActionKind{
	KindEvent:     {ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionSearch, ActionComplete},
	KindTask:      {ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionSearch, ActionComplete, ActionReopen},
	KindGoal:      {ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionComplete, ActionProgress},
	KindHabit:     {ActionCreate, ActionUpdate, ActionDelete, ActionList, ActionLog, ActionPause, ActionStats},
	KindMilestone: {ActionCreate, ActionUpdate, ActionDelete, ActionComplete},
	KindCategory:  {ActionCreate, ActionUpdate, ActionDelete, ActionList},
}

// AllowedActions returns a copy of the allow-list for kind.
func AllowedActions(kind EntityKind) []ActionKind {
	return slices.Clone(allowedActions[kind])
}

// Allowed reports whether action is permitted for kind.
func Allowed(kind EntityKind, action ActionKind) bool {
	return slices.Contains(allowedActions[kind], action)
}

// RequiresTarget reports whether the action mutates an existing record and
// therefore needs an id or ids.
func (a ActionKind) RequiresTarget() bool {
	switch a {
	case ActionCreate, ActionList, ActionSearch, ActionStats:
		return false
	}
	return true
}

// Envelope is the generic command shape produced from one assistant function call.
type Envelope struct {
	Type       EntityKind     `json:"type"`
	Action     ActionKind     `json:"action"`
	ID         string         `json:"id,omitempty"`
	IDs        []string       `json:"ids,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HasTarget reports whether the envelope names any existing record.
func (e Envelope) HasTarget() bool {
	return e.ID != "" || len(e.IDs) > 0
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s.%s", e.Type, e.Action)
}
