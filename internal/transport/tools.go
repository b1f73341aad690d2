package transport

import (
	"fmt"

	"google.golang.org/genai"

	"momentum/internal/domain"
	"momentum/internal/router"
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func num(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: desc}
}

func boolean(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeBoolean, Description: desc}
}

var targetFields = map[string]*genai.Schema{
	"id":  str("Id of an existing record, or its exact title."),
	"ids": {Type: genai.TypeArray, Items: str("record id"), Description: "Ids of several existing records."},
	"items": {
		Type:        genai.TypeArray,
		Description: "One entry per record to create or change. Entries may be titles or objects with the same fields as the single call.",
		Items:       &genai.Schema{Type: genai.TypeString},
	},
	"filter": {
		Type:        genai.TypeObject,
		Description: "Select every record matching these fields, e.g. {\"completed\": true} or {\"category\": \"Work\"}.",
		Properties: map[string]*genai.Schema{
			"completed": boolean("Match completion state."),
			"category":  str("Category name."),
			"priority":  str("low, medium or high."),
			"date":      str("A date or date range."),
			"query":     str("Text contained in the title."),
		},
	},
}

var kindFields = map[domain.EntityKind]map[string]*genai.Schema{
	domain.KindEvent: {
		"title":          str("Event title."),
		"start":          str("Start, e.g. 2024-05-01 14:00, tomorrow 9am."),
		"end":            str("End date-time or clock time."),
		"duration":       str("Length, e.g. 45 minutes or 1h."),
		"all_day":        boolean("Whole-day event."),
		"location":       str("Where it happens."),
		"notes":          str("Free text."),
		"category":       str("Category name."),
		"recurrence":     str("daily, weekly, monthly, yearly or weekdays."),
		"recurrence_end": str("Last date of the series."),
		"series":         boolean("Apply the change to every occurrence."),
		"date":           str("Day or range to list."),
		"query":          str("Search text."),
	},
	domain.KindTask: {
		"title":    str("Task title."),
		"due_date": str("When it is due."),
		"priority": str("low, medium or high."),
		"notes":    str("Free text."),
		"category": str("Category name."),
		"tags":     {Type: genai.TypeArray, Items: str("tag")},
		"overdue":  boolean("List only overdue tasks."),
		"query":    str("Search text."),
	},
	domain.KindHabit: {
		"name":      str("Habit name."),
		"frequency": str("daily or weekly."),
		"category":  str("Category name."),
		"date":      str("Day to log, defaults to today."),
		"resume":    boolean("Resume instead of pause."),
	},
	domain.KindGoal: {
		"title":        str("Goal title."),
		"type":         str("milestone, numeric or habit."),
		"target_value": num("Target for numeric goals."),
		"unit":         str("Unit for numeric goals."),
		"value":        num("Absolute progress."),
		"increment":    num("Progress to add."),
		"target_date":  str("Deadline."),
		"category":     str("Category name."),
		"milestones":   {Type: genai.TypeArray, Items: str("milestone title")},
	},
	domain.KindMilestone: {
		"title":    str("Milestone title."),
		"goal":     str("Goal id or title."),
		"due_date": str("When it is due."),
		"order":    num("Position within the goal."),
	},
	domain.KindCategory: {
		"name":  str("Category name."),
		"color": str("Display color."),
		"icon":  str("Emoji or icon name."),
	},
}

// Declarations lists every callable function: the named family for each
// allowed kind and action, its multiple_ variant for bulk actions, and the
// generic manage_entity function.
func Declarations() []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, kind := range domain.Kinds {
		for _, action := range domain.AllowedActions(kind) {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        router.FunctionName(kind, action, router.Single),
				Description: fmt.Sprintf("%s one %s.", action, kind),
				Parameters:  schema(kind, false),
			})
			if action == domain.ActionCreate || action.RequiresTarget() {
				decls = append(decls, &genai.FunctionDeclaration{
					Name:        router.FunctionName(kind, action, router.Bulk),
					Description: fmt.Sprintf("%s several %s at once, selected by ids, items or filter.", action, kind.Plural()),
					Parameters:  schema(kind, true),
				})
			}
		}
	}
	decls = append(decls, &genai.FunctionDeclaration{
		Name:        router.GenericFunction,
		Description: "Run any action on any record type when no named function fits.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"type":       str("event, task, habit, goal, milestone or category."),
				"action":     str("create, update, delete, list, search, complete, reopen, progress, log, pause or stats."),
				"id":         targetFields["id"],
				"ids":        targetFields["ids"],
				"parameters": {Type: genai.TypeObject, Description: "Fields for the action.", Properties: map[string]*genai.Schema{"title": str("Title or name.")}},
			},
			Required: []string{"type"},
		},
	})
	return decls
}

func schema(kind domain.EntityKind, bulk bool) *genai.Schema {
	props := make(map[string]*genai.Schema, len(kindFields[kind])+4)
	for k, v := range kindFields[kind] {
		props[k] = v
	}
	props["id"] = targetFields["id"]
	if bulk {
		props["ids"] = targetFields["ids"]
		props["items"] = targetFields["items"]
		props["filter"] = targetFields["filter"]
	}
	return &genai.Schema{Type: genai.TypeObject, Properties: props}
}
