package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"momentum/internal/domain"
)

// GenericFunction is the catch-all function whose arguments spell out the
// whole envelope.
const GenericFunction = "manage_entity"

var actionSynonyms = map[string]domain.ActionKind{
	"add":    domain.ActionCreate,
	"new":    domain.ActionCreate,
	"edit":   domain.ActionUpdate,
	"remove": domain.ActionDelete,
	"find":   domain.ActionSearch,
	"show":   domain.ActionList,
	"get":    domain.ActionList,
	"finish": domain.ActionComplete,
	"track":  domain.ActionLog,
}

// ParseCall turns an assistant function call into an envelope. It accepts
// the generic function plus the named family <action>_<kind>,
// <action>_multiple_<kinds> and <action>_all_<kinds>.
func ParseCall(name, argsJSON string) (domain.Envelope, error) {
	args := map[string]any{}
	if s := strings.TrimSpace(argsJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return domain.Envelope{}, domain.Invalid("arguments", "not valid JSON: %v", err)
		}
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == GenericFunction {
		return genericEnvelope(args)
	}

	verb, rest, ok := strings.Cut(name, "_")
	if !ok {
		return domain.Envelope{}, fmt.Errorf("unknown function %q", name)
	}
	action := parseAction(verb)
	all := false
	switch {
	case strings.HasPrefix(rest, "multiple_"):
		rest = strings.TrimPrefix(rest, "multiple_")
	case strings.HasPrefix(rest, "all_"):
		rest = strings.TrimPrefix(rest, "all_")
		all = true
	}
	kind, ok := domain.ParseKind(rest)
	if !ok {
		return domain.Envelope{}, fmt.Errorf("unknown function %q", name)
	}
	if verb == "resume" {
		action = domain.ActionPause
		args["resume"] = true
	}
	env := domain.Envelope{Type: kind, Action: action}
	env.ID, env.IDs = takeIDs(args)
	if p, ok := args["parameters"].(map[string]any); ok {
		delete(args, "parameters")
		for k, v := range p {
			args[k] = v
		}
		if !env.HasTarget() {
			env.ID, env.IDs = takeIDs(args)
		}
	}
	if all && action != domain.ActionCreate {
		if _, ok := args["filter"].(map[string]any); !ok {
			args["filter"] = map[string]any{}
		}
	}
	env.Parameters = args
	return env, nil
}

func genericEnvelope(args map[string]any) (domain.Envelope, error) {
	var env domain.Envelope
	if s, ok := args["type"].(string); ok {
		if kind, ok := domain.ParseKind(strings.ToLower(s)); ok {
			env.Type = kind
		} else {
			env.Type = domain.EntityKind(s)
		}
	}
	if s, ok := args["action"].(string); ok {
		env.Action = parseAction(strings.ToLower(s))
	}
	delete(args, "type")
	delete(args, "action")
	env.ID, env.IDs = takeIDs(args)
	params, _ := args["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	delete(args, "parameters")
	for k, v := range args {
		if _, ok := params[k]; !ok {
			params[k] = v
		}
	}
	if !env.HasTarget() {
		env.ID, env.IDs = takeIDs(params)
	}
	env.Parameters = params
	return env, nil
}

func parseAction(s string) domain.ActionKind {
	if a, ok := actionSynonyms[s]; ok {
		return a
	}
	if s == "resume" {
		return domain.ActionPause
	}
	return domain.ActionKind(s)
}

func takeIDs(args map[string]any) (string, []string) {
	id := scalar(args["id"])
	delete(args, "id")
	var ids []string
	if list, ok := args["ids"].([]any); ok {
		for _, v := range list {
			if s := scalar(v); s != "" {
				ids = append(ids, s)
			}
		}
	}
	delete(args, "ids")
	return id, ids
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	}
	return ""
}
