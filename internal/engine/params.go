package engine

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"momentum/internal/dateparse"
	"momentum/internal/domain"
)

// params reads loosely typed assistant arguments. Getters take several
// keys because the assistant is not consistent about naming.
type params map[string]any

func (p params) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p[k]; ok {
			return true
		}
	}
	return false
}

func (p params) str(keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

// text is like str but reports present-and-empty strings so updates can clear a field.
func (p params) text(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := p[k].(string); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (p params) boolean(keys ...string) (bool, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "1", "on":
				return true, true
			case "false", "no", "0", "off":
				return false, true
			}
		}
	}
	return false, false
}

func (p params) number(keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func (p params) integer(keys ...string) (int, bool) {
	f, ok := p.number(keys...)
	return int(f), ok
}

// list accepts an array or a comma-separated string.
func (p params) list(keys ...string) ([]string, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, it := range v {
				if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			return out, true
		case []string:
			return v, true
		case string:
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			return out, true
		}
	}
	return nil, false
}

func (p params) object(key string) (params, bool) {
	m, ok := p[key].(map[string]any)
	return params(m), ok
}

func (p params) items() []params {
	raw, _ := p["items"].([]any)
	out := make([]params, 0, len(raw))
	for _, it := range raw {
		switch v := it.(type) {
		case map[string]any:
			out = append(out, params(v))
		case string:
			// a bare string item is a title or id
			out = append(out, params{"title": v, "name": v, "id": v})
		}
	}
	return out
}

// merged returns p overlaid on base without mutating either.
func (p params) merged(base params) params {
	out := make(params, len(base)+len(p))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// instant parses a date-time parameter. ok is false when absent; err is set
// when present but unreadable.
func (p params) instant(dp dateparse.Parser, keys ...string) (time.Time, bool, error) {
	s, ok := p.str(keys...)
	if !ok {
		return time.Time{}, false, nil
	}
	t, parsed := dp.DateTime(s)
	if !parsed {
		return time.Time{}, true, domain.Invalid(keys[0], "could not understand %q as a date or time", s)
	}
	return t, true, nil
}

func (p params) priority(keys ...string) (domain.Priority, bool, error) {
	s, ok := p.str(keys...)
	if !ok {
		return "", false, nil
	}
	switch pr := domain.Priority(strings.ToLower(s)); pr {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
		return pr, true, nil
	case "urgent", "important":
		return domain.PriorityHigh, true, nil
	case "normal":
		return domain.PriorityMedium, true, nil
	}
	return "", true, domain.Invalid(keys[0], "priority must be low, medium or high, got %q", s)
}
