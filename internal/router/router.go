// Package router validates command envelopes and dispatches them to the
// handler registered for (kind, action, variant).
package router

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"momentum/internal/domain"
)

type Variant int

const (
	Single Variant = iota
	Bulk
)

func (v Variant) String() string {
	if v == Bulk {
		return "bulk"
	}
	return "single"
}

// Key identifies one handler in a Table.
type Key struct {
	Kind    domain.EntityKind
	Action  domain.ActionKind
	Variant Variant
}

func (k Key) String() string {
	return fmt.Sprintf("%s.%s/%s", k.Kind, k.Action, k.Variant)
}

// Call is what a handler receives: the validated envelope plus the caller.
type Call struct {
	Name     string
	Caller   domain.Caller
	Envelope domain.Envelope
}

// Param returns the named parameter, if present.
func (c Call) Param(key string) (any, bool) {
	v, ok := c.Envelope.Parameters[key]
	return v, ok
}

type HandlerFunc func(ctx context.Context, call Call) domain.FunctionCallResult

type Table map[Key]HandlerFunc

type Router struct {
	table  Table
	logger *zap.Logger
	tracer trace.Tracer
}

// New checks table against the allow-list: every allowed (kind, action)
// needs a single-item handler and no handler may sit outside the list.
func New(table Table, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var problems []string
	for _, kind := range domain.Kinds {
		for _, action := range domain.AllowedActions(kind) {
			if table[Key{Kind: kind, Action: action, Variant: Single}] == nil {
				problems = append(problems, "missing handler "+Key{kind, action, Single}.String())
			}
		}
	}
	for key, h := range table {
		if h == nil {
			problems = append(problems, "nil handler "+key.String())
			continue
		}
		if !domain.Allowed(key.Kind, key.Action) {
			problems = append(problems, "handler outside allow-list "+key.String())
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return nil, fmt.Errorf("invalid dispatch table: %s", strings.Join(problems, "; "))
	}
	return &Router{table: table, logger: logger, tracer: otel.Tracer("momentum/router")}, nil
}

// Dispatch validates env and runs the matching handler. It never returns an
// error; every rejection is a failed FunctionCallResult.
func (r *Router) Dispatch(ctx context.Context, caller domain.Caller, env domain.Envelope) domain.FunctionCallResult {
	return r.DispatchNamed(ctx, caller, "", env)
}

// DispatchNamed is Dispatch with the originating function name recorded on the result.
func (r *Router) DispatchNamed(ctx context.Context, caller domain.Caller, name string, env domain.Envelope) domain.FunctionCallResult {
	if env.Type == "" {
		return reject(name, "type is required: say which kind of item (event, task, habit, goal, milestone, category) to act on")
	}
	kind, ok := domain.ParseKind(strings.ToLower(string(env.Type)))
	if !ok {
		return reject(name, fmt.Sprintf("unknown type %q", env.Type))
	}
	env.Type = kind
	if env.ID == "" && len(env.IDs) == 1 {
		env.ID, env.IDs = env.IDs[0], nil
	}
	if env.Action == "" {
		env.Action = domain.ActionCreate
	}
	if !domain.Allowed(env.Type, env.Action) {
		allowed := make([]string, 0)
		for _, a := range domain.AllowedActions(env.Type) {
			allowed = append(allowed, string(a))
		}
		return reject(name, fmt.Sprintf("%s cannot be applied to %s; allowed actions: %s",
			env.Action, env.Type.Plural(), strings.Join(allowed, ", ")))
	}
	variant := Single
	if env.Action.RequiresTarget() || env.Action == domain.ActionCreate {
		if IsBulk(env) {
			variant = Bulk
		}
	}
	if name == "" {
		name = FunctionName(env.Type, env.Action, variant)
	}
	if env.Action.RequiresTarget() && !env.HasTarget() && variant == Single {
		return reject(name, fmt.Sprintf("%s %s needs an id: use an id shown earlier in the conversation, or list %s first",
			env.Action, env.Type, env.Type.Plural()))
	}
	key := Key{Kind: env.Type, Action: env.Action, Variant: variant}
	h := r.table[key]
	if h == nil {
		return reject(name, fmt.Sprintf("%s does not support several %s at once", env.Action, env.Type.Plural()))
	}

	ctx, span := r.tracer.Start(ctx, "dispatch "+key.String(), trace.WithAttributes(
		attribute.String("momentum.kind", string(env.Type)),
		attribute.String("momentum.action", string(env.Action)),
		attribute.String("momentum.variant", variant.String()),
	))
	defer span.End()
	if caller.UserID != "" {
		ctx = domain.WithActor(ctx, caller.UserID)
	}

	res := h(ctx, Call{Name: name, Caller: caller, Envelope: env})
	if res.FunctionName == "" {
		res.FunctionName = name
	}
	span.SetAttributes(attribute.Bool("momentum.success", res.Success))
	if !res.Success {
		span.SetStatus(codes.Error, res.Message)
	}
	r.logger.Debug("dispatched",
		zap.String("function", name),
		zap.String("kind", string(env.Type)),
		zap.String("action", string(env.Action)),
		zap.Bool("success", res.Success))
	return res
}

// IsBulk reports whether env carries bulk indicators. They take precedence
// over scalar parameters.
func IsBulk(env domain.Envelope) bool {
	if len(env.IDs) > 0 {
		return true
	}
	if items, ok := env.Parameters["items"].([]any); ok && len(items) > 0 {
		return true
	}
	if _, ok := env.Parameters["filter"].(map[string]any); ok {
		return true
	}
	return false
}

// FunctionName renders the assistant-facing name for a handler.
func FunctionName(kind domain.EntityKind, action domain.ActionKind, v Variant) string {
	if v == Bulk {
		return fmt.Sprintf("%s_multiple_%s", action, kind.Plural())
	}
	return fmt.Sprintf("%s_%s", action, kind)
}

func reject(name, msg string) domain.FunctionCallResult {
	return domain.FunctionCallResult{FunctionName: name, Success: false, Message: msg}
}
