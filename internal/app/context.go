package app

import (
	"context"

	"momentum/internal/domain"
	"momentum/internal/router"
)

const LocalUser = "local-user"

// Caller builds the per-request caller for userID with the configured
// limits and time zone.
func (a *App) Caller(userID, tier string) domain.Caller {
	if userID == "" {
		userID = LocalUser
	}
	return domain.Caller{
		UserID:   userID,
		Tier:     tier,
		Now:      a.Now(),
		Location: a.Config.Location(),
		Limits:   a.Config.Limits(),
	}
}

// Dispatch runs one envelope outside of a conversation.
func (a *App) Dispatch(ctx context.Context, caller domain.Caller, env domain.Envelope) domain.FunctionCallResult {
	return a.Router.Dispatch(ctx, caller, env)
}

// DispatchCall parses and runs an assistant-style function call.
func (a *App) DispatchCall(ctx context.Context, caller domain.Caller, name, args string) (domain.FunctionCallResult, error) {
	env, err := router.ParseCall(name, args)
	if err != nil {
		return domain.FunctionCallResult{FunctionName: name, Message: err.Error()}, err
	}
	return a.Router.DispatchNamed(ctx, caller, name, env), nil
}
