package server

import (
	"momentum/internal/conversation"
	"momentum/internal/domain"
)

// Request payloads

type DispatchRequest struct {
	Type       string         `json:"type" example:"task"`
	Action     string         `json:"action,omitempty" example:"create"`
	ID         string         `json:"id,omitempty"`
	IDs        []string       `json:"ids,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (r DispatchRequest) envelope() domain.Envelope {
	return domain.Envelope{
		Type:       domain.EntityKind(r.Type),
		Action:     domain.ActionKind(r.Action),
		ID:         r.ID,
		IDs:        r.IDs,
		Parameters: r.Parameters,
	}
}

type CallRequest struct {
	Name      string `json:"name" example:"complete_multiple_tasks"`
	Arguments string `json:"arguments,omitempty" example:"{\"ids\":[\"t1\",\"t2\"]}"`
}

type TurnRequest struct {
	Message string `json:"message" minLength:"1" example:"Move my dentist appointment to Friday"`
}

// Response payloads

type ResultResponse struct {
	FunctionName string              `json:"function_name"`
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	Details      map[string]string   `json:"details,omitempty"`
	CommittedIDs []string            `json:"committed_ids,omitempty"`
	Pending      []domain.EventDraft `json:"pending,omitempty"`
}

func resultResponse(res domain.FunctionCallResult) ResultResponse {
	out := ResultResponse{
		FunctionName: res.FunctionName,
		Success:      res.Success,
		Message:      res.Message,
		Details:      res.Details,
	}
	switch o := res.Outcome.(type) {
	case domain.Committed:
		out.CommittedIDs = o.IDs
	case domain.Pending:
		out.Pending = o.Drafts
	}
	return out
}

type TurnResponse struct {
	TurnID    string          `json:"turn_id"`
	Message   string          `json:"message"`
	Result    *ResultResponse `json:"result,omitempty"`
	PendingID string          `json:"pending_id,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	Failed    bool            `json:"failed,omitempty"`
}

func turnResponse(r conversation.Reply) TurnResponse {
	out := TurnResponse{
		TurnID:    r.TurnID,
		Message:   r.Message,
		PendingID: r.PendingID,
		Cancelled: r.Cancelled,
		Failed:    r.Failed,
	}
	if r.Result != nil {
		res := resultResponse(*r.Result)
		out.Result = &res
	}
	return out
}

type CurrentTurnResponse struct {
	Active bool   `json:"active"`
	TurnID string `json:"turn_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier,omitempty"`
	Source string `json:"source"`
}

type MessagesResponse struct {
	Items []domain.Message `json:"items"`
}
