// Package transport connects the conversation engine to an assistant model.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"momentum/internal/domain"
)

const DefaultModel = "gemini-2.5-flash"

// Env holds model credentials. An API key selects the Gemini API;
// otherwise a project selects Vertex AI.
type Env struct {
	APIKey      string   `env:"MOMENTUM_GENAI_API_KEY"`
	Project     string   `env:"MOMENTUM_GCP_PROJECT"`
	Location    string   `env:"MOMENTUM_GCP_LOCATION" envDefault:"us-central1"`
	Model       string   `env:"MOMENTUM_MODEL"`
	Temperature *float32 `env:"MOMENTUM_TEMPERATURE"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

var ErrNoCredentials = errors.New("set MOMENTUM_GENAI_API_KEY or MOMENTUM_GCP_PROJECT")

func (e Env) clientConfig() (*genai.ClientConfig, error) {
	switch {
	case e.APIKey != "":
		return &genai.ClientConfig{APIKey: e.APIKey, Backend: genai.BackendGeminiAPI}, nil
	case e.Project != "":
		return &genai.ClientConfig{Project: e.Project, Location: e.Location, Backend: genai.BackendVertexAI}, nil
	}
	return nil, ErrNoCredentials
}

// GenAI streams replies from Gemini with the momentum function family declared.
type GenAI struct {
	client      *genai.Client
	model       string
	temperature *float32
	tools       []*genai.Tool
	logger      *zap.Logger
}

func NewGenAI(ctx context.Context, e Env, logger *zap.Logger) (*GenAI, error) {
	cc, err := e.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := e.Model
	if model == "" {
		model = DefaultModel
	}
	return &GenAI{
		client:      client,
		model:       model,
		temperature: e.Temperature,
		tools:       []*genai.Tool{{FunctionDeclarations: Declarations()}},
		logger:      logger.With(zap.String("model", model)),
	}, nil
}

func (g *GenAI) Stream(ctx context.Context, req domain.AssistantRequest) iter.Seq2[domain.StreamEvent, error] {
	contents, cfg := g.request(req)
	return func(yield func(domain.StreamEvent, error) bool) {
		var conv converter
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				yield(domain.StreamEvent{}, domain.TransportError{Op: "stream", Err: err})
				return
			}
			for _, ev := range conv.events(resp) {
				if !yield(ev, nil) {
					return
				}
			}
		}
		if conv.extra > 0 {
			g.logger.Warn("ignored extra function calls", zap.Int("count", conv.extra))
		}
		yield(domain.Done(), nil)
	}
}

func (g *GenAI) SendOnce(ctx context.Context, req domain.AssistantRequest) (domain.AssistantReply, error) {
	contents, cfg := g.request(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return domain.AssistantReply{}, domain.TransportError{Op: "generate", Err: err}
	}
	var (
		conv  converter
		reply domain.AssistantReply
		text  strings.Builder
		call  domain.FunctionCall
	)
	for _, ev := range conv.events(resp) {
		switch ev.Kind {
		case domain.StreamTextDelta:
			text.WriteString(ev.Text)
		case domain.StreamCallNameDelta:
			call.Name = ev.Name
		case domain.StreamCallArgsDelta:
			call.Arguments += ev.Fragment
		}
	}
	reply.Message = text.String()
	if call.Name != "" {
		reply.FunctionCall = &call
	}
	return reply, nil
}

func (g *GenAI) request(req domain.AssistantRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []string
	var contents []*genai.Content
	for _, m := range req.History {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleContext:
			// req.Context carries the fresh copy
		case domain.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case domain.RoleFunction:
			contents = append(contents, genai.NewContentFromText(
				fmt.Sprintf("[result of %s] %s", m.FunctionName, m.Content), genai.RoleUser))
		}
	}
	if req.Context != "" {
		system = append(system, req.Context)
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: g.temperature,
		Tools:       g.tools,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

// converter maps response chunks onto stream events. Only the first
// function call of a turn is forwarded.
type converter struct {
	called bool
	extra  int
}

func (c *converter) events(resp *genai.GenerateContentResponse) []domain.StreamEvent {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []domain.StreamEvent
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil || part.Thought:
		case part.FunctionCall != nil:
			if c.called {
				c.extra++
				continue
			}
			c.called = true
			out = append(out, domain.CallNameDelta(part.FunctionCall.Name))
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			out = append(out, domain.CallArgsDelta(string(args)))
		case part.Text != "":
			out = append(out, domain.TextDelta(part.Text))
		}
	}
	return out
}
