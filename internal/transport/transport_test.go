package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"momentum/internal/domain"
	"momentum/internal/router"
)

func TestDeclarationsParseBack(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Declarations() {
		require.False(t, seen[d.Name], "duplicate declaration %s", d.Name)
		seen[d.Name] = true
		if d.Name == router.GenericFunction {
			continue
		}
		env, err := router.ParseCall(d.Name, `{}`)
		require.NoError(t, err, d.Name)
		assert.True(t, domain.Allowed(env.Type, env.Action), d.Name)
	}
	assert.True(t, seen["create_event"])
	assert.True(t, seen["delete_multiple_tasks"])
	assert.True(t, seen["log_habit"])
	assert.False(t, seen["list_multiple_tasks"])
	assert.False(t, seen["complete_category"])
}

func TestConverterForwardsFirstCallOnly(t *testing.T) {
	var c converter
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking", Thought: true},
			{Text: "On it. "},
			{FunctionCall: &genai.FunctionCall{Name: "create_task", Args: map[string]any{"title": "Pay rent"}}},
			{FunctionCall: &genai.FunctionCall{Name: "create_task", Args: map[string]any{"title": "again"}}},
		}},
	}}}
	got := c.events(resp)
	assert.Equal(t, []domain.StreamEvent{
		domain.TextDelta("On it. "),
		domain.CallNameDelta("create_task"),
		domain.CallArgsDelta(`{"title":"Pay rent"}`),
	}, got)
	assert.Equal(t, 1, c.extra)
	assert.Empty(t, c.events(&genai.GenerateContentResponse{}))
}

func TestEnvSelectsBackend(t *testing.T) {
	cc, err := Env{APIKey: "k"}.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, genai.BackendGeminiAPI, cc.Backend)

	cc, err = Env{Project: "p", Location: "europe-west1"}.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, genai.BackendVertexAI, cc.Backend)

	_, err = Env{}.clientConfig()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("MOMENTUM_GENAI_API_KEY", "secret")
	t.Setenv("MOMENTUM_TEMPERATURE", "0.9")
	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, "secret", e.APIKey)
	require.NotNil(t, e.Temperature)
	assert.InDelta(t, 0.9, *e.Temperature, 1e-6)
}

func TestScriptedReplaysInOrder(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(
		Turn{Events: []domain.StreamEvent{domain.TextDelta("hi"), domain.Done()}},
		Turn{Err: boom},
		Turn{Once: domain.AssistantReply{Message: "fallback"}},
	)
	ctx := context.Background()

	var texts []string
	for ev, err := range s.Stream(ctx, domain.AssistantRequest{}) {
		require.NoError(t, err)
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{"hi", ""}, texts)

	for _, err := range s.Stream(ctx, domain.AssistantRequest{}) {
		assert.ErrorIs(t, err, boom)
	}
	reply, err := s.SendOnce(ctx, domain.AssistantRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", reply.Message)

	_, err = s.SendOnce(ctx, domain.AssistantRequest{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Requests(), 4)
}
