package conversation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"momentum/internal/conversation"
	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/router"
	"momentum/internal/store/memory"
	"momentum/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var testNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Orch      *conversation.Orchestrator
	Transport *transport.Scripted
	Stores    domain.Stores
	History   *memory.History
	Deps      conversation.Deps
	Caller    domain.Caller
	Ctx       context.Context
}

func newTestEnv(t *testing.T, cfg conversation.Config, turns ...transport.Turn) testEnv {
	t.Helper()
	stores := memory.NewStores()
	eng := engine.New(stores, nil)
	eng.Now = func() time.Time { return testNow }
	r, err := router.New(eng.Handlers(), nil)
	require.NoError(t, err)
	tr := transport.NewScripted(turns...)
	hist := memory.NewHistory()
	deps := conversation.Deps{
		Transport:  tr,
		Dispatcher: r,
		Confirmer:  eng,
		Context:    engine.Summary{Stores: stores, Location: time.UTC},
		History:    hist,
	}
	o := conversation.New("c1", deps, cfg)
	o.Now = func() time.Time { return testNow }
	return testEnv{
		Orch:      o,
		Transport: tr,
		Stores:    stores,
		History:   hist,
		Deps:      deps,
		Caller:    domain.Caller{UserID: "tester", Now: testNow, Location: time.UTC},
		Ctx:       context.Background(),
	}
}

func text(s string) transport.Turn {
	return transport.Turn{Events: []domain.StreamEvent{domain.TextDelta(s), domain.Done()}}
}

func call(name, args string) transport.Turn {
	return transport.Turn{Events: []domain.StreamEvent{
		domain.CallNameDelta(name), domain.CallArgsDelta(args), domain.Done(),
	}}
}

func roles(msgs []domain.Message) []domain.Role {
	out := make([]domain.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestTextTurn(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, text("Hello there"))
	var streamed []string
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "hi", func(d string) { streamed = append(streamed, d) })
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply.Message)
	assert.Nil(t, reply.Result)
	assert.Equal(t, []string{"Hello there"}, streamed)

	hist := env.Orch.History()
	assert.Equal(t, []domain.Role{domain.RoleSystem, domain.RoleUser, domain.RoleContext, domain.RoleAssistant}, roles(hist))
	assert.Equal(t, conversation.DefaultSystemPrompt, hist[0].Content)

	reqs := env.Transport.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Context, "Current time")
	assert.Equal(t, "hi", reqs[0].History[1].Content)
}

func TestCallIsDispatched(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		transport.Turn{Events: []domain.StreamEvent{
			domain.TextDelta("Adding it. "),
			domain.CallNameDelta("create_task"),
			domain.CallArgsDelta(`{"title":"Pay `),
			domain.CallArgsDelta(`rent","priority":"high"}`),
			domain.Done(),
		}})
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "remind me to pay rent", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Success, reply.Result.Message)
	assert.Equal(t, "create_task", reply.Result.FunctionName)
	assert.Contains(t, reply.Message, `Added task "Pay rent"`)

	tasks, err := env.Stores.Tasks.List(env.Ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.PriorityHigh, tasks[0].Priority)

	hist := env.Orch.History()
	last := hist[len(hist)-1]
	assert.Equal(t, domain.RoleFunction, last.Role)
	assert.Equal(t, "create_task", last.FunctionName)
	assert.Equal(t, domain.RoleAssistant, hist[len(hist)-2].Role)
}

func TestEventPreviewConfirm(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		call("create_event", `{"title":"Dentist","start":"2024-01-03 14:00","duration":"1h"}`))
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "dentist on wednesday at 2", nil)
	require.NoError(t, err)
	require.NotEmpty(t, reply.PendingID)
	assert.Contains(t, reply.Message, "Ready to add")

	events, err := env.Stores.Events.List(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, events, "preview must not persist")

	res, err := env.Orch.Confirm(env.Ctx, env.Caller, reply.PendingID)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)

	events, err = env.Stores.Events.List(env.Ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist", events[0].Title)

	_, err = env.Orch.Confirm(env.Ctx, env.Caller, "")
	assert.ErrorIs(t, err, conversation.ErrNoPending)

	stored, err := env.History.ListMessages(env.Ctx, "c1")
	require.NoError(t, err)
	for _, m := range stored {
		assert.Nil(t, m.Pending, "confirmed preview still stored as pending")
	}
}

func TestDiscardDropsPreview(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		call("create_event", `{"title":"Gym","start":"2024-01-02 18:00"}`))
	_, err := env.Orch.Send(env.Ctx, env.Caller, "gym tomorrow 6pm", nil)
	require.NoError(t, err)

	res, err := env.Orch.Discard(env.Ctx, "")
	require.NoError(t, err)
	assert.Contains(t, res.Message, `"Gym"`)

	events, err := env.Stores.Events.List(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = env.Orch.Confirm(env.Ctx, env.Caller, "")
	assert.ErrorIs(t, err, conversation.ErrNoPending)
}

func TestCancelMidStreamPreventsDispatch(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, transport.Turn{
		Events: []domain.StreamEvent{
			domain.TextDelta("partial"),
			domain.CallNameDelta("create_task"),
			domain.CallArgsDelta(`{"title":"x"}`),
		},
		Hold: true,
	})
	done := make(chan conversation.Reply, 1)
	go func() {
		reply, _ := env.Orch.Send(env.Ctx, env.Caller, "go", nil)
		done <- reply
	}()
	<-env.Transport.Started

	_, snap, ok := env.Orch.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "partial", snap)

	assert.True(t, env.Orch.Cancel())
	reply := <-done
	assert.True(t, reply.Cancelled)
	assert.Equal(t, "partial", reply.Message)
	assert.Nil(t, reply.Result)

	tasks, err := env.Stores.Tasks.List(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	hist := env.Orch.History()
	last := hist[len(hist)-1]
	assert.Equal(t, domain.RoleAssistant, last.Role)
	assert.True(t, last.Terminated)
	assert.False(t, env.Orch.Cancel(), "no turn left to cancel")
}

func TestNewSendCancelsPreviousTurn(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		transport.Turn{Events: []domain.StreamEvent{domain.TextDelta("first")}, Hold: true},
		text("second"))
	done := make(chan conversation.Reply, 1)
	go func() {
		reply, _ := env.Orch.Send(env.Ctx, env.Caller, "one", nil)
		done <- reply
	}()
	<-env.Transport.Started

	reply, err := env.Orch.Send(env.Ctx, env.Caller, "two", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", reply.Message)

	first := <-done
	assert.True(t, first.Cancelled)
	assert.Equal(t, "first", first.Message)

	var contents []string
	for _, m := range env.Orch.History() {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			contents = append(contents, m.Content)
		}
	}
	assert.Equal(t, []string{"one", "first", "two", "second"}, contents)
}

func TestTrimKeepsSystemAndContext(t *testing.T) {
	env := newTestEnv(t, conversation.Config{MaxHistory: 4}, text("a1"), text("a2"), text("a3"))
	for _, msg := range []string{"u1", "u2", "u3"} {
		_, err := env.Orch.Send(env.Ctx, env.Caller, msg, nil)
		require.NoError(t, err)
	}
	hist := env.Orch.History()
	assert.Equal(t, []domain.Role{domain.RoleSystem, domain.RoleContext, domain.RoleUser, domain.RoleAssistant}, roles(hist))
	assert.Equal(t, "u3", hist[2].Content)

	stored, err := env.History.ListMessages(env.Ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestTrimKeepsPendingPreview(t *testing.T) {
	env := newTestEnv(t, conversation.Config{MaxHistory: 4},
		call("create_event", `{"title":"Dentist","start":"2024-01-03 14:00","duration":"1h"}`),
		text("Anything else?"))
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "dentist on wednesday at 2", nil)
	require.NoError(t, err)
	require.NotEmpty(t, reply.PendingID)
	_, err = env.Orch.Send(env.Ctx, env.Caller, "thanks", nil)
	require.NoError(t, err)

	var held bool
	for _, m := range env.Orch.History() {
		if m.ID == reply.PendingID {
			held = m.Pending != nil
		}
	}
	require.True(t, held)

	res, err := env.Orch.Confirm(env.Ctx, env.Caller, "")
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	events, err := env.Stores.Events.List(env.Ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist", events[0].Title)
}

func TestStreamFailureFallsBackToSendOnce(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		transport.Turn{Err: errors.New("stream refused")},
		transport.Turn{Once: domain.AssistantReply{Message: "from fallback"}})
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "hi", nil)
	require.NoError(t, err)
	assert.False(t, reply.Failed)
	assert.Equal(t, "from fallback", reply.Message)
}

func TestFallbackCanReturnCall(t *testing.T) {
	env := newTestEnv(t, conversation.Config{},
		transport.Turn{Err: errors.New("stream refused")},
		transport.Turn{Once: domain.AssistantReply{FunctionCall: &domain.FunctionCall{
			Name: "create_category", Arguments: `{"name":"Work"}`,
		}}})
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "make a work category", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Success, reply.Result.Message)
}

func TestPartialTextThenFailure(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, transport.Turn{
		Events: []domain.StreamEvent{domain.TextDelta("Your week ")},
		Err:    errors.New("connection reset"),
	})
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "summary please", nil)
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.Contains(t, reply.Message, "Your week")
	assert.Contains(t, reply.Message, "response interrupted")

	hist := env.Orch.History()
	assert.True(t, hist[len(hist)-1].Terminated)
	assert.Len(t, env.Transport.Requests(), 1, "no fallback once text was shown")
}

func TestMalformedArgumentsChangeNothing(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, call("create_task", `{"title":`))
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "add a task", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.False(t, reply.Result.Success)
	assert.Contains(t, reply.Message, "garbled")

	tasks, err := env.Stores.Tasks.List(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDisallowedCallReported(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, call("complete_category", `{"id":"x"}`))
	reply, err := env.Orch.Send(env.Ctx, env.Caller, "finish work", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.False(t, reply.Result.Success)
}

func TestHistoryReloads(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, text("noted"))
	_, err := env.Orch.Send(env.Ctx, env.Caller, "remember this", nil)
	require.NoError(t, err)

	again := conversation.New("c1", env.Deps, conversation.Config{})
	require.NoError(t, again.Load(env.Ctx))
	assert.Equal(t, env.Orch.History(), again.History())
}

func TestRegistryReusesConversation(t *testing.T) {
	env := newTestEnv(t, conversation.Config{}, text("hello"))
	reg := conversation.NewRegistry(env.Deps, conversation.Config{})
	a, err := reg.Get(env.Ctx, "c2")
	require.NoError(t, err)
	b, err := reg.Get(env.Ctx, "c2")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
	reg.CancelAll()
}
