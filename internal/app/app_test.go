package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/app"
	"momentum/internal/config"
	"momentum/internal/domain"
	"momentum/internal/events"
	"momentum/internal/transport"
)

var testNow = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func openApp(t *testing.T, backend string, tr domain.Transport) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Transport: tr,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestDispatchAcrossBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a := openApp(t, backend, nil)
			ctx := context.Background()
			caller := a.Caller("", "")
			assert.Equal(t, app.LocalUser, caller.UserID)
			assert.Equal(t, 50, caller.Limits.BulkMax)

			res, err := a.DispatchCall(ctx, caller, "create_task", `{"title":"File taxes","due_date":"2024-04-15"}`)
			require.NoError(t, err)
			require.True(t, res.Success, res.Message)

			res = a.Dispatch(ctx, caller, domain.Envelope{Type: domain.KindTask, Action: domain.ActionList})
			require.True(t, res.Success, res.Message)
			assert.Contains(t, res.Message, "File taxes")
		})
	}
}

func TestSQLiteBackendWritesAuditLog(t *testing.T) {
	a := openApp(t, config.BackendSQLite, nil)
	ctx := context.Background()
	res, err := a.DispatchCall(ctx, a.Caller("ana", ""), "create_category", `{"name":"Health"}`)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	recs, err := events.Tail(ctx, a.DB, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	last := recs[len(recs)-1]
	assert.Equal(t, "category", last.EntityKind)
	assert.Equal(t, "ana", last.ActorID)
}

func TestDispatchCallRejectsBadJSON(t *testing.T) {
	a := openApp(t, config.BackendMemory, nil)
	_, err := a.DispatchCall(context.Background(), a.Caller("", ""), "create_task", `{`)
	assert.Error(t, err)
}

func TestConversationsUseConfiguredTransport(t *testing.T) {
	tr := transport.NewScripted(transport.Turn{Events: []domain.StreamEvent{
		domain.CallNameDelta("create_habit"), domain.CallArgsDelta(`{"name":"Stretch"}`), domain.Done(),
	}})
	a := openApp(t, config.BackendMemory, tr)
	ctx := context.Background()
	reg, err := a.Conversations(ctx)
	require.NoError(t, err)
	conv, err := reg.Get(ctx, "main")
	require.NoError(t, err)

	reply, err := conv.Send(ctx, a.Caller("", ""), "I want to stretch daily", nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Success, reply.Result.Message)

	habits, err := a.Stores.Habits.List(ctx)
	require.NoError(t, err)
	require.Len(t, habits, 1)
	assert.Equal(t, "Stretch", habits[0].Name)
}

func TestOfflineAssistant(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.Offline = true
	a, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Config: cfg})
	require.NoError(t, err)
	defer a.Close()

	reg, err := a.Conversations(context.Background())
	require.NoError(t, err)
	conv, err := reg.Get(context.Background(), "c")
	require.NoError(t, err)
	reply, err := conv.Send(context.Background(), a.Caller("", ""), "hello", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Message, "offline")
}
