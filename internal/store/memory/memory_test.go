package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/domain"
	"momentum/internal/store"
	"momentum/internal/store/memory"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New[domain.Goal](domain.KindGoal)
	ch, stop := s.Subscribe()
	defer stop()

	_, err := s.Create(ctx, domain.Goal{ID: "g1", Title: "Run a marathon"})
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.Goal{ID: "g1", Title: "dup"})
	assert.ErrorIs(t, err, store.ErrExists)

	g, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	g.Progress = 40
	require.NoError(t, s.Update(ctx, g))

	require.NoError(t, s.Delete(ctx, "g1"))
	assert.ErrorIs(t, s.Delete(ctx, "g1"), store.ErrNotFound)

	var ops []domain.ChangeOp
	for len(ops) < 3 {
		select {
		case c := <-ch:
			ops = append(ops, c.Op)
		case <-time.After(time.Second):
			t.Fatalf("got %v", ops)
		}
	}
	assert.Equal(t, []domain.ChangeOp{domain.ChangeCreated, domain.ChangeUpdated, domain.ChangeDeleted}, ops)
}

func TestListForUsesAnchor(t *testing.T) {
	ctx := context.Background()
	s := memory.New[domain.Task](domain.KindTask)
	due := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	_, _ = s.Create(ctx, domain.Task{ID: "a", Title: "due", DueDate: &due})
	_, _ = s.Create(ctx, domain.Task{ID: "b", Title: "undated"})

	got, err := s.ListFor(ctx, domain.Range{Start: due.Truncate(24 * time.Hour), End: due.Truncate(24 * time.Hour).Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestHistoryReplacesByID(t *testing.T) {
	ctx := context.Background()
	h := memory.NewHistory()
	require.NoError(t, h.AppendMessage(ctx, "c", domain.Message{ID: "1", Content: "par"}))
	require.NoError(t, h.AppendMessage(ctx, "c", domain.Message{ID: "1", Content: "partial", Terminated: true}))
	got, err := h.ListMessages(ctx, "c")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Terminated)
}
