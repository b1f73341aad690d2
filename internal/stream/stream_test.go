package stream_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"momentum/internal/domain"
	"momentum/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTextDeltasConcatenate(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(
		domain.TextDelta("a"), domain.TextDelta("b"), domain.Done(),
	))
	assert.Equal(t, stream.Text, res.Kind)
	assert.Equal(t, "ab", res.Text)
	assert.False(t, res.Terminated())
}

func TestCallArgumentsReassembled(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(
		domain.CallNameDelta("create_event"),
		domain.CallArgsDelta(`{"t`),
		domain.CallArgsDelta(`itle":1}`),
		domain.Done(),
	))
	require.Equal(t, stream.Call, res.Kind)
	assert.Equal(t, domain.FunctionCall{Name: "create_event", Arguments: `{"title":1}`}, res.Call)
	assert.True(t, res.Call.Valid())
}

func TestCallNameOverwrites(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(
		domain.TextDelta("Let me add that. "),
		domain.CallNameDelta("create"),
		domain.CallNameDelta("create_task"),
		domain.CallArgsDelta(`{}`),
		domain.Done(),
	))
	require.Equal(t, stream.Call, res.Kind)
	assert.Equal(t, "create_task", res.Call.Name)
	assert.Equal(t, "Let me add that. ", res.Text)
}

func TestMalformedArgumentsAreNotFatal(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(
		domain.CallNameDelta("create_task"),
		domain.CallArgsDelta(`{"title": "x"`),
		domain.Done(),
	))
	require.Equal(t, stream.Call, res.Kind)
	assert.False(t, res.Call.Valid())
}

func TestEventsAfterDoneIgnored(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(
		domain.TextDelta("hi"), domain.Done(), domain.CallNameDelta("delete_task"),
	))
	assert.Equal(t, stream.Text, res.Kind)
	assert.Equal(t, "hi", res.Text)
}

func TestCancelDiscardsCall(t *testing.T) {
	agg := stream.New(nil)
	seq := func(yield func(domain.StreamEvent, error) bool) {
		if !yield(domain.TextDelta("a"), nil) {
			return
		}
		agg.Cancel()
		for _, ev := range []domain.StreamEvent{
			domain.CallNameDelta("delete_task"), domain.CallArgsDelta(`{"id":"t1"}`), domain.Done(),
		} {
			if !yield(ev, nil) {
				return
			}
		}
	}
	res := agg.Run(context.Background(), seq)
	assert.Equal(t, stream.Cancelled, res.Kind)
	assert.Equal(t, "a", res.Text)
	assert.Empty(t, res.Call.Name)
	assert.True(t, res.Terminated())
}

// channelSeq feeds events from a producer goroutine that stops on ctx.
func channelSeq(ctx context.Context, events <-chan domain.StreamEvent) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok || !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func TestContextCancelStopsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan domain.StreamEvent)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		for _, ev := range []domain.StreamEvent{domain.TextDelta("par"), domain.TextDelta("tial"), domain.CallNameDelta("delete_event")} {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()

	agg := stream.New(nil)
	done := make(chan stream.Result, 1)
	go func() { done <- agg.Run(ctx, channelSeq(ctx, events)) }()

	require.Eventually(t, func() bool { return agg.Snapshot() == "partial" }, time.Second, time.Millisecond)
	cancel()
	res := <-done
	wg.Wait()
	assert.Equal(t, stream.Cancelled, res.Kind)
	assert.Equal(t, "partial", res.Text)
	assert.Empty(t, res.Call.Name)
}

func TestTransportErrorAnnotatesPartialText(t *testing.T) {
	boom := errors.New("connection reset")
	seq := func(yield func(domain.StreamEvent, error) bool) {
		if !yield(domain.TextDelta("Here is your "), nil) {
			return
		}
		if !yield(domain.CallNameDelta("list_events"), nil) {
			return
		}
		yield(domain.StreamEvent{}, boom)
	}
	res := stream.New(nil).Run(context.Background(), seq)
	require.Equal(t, stream.Failed, res.Kind)
	assert.Contains(t, res.Text, "Here is your")
	assert.Contains(t, res.Text, "connection reset")
	assert.Empty(t, res.Call.Name)

	var terr domain.TransportError
	require.ErrorAs(t, res.Err, &terr)
	assert.ErrorIs(t, res.Err, boom)
}

func TestOnTextSeesEachDelta(t *testing.T) {
	var got []string
	agg := stream.New(nil)
	agg.OnText = func(d string) { got = append(got, d) }
	agg.Run(context.Background(), stream.Replay(domain.TextDelta("one "), domain.TextDelta("two"), domain.Done()))
	assert.Equal(t, []string{"one ", "two"}, got)
}

func TestMissingDoneFinishesTurn(t *testing.T) {
	res := stream.New(nil).Run(context.Background(), stream.Replay(domain.TextDelta("tail")))
	assert.Equal(t, stream.Text, res.Kind)
	assert.Equal(t, "tail", res.Text)
}
