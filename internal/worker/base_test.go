package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// recordingLifecycle counts lifecycle calls and runs an injectable body
type recordingLifecycle struct {
	openErr   error
	body      func(ctx context.Context) error
	openCalls atomic.Int32
	closed    atomic.Int32
}

func (l *recordingLifecycle) Open(ctx context.Context) error {
	l.openCalls.Add(1)
	return l.openErr
}

func (l *recordingLifecycle) Execute(ctx context.Context) error {
	if l.body != nil {
		return l.body(ctx)
	}
	return nil
}

func (l *recordingLifecycle) Close() {
	l.closed.Add(1)
}

func drain(t *testing.T, b *Base) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining worker events")
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestBase_NormalCompletion(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	lc := &recordingLifecycle{body: func(ctx context.Context) error {
		b.Progress("working")
		return nil
	}}

	require.NoError(t, b.Start(lc))
	events := drain(t, b)
	<-b.Done()

	assert.Equal(t, int32(1), lc.openCalls.Load())
	assert.Equal(t, int32(1), lc.closed.Load(), "Close runs exactly once")
	assert.Equal(t, []EventType{EventProgress, EventQueueFinished}, eventTypes(events))
}

func TestBase_BodyErrorStillReleases(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	lc := &recordingLifecycle{body: func(ctx context.Context) error {
		return errors.New("body failed")
	}}

	require.NoError(t, b.Start(lc))
	events := drain(t, b)
	<-b.Done()

	assert.Equal(t, int32(1), lc.closed.Load())
	types := eventTypes(events)
	require.Len(t, types, 2)
	assert.Equal(t, EventError, types[0])
	assert.Equal(t, EventQueueFinished, types[1], "terminal event is always last")
}

func TestBase_PanicIsContained(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	lc := &recordingLifecycle{body: func(ctx context.Context) error {
		panic("kaboom")
	}}

	require.NoError(t, b.Start(lc))
	events := drain(t, b)
	<-b.Done()

	assert.Equal(t, int32(1), lc.closed.Load(), "panic must not skip resource release")

	var errEvent *Event
	for i := range events {
		if events[i].Type == EventError {
			errEvent = &events[i]
		}
	}
	require.NotNil(t, errEvent)
	assert.Equal(t, "panic", errEvent.Context)
	assert.Contains(t, errEvent.Message, "kaboom")
	assert.Equal(t, EventQueueFinished, events[len(events)-1].Type)
}

func TestBase_OpenFailureSkipsBody(t *testing.T) {
	bodyRan := false
	b := NewBase("test", 16, arbor.NewLogger())
	lc := &recordingLifecycle{
		openErr: errors.New("no storage"),
		body: func(ctx context.Context) error {
			bodyRan = true
			return nil
		},
	}

	require.NoError(t, b.Start(lc))
	events := drain(t, b)
	<-b.Done()

	assert.False(t, bodyRan)
	assert.Equal(t, int32(1), lc.closed.Load(), "Close runs even when Open fails")
	assert.Equal(t, []EventType{EventError, EventQueueFinished}, eventTypes(events))
}

func TestBase_NotRestartable(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	lc := &recordingLifecycle{}

	require.NoError(t, b.Start(lc))
	assert.ErrorIs(t, b.Start(lc), ErrAlreadyStarted)

	drain(t, b)
	<-b.Done()
	assert.Equal(t, int32(1), lc.openCalls.Load())
}

func TestBase_RequestStopIsIdempotent(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())

	assert.False(t, b.StopRequested())
	b.RequestStop()
	b.RequestStop()
	assert.True(t, b.StopRequested())

	// Context is cancelled so blocking calls can wake up
	select {
	case <-b.Context().Done():
	default:
		t.Fatal("worker context should be cancelled after RequestStop")
	}
}

func TestBase_StopObservedAtCheckpoint(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	checkpoints := 0
	lc := &recordingLifecycle{body: func(ctx context.Context) error {
		for i := 0; i < 100; i++ {
			if b.StopRequested() {
				return nil
			}
			checkpoints++
			if i == 2 {
				b.RequestStop()
			}
		}
		return nil
	}}

	require.NoError(t, b.Start(lc))
	drain(t, b)
	<-b.Done()

	assert.Equal(t, 3, checkpoints, "body halts at the first checkpoint after the stop request")
	assert.Equal(t, int32(1), lc.closed.Load())
}

func TestBase_RequestStopAfterTerminationIsSafe(t *testing.T) {
	b := NewBase("test", 16, arbor.NewLogger())
	require.NoError(t, b.Start(&recordingLifecycle{}))
	drain(t, b)
	<-b.Done()

	assert.NotPanics(t, func() { b.RequestStop() })
}
