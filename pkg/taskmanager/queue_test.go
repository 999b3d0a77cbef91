package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestFIFOQueuePreservesOrder(t *testing.T) {
	q := newFIFOQueue()
	a := &types.SubTask{ID: "a"}
	b := &types.SubTask{ID: "b"}
	q.push(a)
	q.push(b)

	got, ok := q.tryPop()
	require.True(t, ok)
	require.Equal(t, "a", got.ID)

	got, ok = q.tryPop()
	require.True(t, ok)
	require.Equal(t, "b", got.ID)

	_, ok = q.tryPop()
	require.False(t, ok)
}

func TestPushFrontInsertsAtHead(t *testing.T) {
	q := newFIFOQueue()
	q.push(&types.SubTask{ID: "a"})
	q.pushFront(&types.SubTask{ID: "retry"})

	got, ok := q.tryPop()
	require.True(t, ok)
	require.Equal(t, "retry", got.ID)
}

func TestPopBlocksUntilPushed(t *testing.T) {
	q := newFIFOQueue()
	ctx := context.Background()

	done := make(chan *types.SubTask, 1)
	go func() {
		st, ok := q.pop(ctx)
		if ok {
			done <- st
		}
	}()

	select {
	case <-done:
		t.Fatal("pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.push(&types.SubTask{ID: "late"})

	select {
	case st := <-done:
		require.Equal(t, "late", st.ID)
	case <-time.After(time.Second):
		t.Fatal("pop never woke up after push")
	}
}

func TestPopReturnsFalseOnContextCancel(t *testing.T) {
	q := newFIFOQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.pop(ctx)
	require.False(t, ok)
}
