package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	mu          sync.Mutex
	identity    string
	coordinator string
	expireCalls int
	toExpire    []string
}

func (f *fakeView) Identity() string { return f.identity }

func (f *fakeView) Coordinator() (string, *types.NodeDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coordinator, nil
}

func (f *fakeView) ExpireStale(threshold time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls++
	out := f.toExpire
	f.toExpire = nil
	return out
}

func TestSweeperSkipsWhenNotCoordinator(t *testing.T) {
	v := &fakeView{identity: "10.0.0.1:5002", coordinator: "10.0.0.2:5002"}
	s := NewSweeper(v, 20*time.Second, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	require.Zero(t, v.expireCalls)
}

func TestSweeperExpiresWhenCoordinator(t *testing.T) {
	v := &fakeView{identity: "10.0.0.1:5002", coordinator: "10.0.0.1:5002", toExpire: []string{"10.0.0.9:5002"}}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	s := NewSweeper(v, 20*time.Second, 10*time.Millisecond, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	select {
	case ev := <-sub:
		require.Equal(t, events.EventNodeDown, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an EventNodeDown after sweep")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	require.GreaterOrEqual(t, v.expireCalls, 1)
}
