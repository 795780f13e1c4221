//go:build test

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeChannel records sends for assertions.
type fakeChannel struct {
	mu    sync.Mutex
	sends [][]byte
}

func (f *fakeChannel) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, payload)
	return nil
}

func (f *fakeChannel) Close(int, string) {}

func TestRegistry_RegisterSnapshotUnregister(t *testing.T) {
	r := New()
	require.Zero(t, r.Len())

	a := &fakeChannel{}
	b := &fakeChannel{}
	ha := r.Register(a)
	hb := r.Register(b)
	require.NotEqual(t, ha, hb)
	require.Equal(t, 2, r.Len())

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	r.Unregister(ha)
	require.Equal(t, 1, r.Len())

	// idempotent removal
	r.Unregister(ha)
	require.Equal(t, 1, r.Len())

	remaining := r.Snapshot()
	require.Len(t, remaining, 1)
	require.Equal(t, hb, remaining[0].Handle)
}

// TestRegistry_SnapshotIsolation verifies membership changes after a snapshot
// do not affect the already-taken snapshot.
func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := New()
	ha := r.Register(&fakeChannel{})

	snap := r.Snapshot()
	r.Unregister(ha)
	r.Register(&fakeChannel{})

	require.Len(t, snap, 1)
	require.Equal(t, ha, snap[0].Handle)
}

// TestRegistry_ConcurrentAccess exercises register/unregister/snapshot under
// concurrency; the race detector is the real assertion here.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := r.Register(&fakeChannel{})
				for _, e := range r.Snapshot() {
					_ = e.Channel.Send(context.Background(), []byte("x"))
				}
				r.Unregister(h)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, r.Len())
}
