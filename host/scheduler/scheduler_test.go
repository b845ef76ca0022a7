package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bramburn/hudlink/frame"
)

type fakeStore struct {
	mu    sync.Mutex
	snap  frame.VehicleSnapshot
	dirty bool
}

func (s *fakeStore) Snapshot() (frame.VehicleSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return s.snap, d
}

func (s *fakeStore) setDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

type fakeWriter struct {
	mu   sync.Mutex
	seqs []uint32
}

func (w *fakeWriter) EnqueueMsgFrame(bytes []byte, seq uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seqs = append(w.seqs, seq)
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seqs)
}

func TestEmitsOnDirtyAndThenIdlesUntilKeepalive(t *testing.T) {
	store := &fakeStore{dirty: true}
	w := &fakeWriter{}
	s := New(Config{MsgRateHz: 1000, MsgIdleRateHz: 2}, store, w, nil, nil)

	s.tick() // dirty, must emit
	require.Equal(t, 1, w.count())

	s.tick() // clean, not enough time elapsed for idle keepalive
	require.Equal(t, 1, w.count())
}

func TestIdleKeepAliveEmitsAfterInterval(t *testing.T) {
	store := &fakeStore{dirty: true}
	w := &fakeWriter{}
	s := New(Config{MsgRateHz: 1000, MsgIdleRateHz: 100}, store, w, nil, nil) // idle due every 10ms

	virtual := int64(0)
	var mu sync.Mutex
	s.SetClock(func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return virtual
	})

	s.tick()
	require.Equal(t, 1, w.count())

	mu.Lock()
	virtual += 20
	mu.Unlock()

	s.tick()
	require.Equal(t, 2, w.count())
}

func TestBurstOnChangeDoesNotDoubleEmit(t *testing.T) {
	store := &fakeStore{}
	w := &fakeWriter{}
	s := New(Config{MsgRateHz: 1000, MsgIdleRateHz: 0.001, BurstOnChange: true}, store, w, nil, nil)

	store.setDirty()
	s.NotifyChange()
	require.Equal(t, 1, w.count())

	// Store is clean now; a second burst before the idle interval
	// elapses must not emit again.
	s.NotifyChange()
	require.Equal(t, 1, w.count())
}

func TestStartStopIdempotentAndEmitsPeriodically(t *testing.T) {
	store := &fakeStore{dirty: true}
	w := &fakeWriter{}
	s := New(Config{MsgRateHz: 200, MsgIdleRateHz: 2}, store, w, nil, nil)

	s.Start()
	s.Start() // idempotent

	require.Eventually(t, func() bool { return w.count() >= 1 }, time.Second, time.Millisecond)

	s.Stop(time.Second)
	s.Stop(time.Second) // idempotent
}
