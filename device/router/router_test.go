package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bramburn/hudlink/frame"
)

// fakeTransport is a fixed byte source fed once, then exhausted.
type fakeTransport struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func (t *fakeTransport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data) - t.pos
}

func (t *fakeTransport) Read(buf []byte, max int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.data) - t.pos
	if n <= 0 {
		return 0, nil
	}
	if n > max {
		n = max
	}
	copy(buf, t.data[t.pos:t.pos+n])
	t.pos += n
	return n, nil
}

// fakeReceiver records every committed/dropped payload and hands back
// plain heap buffers from Acquire, optionally simulating exhaustion.
type fakeReceiver struct {
	mu          sync.Mutex
	magic       uint32
	maxLen      int
	requireCRC  bool
	noBuffer    bool
	committed   [][]byte
	dropped     int
}

func (r *fakeReceiver) Magic() uint32      { return r.magic }
func (r *fakeReceiver) MaxLen() int        { return r.maxLen }
func (r *fakeReceiver) RequireCRC() bool   { return r.requireCRC }

func (r *fakeReceiver) Acquire(capacityHint int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.noBuffer {
		return nil
	}
	return make([]byte, capacityHint)
}

func (r *fakeReceiver) Commit(buf []byte, length int, seq uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, append([]byte(nil), buf[:length]...))
}

func (r *fakeReceiver) Drop(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *fakeReceiver) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed), r.dropped
}

func TestRouter_DispatchesByMagic(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicMSGF, maxLen: 64}
	payload := []byte("hello-msgf")
	wire := frame.Encode(frame.MagicMSGF, payload, 7, false)

	tr := &fakeTransport{data: wire}
	r := New(tr, 64, nil)
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		n, _ := recv.snapshot()
		return n == 1
	}, time.Second, time.Millisecond)

	committed := recv.committed[0]
	require.Equal(t, payload, committed)
}

func TestRouter_NoReceiverResyncs(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicMSGF, maxLen: 64}
	unknown := frame.Encode(0xDEADBEEF, []byte("x"), 1, false)
	good := frame.Encode(frame.MagicMSGF, []byte("ok"), 2, false)

	tr := &fakeTransport{data: append(unknown, good...)}
	r := New(tr, 64, nil)
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		n, _ := recv.snapshot()
		return n == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, []byte("ok"), recv.committed[0])
	require.Greater(t, r.Stats().NoReceiver, uint64(0))
	require.Greater(t, r.Stats().ResyncCount, uint64(0))
}

func TestRouter_BadLenResyncs(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicMSGF, maxLen: 4}
	tooLong := frame.Encode(frame.MagicMSGF, []byte("this-payload-is-too-long"), 1, false)
	good := frame.Encode(frame.MagicMSGF, []byte("ok"), 2, false)

	tr := &fakeTransport{data: append(tooLong, good...)}
	r := New(tr, 64, nil)
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		n, _ := recv.snapshot()
		return n == 1
	}, time.Second, time.Millisecond)

	require.Equal(t, []byte("ok"), recv.committed[0])
	require.Greater(t, r.Stats().BadLen, uint64(0))
}

func TestRouter_BadCRCDrops(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicMSGF, maxLen: 64, requireCRC: true}
	wire := frame.Encode(frame.MagicMSGF, []byte("payload"), 1, true)
	wire[len(wire)-1] ^= 0xFF // corrupt the last payload byte so CRC fails

	good := frame.Encode(frame.MagicMSGF, []byte("ok"), 2, true)

	tr := &fakeTransport{data: append(wire, good...)}
	r := New(tr, 64, nil)
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		n, _ := recv.snapshot()
		return n == 1
	}, time.Second, time.Millisecond)

	_, dropped := recv.snapshot()
	require.Equal(t, 1, dropped)
	require.Equal(t, []byte("ok"), recv.committed[0])
	require.Greater(t, r.Stats().BadCRC, uint64(0))
}

func TestRouter_NoBufferSkipsPayload(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicMSGF, maxLen: 64, noBuffer: true}
	starved := frame.Encode(frame.MagicMSGF, []byte("starved"), 1, false)

	tr := &fakeTransport{data: starved}
	r := New(tr, 64, nil)
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		return r.Stats().NoBuffer > 0
	}, time.Second, time.Millisecond)

	n, _ := recv.snapshot()
	require.Equal(t, 0, n)
}

func TestRouter_SplitAcrossReads(t *testing.T) {
	recv := &fakeReceiver{magic: frame.MagicIMGF, maxLen: 1024}
	wire := frame.Encode(frame.MagicIMGF, make([]byte, 300), 9, false)

	tr := &fakeTransport{data: wire}
	r := New(tr, 16, nil) // force many small reads, splitting header & payload
	r.Register(recv)

	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	require.Eventually(t, func() bool {
		n, _ := recv.snapshot()
		return n == 1
	}, time.Second, time.Millisecond)

	require.Len(t, recv.committed[0], 300)
}
