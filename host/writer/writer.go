// Package writer implements the host-side Prioritized Writer
// (spec.md §4.5): a single consumer thread draining a priority queue
// ordered by (priority, order), with per-channel enqueue replacement
// policies. Grounded on the teacher's bounded-channel drop-on-full
// idiom (internal/rtk/processor.go's solutionChan, gnss_receiver.go's
// dataQueue) generalized from a single FIFO channel to an ordered,
// replaceable queue — which the teacher's plain channel cannot
// express, hence container/heap (see DESIGN.md).
package writer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bramburn/hudlink/internal/errs"
	"github.com/bramburn/hudlink/internal/logging"
)

// Channel identifies which wire channel a frame belongs to. Priority
// order is CTRL < MSGF < IMGF (spec.md §3, §4.5).
type Channel uint8

const (
	ChannelCTRL Channel = 0
	ChannelMSGF Channel = 1
	ChannelIMGF Channel = 2
)

func (c Channel) String() string {
	switch c {
	case ChannelCTRL:
		return "ctrl"
	case ChannelMSGF:
		return "msgf"
	case ChannelIMGF:
		return "imgf"
	default:
		return "unknown"
	}
}

// OutboundFrame is the send-queue unit described in spec.md §3.
type OutboundFrame struct {
	Priority uint8
	Order    uint64
	Channel  Channel
	Seq      uint32
	Bytes    []byte
	TraceID  uuid.UUID
}

// Transport is the host's write-side of the byte transport (spec.md §6).
type Transport interface {
	Write(p []byte) error
	Flush() error
	Close() error
}

// Listener receives error and drop notifications (spec.md §7,
// SPEC_FULL.md §C). A nil Listener is fine — every call is nil-checked.
type Listener interface {
	OnError(stage string, err error)
	OnFrameDropped(channel Channel, reason errs.FrameDropReason)
}

// Stats are the counters named in spec.md §4.5.
type Stats struct {
	SentMsg    uint64
	SentImg    uint64
	SentCmd    uint64
	Dropped    uint64
	Errors     uint64
	QueueDepth int
}

// Writer is the single-consumer prioritized frame writer.
type Writer struct {
	mu               sync.Mutex
	pq               priorityQueue
	nextOrder        uint64
	imgQueueCapacity int

	transport Transport
	listener  Listener
	log       logging.Logger

	stats Stats

	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a Writer over transport. imgQueueCapacity bounds the
// number of queued IMGF frames (spec.md §4.5, default 2).
func New(transport Transport, imgQueueCapacity int, listener Listener, log logging.Logger) *Writer {
	if log == nil {
		log = logging.Nop{}
	}
	if imgQueueCapacity <= 0 {
		imgQueueCapacity = 2
	}
	w := &Writer{
		transport:        transport,
		imgQueueCapacity: imgQueueCapacity,
		listener:         listener,
		log:              log,
		wake:             make(chan struct{}, 1),
	}
	heap.Init(&w.pq)
	return w
}

// Start launches the consumer goroutine. Idempotent: calling Start
// twice on an already-running Writer is a no-op (spec.md §9).
func (w *Writer) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run()
}

// Stop signals the consumer to exit, drains the queue with bounded
// patience, and returns. Idempotent (spec.md §5, §9).
func (w *Writer) Stop(grace time.Duration) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)

	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-doneCh:
	case <-time.After(grace):
	}
}

// EnqueueCtrl always appends the frame (spec.md §4.5: "always appended").
func (w *Writer) EnqueueCtrl(bytes []byte, seq uint32) {
	w.enqueue(ChannelCTRL, bytes, seq)
}

// EnqueueMsgFrame removes any other queued MSGF frame before
// appending this one — newest snapshot wins (spec.md §4.5, §8
// property 3, scenario S6).
func (w *Writer) EnqueueMsgFrame(bytes []byte, seq uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var survivors priorityQueue
	for _, f := range w.pq {
		if f.Channel == ChannelMSGF {
			w.stats.Dropped++
			w.notifyDropped(ChannelMSGF, errs.ReasonReplaceOldSnapshot)
			continue
		}
		survivors = append(survivors, f)
	}
	w.pq = survivors
	heap.Init(&w.pq)

	w.pushLocked(uint8(ChannelMSGF), ChannelMSGF, bytes, seq)
	w.signal()
}

// EnqueueImgFrame appends the frame, then evicts the oldest queued
// IMGF frame(s) until the IMGF count is within imgQueueCapacity
// (spec.md §4.5, §8 property 4, scenario S5/S6 family).
func (w *Writer) EnqueueImgFrame(bytes []byte, seq uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pushLocked(uint8(ChannelIMGF), ChannelIMGF, bytes, seq)

	for w.countChannelLocked(ChannelIMGF) > w.imgQueueCapacity {
		w.evictOldestLocked(ChannelIMGF, errs.ReasonDropOldImage)
	}
	w.signal()
}

func (w *Writer) enqueue(channel Channel, bytes []byte, seq uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pushLocked(uint8(channel), channel, bytes, seq)
	w.signal()
}

// pushLocked requires w.mu held.
func (w *Writer) pushLocked(priority uint8, channel Channel, bytes []byte, seq uint32) {
	f := &OutboundFrame{
		Priority: priority,
		Order:    w.nextOrder,
		Channel:  channel,
		Seq:      seq,
		Bytes:    bytes,
		TraceID:  uuid.New(),
	}
	w.nextOrder++
	heap.Push(&w.pq, f)
	w.stats.QueueDepth = len(w.pq)
}

// countChannelLocked requires w.mu held.
func (w *Writer) countChannelLocked(channel Channel) int {
	n := 0
	for _, f := range w.pq {
		if f.Channel == channel {
			n++
		}
	}
	return n
}

// evictOldestLocked removes the lowest-order frame on channel and
// counts it as dropped. Requires w.mu held.
func (w *Writer) evictOldestLocked(channel Channel, reason errs.FrameDropReason) {
	oldestIdx := -1
	var oldestOrder uint64
	for i, f := range w.pq {
		if f.Channel != channel {
			continue
		}
		if oldestIdx == -1 || f.Order < oldestOrder {
			oldestIdx = i
			oldestOrder = f.Order
		}
	}
	if oldestIdx == -1 {
		return
	}
	heap.Remove(&w.pq, oldestIdx)
	w.stats.Dropped++
	w.stats.QueueDepth = len(w.pq)
	w.notifyDropped(channel, reason)
}

func (w *Writer) notifyDropped(channel Channel, reason errs.FrameDropReason) {
	if w.listener != nil {
		w.listener.OnFrameDropped(channel, reason)
	}
	w.log.Debugf("writer: dropped frame channel=%s reason=%s", channel, reason)
}

// signal requires w.mu held (or at least that the caller doesn't race
// on wake); it wakes the consumer without blocking.
func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.doneCh)

	const pollInterval = 200 * time.Millisecond
	for {
		frame, ok := w.popLowest()
		if ok {
			w.writeOne(frame)
			continue
		}

		select {
		case <-w.stopCh:
			w.drainRemaining()
			return
		case <-w.wake:
		case <-time.After(pollInterval):
		}
	}
}

func (w *Writer) popLowest() (*OutboundFrame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pq) == 0 {
		return nil, false
	}
	f := heap.Pop(&w.pq).(*OutboundFrame)
	w.stats.QueueDepth = len(w.pq)
	return f, true
}

// drainRemaining flushes whatever is left after stop is signalled,
// bounded by the caller's Stop(grace) timeout racing it.
func (w *Writer) drainRemaining() {
	for {
		f, ok := w.popLowest()
		if !ok {
			return
		}
		w.writeOne(f)
	}
}

func (w *Writer) writeOne(f *OutboundFrame) {
	if err := w.transport.Write(f.Bytes); err != nil {
		w.recordError("transport.write", fmt.Errorf("%w: %v", errs.ErrTransportWrite, err))
		return
	}
	if err := w.transport.Flush(); err != nil {
		w.recordError("transport.write", fmt.Errorf("%w: %v", errs.ErrTransportWrite, err))
		return
	}

	w.mu.Lock()
	switch f.Channel {
	case ChannelMSGF:
		w.stats.SentMsg++
	case ChannelIMGF:
		w.stats.SentImg++
	case ChannelCTRL:
		w.stats.SentCmd++
	}
	w.mu.Unlock()
}

func (w *Writer) recordError(stage string, err error) {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
	if w.listener != nil {
		w.listener.OnError(stage, err)
	}
	w.log.Warnf("writer: %s: %v", stage, err)
}

// Close stops the writer (if running) and closes the transport
// (spec.md §5 "close() additionally closes the transport").
func (w *Writer) Close(grace time.Duration) error {
	w.Stop(grace)
	if err := w.transport.Close(); err != nil {
		wrapped := fmt.Errorf("%w: %v", errs.ErrTransportClose, err)
		w.recordError("transport.close", wrapped)
		return wrapped
	}
	return nil
}

// Stats returns a snapshot of the writer's counters (spec.md §4.5).
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// priorityQueue implements container/heap.Interface ordered by
// (priority asc, order asc), per spec.md §3.
type priorityQueue []*OutboundFrame

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority < pq[j].Priority
	}
	return pq[i].Order < pq[j].Order
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*OutboundFrame))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
