// Package scheduler implements the host-side MSG Scheduler (spec.md
// §4.2): a fixed-rate ticker that samples the State Store and
// enqueues MSGF snapshot frames, with an idle keep-alive and
// burst-on-change path. Grounded on gnss_receiver.go's generateData
// loop (time.NewTicker driving a periodic sample-and-send over a
// select against a stop channel), generalized from "always send" to
// the store's dirty-bit/idle-interval emission rule.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/bramburn/hudlink/frame"
	"github.com/bramburn/hudlink/internal/logging"
)

// Store is satisfied by *store.Store.
type Store interface {
	Snapshot() (frame.VehicleSnapshot, bool)
}

// Writer is the subset of *writer.Writer the scheduler needs.
type Writer interface {
	EnqueueMsgFrame(bytes []byte, seq uint32)
}

// Listener receives tick-failure reports (spec.md §4.2, §7).
type Listener interface {
	OnError(stage string, err error)
}

// Config holds the scheduler's tunables (spec.md §4.2).
type Config struct {
	MsgRateHz     float64
	MsgIdleRateHz float64
	BurstOnChange bool
	EnableCRC     bool
}

// Scheduler runs the periodic and burst emission paths described in
// spec.md §4.2.
type Scheduler struct {
	mu sync.Mutex

	cfg      Config
	store    Store
	writer   Writer
	listener Listener
	log      logging.Logger
	now      func() int64

	seqCounter    uint32
	lastMsgSentMs int64

	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a Scheduler. It does not start the ticker; call Start.
func New(cfg Config, store Store, writer Writer, listener Listener, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Nop{}
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		writer:   writer,
		listener: listener,
		log:      log,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the scheduler's time source (tests only).
func (s *Scheduler) SetClock(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start launches the periodic tick goroutine. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	period := time.Duration(float64(time.Second) / s.cfg.MsgRateHz)
	s.ticker = time.NewTicker(period)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	ticker := s.ticker
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go s.run(ticker, stopCh, doneCh)
}

func (s *Scheduler) run(ticker *time.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop halts the ticker and waits for the run goroutine to exit,
// bounded by grace (spec.md §5's ≤1s cancellation budget). Idempotent.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(grace):
	}
}

// NotifyChange implements burst-on-change: any setter may call this
// to opportunistically tick immediately after a vehicle-data write
// (spec.md §4.2). It follows the same emission rule as the periodic
// tick, so it never double-emits when the store is already clean.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	burst := s.cfg.BurstOnChange
	s.mu.Unlock()
	if burst {
		s.tick()
	}
}

func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.reportErr(recoverToErr(r))
		}
	}()

	snap, dirty := s.store.Snapshot()
	now := s.currentTimeMs()

	s.mu.Lock()
	idleElapsedMs := now - s.lastMsgSentMs
	idleDueMs := int64(1000 / s.cfg.MsgIdleRateHz)
	shouldEmit := dirty || idleElapsedMs >= idleDueMs
	if !shouldEmit {
		s.mu.Unlock()
		return
	}
	s.seqCounter++
	seq := s.seqCounter
	s.lastMsgSentMs = now
	enableCRC := s.cfg.EnableCRC
	s.mu.Unlock()

	payload := frame.EncodeSnapshotPayload(snap)
	bytes := frame.Encode(frame.MagicMSGF, payload, seq, enableCRC)
	s.writer.EnqueueMsgFrame(bytes, seq)
}

func (s *Scheduler) currentTimeMs() int64 {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

func (s *Scheduler) reportErr(err error) {
	s.log.Errorf("scheduler: msg.tick: %v", err)
	if s.listener != nil {
		s.listener.OnError("msg.tick", err)
	}
}

func recoverToErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return fmt.Sprintf("panic in msg.tick: %v", p.v) }
