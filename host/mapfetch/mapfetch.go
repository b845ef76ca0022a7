// Package mapfetch implements the host-side Map Fetch Coordinator
// (spec.md §4.4): watches the GPS track, triggers at most one
// in-flight render via an external MapImageProvider, and backs off
// exponentially on failure. Grounded on internal/rtk/processor.go's
// mutex-guarded state-transition-plus-side-computation shape (a
// critical section decides whether to act, then an unlocked call does
// the I/O, then a second critical section records the result) and its
// non-blocking "in flight" guard.
package mapfetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bramburn/hudlink/host/gps"
	"github.com/bramburn/hudlink/internal/errs"
	"github.com/bramburn/hudlink/internal/logging"
)

// Provider is the external MapImageProvider contract (spec.md §6).
type Provider interface {
	FetchTrackImage(ctx context.Context, points []gps.Point) ([]byte, error)
}

// TrackSource is satisfied by *gps.Filter.
type TrackSource interface {
	Snapshot() (track []gps.Point, acceptedSinceLastMap int, distanceSinceLastMapM float64)
	ResetMapCounters()
}

// Listener receives error/drop notifications (spec.md §7).
type Listener interface {
	OnError(stage string, err error)
	OnFrameDropped(reason errs.FrameDropReason)
}

// Config holds the tunables consulted by trigger evaluation and
// backoff (spec.md §4.4).
type Config struct {
	TriggerPointCount    int
	TriggerIntervalMs    int64
	TriggerDistanceM     float64
	RetryBackoffInitialMs int64
	RetryBackoffMaxMs    int64
	MaxPngBytes          int
	FetchTimeout         time.Duration
}

// State is the coordinator's state machine (spec.md §4.4).
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateInFlight
	StateBackoff
)

// Clock lets tests inject a deterministic time source.
type Clock func() int64

// Coordinator is the host-side Map Fetch Coordinator.
type Coordinator struct {
	mu sync.Mutex

	cfg      Config
	provider Provider
	track    TrackSource
	onPng    func(png []byte)
	listener Listener
	log      logging.Logger
	now      Clock

	state            State
	pending          bool
	lastMapFetchMs   int64
	currentBackoffMs int64
	nextRetryAtMs    int64
	retryTimer       *time.Timer
}

// New builds a Coordinator. onPng is invoked with a successfully
// fetched PNG (the caller is expected to enqueue it as an IMGF frame
// via the Prioritized Writer).
func New(cfg Config, provider Provider, track TrackSource, onPng func(png []byte), listener Listener, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Nop{}
	}
	return &Coordinator{
		cfg:              cfg,
		provider:         provider,
		track:            track,
		onPng:            onPng,
		listener:         listener,
		log:              log,
		now:              func() int64 { return time.Now().UnixMilli() },
		currentBackoffMs: cfg.RetryBackoffInitialMs,
	}
}

// SetClock overrides the coordinator's time source, for deterministic
// backoff tests (spec.md §8 property 7 / scenario S4).
func (c *Coordinator) SetClock(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = clock
}

// State returns the coordinator's current state, for tests/telemetry.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentBackoffMs returns the backoff that will be used on the next
// failure, for tests.
func (c *Coordinator) CurrentBackoffMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBackoffMs
}

// NotifyGpsAccepted re-evaluates the trigger conditions (spec.md
// §4.4). Call this once per accepted GpsPoint.
func (c *Coordinator) NotifyGpsAccepted() {
	if c.provider == nil {
		return
	}
	track, accepted, distance := c.track.Snapshot()
	if len(track) < 2 {
		return
	}

	now := c.currentTimeMs()
	c.mu.Lock()
	triggered := accepted >= c.cfg.TriggerPointCount ||
		now-c.lastMapFetchMs >= c.cfg.TriggerIntervalMs ||
		distance >= c.cfg.TriggerDistanceM
	if !triggered {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.startIfPossibleLocked(track, now)
	c.mu.Unlock()
}

// startIfPossibleLocked requires c.mu held. It starts the worker when
// the state machine allows it and clears pending on start.
func (c *Coordinator) startIfPossibleLocked(track []gps.Point, now int64) {
	switch c.state {
	case StateInFlight:
		return // one fetch in flight at a time (spec.md §4.4)
	case StateBackoff:
		if now < c.nextRetryAtMs {
			return // timer owns the next retry
		}
	case StateIdle, StateScheduled:
		// fall through to start
	}

	c.state = StateInFlight
	c.pending = false
	snapshot := append([]gps.Point(nil), track...)
	go c.runFetch(snapshot)
}

func (c *Coordinator) runFetch(track []gps.Point) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if c.cfg.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	png, err := c.provider.FetchTrackImage(ctx, track)
	c.onFetchResult(png, err)
}

func (c *Coordinator) onFetchResult(png []byte, err error) {
	now := c.currentTimeMs()

	c.mu.Lock()
	switch {
	case err != nil:
		c.recordFailureLocked(now, fmt.Errorf("%w: %v", errs.ErrProviderFailure, err), "")
	case len(png) == 0:
		c.recordFailureLocked(now, nil, errs.ReasonEmptyImage)
	case c.cfg.MaxPngBytes > 0 && len(png) > c.cfg.MaxPngBytes:
		c.recordFailureLocked(now, nil, errs.ReasonImageTooLarge)
	default:
		c.state = StateIdle
		c.lastMapFetchMs = now
		c.currentBackoffMs = c.cfg.RetryBackoffInitialMs
		pending := c.pending
		c.mu.Unlock()

		c.track.ResetMapCounters()
		c.onPng(png)

		if pending {
			c.NotifyGpsAccepted()
		}
		return
	}
	c.mu.Unlock()
}

// recordFailureLocked requires c.mu held. It schedules the next
// retry per spec.md §4.4's backoff rule and keeps exactly one retry
// timer outstanding (spec.md §9).
func (c *Coordinator) recordFailureLocked(now int64, err error, dropReason errs.FrameDropReason) {
	if err != nil && c.listener != nil {
		c.listener.OnError("map.fetch", err)
	}
	if dropReason != "" && c.listener != nil {
		c.listener.OnFrameDropped(dropReason)
	}
	if err != nil {
		c.log.Warnf("mapfetch: %v", err)
	} else {
		c.log.Warnf("mapfetch: dropped image: %s", dropReason)
	}

	c.state = StateBackoff
	c.nextRetryAtMs = now + c.currentBackoffMs

	delay := time.Duration(c.currentBackoffMs) * time.Millisecond
	if c.currentBackoffMs < c.cfg.RetryBackoffMaxMs {
		c.currentBackoffMs *= 2
		if c.currentBackoffMs > c.cfg.RetryBackoffMaxMs {
			c.currentBackoffMs = c.cfg.RetryBackoffMaxMs
		}
	}

	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, c.onRetryTimerFire)
}

func (c *Coordinator) onRetryTimerFire() {
	now := c.currentTimeMs()
	c.mu.Lock()
	if c.state != StateBackoff {
		c.mu.Unlock()
		return
	}
	c.state = StateScheduled
	pending := c.pending
	c.mu.Unlock()

	if !pending {
		return
	}
	track, _, _ := c.track.Snapshot()
	if len(track) < 2 {
		return
	}
	c.mu.Lock()
	c.startIfPossibleLocked(track, now)
	c.mu.Unlock()
}

func (c *Coordinator) currentTimeMs() int64 {
	c.mu.Lock()
	now := c.now
	c.mu.Unlock()
	return now()
}

// Stop cancels any outstanding retry timer (called on engine shutdown).
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
}
