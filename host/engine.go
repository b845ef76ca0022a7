// Package host wires the State Store, MSG Scheduler, GPS Filter, Map
// Fetch Coordinator and Prioritized Writer into the single host-side
// engine described by spec.md §9: "the coordinator and writer form a
// cycle through the priority queue, not a back-pointer — the
// coordinator only ever calls writer.EnqueueImgFrame". Grounded on
// gnss_receiver.go's top-level struct that owns a ticker, a data
// queue, and start/stop lifecycle methods coordinating all of the
// above.
package host

import (
	"time"

	"github.com/bramburn/hudlink/config"
	"github.com/bramburn/hudlink/frame"
	"github.com/bramburn/hudlink/host/gps"
	"github.com/bramburn/hudlink/host/mapfetch"
	"github.com/bramburn/hudlink/host/scheduler"
	"github.com/bramburn/hudlink/host/store"
	"github.com/bramburn/hudlink/host/writer"
	"github.com/bramburn/hudlink/internal/errs"
	"github.com/bramburn/hudlink/internal/logging"
)

// ErrorListener is the supplemented listener interface named in
// SPEC_FULL.md §C: §7 repeatedly says failures are "reported via
// listener" without ever defining its shape, so a single interface is
// used uniformly by the scheduler, coordinator, GPS filter and writer.
// Any concrete type implementing all three methods structurally
// satisfies every sub-component's narrower Listener interface.
type ErrorListener interface {
	OnError(stage string, err error)
	OnFrameDropped(reason errs.FrameDropReason)
	OnGpsFiltered(p gps.Point, reason errs.GpsFilterReason)
}

// LoggingListener is the default ErrorListener: it logs every event
// and otherwise does nothing, suitable for the demo binaries.
type LoggingListener struct {
	Log logging.Logger
}

func (l LoggingListener) OnError(stage string, err error) {
	l.Log.Errorf("host: %s: %v", stage, err)
}

func (l LoggingListener) OnFrameDropped(reason errs.FrameDropReason) {
	l.Log.Warnf("host: frame dropped: %s", reason)
}

func (l LoggingListener) OnGpsFiltered(p gps.Point, reason errs.GpsFilterReason) {
	l.Log.Debugf("host: gps point filtered: %s", reason)
}

// writerListenerAdapter reconciles ErrorListener's single-argument
// OnFrameDropped(reason) with writer.Listener's channel-qualified
// OnFrameDropped(channel, reason) — the writer is the only component
// that needs to know which wire channel a drop came from.
type writerListenerAdapter struct {
	l ErrorListener
}

func (a writerListenerAdapter) OnError(stage string, err error) {
	a.l.OnError(stage, err)
}

func (a writerListenerAdapter) OnFrameDropped(channel writer.Channel, reason errs.FrameDropReason) {
	a.l.OnFrameDropped(reason)
}

// Engine is the assembled host-side dispatch engine.
type Engine struct {
	cfg config.HostConfig
	log logging.Logger

	Store     *store.Store
	GPS       *gps.Filter
	MapFetch  *mapfetch.Coordinator
	Scheduler *scheduler.Scheduler
	Writer    *writer.Writer

	imgSeq uint32
}

// New assembles an Engine from its configuration, transport, map
// provider and error listener. provider may be nil, in which case the
// Map Fetch Coordinator never triggers (spec.md §4.4: "requires a
// provider configured"). New panics with an ErrInvalidConfig-wrapped
// error when cfg fails HostConfig.Validate.
func New(cfg config.HostConfig, transport writer.Transport, mapProvider mapfetch.Provider, listener ErrorListener, log logging.Logger) *Engine {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if log == nil {
		log = logging.Nop{}
	}

	e := &Engine{cfg: cfg, log: log}

	var writerListener writer.Listener
	if listener != nil {
		writerListener = writerListenerAdapter{l: listener}
	}

	e.Store = store.New()
	e.Writer = writer.New(transport, cfg.ImgQueueCapacity, writerListener, log)
	e.GPS = gps.New(gps.Config{
		MinIntervalMs:      cfg.GpsMinIntervalMs,
		AccuracyThresholdM: cfg.GpsAccuracyThresholdM,
		MinDistanceM:       cfg.GpsMinDistanceM,
		TurnAngleDeg:       cfg.GpsTurnAngleDeg,
		TrackMaxPoints:     cfg.TrackMaxPoints,
	}, listener)

	e.MapFetch = mapfetch.New(mapfetch.Config{
		TriggerPointCount:     cfg.MapTriggerPointCount,
		TriggerIntervalMs:     cfg.MapTriggerIntervalMs,
		TriggerDistanceM:      cfg.MapTriggerDistanceM,
		RetryBackoffInitialMs: cfg.MapRetryBackoffInitialMs,
		RetryBackoffMaxMs:     cfg.MapRetryBackoffMaxMs,
		MaxPngBytes:           cfg.MaxPngBytes,
	}, mapProvider, e.GPS, e.onPng, listener, log)

	e.Scheduler = scheduler.New(scheduler.Config{
		MsgRateHz:     cfg.MsgRateHz,
		MsgIdleRateHz: cfg.MsgIdleRateHz,
		BurstOnChange: cfg.BurstOnVehicleDataChange,
		EnableCRC:     cfg.EnableCRC,
	}, e.Store, e.Writer, listener, log)

	return e
}

func (e *Engine) onPng(png []byte) {
	e.imgSeq++
	bytes := frame.Encode(frame.MagicIMGF, png, e.imgSeq, e.cfg.EnableCRC)
	e.Writer.EnqueueImgFrame(bytes, e.imgSeq)
}

// SetField forwards to the State Store and fires a burst tick
// (spec.md §4.1, §4.2).
func (e *Engine) SetField(f store.Field, v int32) {
	e.Store.SetField(f, v)
	e.Scheduler.NotifyChange()
}

// IngestGps forwards a raw point through the GPS Filter and, when
// accepted, re-evaluates the Map Fetch Coordinator's triggers
// (spec.md §4.3, §4.4).
func (e *Engine) IngestGps(p gps.Point) bool {
	if !e.GPS.Ingest(p) {
		return false
	}
	e.MapFetch.NotifyGpsAccepted()
	return true
}

// SendReboot enqueues an MSGF reboot control frame (spec.md §4.9).
func (e *Engine) SendReboot(seq uint32) {
	payload := frame.EncodeRebootPayload()
	bytes := frame.Encode(frame.MagicMSGF, payload, seq, e.cfg.EnableCRC)
	e.Writer.EnqueueCtrl(bytes, seq)
}

// Start launches the scheduler and writer (spec.md §5). Idempotent
// through each sub-component's own idempotent Start.
func (e *Engine) Start() {
	e.Writer.Start()
	e.Scheduler.Start()
}

// Stop shuts the engine down within a bounded timeout, then closes
// the transport (spec.md §5's stop()/close() split).
func (e *Engine) Stop(grace time.Duration) error {
	e.Scheduler.Stop(grace)
	e.MapFetch.Stop()
	return e.Writer.Close(grace)
}
