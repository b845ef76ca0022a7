// Package router implements the device-side Stream Router (spec.md
// §4.6): it demultiplexes a continuous byte stream into magic-tagged
// frames and dispatches each to a registered Receiver. Grounded on
// internal/parser/rtcm.go and internal/parser/ubx.go, which both
// hand-roll an incremental "accumulate into a buffer, scan for a
// complete message, slice it off" loop over repeated Process(data)
// calls; this package generalizes that exact idiom to an explicit
// three-stage state machine driven by a single RX loop reading from
// an abstract Transport, instead of a single hardcoded protocol.
package router

import (
	"sync"
	"time"

	"github.com/bramburn/hudlink/device"
	"github.com/bramburn/hudlink/frame"
	"github.com/bramburn/hudlink/internal/logging"
)

// Transport is the device's read-side of the byte transport (spec.md §6).
type Transport interface {
	Available() int
	Read(buf []byte, max int) (int, error)
}

// Stats are the per-router counters named in spec.md §4.6/§7.
type Stats struct {
	ResyncCount  uint64
	BadLen       uint64
	BadCRC       uint64
	NoBuffer     uint64
	NoReceiver   uint64
	FramesOK     uint64
	BytesRead    uint64
}

type stage int

const (
	stageHeader stage = iota
	stagePayload
	stageSkip
)

// Router is the single-RX-task frame demultiplexer.
type Router struct {
	mu        sync.Mutex
	receivers map[uint32]device.Receiver
	def       device.Receiver

	transport Transport
	readChunk int

	onRxActivity func(n int)
	log          logging.Logger

	stats Stats

	// incremental parse state, touched only by the RX goroutine.
	st            stage
	headerAcc     []byte
	hdr           frame.Header
	curReceiver   device.Receiver
	payloadBuf    []byte
	payloadWrit   int
	skipRemaining int
}

// New builds a Router reading from transport in chunks of readChunk
// bytes (spec.md §4.6, default 256).
func New(transport Transport, readChunk int, log logging.Logger) *Router {
	if log == nil {
		log = logging.Nop{}
	}
	if readChunk <= 0 {
		readChunk = 256
	}
	return &Router{
		receivers: make(map[uint32]device.Receiver),
		transport: transport,
		readChunk: readChunk,
		log:       log,
		headerAcc: make([]byte, 0, frame.HeaderSize),
	}
}

// Register associates a Receiver with its magic (spec.md §4.6).
func (r *Router) Register(recv device.Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[recv.Magic()] = recv
}

// SetDefaultReceiver registers a catch-all for unrecognized magics.
func (r *Router) SetDefaultReceiver(recv device.Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = recv
}

// OnRxActivity registers a hook invoked on every successful read with
// the byte count, used by the surrounding system for idle detection
// (spec.md §4.6).
func (r *Router) OnRxActivity(f func(n int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRxActivity = f
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run is the single RX task (spec.md §5: "One RX task owns the
// router loop; it blocks/yields only when transport.available() <= 0
// and then briefly sleeps. No dynamic allocation on the RX path"
// beyond the fixed read buffer allocated once here).
func (r *Router) Run(stop <-chan struct{}) {
	buf := make([]byte, r.readChunk)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if r.transport.Available() <= 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		n, err := r.transport.Read(buf, len(buf))
		if err != nil || n <= 0 {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		r.mu.Lock()
		r.stats.BytesRead += uint64(n)
		hook := r.onRxActivity
		r.mu.Unlock()
		if hook != nil {
			hook(n)
		}

		r.feed(buf[:n])
	}
}

// feed advances the parse state machine over data. It is the
// allocation-free hot path; the only allocation per frame is the
// buffer the receiver itself hands back from Acquire.
func (r *Router) feed(data []byte) {
	for len(data) > 0 {
		switch r.st {
		case stageHeader:
			data = r.feedHeader(data)
		case stagePayload:
			data = r.feedPayload(data)
		case stageSkip:
			data = r.feedSkip(data)
		}
	}
}

func (r *Router) feedHeader(data []byte) []byte {
	need := frame.HeaderSize - len(r.headerAcc)
	n := need
	if n > len(data) {
		n = len(data)
	}
	r.headerAcc = append(r.headerAcc, data[:n]...)
	data = data[n:]

	if len(r.headerAcc) < frame.HeaderSize {
		return data
	}

	hdr, err := frame.DecodeHeader(r.headerAcc)
	if err != nil {
		// Unreachable in practice: headerAcc always holds exactly
		// HeaderSize bytes here. Defensive resync regardless.
		r.resyncOneByte()
		return data
	}

	recv := r.lookupReceiver(hdr.Magic)
	if recv == nil {
		r.countNoReceiver()
		r.resyncOneByte()
		return data
	}

	if hdr.Len == 0 || int(hdr.Len) > recv.MaxLen() {
		r.countBadLen()
		r.resyncOneByte()
		return data
	}

	payloadBuf := recv.Acquire(int(hdr.Len))
	if payloadBuf == nil {
		r.countNoBuffer()
		r.headerAcc = r.headerAcc[:0]
		r.skipRemaining = int(hdr.Len)
		r.st = stageSkip
		return data
	}

	r.hdr = hdr
	r.curReceiver = recv
	r.payloadBuf = payloadBuf
	r.payloadWrit = 0
	r.headerAcc = r.headerAcc[:0]
	r.st = stagePayload
	return data
}

func (r *Router) feedPayload(data []byte) []byte {
	need := int(r.hdr.Len) - r.payloadWrit
	n := need
	if n > len(data) {
		n = len(data)
	}
	copy(r.payloadBuf[r.payloadWrit:], data[:n])
	r.payloadWrit += n
	data = data[n:]

	if r.payloadWrit < int(r.hdr.Len) {
		return data
	}

	if r.curReceiver.RequireCRC() {
		crc := frame.CRC32(r.payloadBuf[:r.payloadWrit])
		if r.hdr.CRC32 == 0 || crc != r.hdr.CRC32 {
			r.countBadCRC()
			r.curReceiver.Drop(r.payloadBuf)
			r.resetFrame()
			return data
		}
	}

	r.curReceiver.Commit(r.payloadBuf, r.payloadWrit, r.hdr.Seq)
	r.mu.Lock()
	r.stats.FramesOK++
	r.mu.Unlock()
	r.resetFrame()
	return data
}

func (r *Router) feedSkip(data []byte) []byte {
	n := r.skipRemaining
	if n > len(data) {
		n = len(data)
	}
	r.skipRemaining -= n
	data = data[n:]
	if r.skipRemaining == 0 {
		r.st = stageHeader
	}
	return data
}

// resyncOneByte drops the oldest byte of the header window and keeps
// accumulating, per spec.md §4.6's "advancing one byte and retrying".
func (r *Router) resyncOneByte() {
	r.mu.Lock()
	r.stats.ResyncCount++
	r.mu.Unlock()

	if len(r.headerAcc) > 0 {
		r.headerAcc = append(r.headerAcc[:0], r.headerAcc[1:]...)
	}
	r.st = stageHeader
}

func (r *Router) resetFrame() {
	r.hdr = frame.Header{}
	r.curReceiver = nil
	r.payloadBuf = nil
	r.payloadWrit = 0
	r.st = stageHeader
}

func (r *Router) lookupReceiver(magic uint32) device.Receiver {
	r.mu.Lock()
	defer r.mu.Unlock()
	if recv, ok := r.receivers[magic]; ok {
		return recv
	}
	return r.def
}

func (r *Router) countNoReceiver() {
	r.mu.Lock()
	r.stats.NoReceiver++
	r.mu.Unlock()
	r.log.Debugf("router: no receiver registered")
}

func (r *Router) countBadLen() {
	r.mu.Lock()
	r.stats.BadLen++
	r.mu.Unlock()
	r.log.Debugf("router: bad frame length")
}

func (r *Router) countBadCRC() {
	r.mu.Lock()
	r.stats.BadCRC++
	r.mu.Unlock()
	r.log.Debugf("router: crc mismatch")
}

func (r *Router) countNoBuffer() {
	r.mu.Lock()
	r.stats.NoBuffer++
	r.mu.Unlock()
	r.log.Debugf("router: no receiver buffer available")
}
