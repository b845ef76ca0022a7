package host

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bramburn/hudlink/config"
	"github.com/bramburn/hudlink/frame"
	"github.com/bramburn/hudlink/host/gps"
	"github.com/bramburn/hudlink/host/store"
)

// fakeTransport records every write in memory; satisfies
// writer.Transport.
type fakeTransport struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	n    int
}

func (t *fakeTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	_, err := t.buf.Write(p)
	return err
}
func (t *fakeTransport) Flush() error { return nil }
func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// fakeProvider always returns a fixed PNG body; satisfies
// mapfetch.Provider.
type fakeProvider struct {
	calls int
	mu    sync.Mutex
}

func (p *fakeProvider) FetchTrackImage(ctx context.Context, points []gps.Point) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return []byte{0x89, 0x50, 0x4E, 0x47}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() config.HostConfig {
	cfg := config.DefaultHostConfig()
	cfg.MsgRateHz = 50
	cfg.MsgIdleRateHz = 50
	cfg.GpsMinIntervalMs = 0
	cfg.GpsMinDistanceM = 0
	cfg.MapTriggerPointCount = 2
	return cfg
}

func TestEngineSetFieldReachesTransport(t *testing.T) {
	tr := &fakeTransport{}
	e := New(testConfig(), tr, nil, nil, nil)
	e.Start()
	defer e.Stop(time.Second)

	e.SetField(store.FieldSpeedKmh, 42)

	require.Eventually(t, func() bool { return tr.writeCount() > 0 }, time.Second, 5*time.Millisecond)
}

func TestEngineIngestGpsTriggersMapFetch(t *testing.T) {
	tr := &fakeTransport{}
	fp := &fakeProvider{}
	e := New(testConfig(), tr, fp, nil, nil)
	e.Start()
	defer e.Stop(time.Second)

	base := time.Now().UnixMilli()
	require.True(t, e.IngestGps(gps.Point{Lat: 1, Lon: 1, TimestampMs: base}))
	require.True(t, e.IngestGps(gps.Point{Lat: 1.01, Lon: 1.01, TimestampMs: base + 1}))

	require.Eventually(t, func() bool { return fp.callCount() > 0 }, time.Second, 5*time.Millisecond)
}

func TestEngineSendRebootEncodesCtrlFrame(t *testing.T) {
	tr := &fakeTransport{}
	e := New(testConfig(), tr, nil, nil, nil)
	e.Start()
	defer e.Stop(time.Second)

	e.SendReboot(7)

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.buf.Len() >= frame.HeaderSize+1
	}, time.Second, 5*time.Millisecond)
}
