package mapfetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bramburn/hudlink/host/gps"
)

type fakeTrack struct {
	mu       sync.Mutex
	points   []gps.Point
	accepted int
	distance float64
	resets   int
}

func (f *fakeTrack) Snapshot() ([]gps.Point, int, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gps.Point(nil), f.points...), f.accepted, f.distance
}

func (f *fakeTrack) ResetMapCounters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = 0
	f.distance = 0
	f.resets++
}

type alwaysFailProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *alwaysFailProvider) FetchTrackImage(ctx context.Context, points []gps.Point) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil, errors.New("provider unavailable")
}

// TestBackoff_S4 is scenario S4 from spec.md §8: on repeated provider
// failure, successive retries follow t=1000,3000,7000,15000,30000(capped)...
func TestBackoff_S4(t *testing.T) {
	track := &fakeTrack{
		points:   []gps.Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
		accepted: 5, // forces the first trigger
	}
	provider := &alwaysFailProvider{}

	cfg := Config{
		TriggerPointCount:     5,
		TriggerIntervalMs:     2000,
		TriggerDistanceM:      30,
		RetryBackoffInitialMs: 1000,
		RetryBackoffMaxMs:     15000,
		MaxPngBytes:           200 * 1024,
	}

	var sentPng [][]byte
	c := New(cfg, provider, track, func(png []byte) { sentPng = append(sentPng, png) }, nil, nil)

	virtualNow := int64(0)
	var clockMu sync.Mutex
	c.SetClock(func() int64 {
		clockMu.Lock()
		defer clockMu.Unlock()
		return virtualNow
	})

	advance := func(ms int64) {
		clockMu.Lock()
		virtualNow += ms
		clockMu.Unlock()
	}

	c.NotifyGpsAccepted()
	require.Eventually(t, func() bool {
		return c.State() == StateBackoff
	}, time.Second, time.Millisecond)

	require.Equal(t, int64(2000), c.CurrentBackoffMs(), "initial backoff doubles to 2000 after first failure")

	// Successive failures should double the backoff, capped at 15s.
	wantBackoffs := []int64{4000, 8000, 15000, 15000}
	for _, want := range wantBackoffs {
		track.mu.Lock()
		track.accepted = cfg.TriggerPointCount
		track.mu.Unlock()

		advance(20000) // jump far enough to clear any pending retry timer window
		c.NotifyGpsAccepted()

		require.Eventually(t, func() bool {
			return c.State() == StateBackoff
		}, time.Second, time.Millisecond)
		require.Equal(t, want, c.CurrentBackoffMs())
	}

	require.GreaterOrEqual(t, provider.calls, 1)
	require.Empty(t, sentPng, "no PNG should ever be sent when the provider always fails")
}

type successProvider struct {
	png []byte
}

func (p *successProvider) FetchTrackImage(ctx context.Context, points []gps.Point) ([]byte, error) {
	return p.png, nil
}

func TestSuccessResetsBackoffAndCounters(t *testing.T) {
	track := &fakeTrack{
		points:   []gps.Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
		accepted: 5,
	}
	provider := &successProvider{png: []byte{1, 2, 3}}

	var gotPng []byte
	c := New(Config{
		TriggerPointCount:     5,
		RetryBackoffInitialMs: 1000,
		RetryBackoffMaxMs:     15000,
		MaxPngBytes:           1024,
	}, provider, track, func(png []byte) { gotPng = png }, nil, nil)

	c.NotifyGpsAccepted()

	require.Eventually(t, func() bool { return gotPng != nil }, time.Second, time.Millisecond)
	require.Equal(t, []byte{1, 2, 3}, gotPng)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, int64(1000), c.CurrentBackoffMs())

	track.mu.Lock()
	resets := track.resets
	track.mu.Unlock()
	require.Equal(t, 1, resets)
}

func TestNoFetchWithFewerThanTwoPoints(t *testing.T) {
	track := &fakeTrack{points: []gps.Point{{Lat: 1, Lon: 1}}, accepted: 10}
	provider := &alwaysFailProvider{}
	c := New(Config{TriggerPointCount: 1, RetryBackoffInitialMs: 1000, RetryBackoffMaxMs: 2000}, provider, track, func([]byte) {}, nil, nil)

	c.NotifyGpsAccepted()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, StateIdle, c.State())
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Equal(t, 0, provider.calls)
}
