// Package provider implements the default MapImageProvider (spec.md
// §6): an HTTP POST of the current track's points, expecting a PNG
// response body. Grounded on internal/ntrip/client.go's http.Client
// usage (context-scoped requests, SetBasicAuth, custom User-Agent
// header, status-code check), adapted from a streaming RTCM
// GET-and-read-forever connection to a single request/response
// round trip returning an image.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bramburn/hudlink/host/gps"
)

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// DefaultMaxPngBytes bounds the response body read when
// Config.MaxPngBytes is zero.
const DefaultMaxPngBytes = 200 * 1024

// Config configures the HTTP MapImageProvider.
type Config struct {
	URL         string
	Username    string
	Password    string
	Timeout     time.Duration
	MaxPngBytes int
}

// HTTPProvider is the default MapImageProvider implementation.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

// New builds an HTTPProvider.
func New(cfg Config) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.MaxPngBytes <= 0 {
		cfg.MaxPngBytes = DefaultMaxPngBytes
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type requestBody struct {
	Points [][2]float64 `json:"points"`
}

// FetchTrackImage implements mapfetch.Provider: it posts the track's
// points as `{"points":[[lon,lat],...]}` and returns the PNG response
// body, bounded by cfg.MaxPngBytes.
func (p *HTTPProvider) FetchTrackImage(ctx context.Context, points []gps.Point) ([]byte, error) {
	body := requestBody{Points: make([][2]float64, len(points))}
	for i, pt := range points {
		body.Points[i] = [2]float64{pt.Lon, pt.Lat}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hudlink/mapfetch")
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: received non-200 response: %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, int64(p.cfg.MaxPngBytes)+1)
	png, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("provider: read response body: %w", err)
	}
	if len(png) > p.cfg.MaxPngBytes {
		return nil, fmt.Errorf("provider: response exceeds %d bytes", p.cfg.MaxPngBytes)
	}
	return png, nil
}
