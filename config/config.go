// Package config loads the tunables named throughout spec.md §4 from
// YAML, following the teacher's plain-struct-with-Default constructor
// shape (internal/device/device.go's MonitorConfig/DefaultMonitorConfig).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bramburn/hudlink/internal/errs"
)

// HostConfig holds every tunable named in spec.md §4.1-§4.5.
type HostConfig struct {
	MsgRateHz                 float64 `yaml:"msg_rate_hz"`
	MsgIdleRateHz              float64 `yaml:"msg_idle_rate_hz"`
	BurstOnVehicleDataChange  bool    `yaml:"burst_on_vehicle_data_change"`

	GpsMinIntervalMs        int64   `yaml:"gps_min_interval_ms"`
	GpsAccuracyThresholdM   float64 `yaml:"gps_accuracy_threshold_m"`
	GpsMinDistanceM         float64 `yaml:"gps_min_distance_m"`
	GpsTurnAngleDeg         float64 `yaml:"gps_turn_angle_deg"`
	TrackMaxPoints          int     `yaml:"track_max_points"`

	MapTriggerPointCount    int   `yaml:"map_trigger_point_count"`
	MapTriggerIntervalMs    int64 `yaml:"map_trigger_interval_ms"`
	MapTriggerDistanceM     float64 `yaml:"map_trigger_distance_m"`
	MapRetryBackoffInitialMs int64 `yaml:"map_retry_backoff_initial_ms"`
	MapRetryBackoffMaxMs    int64 `yaml:"map_retry_backoff_max_ms"`
	MaxPngBytes             int   `yaml:"max_png_bytes"`

	ImgQueueCapacity int `yaml:"img_queue_capacity"`
	EnableCRC        bool `yaml:"enable_crc"`

	WriterShutdownGrace time.Duration `yaml:"writer_shutdown_grace"`
}

// DefaultHostConfig returns the defaults named in spec.md §4.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		MsgRateHz:                24,
		MsgIdleRateHz:            2,
		BurstOnVehicleDataChange: true,

		GpsMinIntervalMs:      250,
		GpsAccuracyThresholdM: 30,
		GpsMinDistanceM:       5,
		GpsTurnAngleDeg:       20,
		TrackMaxPoints:        200,

		MapTriggerPointCount:     5,
		MapTriggerIntervalMs:     2000,
		MapTriggerDistanceM:      30,
		MapRetryBackoffInitialMs: 1000,
		MapRetryBackoffMaxMs:     15000,
		MaxPngBytes:              128 * 1024,

		ImgQueueCapacity: 2,
		EnableCRC:        false,

		WriterShutdownGrace: time.Second,
	}
}

// Validate reports an InvalidConfig error for any nonsensical value,
// per spec.md §7 (refused at construction, a programmer error).
func (c HostConfig) Validate() error {
	switch {
	case c.MsgRateHz <= 0:
		return fmt.Errorf("%w: msg_rate_hz must be positive", errs.ErrInvalidConfig)
	case c.MsgIdleRateHz <= 0:
		return fmt.Errorf("%w: msg_idle_rate_hz must be positive", errs.ErrInvalidConfig)
	case c.GpsMinIntervalMs < 0:
		return fmt.Errorf("%w: gps_min_interval_ms must be non-negative", errs.ErrInvalidConfig)
	case c.GpsAccuracyThresholdM <= 0:
		return fmt.Errorf("%w: gps_accuracy_threshold_m must be positive", errs.ErrInvalidConfig)
	case c.GpsMinDistanceM < 0:
		return fmt.Errorf("%w: gps_min_distance_m must be non-negative", errs.ErrInvalidConfig)
	case c.TrackMaxPoints < 2:
		return fmt.Errorf("%w: track_max_points must be at least 2", errs.ErrInvalidConfig)
	case c.MapTriggerPointCount <= 0:
		return fmt.Errorf("%w: map_trigger_point_count must be positive", errs.ErrInvalidConfig)
	case c.MapRetryBackoffInitialMs <= 0:
		return fmt.Errorf("%w: map_retry_backoff_initial_ms must be positive", errs.ErrInvalidConfig)
	case c.MapRetryBackoffMaxMs < c.MapRetryBackoffInitialMs:
		return fmt.Errorf("%w: map_retry_backoff_max_ms must be >= initial", errs.ErrInvalidConfig)
	case c.MaxPngBytes <= 0:
		return fmt.Errorf("%w: max_png_bytes must be positive", errs.ErrInvalidConfig)
	case c.ImgQueueCapacity <= 0:
		return fmt.Errorf("%w: img_queue_capacity must be positive", errs.ErrInvalidConfig)
	}
	return nil
}

// DeviceConfig holds every tunable named in spec.md §4.6-§4.8.
type DeviceConfig struct {
	ReadChunk    int  `yaml:"read_chunk"`
	RequireCRC   bool `yaml:"require_crc"`
	MaxPngBytes  int  `yaml:"max_png_bytes"`
	MaxMsgBytes  int  `yaml:"max_msg_bytes"`
	QueueDepth   int  `yaml:"queue_depth"`
}

// DefaultDeviceConfig returns the defaults named in spec.md §3/§6.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		ReadChunk:   256,
		RequireCRC:  false,
		MaxPngBytes: 128 * 1024,
		MaxMsgBytes: 64,
		QueueDepth:  4,
	}
}

// Validate reports an InvalidConfig error for any nonsensical value.
func (c DeviceConfig) Validate() error {
	switch {
	case c.ReadChunk <= 0:
		return fmt.Errorf("%w: read_chunk must be positive", errs.ErrInvalidConfig)
	case c.MaxPngBytes <= 0:
		return fmt.Errorf("%w: max_png_bytes must be positive", errs.ErrInvalidConfig)
	case c.MaxMsgBytes <= 0:
		return fmt.Errorf("%w: max_msg_bytes must be positive", errs.ErrInvalidConfig)
	case c.QueueDepth <= 0:
		return fmt.Errorf("%w: queue_depth must be positive", errs.ErrInvalidConfig)
	}
	return nil
}

// LoadHostConfig reads a YAML file into a HostConfig, starting from
// DefaultHostConfig so an omitted field keeps its documented default.
func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading host config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing host config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDeviceConfig reads a YAML file into a DeviceConfig.
func LoadDeviceConfig(path string) (DeviceConfig, error) {
	cfg := DefaultDeviceConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading device config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing device config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
