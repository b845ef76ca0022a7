// Package nmea adapts NMEA 0183 sentences (GGA fixes, RMC fixes) into
// gps.Point values for the host-side GPS Filter. Grounded on
// internal/parser/nmea.go, which hand-splits a raw "$...*CS" sentence
// into a type tag and comma-separated fields and hand-decodes fix
// quality/time/date strings; this package replaces that manual
// splitting with github.com/adrianmo/go-nmea, which already parses
// GGA/RMC into typed decimal-degree lat/lon, speed, and course fields.
package nmea

import (
	"time"

	"github.com/adrianmo/go-nmea"

	"github.com/bramburn/hudlink/host/gps"
)

// knotsToMps converts RMC's speed-over-ground (knots) to m/s.
const knotsToMps = 0.514444

// hdopToAccuracyM is a rough HDOP-to-meters heuristic used when a GGA
// sentence carries no explicit accuracy figure: accuracy_m ≈ hdop *
// hdopToAccuracyM (a commonly used rule of thumb for consumer GPS).
const hdopToAccuracyM = 5.0

// Adapter turns raw NMEA sentence lines into gps.Point values,
// stamping each with the adapter's own ingestion clock since NMEA
// fix-time fields carry only time-of-day, not an epoch.
type Adapter struct {
	now func() int64
}

// New builds an Adapter using the real wall clock.
func New() *Adapter {
	return &Adapter{now: func() int64 { return time.Now().UnixMilli() }}
}

// SetClock overrides the adapter's time source (tests only).
func (a *Adapter) SetClock(now func() int64) {
	a.now = now
}

// Parse decodes a single NMEA sentence. ok is false for sentence
// types that carry no position fix (anything other than GGA/RMC) or
// for one the underlying parser rejects outright.
func (a *Adapter) Parse(raw string) (p gps.Point, ok bool, err error) {
	s, err := nmea.Parse(raw)
	if err != nil {
		return gps.Point{}, false, err
	}

	switch fix := s.(type) {
	case nmea.GGA:
		accuracy := float32(fix.HDOP * hdopToAccuracyM)
		return gps.Point{
			Lat:         fix.Latitude,
			Lon:         fix.Longitude,
			TimestampMs: a.now(),
			AccuracyM:   &accuracy,
		}, true, nil

	case nmea.RMC:
		if fix.Validity != "A" {
			return gps.Point{}, false, nil
		}
		speed := float32(fix.Speed * knotsToMps)
		bearing := float32(fix.Course)
		return gps.Point{
			Lat:         fix.Latitude,
			Lon:         fix.Longitude,
			TimestampMs: a.now(),
			SpeedMps:    &speed,
			BearingDeg:  &bearing,
		}, true, nil

	default:
		return gps.Point{}, false, nil
	}
}
