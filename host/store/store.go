// Package store implements the host-side State Store (spec.md §4.1):
// a mutex-guarded canonical VehicleSnapshot with field-level change
// detection and a dirty bit. Grounded on
// internal/position/averager.go's PositionAverager, which guards a
// small aggregate struct with a single sync.Mutex and returns copies
// from its getters rather than pointers into shared state.
package store

import (
	"sync"

	"github.com/bramburn/hudlink/frame"
)

// Field identifies one of VehicleSnapshot's eleven scalar fields for
// setField (spec.md §4.1).
type Field int

const (
	FieldSpeedKmh Field = iota
	FieldRpmEngine
	FieldOdoM
	FieldTripOdoM
	FieldOutsideTempDeciC
	FieldInsideTempDeciC
	FieldBatteryMilliV
	FieldCurrentTimeMinutes
	FieldTripTimeMinutes
	FieldFuelLeftDeciL
	FieldFuelTotalDeciL
)

// defaultBatteryMilliV avoids reporting an implausible zero battery
// voltage at boot (spec.md §4.1).
const defaultBatteryMilliV = 12000

// Store is the thread-safe host-side vehicle state store.
type Store struct {
	mu    sync.Mutex
	snap  frame.VehicleSnapshot
	dirty bool
}

// New returns a Store with every field zeroed except battery voltage,
// which defaults to defaultBatteryMilliV.
func New() *Store {
	return &Store{
		snap: frame.VehicleSnapshot{BatteryMilliV: defaultBatteryMilliV},
	}
}

// SetField stores v into field f, marking the store dirty only if the
// value actually changed (spec.md §4.1: "prevents spurious dirty when
// the same value is written repeatedly").
func (s *Store) SetField(f Field, v int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptr := s.fieldPtr(f)
	if *ptr == v {
		return
	}
	*ptr = v
	s.dirty = true
}

// UpdateSnapshot overwrites every field at once and unconditionally
// marks the store dirty (spec.md §4.1).
func (s *Store) UpdateSnapshot(snap frame.VehicleSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.dirty = true
}

// Snapshot atomically copies the current values and clears the dirty
// bit, reporting whether it had been set (spec.md §4.1).
func (s *Store) Snapshot() (snap frame.VehicleSnapshot, dirtyWasSet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap = s.snap
	dirtyWasSet = s.dirty
	s.dirty = false
	return snap, dirtyWasSet
}

// fieldPtr must be called with s.mu held.
func (s *Store) fieldPtr(f Field) *int32 {
	switch f {
	case FieldSpeedKmh:
		return &s.snap.SpeedKmh
	case FieldRpmEngine:
		return &s.snap.RpmEngine
	case FieldOdoM:
		return &s.snap.OdoM
	case FieldTripOdoM:
		return &s.snap.TripOdoM
	case FieldOutsideTempDeciC:
		return &s.snap.OutsideTempDeciC
	case FieldInsideTempDeciC:
		return &s.snap.InsideTempDeciC
	case FieldBatteryMilliV:
		return &s.snap.BatteryMilliV
	case FieldCurrentTimeMinutes:
		return &s.snap.CurrentTimeMinutes
	case FieldTripTimeMinutes:
		return &s.snap.TripTimeMinutes
	case FieldFuelLeftDeciL:
		return &s.snap.FuelLeftDeciL
	case FieldFuelTotalDeciL:
		return &s.snap.FuelTotalDeciL
	default:
		panic("store: unknown field")
	}
}
