// Package errs collects the sentinel error kinds shared by the host
// and device halves of hudlink (see spec §7).
package errs

import "errors"

// Host-side kinds.
var (
	ErrTransportWrite = errors.New("hudlink: transport write failed")
	ErrTransportClose = errors.New("hudlink: transport close failed")
	ErrProviderFailure = errors.New("hudlink: map image provider failed")
	ErrScheduleReject  = errors.New("hudlink: map fetch could not be scheduled")
	ErrInvalidConfig   = errors.New("hudlink: invalid configuration")
)

// Device-side kinds (§4.6).
var (
	ErrBadLen     = errors.New("hudlink: frame length rejected")
	ErrBadCRC     = errors.New("hudlink: frame crc mismatch")
	ErrNoBuffer   = errors.New("hudlink: no receiver buffer available")
	ErrNoReceiver = errors.New("hudlink: no receiver registered for magic")
)

// FrameDropReason enumerates the drop reasons in §7's FrameDropped kind.
type FrameDropReason string

const (
	ReasonReplaceOldSnapshot FrameDropReason = "replace old snapshot"
	ReasonDropOldImage       FrameDropReason = "drop old image"
	ReasonDropNewImage       FrameDropReason = "drop new image"
	ReasonEmptyImage         FrameDropReason = "empty image"
	ReasonImageTooLarge      FrameDropReason = "image too large"
)

// GpsFilterReason enumerates why a GpsPoint was rejected during ingestion.
type GpsFilterReason string

const (
	ReasonNaN            GpsFilterReason = "nan lat/lon"
	ReasonOutOfRange     GpsFilterReason = "out of range"
	ReasonNonMonotonic   GpsFilterReason = "timestamp<=lastIngest"
	ReasonTooFrequent    GpsFilterReason = "interval<gpsMinIntervalMs"
	ReasonLowAccuracy    GpsFilterReason = "accuracy>threshold"
	ReasonTooClose       GpsFilterReason = "distance<gpsMinDistanceM"
)
