package frame

import "encoding/binary"

// VehicleSnapshot is the fixed-shape record of §3: 11 integer fields
// expressed in their natural logical units. Encoding clamps each into
// its declared wire range (§4.9) rather than erroring, since the
// snapshot is produced by an always-on periodic tick (§4.2) that must
// never fail on an out-of-range sensor reading.
type VehicleSnapshot struct {
	SpeedKmh           int32
	RpmEngine          int32
	OdoM               int32
	TripOdoM           int32
	OutsideTempDeciC   int32
	InsideTempDeciC    int32
	BatteryMilliV      int32
	CurrentTimeMinutes int32
	TripTimeMinutes    int32
	FuelLeftDeciL      int32
	FuelTotalDeciL     int32
}

func clampInt16(v int32) int16 {
	switch {
	case v < -32768:
		return -32768
	case v > 32767:
		return 32767
	default:
		return int16(v)
	}
}

func clampUint16(v int32) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 65535:
		return 65535
	default:
		return uint16(v)
	}
}

func clampCurrentTimeMinutes(v int32) uint16 {
	switch {
	case v < 0:
		return 0
	case v > 1439:
		return 1439
	default:
		return uint16(v)
	}
}

// EncodeSnapshotPayload builds the MSGF "snapshot" payload: command
// byte 0x00 followed by the 26-byte body laid out in §6.
func EncodeSnapshotPayload(s VehicleSnapshot) []byte {
	out := make([]byte, 1+SnapshotPayloadLen)
	out[0] = CmdSnapshot
	b := out[1:]

	binary.LittleEndian.PutUint16(b[0:2], uint16(clampInt16(s.SpeedKmh)))
	binary.LittleEndian.PutUint16(b[2:4], uint16(clampInt16(s.RpmEngine)))
	binary.LittleEndian.PutUint32(b[4:8], uint32(s.OdoM))
	binary.LittleEndian.PutUint32(b[8:12], uint32(s.TripOdoM))
	binary.LittleEndian.PutUint16(b[12:14], uint16(clampInt16(s.OutsideTempDeciC)))
	binary.LittleEndian.PutUint16(b[14:16], uint16(clampInt16(s.InsideTempDeciC)))
	binary.LittleEndian.PutUint16(b[16:18], uint16(clampInt16(s.BatteryMilliV)))
	binary.LittleEndian.PutUint16(b[18:20], clampCurrentTimeMinutes(s.CurrentTimeMinutes))
	binary.LittleEndian.PutUint16(b[20:22], clampUint16(s.TripTimeMinutes))
	binary.LittleEndian.PutUint16(b[22:24], clampUint16(s.FuelLeftDeciL))
	binary.LittleEndian.PutUint16(b[24:26], clampUint16(s.FuelTotalDeciL))

	return out
}

// EncodeRebootPayload builds the MSGF "reboot" command payload: a
// single command byte and nothing else (§6).
func EncodeRebootPayload() []byte {
	return []byte{CmdReboot}
}

// DecodeSnapshotPayload parses a snapshot payload body (without the
// leading command byte) back into a VehicleSnapshot. Used by device
// side simulators/tests and by round-trip tests of the encoder.
func DecodeSnapshotPayload(body []byte) (VehicleSnapshot, bool) {
	if len(body) != SnapshotPayloadLen {
		return VehicleSnapshot{}, false
	}
	return VehicleSnapshot{
		SpeedKmh:           int32(int16(binary.LittleEndian.Uint16(body[0:2]))),
		RpmEngine:          int32(int16(binary.LittleEndian.Uint16(body[2:4]))),
		OdoM:               int32(binary.LittleEndian.Uint32(body[4:8])),
		TripOdoM:           int32(binary.LittleEndian.Uint32(body[8:12])),
		OutsideTempDeciC:   int32(int16(binary.LittleEndian.Uint16(body[12:14]))),
		InsideTempDeciC:    int32(int16(binary.LittleEndian.Uint16(body[14:16]))),
		BatteryMilliV:      int32(int16(binary.LittleEndian.Uint16(body[16:18]))),
		CurrentTimeMinutes: int32(binary.LittleEndian.Uint16(body[18:20])),
		TripTimeMinutes:    int32(binary.LittleEndian.Uint16(body[20:22])),
		FuelLeftDeciL:      int32(binary.LittleEndian.Uint16(body[22:24])),
		FuelTotalDeciL:     int32(binary.LittleEndian.Uint16(body[24:26])),
	}, true
}
