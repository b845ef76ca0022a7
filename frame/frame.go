// Package frame implements the on-wire frame format shared by the
// host and device halves of hudlink (spec.md §3, §4.9, §6): a fixed
// 20-byte little-endian header followed by a channel-specific
// payload. Grounded on the teacher's internal/parser/rtcm.go and
// internal/parser/ubx.go, which hand-roll the same
// header-then-length-prefixed-payload shape for RTCM3/UBX; this
// package generalizes that idiom to an explicit, documented header
// instead of inlining bit-twiddling at each call site.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the fixed size of the wire header in bytes (§6).
const HeaderSize = 20

// Channel magics (§3). Each is the ASCII tag read little-endian.
const (
	MagicMSGF uint32 = 0x4647534D // "MSGF"
	MagicIMGF uint32 = 0x46474D49 // "IMGF"
)

// MSGF command bytes (§6).
const (
	CmdSnapshot byte = 0x00
	CmdReboot   byte = 0x01
)

// SnapshotPayloadLen is the fixed size of the snapshot payload body
// that follows the CmdSnapshot command byte.
const SnapshotPayloadLen = 26

// Header is the decoded form of the 20-byte wire header (§6).
type Header struct {
	Magic uint32
	Type  uint8
	Flags uint8
	Rsv   uint16
	Len   uint32
	CRC32 uint32
	Seq   uint32
}

// Encode produces a complete frame: header followed by payload,
// verbatim, per §4.9. Type/Flags/Rsv are always zero; crc32 is the
// IEEE-802.3 checksum of payload when enableCRC is true, else zero.
func Encode(magic uint32, payload []byte, seq uint32, enableCRC bool) []byte {
	out := make([]byte, HeaderSize+len(payload))

	binary.LittleEndian.PutUint32(out[0:4], magic)
	out[4] = 0 // type
	out[5] = 0 // flags
	binary.LittleEndian.PutUint16(out[6:8], 0)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(payload)))

	var crc uint32
	if enableCRC {
		crc = crc32.ChecksumIEEE(payload)
	}
	binary.LittleEndian.PutUint32(out[12:16], crc)
	binary.LittleEndian.PutUint32(out[16:20], seq)

	copy(out[HeaderSize:], payload)
	return out
}

// DecodeHeader parses the fixed header from the first HeaderSize
// bytes of b. It does not validate len or crc32 against a receiver —
// that is the Stream Router's job (spec.md §4.6).
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("frame: short header, need %d bytes, got %d", HeaderSize, len(b))
	}
	return Header{
		Magic: binary.LittleEndian.Uint32(b[0:4]),
		Type:  b[4],
		Flags: b[5],
		Rsv:   binary.LittleEndian.Uint16(b[6:8]),
		Len:   binary.LittleEndian.Uint32(b[8:12]),
		CRC32: binary.LittleEndian.Uint32(b[12:16]),
		Seq:   binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// Decode splits a complete frame (as produced by Encode) into its
// header and payload. It is a convenience for tests and loopback
// paths; the device Stream Router parses incrementally instead (it
// never has a whole frame buffered at once).
func Decode(b []byte) (Header, []byte, error) {
	hdr, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(hdr.Len)
	if end > len(b) {
		return Header{}, nil, fmt.Errorf("frame: payload truncated, want %d bytes, have %d", hdr.Len, len(b)-HeaderSize)
	}
	payload := make([]byte, hdr.Len)
	copy(payload, b[HeaderSize:end])
	return hdr, payload, nil
}

// CRC32 computes the IEEE-802.3 checksum used for frame.crc32 (§3/§6).
func CRC32(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
