// Package nal splits H.264/H.265 byte streams into NAL units. It handles
// Annex B start codes (3- and 4-byte) and length-prefixed framing with a
// configurable length size.
package nal

import (
	"encoding/binary"
	"fmt"
)

// Unit is one NAL unit: the raw bytes starting at the NAL header, plus the
// offset of those bytes inside the scanned buffer.
type Unit struct {
	Data   []byte
	Offset int
}

// SplitAnnexB scans data for start codes and returns the NAL units between
// them. minBytes is the smallest header a unit must carry to be kept (1 for
// H.264, 2 for H.265). Bytes before the first start code are ignored.
func SplitAnnexB(data []byte, minBytes int) []Unit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}
	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []Unit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if end-pos.dataStart < minBytes {
			continue
		}
		units = append(units, Unit{Data: data[pos.dataStart:end], Offset: pos.dataStart})
	}
	return units
}

// SplitLengthPrefixed walks big-endian length-prefixed framing (AVCC/HVCC
// style). lengthSize must be 1, 2 or 4. A prefix that overruns the buffer
// fails the whole packet.
func SplitLengthPrefixed(data []byte, lengthSize, minBytes int) ([]Unit, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("nal: unsupported length prefix size %d", lengthSize)
	}
	var units []Unit
	pos := 0
	for pos+lengthSize <= len(data) {
		var size int
		switch lengthSize {
		case 1:
			size = int(data[pos])
		case 2:
			size = int(binary.BigEndian.Uint16(data[pos:]))
		case 4:
			size = int(binary.BigEndian.Uint32(data[pos:]))
		}
		start := pos + lengthSize
		if size < 0 || start+size > len(data) {
			return nil, fmt.Errorf("nal: length prefix %d overruns packet of %d bytes at offset %d",
				size, len(data), pos)
		}
		if size >= minBytes {
			units = append(units, Unit{Data: data[start : start+size], Offset: start})
		}
		pos = start + size
	}
	if pos != len(data) {
		return nil, fmt.Errorf("nal: %d trailing bytes after last length-prefixed unit", len(data)-pos)
	}
	return units, nil
}
