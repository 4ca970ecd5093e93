// Package av1 parses AV1 elementary streams: OBU segmentation, the sequence
// header, frame headers with the flat eight-entry reference table, and tile
// group accounting, driving the backend one frame at a time.
package av1

import (
	"github.com/zsiec/refract/internal/video"
)

// OBUType is the 4-bit obu_type field.
type OBUType uint8

const (
	OBUSequenceHeader       OBUType = 1
	OBUTemporalDelimiter    OBUType = 2
	OBUFrameHeader          OBUType = 3
	OBUTileGroup            OBUType = 4
	OBUMetadata             OBUType = 5
	OBUFrame                OBUType = 6
	OBURedundantFrameHeader OBUType = 7
	OBUTileList             OBUType = 8
	OBUPadding              OBUType = 15
)

func (t OBUType) String() string {
	switch t {
	case OBUSequenceHeader:
		return "sequence-header"
	case OBUTemporalDelimiter:
		return "temporal-delimiter"
	case OBUFrameHeader:
		return "frame-header"
	case OBUTileGroup:
		return "tile-group"
	case OBUMetadata:
		return "metadata"
	case OBUFrame:
		return "frame"
	case OBURedundantFrameHeader:
		return "redundant-frame-header"
	case OBUTileList:
		return "tile-list"
	case OBUPadding:
		return "padding"
	}
	return "reserved"
}

func validOBUType(t OBUType) bool {
	return t >= OBUSequenceHeader && t <= OBUPadding
}

// OBUHeader is one unit's parsed header plus its size accounting. HeaderSize
// counts every byte before the payload, including LEB128 length fields.
type OBUHeader struct {
	Type         OBUType
	HasExtension bool
	HasSizeField bool
	TemporalID   uint8
	SpatialID    uint8

	HeaderSize  int
	PayloadSize int
}

// readLEB decodes a LEB128 value from the head of data, returning the value
// and the number of bytes consumed.
func readLEB(data []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < 8 && i < len(data); i++ {
		v |= uint64(data[i]&0x7f) << (i * 7)
		if data[i]>>7 == 0 {
			if v > 1<<32-1 {
				return 0, 0, video.SyntaxErrorf("av1: leb128 value %d exceeds 32 bits", v)
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, video.SyntaxErrorf("av1: unterminated leb128")
}

// ParseOBUHeader reads one OBU header at the head of data. When annexB is
// set each OBU is additionally prefixed with a LEB128 total length; in
// low-overhead mode the header's own size field is mandatory instead.
func ParseOBUHeader(data []byte, annexB bool) (*OBUHeader, error) {
	if len(data) == 0 {
		return nil, video.SyntaxErrorf("av1: empty obu")
	}

	var annexBLength uint64
	lengthSize := 0
	if annexB {
		var err error
		annexBLength, lengthSize, err = readLEB(data)
		if err != nil {
			return nil, err
		}
		data = data[lengthSize:]
		if len(data) == 0 {
			return nil, video.SyntaxErrorf("av1: annex-b length with no obu")
		}
	}

	b := data[0]
	if b>>7 != 0 {
		return nil, video.SyntaxErrorf("av1: obu forbidden bit set")
	}
	hdr := &OBUHeader{
		Type:         OBUType(b >> 3 & 0xf),
		HasExtension: b>>2&1 != 0,
		HasSizeField: b>>1&1 != 0,
		HeaderSize:   1,
	}
	if !validOBUType(hdr.Type) {
		return nil, video.SyntaxErrorf("av1: reserved obu type %d", hdr.Type)
	}
	if b&1 != 0 {
		return nil, video.SyntaxErrorf("av1: obu reserved bit set")
	}
	if hdr.HasExtension {
		if len(data) < 2 {
			return nil, video.SyntaxErrorf("av1: truncated obu extension header")
		}
		ext := data[1]
		hdr.TemporalID = ext >> 5 & 0x7
		hdr.SpatialID = ext >> 3 & 0x3
		if ext&0x7 != 0 {
			return nil, video.SyntaxErrorf("av1: obu extension reserved bits set")
		}
		hdr.HeaderSize++
	}

	switch {
	case annexB:
		if annexBLength < uint64(hdr.HeaderSize) {
			return nil, video.SyntaxErrorf("av1: annex-b obu length %d shorter than header", annexBLength)
		}
		hdr.PayloadSize = int(annexBLength) - hdr.HeaderSize
		hdr.HeaderSize += lengthSize
		if hdr.HasSizeField {
			size, n, err := readLEB(data[hdr.HeaderSize-lengthSize:])
			if err != nil {
				return nil, err
			}
			hdr.HeaderSize += n
			hdr.PayloadSize = int(size)
		}
	case hdr.HasSizeField:
		size, n, err := readLEB(data[hdr.HeaderSize:])
		if err != nil {
			return nil, err
		}
		hdr.HeaderSize += n
		hdr.PayloadSize = int(size)
	default:
		// Low-overhead streams must carry the size field.
		return nil, video.SyntaxErrorf("av1: obu without size field")
	}
	if hdr.PayloadSize > len(data)+lengthSize-hdr.HeaderSize {
		return nil, video.SyntaxErrorf("av1: obu payload of %d bytes overruns %d byte buffer",
			hdr.PayloadSize, len(data)+lengthSize)
	}
	return hdr, nil
}
