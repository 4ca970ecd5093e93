// Package vp9 parses VP9 elementary streams: superframe indexes, the
// uncompressed frame header and the flat eight-entry reference table,
// driving the backend one frame at a time.
package vp9

import (
	"github.com/zsiec/refract/internal/video"
)

const superframeMarker = 0xc0

// SplitSuperframe returns the individual frames inside a packet. A packet
// without a superframe trailer is one frame. The trailer's leading and
// trailing marker bytes must match; sizes are little-endian.
func SplitSuperframe(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, video.SyntaxErrorf("vp9: empty packet")
	}
	last := data[len(data)-1]
	if last&0xe0 != superframeMarker {
		return [][]byte{data}, nil
	}
	frames := int(last&0x07) + 1
	magnitude := int(last>>3&0x03) + 1
	indexSize := 2 + magnitude*frames
	if len(data) < indexSize {
		return nil, video.SyntaxErrorf("vp9: superframe index of %d bytes overruns %d byte packet",
			indexSize, len(data))
	}
	index := data[len(data)-indexSize:]
	if index[0] != last {
		// The marker byte repeats at both ends of the index. When it does
		// not, the final byte merely resembled a marker: no index present.
		return [][]byte{data}, nil
	}

	payload := data[:len(data)-indexSize]
	out := make([][]byte, 0, frames)
	pos := 0
	for i := 0; i < frames; i++ {
		size := 0
		for j := 0; j < magnitude; j++ {
			size |= int(index[1+i*magnitude+j]) << (8 * j)
		}
		if size == 0 || pos+size > len(payload) {
			return nil, video.SyntaxErrorf("vp9: superframe entry %d of %d bytes overruns payload", i, size)
		}
		out = append(out, payload[pos:pos+size])
		pos += size
	}
	return out, nil
}
