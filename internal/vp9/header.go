package vp9

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/video"
)

const (
	frameSyncByte0 = 0x49
	frameSyncByte1 = 0x83
	frameSyncByte2 = 0x42

	colorSpaceRGB = 7

	minTileWidthB64 = 4
	maxTileWidthB64 = 64
)

// Default loop-filter reference deltas applied on key and intra-only frames.
var defaultRefDeltas = [video.VP9MaxRefLFDelta]int8{1, 0, -1, -1}

// Fixed per-feature value widths and signedness for segmentation data.
var (
	segFeatureBits   = [video.VP9SegLvlMax]int{8, 6, 2, 0}
	segFeatureSigned = [video.VP9SegLvlMax]bool{true, true, false, false}
)

// refDims reports the stored dimensions of a reference slot so inter frames
// can inherit their size.
type refDims interface {
	dims(idx uint8) (int32, int32, bool)
}

func readSignedLiteral(r *bits.Reader, n int) int8 {
	v := int8(r.U(n))
	if r.Flag() {
		return -v
	}
	return v
}

func readDeltaQ(r *bits.Reader) int8 {
	if r.Flag() {
		return readSignedLiteral(r, 4)
	}
	return 0
}

// ParseFrameHeader decodes the uncompressed header of one VP9 frame. prev
// carries the previous frame's loop-filter deltas and segmentation, which
// non-key frames inherit; refs resolves reference-slot dimensions for
// frame-size inheritance.
func ParseFrameHeader(data []byte, prev *video.VP9PictureData, refs refDims) (*video.VP9PictureData, error) {
	r := bits.NewReader(data)
	pd := &video.VP9PictureData{}
	if prev != nil {
		pd.LoopFilter.RefDeltas = prev.LoopFilter.RefDeltas
		pd.LoopFilter.ModeDeltas = prev.LoopFilter.ModeDeltas
		pd.Segmentation = prev.Segmentation
		pd.Segmentation.UpdateMap = false
		pd.Segmentation.UpdateData = false
		pd.Segmentation.TemporalUpdate = false
	}

	if marker := r.U(2); r.Err() == nil && marker != 2 {
		return nil, video.SyntaxErrorf("vp9: frame_marker %d, want 2", marker)
	}
	profile := r.U(1) | r.U(1)<<1
	pd.Profile = uint8(profile)
	if profile == 3 {
		if r.Flag() {
			return nil, video.SyntaxErrorf("vp9: reserved profile bit set")
		}
	}

	pd.ShowExistingFrame = r.Flag()
	if pd.ShowExistingFrame {
		pd.FrameToShowIdx = uint8(r.U(3))
		if err := r.Err(); err != nil {
			return nil, video.SyntaxErrorf("vp9: frame header: %v", err)
		}
		return pd, nil
	}

	pd.FrameType = video.VP9FrameType(r.U(1))
	pd.ShowFrame = r.Flag()
	pd.ErrorResilient = r.Flag()

	if pd.FrameType == video.VP9FrameKey {
		if err := checkSyncCode(r); err != nil {
			return nil, err
		}
		parseColorConfig(r, pd)
		parseFrameSize(r, pd)
		parseRenderSize(r, pd)
		pd.FrameIsIntra = true
		pd.RefreshFrameFlags = 0xff
		pd.LoopFilter.RefDeltas = defaultRefDeltas
		pd.LoopFilter.ModeDeltas = [video.VP9MaxModeLF]int8{}
	} else {
		if !pd.ShowFrame {
			pd.IntraOnly = r.Flag()
		}
		if !pd.ErrorResilient {
			pd.ResetFrameContext = uint8(r.U(2))
		}
		if pd.IntraOnly {
			if err := checkSyncCode(r); err != nil {
				return nil, err
			}
			if profile > 0 {
				parseColorConfig(r, pd)
			} else {
				pd.BitDepth = 8
				pd.ColorSpace = 1 // BT.601
				pd.SubsamplingX = 1
				pd.SubsamplingY = 1
			}
			pd.FrameIsIntra = true
			pd.RefreshFrameFlags = uint8(r.U(8))
			parseFrameSize(r, pd)
			parseRenderSize(r, pd)
			pd.LoopFilter.RefDeltas = defaultRefDeltas
			pd.LoopFilter.ModeDeltas = [video.VP9MaxModeLF]int8{}
		} else {
			if prev != nil {
				pd.BitDepth = prev.BitDepth
				pd.ColorSpace = prev.ColorSpace
				pd.ColorRange = prev.ColorRange
				pd.SubsamplingX = prev.SubsamplingX
				pd.SubsamplingY = prev.SubsamplingY
			}
			pd.RefreshFrameFlags = uint8(r.U(8))
			for i := 0; i < video.VP9RefsPerFrame; i++ {
				pd.RefFrameIdx[i] = uint8(r.U(3))
				if r.Flag() {
					pd.RefFrameSignBias |= 1 << (i + 1)
				}
			}
			if err := parseFrameSizeWithRefs(r, pd, refs); err != nil {
				return nil, err
			}
			pd.AllowHighPrecisionMV = r.Flag()
			parseInterpolationFilter(r, pd)
		}
	}

	if !pd.ErrorResilient {
		pd.RefreshFrameContext = r.Flag()
		pd.FrameParallelDecodingMode = r.Flag()
	} else {
		pd.RefreshFrameContext = false
		pd.FrameParallelDecodingMode = true
	}
	pd.FrameContextIdx = uint8(r.U(2))

	parseLoopFilter(r, pd)
	parseQuantization(r, pd)
	parseSegmentation(r, pd)
	parseTileInfo(r, pd)

	pd.CompressedHeaderSize = int32(r.U(16))
	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("vp9: frame header: %v", err)
	}
	pd.UncompressedHeaderSize = int32(r.BytesConsumed())
	pd.TilesOffset = pd.UncompressedHeaderSize + pd.CompressedHeaderSize
	if pd.TilesOffset > int32(len(data)) {
		return nil, video.SyntaxErrorf("vp9: header sizes %d overrun %d byte frame", pd.TilesOffset, len(data))
	}
	return pd, nil
}

func checkSyncCode(r *bits.Reader) error {
	b0, b1, b2 := r.U(8), r.U(8), r.U(8)
	if r.Err() == nil && (b0 != frameSyncByte0 || b1 != frameSyncByte1 || b2 != frameSyncByte2) {
		return video.SyntaxErrorf("vp9: bad frame sync code %02x %02x %02x", b0, b1, b2)
	}
	return nil
}

func parseColorConfig(r *bits.Reader, pd *video.VP9PictureData) {
	pd.BitDepth = 8
	if pd.Profile >= 2 {
		if r.Flag() {
			pd.BitDepth = 12
		} else {
			pd.BitDepth = 10
		}
	}
	pd.ColorSpace = uint8(r.U(3))
	if pd.ColorSpace != colorSpaceRGB {
		pd.ColorRange = r.Flag()
		if pd.Profile == 1 || pd.Profile == 3 {
			pd.SubsamplingX = uint8(r.U(1))
			pd.SubsamplingY = uint8(r.U(1))
			r.Flag() // reserved
		} else {
			pd.SubsamplingX = 1
			pd.SubsamplingY = 1
		}
	} else {
		pd.ColorRange = true
		if pd.Profile == 1 || pd.Profile == 3 {
			r.Flag() // reserved
		}
	}
}

func parseFrameSize(r *bits.Reader, pd *video.VP9PictureData) {
	pd.Width = int32(r.U(16)) + 1
	pd.Height = int32(r.U(16)) + 1
}

func parseRenderSize(r *bits.Reader, pd *video.VP9PictureData) {
	if r.Flag() {
		pd.RenderWidth = int32(r.U(16)) + 1
		pd.RenderHeight = int32(r.U(16)) + 1
	} else {
		pd.RenderWidth = pd.Width
		pd.RenderHeight = pd.Height
	}
}

func parseFrameSizeWithRefs(r *bits.Reader, pd *video.VP9PictureData, refs refDims) error {
	found := false
	for i := 0; i < video.VP9RefsPerFrame; i++ {
		if r.Flag() {
			if refs == nil {
				return video.SyntaxErrorf("vp9: frame inherits size from empty reference slot %d", pd.RefFrameIdx[i])
			}
			w, h, ok := refs.dims(pd.RefFrameIdx[i])
			if !ok {
				return video.SyntaxErrorf("vp9: frame inherits size from empty reference slot %d", pd.RefFrameIdx[i])
			}
			pd.Width, pd.Height = w, h
			found = true
			break
		}
	}
	if !found {
		parseFrameSize(r, pd)
	}
	parseRenderSize(r, pd)
	return nil
}

func parseInterpolationFilter(r *bits.Reader, pd *video.VP9PictureData) {
	// literal-to-filter map per the bitstream ordering.
	filterMap := [4]uint8{1, 0, 2, 3} // EIGHTTAP_SMOOTH first in coded order
	if r.Flag() {                     // is_filter_switchable
		pd.InterpolationFilter = 4 // SWITCHABLE
		return
	}
	pd.InterpolationFilter = filterMap[r.U(2)]
}

func parseLoopFilter(r *bits.Reader, pd *video.VP9PictureData) {
	lf := &pd.LoopFilter
	lf.Level = uint8(r.U(6))
	lf.Sharpness = uint8(r.U(3))
	lf.DeltaEnabled = r.Flag()
	if lf.DeltaEnabled {
		lf.DeltaUpdate = r.Flag()
		if lf.DeltaUpdate {
			for i := 0; i < video.VP9MaxRefLFDelta; i++ {
				if r.Flag() {
					lf.RefDeltas[i] = readSignedLiteral(r, 6)
					lf.UpdateRefDeltas |= 1 << i
				}
			}
			for i := 0; i < video.VP9MaxModeLF; i++ {
				if r.Flag() {
					lf.ModeDeltas[i] = readSignedLiteral(r, 6)
					lf.UpdateModeDeltas |= 1 << i
				}
			}
		}
	}
}

func parseQuantization(r *bits.Reader, pd *video.VP9PictureData) {
	pd.BaseQIdx = uint8(r.U(8))
	pd.DeltaQYDC = readDeltaQ(r)
	pd.DeltaQUVDC = readDeltaQ(r)
	pd.DeltaQUVAC = readDeltaQ(r)
}

func parseSegmentation(r *bits.Reader, pd *video.VP9PictureData) {
	seg := &pd.Segmentation
	seg.Enabled = r.Flag()
	if !seg.Enabled {
		return
	}
	seg.UpdateMap = r.Flag()
	if seg.UpdateMap {
		for i := range seg.TreeProbs {
			if r.Flag() {
				seg.TreeProbs[i] = uint8(r.U(8))
			} else {
				seg.TreeProbs[i] = 255
			}
		}
		seg.TemporalUpdate = r.Flag()
		for i := range seg.PredProbs {
			if seg.TemporalUpdate && r.Flag() {
				seg.PredProbs[i] = uint8(r.U(8))
			} else {
				seg.PredProbs[i] = 255
			}
		}
	}
	seg.UpdateData = r.Flag()
	if !seg.UpdateData {
		return
	}
	seg.AbsOrDeltaUpdate = r.Flag()
	for s := 0; s < video.VP9MaxSegments; s++ {
		for f := 0; f < video.VP9SegLvlMax; f++ {
			seg.FeatureEnabled[s] &^= 1 << f
			if !r.Flag() {
				seg.FeatureData[s][f] = 0
				continue
			}
			seg.FeatureEnabled[s] |= 1 << f
			v := int16(r.U(segFeatureBits[f]))
			if segFeatureSigned[f] && r.Flag() {
				v = -v
			}
			seg.FeatureData[s][f] = v
		}
	}
}

func parseTileInfo(r *bits.Reader, pd *video.VP9PictureData) {
	miCols := (pd.Width + 7) >> 3
	sb64Cols := (miCols + 7) >> 3

	minLog2 := uint8(0)
	for (int32(maxTileWidthB64) << minLog2) < sb64Cols {
		minLog2++
	}
	maxLog2 := uint8(1)
	for (sb64Cols >> maxLog2) >= minTileWidthB64 {
		maxLog2++
	}
	maxLog2--

	pd.TileColsLog2 = minLog2
	for pd.TileColsLog2 < maxLog2 {
		if !r.Flag() {
			break
		}
		pd.TileColsLog2++
	}
	if r.Flag() {
		pd.TileRowsLog2 = 1 + uint8(r.U(1))
	}
	pd.NumTiles = int32(1) << (pd.TileColsLog2 + pd.TileRowsLog2)
}
