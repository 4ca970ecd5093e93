package av1

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/video"
)

const (
	superresNum      = 8
	superresDenomMin = 9

	maxTileWidthPixels = 4096
	maxTileAreaPixels  = 4096 * 2304

	segLvlAltQ     = 0
	segLvlRefFrame = 5
)

// Per-feature coding tables for segmentation_params.
var (
	segFeatureBits   = [video.AV1SegLvlMax]int{8, 6, 6, 6, 6, 3, 0, 0}
	segFeatureSigned = [video.AV1SegLvlMax]bool{true, true, true, true, true, false, false, false}
	segFeatureMax    = [video.AV1SegLvlMax]int32{255, 63, 63, 63, 63, 7, 0, 0}

	defaultLFRefDeltas = [video.AV1NumRefFrames]int8{1, 0, 0, 0, -1, 0, -1, -1}
)

// frameHeader is one parsed frame header plus the show_existing_frame
// short-circuit, which carries no further syntax.
type frameHeader struct {
	pd           *video.AV1PictureData
	showExisting bool
	showIdx      uint8
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func tileLog2(blkSize, target int32) uint8 {
	var k uint8
	for ; blkSize<<k < target; k++ {
	}
	return k
}

// readDeltaQ is the delta_q() helper: a presence flag then su(1+bits).
func readDeltaQ(r *bits.Reader, n int) int8 {
	if !r.Flag() {
		return 0
	}
	return int8(r.S(n))
}

func (p *Parser) parseFrameHeader(r *bits.Reader) (*frameHeader, error) {
	seq := p.seq
	pd := &video.AV1PictureData{}
	fh := &frameHeader{pd: pd}

	if seq.ReducedStillPicture {
		pd.FrameType = video.AV1FrameKey
		pd.FrameIsIntra = true
		pd.ShowFrame = true
		pd.ErrorResilientMode = true
	} else {
		if r.Flag() { // show_existing_frame
			fh.showExisting = true
			fh.showIdx = uint8(r.U(3))
			if seq.DecoderModelInfoPresent && !seq.Timing.EqualPictureInterval {
				r.Skip(int(seq.DecoderModel.FramePresentationTimeLength))
			}
			if seq.FrameIDNumbersPresent {
				r.Skip(int(seq.FrameIDLength)) // display_frame_id
			}
			if err := r.Err(); err != nil {
				return nil, video.SyntaxErrorf("av1: frame header: %v", err)
			}
			return fh, nil
		}
		pd.FrameType = video.AV1FrameType(r.U(2))
		pd.FrameIsIntra = pd.FrameType == video.AV1FrameKey || pd.FrameType == video.AV1FrameIntraOnly
		pd.ShowFrame = r.Flag()
		if pd.ShowFrame {
			if seq.DecoderModelInfoPresent && !seq.Timing.EqualPictureInterval {
				r.Skip(int(seq.DecoderModel.FramePresentationTimeLength))
			}
			pd.ShowableFrame = pd.FrameType != video.AV1FrameKey
		} else {
			pd.ShowableFrame = r.Flag()
		}
		if pd.FrameType == video.AV1FrameSwitch ||
			(pd.FrameType == video.AV1FrameKey && pd.ShowFrame) {
			pd.ErrorResilientMode = true
		} else {
			pd.ErrorResilientMode = r.Flag()
		}
	}

	if pd.FrameType == video.AV1FrameKey && pd.ShowFrame {
		for i := range p.refValid {
			p.refValid[i] = false
			p.refOrderHint[i] = 0
		}
	}

	pd.DisableCDFUpdate = r.Flag()
	if seq.ForceScreenContentTools == selectScreenContentTools {
		pd.AllowScreenContentTools = r.Flag()
	} else {
		pd.AllowScreenContentTools = seq.ForceScreenContentTools != 0
	}
	if pd.AllowScreenContentTools {
		if seq.ForceIntegerMV == selectIntegerMV {
			pd.ForceIntegerMV = r.Flag()
		} else {
			pd.ForceIntegerMV = seq.ForceIntegerMV != 0
		}
	}
	if pd.FrameIsIntra {
		pd.ForceIntegerMV = true
	}

	pd.PrimaryRefFrame = video.AV1PrimaryRefNone
	frameSizeOverride := false

	if !seq.ReducedStillPicture {
		if seq.FrameIDNumbersPresent {
			pd.FrameIDValid = true
			pd.CurrentFrameID = r.U(int(seq.FrameIDLength))
			p.markStaleFrameIDs(pd)
		}
		if pd.FrameType == video.AV1FrameSwitch {
			frameSizeOverride = true
		} else {
			frameSizeOverride = r.Flag()
		}
		if seq.EnableOrderHint {
			pd.OrderHint = r.U(int(seq.OrderHintBits))
		}
		if !pd.ErrorResilientMode && !pd.FrameIsIntra {
			pd.PrimaryRefFrame = uint8(r.U(3))
		}
	}

	if seq.DecoderModelInfoPresent {
		if r.Flag() { // buffer_removal_time_present_flag
			for op := 0; op < int(seq.OperatingPointCount); op++ {
				if seq.OperatingPoints[op].DecoderModelPresent {
					idc := seq.OperatingPoints[op].IDC
					inTemporal := idc>>p.temporalID&1 != 0
					inSpatial := idc>>(p.spatialID+8)&1 != 0
					if idc == 0 || (inTemporal && inSpatial) {
						r.Skip(int(seq.DecoderModel.BufferRemovalTimeLength))
					}
				}
			}
		}
	}

	if pd.FrameType == video.AV1FrameKey {
		if !pd.ShowFrame {
			pd.RefreshFrameFlags = uint8(r.U(video.AV1NumRefFrames))
		} else {
			pd.RefreshFrameFlags = 0xff
		}
	} else if pd.FrameType == video.AV1FrameSwitch {
		pd.RefreshFrameFlags = 0xff
	} else {
		pd.RefreshFrameFlags = uint8(r.U(video.AV1NumRefFrames))
		if pd.RefreshFrameFlags == 0xff && pd.FrameType == video.AV1FrameIntraOnly {
			return nil, video.SyntaxErrorf("av1: intra-only frame cannot refresh all slots")
		}
	}

	if (!pd.FrameIsIntra || pd.RefreshFrameFlags != 0xff) &&
		pd.ErrorResilientMode && seq.EnableOrderHint {
		// ref_order_hint[]: resynchronization hints for each slot.
		for i := 0; i < video.AV1NumRefFrames; i++ {
			hint := r.U(int(seq.OrderHintBits))
			if !p.refValid[i] || hint != p.refOrderHint[i] {
				p.refOrderHint[i] = hint
			}
		}
	}

	if pd.FrameIsIntra {
		p.parseFrameSize(r, pd, frameSizeOverride)
		p.parseRenderSize(r, pd)
		if pd.AllowScreenContentTools && pd.UpscaledWidth == pd.Width {
			pd.AllowIntraBC = r.Flag()
		}
	} else {
		shortSignaling := false
		if seq.EnableOrderHint {
			shortSignaling = r.Flag()
		}
		if shortSignaling {
			lastIdx := int8(r.U(3))
			goldenIdx := int8(r.U(3))
			p.setFrameRefs(pd, lastIdx, goldenIdx)
		}
		for i := 0; i < video.AV1RefsPerFrame; i++ {
			if !shortSignaling {
				pd.RefFrameIdx[i] = int8(r.U(3))
			}
			if seq.FrameIDNumbersPresent {
				r.Skip(int(seq.DeltaFrameIDLength)) // delta_frame_id_minus_1
			}
		}

		if !pd.ErrorResilientMode && frameSizeOverride {
			p.parseFrameSizeWithRefs(r, pd)
		} else {
			p.parseFrameSize(r, pd, frameSizeOverride)
			p.parseRenderSize(r, pd)
		}

		if !pd.ForceIntegerMV {
			pd.AllowHighPrecisionMV = r.Flag()
		}
		if r.Flag() { // is_filter_switchable
			pd.InterpolationFilter = 4 // switchable
		} else {
			pd.InterpolationFilter = uint8(r.U(2))
		}
		pd.IsMotionModeSwitchable = r.Flag()

		if !pd.ErrorResilientMode && seq.EnableRefFrameMVs && seq.EnableOrderHint {
			pd.UseRefFrameMVs = r.Flag()
		}

		pd.RefOrderHints = p.refOrderHint
		for i := 0; i < video.AV1RefsPerFrame; i++ {
			idx := pd.RefFrameIdx[i]
			if idx >= 0 && p.relativeDist(p.refOrderHint[idx], pd.OrderHint) > 0 {
				pd.RefFrameSignBias |= 1 << (i + 1)
			}
		}
	}

	if seq.FrameIDNumbersPresent {
		for i := 0; i < video.AV1NumRefFrames; i++ {
			if pd.RefreshFrameFlags&(1<<i) != 0 {
				p.refFrameID[i] = pd.CurrentFrameID
				p.refValid[i] = true
			}
		}
	}

	if !seq.ReducedStillPicture && !pd.DisableCDFUpdate {
		pd.DisableFrameEndUpdateCDF = r.Flag()
	} else {
		pd.DisableFrameEndUpdateCDF = true
	}

	p.parseTileInfo(r, pd)
	p.parseQuantization(r, pd)
	p.parseSegmentation(r, pd)

	if pd.Quant.BaseQIdx > 0 {
		pd.Quant.DeltaQPresent = r.Flag()
	}
	if pd.Quant.DeltaQPresent {
		pd.Quant.DeltaQRes = uint8(r.U(2))
		if !pd.AllowIntraBC {
			pd.LoopFilter.DeltaLFPresent = r.Flag()
		}
		if pd.LoopFilter.DeltaLFPresent {
			pd.LoopFilter.DeltaLFRes = uint8(r.U(2))
			pd.LoopFilter.DeltaLFMulti = r.Flag()
		}
	}

	p.deriveLossless(pd)

	p.parseLoopFilter(r, pd)
	if !pd.CodedLossless && seq.EnableCDEF && !pd.AllowIntraBC {
		p.parseCDEF(r, pd)
	}
	if !pd.AllLossless && seq.EnableRestoration && !pd.AllowIntraBC {
		p.parseLoopRestoration(r, pd)
	}

	if pd.CodedLossless {
		pd.TxModeSelect = false
	} else {
		pd.TxModeSelect = r.Flag()
	}
	if !pd.FrameIsIntra {
		pd.ReferenceSelect = r.Flag()
	}
	if p.isSkipModeAllowed(pd) {
		pd.SkipModePresent = r.Flag()
	}
	if !pd.FrameIsIntra && !pd.ErrorResilientMode && seq.EnableWarpedMotion {
		pd.AllowWarpedMotion = r.Flag()
	}
	pd.ReducedTxSet = r.Flag()

	for i := range pd.GlobalMotion {
		pd.GlobalMotion[i] = video.AV1DefaultGlobalMotion()
	}
	if !pd.FrameIsIntra {
		p.parseGlobalMotion(r, pd)
	}

	p.parseFilmGrain(r, pd)

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("av1: frame header: %v", err)
	}
	return fh, nil
}

// markStaleFrameIDs invalidates slots whose frame id falls outside the delta
// window around the new current frame id.
func (p *Parser) markStaleFrameIDs(pd *video.AV1PictureData) {
	seq := p.seq
	if pd.FrameType == video.AV1FrameKey && pd.ShowFrame {
		for i := range p.refValid {
			p.refValid[i] = false
		}
		return
	}
	window := uint32(1) << seq.DeltaFrameIDLength
	wrap := uint32(1) << seq.FrameIDLength
	for i := range p.refValid {
		id := p.refFrameID[i]
		if pd.CurrentFrameID > window {
			if id > pd.CurrentFrameID || id < pd.CurrentFrameID-window {
				p.refValid[i] = false
			}
		} else if id > pd.CurrentFrameID && id < wrap+pd.CurrentFrameID-window {
			p.refValid[i] = false
		}
	}
}

func (p *Parser) parseFrameSize(r *bits.Reader, pd *video.AV1PictureData, override bool) {
	seq := p.seq
	if override {
		pd.Width = int32(r.U(int(seq.FrameWidthBits))) + 1
		pd.Height = int32(r.U(int(seq.FrameHeightBits))) + 1
	} else {
		pd.Width = seq.MaxFrameWidth
		pd.Height = seq.MaxFrameHeight
	}
	p.parseSuperres(r, pd)
}

func (p *Parser) parseSuperres(r *bits.Reader, pd *video.AV1PictureData) {
	pd.UpscaledWidth = pd.Width
	pd.SuperresDenom = superresNum
	if p.seq.EnableSuperres && r.Flag() {
		pd.SuperresDenom = uint8(r.U(3)) + superresDenomMin
		pd.Width = (pd.UpscaledWidth*superresNum + int32(pd.SuperresDenom)/2) / int32(pd.SuperresDenom)
	}
}

func (p *Parser) parseRenderSize(r *bits.Reader, pd *video.AV1PictureData) {
	if r.Flag() { // render_and_frame_size_different
		pd.RenderWidth = int32(r.U(16)) + 1
		pd.RenderHeight = int32(r.U(16)) + 1
	} else {
		pd.RenderWidth = pd.UpscaledWidth
		pd.RenderHeight = pd.Height
	}
}

func (p *Parser) parseFrameSizeWithRefs(r *bits.Reader, pd *video.AV1PictureData) {
	for i := 0; i < video.AV1RefsPerFrame; i++ {
		if !r.Flag() { // found_ref
			continue
		}
		if slot := p.refs[pd.RefFrameIdx[i]]; slot != nil {
			pd.UpscaledWidth = slot.upscaledWidth
			pd.Width = slot.width
			pd.Height = slot.height
			pd.RenderWidth = slot.renderWidth
			pd.RenderHeight = slot.renderHeight
		}
		// superres recomputes the coded width from the inherited size
		pd.SuperresDenom = superresNum
		if p.seq.EnableSuperres && r.Flag() {
			pd.SuperresDenom = uint8(r.U(3)) + superresDenomMin
		}
		pd.Width = (pd.UpscaledWidth*superresNum + int32(pd.SuperresDenom)/2) / int32(pd.SuperresDenom)
		return
	}
	p.parseFrameSize(r, pd, true)
	p.parseRenderSize(r, pd)
}

func (p *Parser) parseTileInfo(r *bits.Reader, pd *video.AV1PictureData) {
	seq := p.seq
	ti := &pd.TileInfo

	miCols := 2 * ((pd.Width + 7) >> 3)
	miRows := 2 * ((pd.Height + 7) >> 3)
	sbShift := 4
	if seq.Use128x128Superblock {
		sbShift = 5
	}
	sbCols := (miCols + (1 << sbShift) - 1) >> sbShift
	sbRows := (miRows + (1 << sbShift) - 1) >> sbShift
	sbSize := sbShift + 2

	maxTileWidthSB := int32(maxTileWidthPixels >> sbSize)
	maxTileAreaSB := int32(maxTileAreaPixels >> (2 * sbSize))
	minLog2TileCols := tileLog2(maxTileWidthSB, sbCols)
	maxLog2TileCols := tileLog2(1, min(sbCols, video.AV1MaxTileCols))
	maxLog2TileRows := tileLog2(1, min(sbRows, video.AV1MaxTileRows))
	minLog2Tiles := max(minLog2TileCols, tileLog2(maxTileAreaSB, sbRows*sbCols))

	ti.UniformSpacing = r.Flag()
	if ti.UniformSpacing {
		ti.ColsLog2 = minLog2TileCols
		for ti.ColsLog2 < maxLog2TileCols && r.Flag() {
			ti.ColsLog2++
		}
		tileWidthSB := (sbCols + (1 << ti.ColsLog2) - 1) >> ti.ColsLog2
		ti.Cols = (sbCols + tileWidthSB - 1) / tileWidthSB
		for i := int32(0); i < ti.Cols; i++ {
			w := tileWidthSB
			if i == ti.Cols-1 {
				w = sbCols - (ti.Cols-1)*tileWidthSB
			}
			ti.WidthsSB[i] = int16(w)
		}

		minLog2TileRows := max(int(minLog2Tiles)-int(ti.ColsLog2), 0)
		ti.RowsLog2 = uint8(minLog2TileRows)
		for ti.RowsLog2 < maxLog2TileRows && r.Flag() {
			ti.RowsLog2++
		}
		tileHeightSB := (sbRows + (1 << ti.RowsLog2) - 1) >> ti.RowsLog2
		ti.Rows = (sbRows + tileHeightSB - 1) / tileHeightSB
		for i := int32(0); i < ti.Rows; i++ {
			h := tileHeightSB
			if i == ti.Rows-1 {
				h = sbRows - (ti.Rows-1)*tileHeightSB
			}
			ti.HeightsSB[i] = int16(h)
		}
	} else {
		widestSB := int32(0)
		startSB := int32(0)
		i := int32(0)
		for ; startSB < sbCols && i < video.AV1MaxTileCols; i++ {
			maxWidth := min(sbCols-startSB, maxTileWidthSB)
			sizeSB := int32(1)
			if maxWidth > 1 {
				sizeSB = int32(r.NS(uint32(maxWidth))) + 1
			}
			ti.WidthsSB[i] = int16(sizeSB)
			widestSB = max(widestSB, sizeSB)
			startSB += sizeSB
		}
		ti.Cols = i
		ti.ColsLog2 = tileLog2(1, i)

		if minLog2Tiles > 0 {
			maxTileAreaSB = (sbRows * sbCols) >> (minLog2Tiles + 1)
		} else {
			maxTileAreaSB = sbRows * sbCols
		}
		maxTileHeightSB := max(maxTileAreaSB/widestSB, 1)

		startSB = 0
		i = 0
		for ; startSB < sbRows && i < video.AV1MaxTileRows; i++ {
			maxHeight := min(sbRows-startSB, maxTileHeightSB)
			sizeSB := int32(1)
			if maxHeight > 1 {
				sizeSB = int32(r.NS(uint32(maxHeight))) + 1
			}
			ti.HeightsSB[i] = int16(sizeSB)
			startSB += sizeSB
		}
		ti.Rows = i
		ti.RowsLog2 = tileLog2(1, i)
	}

	ti.SizeBytesMinus1 = 3
	if ti.Cols*ti.Rows > 1 {
		ti.ContextUpdateID = r.U(int(ti.RowsLog2 + ti.ColsLog2))
		ti.SizeBytesMinus1 = uint8(r.U(2))
	}
}

func (p *Parser) parseQuantization(r *bits.Reader, pd *video.AV1PictureData) {
	cc := &p.seq.Color
	q := &pd.Quant

	q.BaseQIdx = uint8(r.U(8))
	q.DeltaQYDC = readDeltaQ(r, 6)
	if !cc.Monochrome {
		if cc.SeparateUVDeltaQ {
			q.DiffUVDelta = r.Flag()
		}
		q.DeltaQUDC = readDeltaQ(r, 6)
		q.DeltaQUAC = readDeltaQ(r, 6)
		if q.DiffUVDelta {
			q.DeltaQVDC = readDeltaQ(r, 6)
			q.DeltaQVAC = readDeltaQ(r, 6)
		} else {
			q.DeltaQVDC = q.DeltaQUDC
			q.DeltaQVAC = q.DeltaQUAC
		}
	}
	q.UsingQMatrix = r.Flag()
	if q.UsingQMatrix {
		q.QMY = uint8(r.U(4))
		q.QMU = uint8(r.U(4))
		if cc.SeparateUVDeltaQ {
			q.QMV = uint8(r.U(4))
		} else {
			q.QMV = q.QMU
		}
	}
}

func (p *Parser) parseSegmentation(r *bits.Reader, pd *video.AV1PictureData) {
	s := &pd.Segmentation

	s.Enabled = r.Flag()
	if !s.Enabled {
		return
	}

	if pd.PrimaryRefFrame == video.AV1PrimaryRefNone {
		s.UpdateMap = true
		s.UpdateData = true
	} else {
		s.UpdateMap = r.Flag()
		if s.UpdateMap {
			s.TemporalUpdate = r.Flag()
		}
		s.UpdateData = r.Flag()
	}

	if s.UpdateData {
		for i := 0; i < video.AV1MaxSegments; i++ {
			for j := 0; j < video.AV1SegLvlMax; j++ {
				var value int32
				s.FeatureEnabled[i][j] = r.Flag()
				if s.FeatureEnabled[i][j] {
					if j >= segLvlRefFrame {
						s.PreskipID = 1
					}
					s.LastActiveID = uint8(i)
					limit := segFeatureMax[j]
					if segFeatureSigned[j] {
						value = clamp(r.S(segFeatureBits[j]), -limit, limit)
					} else {
						value = clamp(int32(r.U(segFeatureBits[j])), 0, limit)
					}
				}
				s.FeatureData[i][j] = int16(value)
			}
		}
		return
	}

	// use the primary reference frame's segmentation wholesale
	if pd.PrimaryRefFrame != video.AV1PrimaryRefNone {
		if slot := p.refs[pd.RefFrameIdx[pd.PrimaryRefFrame]]; slot != nil {
			s.FeatureEnabled = slot.segmentation.FeatureEnabled
			s.FeatureData = slot.segmentation.FeatureData
			s.LastActiveID = slot.segmentation.LastActiveID
			s.PreskipID = slot.segmentation.PreskipID
		}
	}
}

func (p *Parser) deriveLossless(pd *video.AV1PictureData) {
	q := &pd.Quant
	lossless := func(seg int) bool {
		qIdx := int32(q.BaseQIdx)
		if pd.Segmentation.Enabled && pd.Segmentation.FeatureEnabled[seg][segLvlAltQ] {
			qIdx = clamp(int32(pd.Segmentation.FeatureData[seg][segLvlAltQ])+int32(q.BaseQIdx), 0, 255)
		}
		return qIdx == 0 && q.DeltaQYDC == 0 &&
			q.DeltaQUDC == 0 && q.DeltaQUAC == 0 &&
			q.DeltaQVDC == 0 && q.DeltaQVAC == 0
	}

	pd.CodedLossless = lossless(0)
	if pd.Segmentation.Enabled {
		for i := 1; i < video.AV1MaxSegments; i++ {
			pd.CodedLossless = pd.CodedLossless && lossless(i)
		}
	}
	pd.AllLossless = pd.CodedLossless && pd.Width == pd.UpscaledWidth
}

func (p *Parser) parseLoopFilter(r *bits.Reader, pd *video.AV1PictureData) {
	lf := &pd.LoopFilter
	lf.RefDeltas = defaultLFRefDeltas

	if pd.AllowIntraBC || pd.CodedLossless {
		return
	}

	if pd.PrimaryRefFrame != video.AV1PrimaryRefNone {
		if slot := p.refs[pd.RefFrameIdx[pd.PrimaryRefFrame]]; slot != nil {
			lf.RefDeltas = slot.lfRefDeltas
			lf.ModeDeltas = slot.lfModeDeltas
		}
	}

	lf.Levels[0] = uint8(r.U(6))
	lf.Levels[1] = uint8(r.U(6))
	if !p.seq.Color.Monochrome && (lf.Levels[0] != 0 || lf.Levels[1] != 0) {
		lf.Levels[2] = uint8(r.U(6))
		lf.Levels[3] = uint8(r.U(6))
	}
	lf.Sharpness = uint8(r.U(3))

	lf.DeltaEnabled = r.Flag()
	if lf.DeltaEnabled {
		lf.DeltaUpdate = r.Flag()
		if lf.DeltaUpdate {
			for i := 0; i < video.AV1NumRefFrames; i++ {
				if r.Flag() {
					lf.RefDeltas[i] = int8(r.S(6))
				}
			}
			for i := 0; i < 2; i++ {
				if r.Flag() {
					lf.ModeDeltas[i] = int8(r.S(6))
				}
			}
		}
	}
}

func (p *Parser) parseCDEF(r *bits.Reader, pd *video.AV1PictureData) {
	c := &pd.CDEF
	c.DampingMinus3 = uint8(r.U(2))
	c.Bits = uint8(r.U(2))
	for i := 0; i < 1<<c.Bits; i++ {
		c.YPriStrength[i] = uint8(r.U(4))
		c.YSecStrength[i] = uint8(r.U(2))
		if !p.seq.Color.Monochrome {
			c.UVPriStrength[i] = uint8(r.U(4))
			c.UVSecStrength[i] = uint8(r.U(2))
		}
	}
}

func (p *Parser) parseLoopRestoration(r *bits.Reader, pd *video.AV1PictureData) {
	lr := &pd.LoopRestoration
	planes := 3
	if p.seq.Color.Monochrome {
		planes = 1
	}

	remap := [4]video.AV1LoopRestorationType{
		video.AV1RestoreNone, video.AV1RestoreSwitchable,
		video.AV1RestoreWiener, video.AV1RestoreSgrproj,
	}
	for pl := 0; pl < planes; pl++ {
		lr.Type[pl] = remap[r.U(2)]
		if lr.Type[pl] != video.AV1RestoreNone {
			lr.UsesLR = true
			if pl > 0 {
				lr.UsesChromaLR = true
			}
		}
	}
	if !lr.UsesLR {
		return
	}

	var unitShift uint8
	if p.seq.Use128x128Superblock {
		unitShift = 1 + uint8(r.U(1))
	} else {
		unitShift = uint8(r.U(1))
		if unitShift != 0 {
			unitShift += uint8(r.U(1))
		}
	}
	// log2 of the luma restoration unit size: 64 << unit_shift
	lr.UnitSize[0] = 6 + unitShift

	var uvShift uint8
	cc := &p.seq.Color
	if !cc.Monochrome && lr.UsesChromaLR && cc.SubsamplingX == 1 && cc.SubsamplingY == 1 {
		uvShift = uint8(r.U(1))
	}
	lr.UnitSize[1] = lr.UnitSize[0] - uvShift
	lr.UnitSize[2] = lr.UnitSize[0] - uvShift
}

func (p *Parser) parseFilmGrain(r *bits.Reader, pd *video.AV1PictureData) {
	fg := &pd.FilmGrain
	if !p.seq.FilmGrainParamsPresent || (!pd.ShowFrame && !pd.ShowableFrame) {
		return
	}

	fg.ApplyGrain = r.Flag()
	if !fg.ApplyGrain {
		return
	}
	fg.GrainSeed = uint16(r.U(16))

	fg.UpdateGrain = true
	if pd.FrameType == video.AV1FrameInter {
		fg.UpdateGrain = r.Flag()
	}
	if !fg.UpdateGrain {
		// Inherit a buffered slot's grain, keeping this frame's seed.
		idx := uint8(r.U(3))
		seed := fg.GrainSeed
		if slot := p.refs[idx]; slot != nil {
			*fg = slot.filmGrain
		}
		fg.GrainSeed = seed
		fg.FilmGrainRefIdx = idx
		fg.ApplyGrain = true
		fg.UpdateGrain = false
		return
	}

	fg.NumYPoints = uint8(r.U(4))
	for i := 0; i < int(fg.NumYPoints); i++ {
		fg.PointYValue[i] = uint8(r.U(8))
		fg.PointYScaling[i] = uint8(r.U(8))
	}

	cc := &p.seq.Color
	if !cc.Monochrome {
		fg.ChromaScalingFromLuma = r.Flag()
	}
	if cc.Monochrome || fg.ChromaScalingFromLuma ||
		(cc.SubsamplingX == 1 && cc.SubsamplingY == 1 && fg.NumYPoints == 0) {
		fg.NumCbPoints = 0
		fg.NumCrPoints = 0
	} else {
		fg.NumCbPoints = uint8(r.U(4))
		for i := 0; i < int(fg.NumCbPoints); i++ {
			fg.PointCbValue[i] = uint8(r.U(8))
			fg.PointCbScaling[i] = uint8(r.U(8))
		}
		fg.NumCrPoints = uint8(r.U(4))
		for i := 0; i < int(fg.NumCrPoints); i++ {
			fg.PointCrValue[i] = uint8(r.U(8))
			fg.PointCrScaling[i] = uint8(r.U(8))
		}
	}

	fg.GrainScalingMinus8 = uint8(r.U(2))
	fg.ARCoeffLag = uint8(r.U(2))

	numPosLuma := 2 * int(fg.ARCoeffLag) * (int(fg.ARCoeffLag) + 1)
	numPosChroma := numPosLuma
	if fg.NumYPoints > 0 {
		numPosChroma++
		for i := 0; i < numPosLuma; i++ {
			fg.ARCoeffsYPlus128[i] = uint8(r.U(8))
		}
	}
	if fg.NumCbPoints > 0 || fg.ChromaScalingFromLuma {
		for i := 0; i < numPosChroma; i++ {
			fg.ARCoeffsCbPlus128[i] = uint8(r.U(8))
		}
	}
	if fg.NumCrPoints > 0 || fg.ChromaScalingFromLuma {
		for i := 0; i < numPosChroma; i++ {
			fg.ARCoeffsCrPlus128[i] = uint8(r.U(8))
		}
	}

	fg.ARCoeffShiftMinus6 = uint8(r.U(2))
	fg.GrainScaleShift = uint8(r.U(2))

	if fg.NumCbPoints > 0 {
		fg.CbMult = uint8(r.U(8))
		fg.CbLumaMult = uint8(r.U(8))
		fg.CbOffset = uint16(r.U(9))
	}
	if fg.NumCrPoints > 0 {
		fg.CrMult = uint8(r.U(8))
		fg.CrLumaMult = uint8(r.U(8))
		fg.CrOffset = uint16(r.U(9))
	}

	fg.OverlapFlag = r.Flag()
	fg.ClipToRestrictedRange = r.Flag()
}
