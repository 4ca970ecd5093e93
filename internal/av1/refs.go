package av1

import (
	"github.com/zsiec/refract/internal/video"
)

// Positions within ref_frame_idx, i.e. the reference name minus LAST_FRAME.
const (
	idxLast = iota
	idxLast2
	idxLast3
	idxGolden
	idxBwdref
	idxAltref2
	idxAltref
)

// refSlot is one entry of the flat eight-entry reference table: the decoded
// surface plus the frame state snapshotted when the slot was refreshed,
// consulted for primary_ref_frame inheritance and show_existing_frame.
type refSlot struct {
	pic      video.PictureBuffer
	showable bool

	frameType     video.AV1FrameType
	orderHint     uint32
	refOrderHints [video.AV1NumRefFrames]uint32

	width         int32
	height        int32
	upscaledWidth int32
	renderWidth   int32
	renderHeight  int32

	filmGrain    video.AV1FilmGrain
	globalMotion [video.AV1RefsPerFrame]video.AV1GlobalMotion
	lfRefDeltas  [video.AV1NumRefFrames]int8
	lfModeDeltas [2]int8
	segmentation video.AV1Segmentation
}

// relativeDist is the signed wrapped distance a-b over the order hint range.
// It is zero when order hints are disabled.
func (p *Parser) relativeDist(a, b uint32) int32 {
	if p.seq == nil || !p.seq.EnableOrderHint {
		return 0
	}
	bits := int(p.seq.OrderHintBits)
	diff := int32(a) - int32(b)
	m := int32(1) << (bits - 1)
	return (diff & (m - 1)) - (diff & m)
}

// setFrameRefs derives the five unsignaled reference indices from the
// signaled LAST and GOLDEN slots, per the short-signaling scheme: ALTREF is
// the latest future hint, BWDREF and ALTREF2 the earliest remaining future
// hints, the rest fill from the nearest past hints, and anything still
// unassigned takes the globally earliest slot. Scanning is in ascending slot
// order, so the first slot wins ties.
func (p *Parser) setFrameRefs(pd *video.AV1PictureData, lastIdx, goldenIdx int8) {
	curFrameHint := uint32(1) << (p.seq.OrderHintBits - 1)

	for i := range pd.RefFrameIdx {
		pd.RefFrameIdx[i] = -1
	}
	pd.RefFrameIdx[idxLast] = lastIdx
	pd.RefFrameIdx[idxGolden] = goldenIdx

	var used [video.AV1NumRefFrames]bool
	used[lastIdx] = true
	used[goldenIdx] = true

	var shifted [video.AV1NumRefFrames]int32
	for i := range shifted {
		shifted[i] = int32(curFrameHint) + p.relativeDist(p.refOrderHint[i], pd.OrderHint)
	}

	latestUnused := func(future bool) int8 {
		ref, best := int8(-1), int32(-1)
		for i := 0; i < video.AV1NumRefFrames; i++ {
			hint := shifted[i]
			if used[i] || (future && hint < int32(curFrameHint)) || (!future && hint >= int32(curFrameHint)) {
				continue
			}
			if ref < 0 || hint >= best {
				ref, best = int8(i), hint
			}
		}
		return ref
	}
	earliestFuture := func() int8 {
		ref, best := int8(-1), int32(-1)
		for i := 0; i < video.AV1NumRefFrames; i++ {
			hint := shifted[i]
			if used[i] || hint < int32(curFrameHint) {
				continue
			}
			if ref < 0 || hint < best {
				ref, best = int8(i), hint
			}
		}
		return ref
	}

	if ref := latestUnused(true); ref >= 0 {
		pd.RefFrameIdx[idxAltref] = ref
		used[ref] = true
	}
	if ref := earliestFuture(); ref >= 0 {
		pd.RefFrameIdx[idxBwdref] = ref
		used[ref] = true
	}
	if ref := earliestFuture(); ref >= 0 {
		pd.RefFrameIdx[idxAltref2] = ref
		used[ref] = true
	}

	// Remaining names fill from the nearest past hints.
	for _, name := range []int{idxLast2, idxLast3, idxBwdref, idxAltref2, idxAltref} {
		if pd.RefFrameIdx[name] >= 0 {
			continue
		}
		if ref := latestUnused(false); ref >= 0 {
			pd.RefFrameIdx[name] = ref
			used[ref] = true
		}
	}

	earliest, best := int8(0), shifted[0]
	for i := 1; i < video.AV1NumRefFrames; i++ {
		if shifted[i] < best {
			earliest, best = int8(i), shifted[i]
		}
	}
	for i := range pd.RefFrameIdx {
		if pd.RefFrameIdx[i] < 0 {
			pd.RefFrameIdx[i] = earliest
		}
	}
}

// isSkipModeAllowed selects the nearest forward and backward references and
// reports whether skip mode can be signaled, filling SkipModeFrame.
func (p *Parser) isSkipModeAllowed(pd *video.AV1PictureData) bool {
	if p.seq == nil || !p.seq.EnableOrderHint || pd.FrameIsIntra || !pd.ReferenceSelect {
		return false
	}

	ref0, ref1 := -1, -1
	var ref0Hint, ref1Hint uint32
	for i := 0; i < video.AV1RefsPerFrame; i++ {
		idx := pd.RefFrameIdx[i]
		if idx < 0 {
			continue
		}
		hint := p.refOrderHint[idx]
		rel := p.relativeDist(hint, pd.OrderHint)
		if rel < 0 && (ref0 < 0 || p.relativeDist(hint, ref0Hint) > 0) {
			ref0, ref0Hint = i+1, hint
		}
		if rel > 0 && (ref1 < 0 || p.relativeDist(hint, ref1Hint) < 0) {
			ref1, ref1Hint = i+1, hint
		}
	}

	if ref0 >= 0 && ref1 >= 0 {
		pd.SkipModeFrame[0] = uint8(min(ref0, ref1))
		pd.SkipModeFrame[1] = uint8(max(ref0, ref1))
		return true
	}
	if ref0 < 0 {
		return false
	}
	// Forward prediction only: find the second nearest forward reference.
	for i := 0; i < video.AV1RefsPerFrame; i++ {
		idx := pd.RefFrameIdx[i]
		if idx < 0 {
			continue
		}
		hint := p.refOrderHint[idx]
		if p.relativeDist(hint, ref0Hint) < 0 && (ref1 < 0 || p.relativeDist(hint, ref1Hint) > 0) {
			ref1, ref1Hint = i+1, hint
		}
	}
	if ref1 < 0 {
		return false
	}
	pd.SkipModeFrame[0] = uint8(min(ref0, ref1))
	pd.SkipModeFrame[1] = uint8(max(ref0, ref1))
	return true
}

// updateFramePointers overwrites every slot named by refresh_frame_flags
// with the just-decoded frame and its snapshotted state.
func (p *Parser) updateFramePointers(pd *video.AV1PictureData, pic video.PictureBuffer, showable bool) {
	prevHints := p.refOrderHint
	for i := 0; i < video.AV1NumRefFrames; i++ {
		if pd.RefreshFrameFlags&(1<<i) == 0 {
			continue
		}
		if p.refs[i] != nil {
			p.refs[i].pic.Release()
		}
		slot := &refSlot{
			pic:           pic,
			showable:      showable,
			frameType:     pd.FrameType,
			orderHint:     pd.OrderHint,
			width:         pd.Width,
			height:        pd.Height,
			upscaledWidth: pd.UpscaledWidth,
			renderWidth:   pd.RenderWidth,
			renderHeight:  pd.RenderHeight,
			filmGrain:     pd.FilmGrain,
			globalMotion:  pd.GlobalMotion,
			lfRefDeltas:   pd.LoopFilter.RefDeltas,
			lfModeDeltas:  pd.LoopFilter.ModeDeltas,
			segmentation:  pd.Segmentation,
		}
		for name := 0; name < video.AV1NumRefFrames; name++ {
			hint := pd.OrderHint
			if name > 0 && name-1 < video.AV1RefsPerFrame {
				if idx := pd.RefFrameIdx[name-1]; idx >= 0 && int(idx) < video.AV1NumRefFrames {
					hint = prevHints[idx]
				}
			}
			slot.refOrderHints[name] = hint
		}
		pic.Retain()
		p.refs[i] = slot
		p.refOrderHint[i] = pd.OrderHint
	}
}
