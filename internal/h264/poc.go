package h264

// pocState carries the inter-picture memory for picture-order-count
// derivation. It resets on IDR and on an MMCO reset-all.
type pocState struct {
	prevPicOrderCntMsb int32
	prevPicOrderCntLsb int32
	prevFrameNumOffset int32
	prevFrameNum       int32
}

// derive computes TopFieldOrderCnt and BottomFieldOrderCnt for the picture
// and updates the state. isRef must reflect nal_ref_idc != 0.
func (ps *pocState) derive(sps *SPS, h *sliceHeader, idr, isRef bool) (top, bottom int32) {
	switch sps.PicOrderCntType {
	case 0:
		top, bottom = ps.deriveType0(sps, h, idr, isRef)
	case 1:
		top, bottom = ps.deriveType1(sps, h, idr, isRef)
	default:
		top, bottom = ps.deriveType2(sps, h, idr, isRef)
	}
	return top, bottom
}

func (ps *pocState) deriveType0(sps *SPS, h *sliceHeader, idr, isRef bool) (int32, int32) {
	if idr {
		ps.prevPicOrderCntMsb = 0
		ps.prevPicOrderCntLsb = 0
	}
	maxLsb := sps.MaxPicOrderCntLsb()
	lsb := h.picOrderCntLsb
	var msb int32
	switch {
	case lsb < ps.prevPicOrderCntLsb && ps.prevPicOrderCntLsb-lsb >= maxLsb/2:
		msb = ps.prevPicOrderCntMsb + maxLsb
	case lsb > ps.prevPicOrderCntLsb && lsb-ps.prevPicOrderCntLsb > maxLsb/2:
		msb = ps.prevPicOrderCntMsb - maxLsb
	default:
		msb = ps.prevPicOrderCntMsb
	}

	var top, bottom int32
	if !h.fieldPic {
		top = msb + lsb
		bottom = top + h.deltaPicOrderCntBottom
	} else if h.bottomField {
		bottom = msb + lsb
		top = bottom
	} else {
		top = msb + lsb
		bottom = top
	}

	if isRef {
		ps.prevPicOrderCntMsb = msb
		ps.prevPicOrderCntLsb = lsb
	}
	return top, bottom
}

func (ps *pocState) deriveType1(sps *SPS, h *sliceHeader, idr, isRef bool) (int32, int32) {
	maxFrameNum := sps.MaxFrameNum()
	var frameNumOffset int32
	switch {
	case idr:
		frameNumOffset = 0
	case ps.prevFrameNum > h.frameNum:
		frameNumOffset = ps.prevFrameNumOffset + maxFrameNum
	default:
		frameNumOffset = ps.prevFrameNumOffset
	}

	numRefFramesInCycle := int32(len(sps.OffsetsForRefFrame))
	absFrameNum := int32(0)
	if numRefFramesInCycle > 0 {
		absFrameNum = frameNumOffset + h.frameNum
	}
	if !isRef && absFrameNum > 0 {
		absFrameNum--
	}

	var expectedPOC int32
	if absFrameNum > 0 {
		cycleCnt := (absFrameNum - 1) / numRefFramesInCycle
		frameNumInCycle := (absFrameNum - 1) % numRefFramesInCycle
		var expectedDeltaPerCycle int32
		for _, off := range sps.OffsetsForRefFrame {
			expectedDeltaPerCycle += off
		}
		expectedPOC = cycleCnt * expectedDeltaPerCycle
		for i := int32(0); i <= frameNumInCycle; i++ {
			expectedPOC += sps.OffsetsForRefFrame[i]
		}
	}
	if !isRef {
		expectedPOC += sps.OffsetForNonRefPic
	}

	var top, bottom int32
	if !h.fieldPic {
		top = expectedPOC + h.deltaPicOrderCnt[0]
		bottom = top + sps.OffsetForTopToBottom + h.deltaPicOrderCnt[1]
	} else if h.bottomField {
		bottom = expectedPOC + sps.OffsetForTopToBottom + h.deltaPicOrderCnt[0]
		top = bottom
	} else {
		top = expectedPOC + h.deltaPicOrderCnt[0]
		bottom = top
	}

	ps.prevFrameNumOffset = frameNumOffset
	ps.prevFrameNum = h.frameNum
	return top, bottom
}

func (ps *pocState) deriveType2(sps *SPS, h *sliceHeader, idr, isRef bool) (int32, int32) {
	maxFrameNum := sps.MaxFrameNum()
	var frameNumOffset int32
	switch {
	case idr:
		frameNumOffset = 0
	case ps.prevFrameNum > h.frameNum:
		frameNumOffset = ps.prevFrameNumOffset + maxFrameNum
	default:
		frameNumOffset = ps.prevFrameNumOffset
	}

	var poc int32
	if idr {
		poc = 0
	} else if isRef {
		poc = 2 * (frameNumOffset + h.frameNum)
	} else {
		poc = 2*(frameNumOffset+h.frameNum) - 1
	}

	ps.prevFrameNumOffset = frameNumOffset
	ps.prevFrameNum = h.frameNum
	return poc, poc
}

// resetForMMCO5 rebases the state after a reset-all marking: the current
// picture is treated as picture zero.
func (ps *pocState) resetForMMCO5(curTop, curBottom int32) {
	ps.prevFrameNumOffset = 0
	ps.prevFrameNum = 0
	ps.prevPicOrderCntMsb = 0
	tmp := curTop
	if curBottom < tmp {
		tmp = curBottom
	}
	ps.prevPicOrderCntLsb = curTop - tmp
}
