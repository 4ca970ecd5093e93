package h264

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/video"
)

// mmco is one memory_management_control_operation from an adaptive
// dec_ref_pic_marking.
type mmco struct {
	op               uint32
	diffOfPicNums    int32 // op 1, 3: difference_of_pic_nums_minus1 + 1
	longTermPicNum   int32 // op 2
	longTermFrameIdx int32 // op 3, 6
	maxLongTermIdx   int32 // op 4: max_long_term_frame_idx_plus1 - 1
}

// sliceHeader holds the slice_header fields the session needs, through
// dec_ref_pic_marking. Later fields are never read.
type sliceHeader struct {
	firstMB       uint32
	sliceType     uint32 // mod 5
	ppsID         int32
	frameNum      int32
	fieldPic      bool
	bottomField   bool
	idrPicID      uint32
	picOrderCntLsb        int32
	deltaPicOrderCntBottom int32
	deltaPicOrderCnt      [2]int32
	numRefIdxL0   uint32
	numRefIdxL1   uint32

	// dec_ref_pic_marking
	noOutputOfPriorPics bool
	longTermRefFlag     bool
	adaptiveMarking     bool
	mmcos               []mmco
}

func (h *sliceHeader) isB() bool { return h.sliceType == sliceTypeB }
func (h *sliceHeader) isP() bool { return h.sliceType == sliceTypeP || h.sliceType == sliceTypeSP }
func (h *sliceHeader) isI() bool { return h.sliceType == sliceTypeI || h.sliceType == sliceTypeSI }

// parseSliceHeader reads a slice header up to and including
// dec_ref_pic_marking. rbsp excludes the NAL header byte; idr and refIDC
// come from it.
func parseSliceHeader(rbsp []byte, sps *SPS, pps *PPS, idr bool, refIDC uint8) (*sliceHeader, error) {
	r := bits.NewReader(rbsp)
	h := &sliceHeader{}

	h.firstMB = r.UE()
	st := r.UE()
	if r.Err() == nil && st > 9 {
		return nil, video.SyntaxErrorf("h264: slice_type %d out of range", st)
	}
	h.sliceType = st % 5
	if idr && !h.isI() {
		return nil, video.SyntaxErrorf("h264: idr slice with slice_type %d", st)
	}
	h.ppsID = int32(r.UE())

	if sps.SeparateColourPlane {
		r.U(2) // colour_plane_id
	}
	h.frameNum = int32(r.U(int(sps.Log2MaxFrameNum)))
	if !sps.FrameMbsOnly {
		h.fieldPic = r.Flag()
		if h.fieldPic {
			h.bottomField = r.Flag()
		}
	}
	if idr {
		h.idrPicID = r.UE()
	}
	if sps.PicOrderCntType == 0 {
		h.picOrderCntLsb = int32(r.U(int(sps.Log2MaxPicOrderCntLsb)))
		if pps.BottomFieldPOCInFrame && !h.fieldPic {
			h.deltaPicOrderCntBottom = r.SE()
		}
	}
	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZero {
		h.deltaPicOrderCnt[0] = r.SE()
		if pps.BottomFieldPOCInFrame && !h.fieldPic {
			h.deltaPicOrderCnt[1] = r.SE()
		}
	}
	if pps.RedundantPicCntPresent {
		r.UE() // redundant_pic_cnt
	}
	if h.isB() {
		r.Flag() // direct_spatial_mv_pred_flag
	}
	h.numRefIdxL0 = pps.NumRefIdxL0Default
	h.numRefIdxL1 = pps.NumRefIdxL1Default
	if h.isP() || h.isB() {
		if r.Flag() { // num_ref_idx_active_override_flag
			h.numRefIdxL0 = 1 + r.UE()
			if h.isB() {
				h.numRefIdxL1 = 1 + r.UE()
			}
		}
	}

	skipRefPicListModification(r, h)
	if (pps.WeightedPred && h.isP()) || (pps.WeightedBipredIDC == 1 && h.isB()) {
		skipPredWeightTable(r, sps, h)
	}
	if refIDC != 0 {
		parseDecRefPicMarking(r, h, idr)
	}
	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h264: slice header: %v", err)
	}
	return h, nil
}

func skipRefPicListModification(r *bits.Reader, h *sliceHeader) {
	if !h.isI() {
		if r.Flag() { // ref_pic_list_modification_flag_l0
			skipModificationList(r)
		}
	}
	if h.isB() {
		if r.Flag() { // ref_pic_list_modification_flag_l1
			skipModificationList(r)
		}
	}
}

func skipModificationList(r *bits.Reader) {
	for r.Err() == nil {
		idc := r.UE()
		if idc == 3 || r.Err() != nil {
			return
		}
		if idc > 3 {
			r.SetErr(video.SyntaxErrorf("h264: modification_of_pic_nums_idc %d out of range", idc))
			return
		}
		r.UE() // abs_diff_pic_num_minus1 or long_term_pic_num
	}
}

func skipPredWeightTable(r *bits.Reader, sps *SPS, h *sliceHeader) {
	r.UE() // luma_log2_weight_denom
	monochrome := sps.ChromaFormatIDC == 0 || sps.SeparateColourPlane
	if !monochrome {
		r.UE() // chroma_log2_weight_denom
	}
	skipList := func(n uint32) {
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			if r.Flag() { // luma_weight_flag
				r.SE()
				r.SE()
			}
			if !monochrome {
				if r.Flag() { // chroma_weight_flag
					for j := 0; j < 2; j++ {
						r.SE()
						r.SE()
					}
				}
			}
		}
	}
	skipList(h.numRefIdxL0)
	if h.isB() {
		skipList(h.numRefIdxL1)
	}
}

func parseDecRefPicMarking(r *bits.Reader, h *sliceHeader, idr bool) {
	if idr {
		h.noOutputOfPriorPics = r.Flag()
		h.longTermRefFlag = r.Flag()
		return
	}
	h.adaptiveMarking = r.Flag()
	if !h.adaptiveMarking {
		return
	}
	for r.Err() == nil {
		op := r.UE()
		if op == 0 || r.Err() != nil {
			return
		}
		if op > 6 {
			r.SetErr(video.SyntaxErrorf("h264: memory_management_control_operation %d out of range", op))
			return
		}
		m := mmco{op: op}
		switch op {
		case 1:
			m.diffOfPicNums = int32(1 + r.UE())
		case 2:
			m.longTermPicNum = int32(r.UE())
		case 3:
			m.diffOfPicNums = int32(1 + r.UE())
			m.longTermFrameIdx = int32(r.UE())
		case 4:
			m.maxLongTermIdx = int32(r.UE()) - 1
		case 6:
			m.longTermFrameIdx = int32(r.UE())
		}
		h.mmcos = append(h.mmcos, m)
		if len(h.mmcos) > 64 {
			r.SetErr(video.SyntaxErrorf("h264: runaway mmco list"))
			return
		}
	}
}

// hasMMCO5 reports whether the marking carries a reset-all operation.
func (h *sliceHeader) hasMMCO5() bool {
	for _, m := range h.mmcos {
		if m.op == 5 {
			return true
		}
	}
	return false
}
