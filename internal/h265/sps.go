// Package h265 parses H.265 elementary streams: NAL segmentation, VPS/SPS/
// PPS activation, slice headers and reference-picture-set derivation,
// driving the backend one picture at a time.
package h265

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// NAL unit types (nal_unit_type, 6 bits).
const (
	nalTypeTrailN = 0
	nalTypeRASLR  = 9

	nalTypeBLAWLP   = 16
	nalTypeIDRWRADL = 19
	nalTypeIDRNLP   = 20
	nalTypeCRA      = 21
	nalTypeIRAPLast = 23

	nalTypeVPS       = 32
	nalTypeSPS       = 33
	nalTypePPS       = 34
	nalTypeAUD       = 35
	nalTypeEOS       = 36
	nalTypeEOB       = 37
	nalTypeSEIPrefix = 39
	nalTypeSEISuffix = 40
)

func isSliceType(t uint8) bool {
	return t <= nalTypeRASLR || (t >= nalTypeBLAWLP && t <= nalTypeIRAPLast)
}

func isIRAP(t uint8) bool { return t >= nalTypeBLAWLP && t <= nalTypeIRAPLast }
func isIDR(t uint8) bool  { return t == nalTypeIDRWRADL || t == nalTypeIDRNLP }

// Slice types.
const (
	sliceTypeB = 0
	sliceTypeP = 1
	sliceTypeI = 2
)

// ShortTermRPS is one decoded st_ref_pic_set: delta POCs relative to the
// current picture, split into negative (before) and positive (after) halves.
type ShortTermRPS struct {
	NumNegative uint32
	NumPositive uint32
	DeltaPOCS0  [16]int32
	DeltaPOCS1  [16]int32
	UsedS0      [16]bool
	UsedS1      [16]bool
}

// NumDeltaPocs returns the total entry count.
func (s *ShortTermRPS) NumDeltaPocs() int32 {
	return int32(s.NumNegative + s.NumPositive)
}

// SPS is a parsed H.265 sequence parameter set.
type SPS struct {
	ID    int32
	VPSID int32

	ChromaFormatIDC     uint8
	SeparateColourPlane bool
	PicWidthInLumaSamps uint32
	PicHeightInLumaSamps uint32
	ConfWinLeft, ConfWinRight, ConfWinTop, ConfWinBottom uint32
	BitDepthLuma   uint8
	BitDepthChroma uint8

	Log2MaxPicOrderCntLsb uint8
	MaxDecPicBuffering    uint32
	MaxNumReorderPics     uint32
	Log2CtbSize           uint32

	ShortTermRPS     []ShortTermRPS
	LongTermRefsPresent bool
	NumLongTermRefPics  uint32
	LtRefPicPocLsb      [32]uint32
	UsedByCurrPicLt     [32]bool
	TemporalMVPEnabled  bool

	GeneralProfileIDC uint8
	GeneralLevelIDC   uint8

	TimingPresent  bool
	NumUnitsInTick uint32
	TimeScale      uint32
}

func (s *SPS) ParamType() paramset.Type { return paramset.TypeH265SPS }
func (s *SPS) ParamID() int32           { return s.ID }

// MaxPicOrderCntLsb returns 2^log2_max_pic_order_cnt_lsb.
func (s *SPS) MaxPicOrderCntLsb() int32 { return 1 << s.Log2MaxPicOrderCntLsb }

// DisplayWidth returns the width after the conformance window.
func (s *SPS) DisplayWidth() int32 {
	sub := uint32(2)
	if s.ChromaFormatIDC == 0 || s.ChromaFormatIDC == 3 {
		sub = 1
	}
	return int32(s.PicWidthInLumaSamps - sub*(s.ConfWinLeft+s.ConfWinRight))
}

// DisplayHeight returns the height after the conformance window.
func (s *SPS) DisplayHeight() int32 {
	sub := uint32(2)
	if s.ChromaFormatIDC == 0 || s.ChromaFormatIDC >= 2 {
		sub = 1
	}
	return int32(s.PicHeightInLumaSamps - sub*(s.ConfWinTop+s.ConfWinBottom))
}

// PicSizeInCtbs returns the picture size in coding tree blocks.
func (s *SPS) PicSizeInCtbs() uint32 {
	if s.Log2CtbSize == 0 {
		return 1
	}
	ctb := uint32(1) << s.Log2CtbSize
	w := (s.PicWidthInLumaSamps + ctb - 1) / ctb
	h := (s.PicHeightInLumaSamps + ctb - 1) / ctb
	return w * h
}

// FrameRate derives the frame rate from VUI timing, if present.
func (s *SPS) FrameRate() video.FrameRate {
	if !s.TimingPresent || s.NumUnitsInTick == 0 {
		return video.FrameRate{}
	}
	return video.FrameRate{Numerator: s.TimeScale, Denominator: s.NumUnitsInTick}
}

// skipProfileTierLevel consumes a profile_tier_level with maxSubLayersMinus1
// sub-layers, keeping only the general profile and level.
func skipProfileTierLevel(r *bits.Reader, s *SPS, maxSubLayersMinus1 uint32) {
	r.U(2) // general_profile_space
	r.Flag()
	profileIDC := r.U(5)
	if s != nil {
		s.GeneralProfileIDC = uint8(profileIDC)
	}
	r.Skip(32) // general_profile_compatibility_flags
	r.Skip(48) // general constraint flags
	levelIDC := r.U(8)
	if s != nil {
		s.GeneralLevelIDC = uint8(levelIDC)
	}

	var profilePresent, levelPresent [8]bool
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = r.Flag()
		levelPresent[i] = r.Flag()
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			r.U(2) // reserved_zero_2bits
		}
	}
	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			r.Skip(88)
		}
		if levelPresent[i] {
			r.U(8)
		}
	}
}

// parseShortTermRPS decodes the st_ref_pic_set at index idx, possibly
// predicted from an earlier set. inSliceHeader is true for the extra set a
// slice header may carry, which alone encodes an explicit predictor index.
func parseShortTermRPS(r *bits.Reader, idx int, sets []ShortTermRPS, inSliceHeader bool) (ShortTermRPS, error) {
	var rps ShortTermRPS
	interPred := false
	if idx != 0 {
		interPred = r.Flag()
	}
	if interPred {
		deltaIdx := uint32(1)
		if inSliceHeader {
			deltaIdx = 1 + r.UE()
		}
		if int(deltaIdx) > idx {
			return rps, video.SyntaxErrorf("h265: st_ref_pic_set delta idx %d out of range", deltaIdx)
		}
		ref := &sets[idx-int(deltaIdx)]
		sign := int32(1)
		if r.Flag() {
			sign = -1
		}
		absDelta := int32(1 + r.UE())
		deltaRPS := sign * absDelta

		n := ref.NumDeltaPocs()
		var s0, s1 []int32
		var u0, u1 []bool
		for j := n; j >= 0; j-- {
			used := r.Flag()
			useDelta := true
			if !used {
				useDelta = r.Flag()
			}
			if !(used || useDelta) {
				continue
			}
			var dPoc int32
			switch {
			case j == n:
				dPoc = deltaRPS
			case j >= int32(ref.NumNegative):
				dPoc = deltaRPS + ref.DeltaPOCS1[j-int32(ref.NumNegative)]
			default:
				dPoc = deltaRPS + ref.DeltaPOCS0[j]
			}
			if dPoc < 0 {
				s0 = append(s0, dPoc)
				u0 = append(u0, used)
			} else if dPoc > 0 {
				s1 = append(s1, dPoc)
				u1 = append(u1, used)
			}
		}
		// Negative deltas come out largest-first; store closest-first.
		sortRPS(s0, u0, true)
		sortRPS(s1, u1, false)
		if len(s0) > 16 || len(s1) > 16 {
			return rps, video.SyntaxErrorf("h265: predicted rps overflows")
		}
		rps.NumNegative = uint32(len(s0))
		rps.NumPositive = uint32(len(s1))
		copy(rps.DeltaPOCS0[:], s0)
		copy(rps.UsedS0[:], u0)
		copy(rps.DeltaPOCS1[:], s1)
		copy(rps.UsedS1[:], u1)
		return rps, r.Err()
	}

	rps.NumNegative = r.UE()
	rps.NumPositive = r.UE()
	if r.Err() == nil && (rps.NumNegative > 16 || rps.NumPositive > 16) {
		return rps, video.SyntaxErrorf("h265: st_ref_pic_set with %d/%d pics out of range",
			rps.NumNegative, rps.NumPositive)
	}
	prev := int32(0)
	for i := uint32(0); i < rps.NumNegative; i++ {
		prev -= int32(1 + r.UE())
		rps.DeltaPOCS0[i] = prev
		rps.UsedS0[i] = r.Flag()
	}
	prev = 0
	for i := uint32(0); i < rps.NumPositive; i++ {
		prev += int32(1 + r.UE())
		rps.DeltaPOCS1[i] = prev
		rps.UsedS1[i] = r.Flag()
	}
	return rps, r.Err()
}

// sortRPS orders delta POCs closest-to-current first (descending for the
// negative half, ascending for the positive half).
func sortRPS(deltas []int32, used []bool, negative bool) {
	for i := 1; i < len(deltas); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if negative {
				swap = deltas[j] > deltas[j-1]
			} else {
				swap = deltas[j] < deltas[j-1]
			}
			if !swap {
				break
			}
			deltas[j], deltas[j-1] = deltas[j-1], deltas[j]
			used[j], used[j-1] = used[j-1], used[j]
		}
	}
}

// ParseSPS parses a seq_parameter_set_rbsp. rbsp excludes the 2-byte NAL
// header and has emulation prevention removed.
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{}

	s.VPSID = int32(r.U(4))
	maxSubLayersMinus1 := r.U(3)
	r.Flag() // sps_temporal_id_nesting_flag
	skipProfileTierLevel(r, s, maxSubLayersMinus1)

	id := r.UE()
	if r.Err() == nil && id > 15 {
		return nil, video.SyntaxErrorf("h265: sps id %d out of range", id)
	}
	s.ID = int32(id)

	s.ChromaFormatIDC = uint8(r.UE())
	if r.Err() == nil && s.ChromaFormatIDC > 3 {
		return nil, video.SyntaxErrorf("h265: chroma_format_idc %d out of range", s.ChromaFormatIDC)
	}
	if s.ChromaFormatIDC == 3 {
		s.SeparateColourPlane = r.Flag()
	}
	s.PicWidthInLumaSamps = r.UE()
	s.PicHeightInLumaSamps = r.UE()
	if r.Flag() { // conformance_window_flag
		s.ConfWinLeft = r.UE()
		s.ConfWinRight = r.UE()
		s.ConfWinTop = r.UE()
		s.ConfWinBottom = r.UE()
	}
	s.BitDepthLuma = uint8(8 + r.UE())
	s.BitDepthChroma = uint8(8 + r.UE())
	s.Log2MaxPicOrderCntLsb = uint8(4 + r.UE())
	if r.Err() == nil && s.Log2MaxPicOrderCntLsb > 16 {
		return nil, video.SyntaxErrorf("h265: log2_max_pic_order_cnt_lsb %d out of range", s.Log2MaxPicOrderCntLsb)
	}

	subLayerOrdering := r.Flag()
	start := uint32(0)
	if !subLayerOrdering {
		start = maxSubLayersMinus1
	}
	for i := start; i <= maxSubLayersMinus1; i++ {
		s.MaxDecPicBuffering = 1 + r.UE()
		s.MaxNumReorderPics = r.UE()
		r.UE() // sps_max_latency_increase_plus1
	}

	log2MinCb := 3 + r.UE()
	s.Log2CtbSize = log2MinCb + r.UE()
	r.UE() // log2_min_luma_transform_block_size_minus2
	r.UE() // log2_diff_max_min_luma_transform_block_size
	r.UE() // max_transform_hierarchy_depth_inter
	r.UE() // max_transform_hierarchy_depth_intra

	if r.Flag() { // scaling_list_enabled_flag
		if r.Flag() { // sps_scaling_list_data_present_flag
			skipScalingListData(r)
		}
	}
	r.Flag() // amp_enabled_flag
	r.Flag() // sample_adaptive_offset_enabled_flag
	if r.Flag() { // pcm_enabled_flag
		r.U(4)
		r.U(4)
		r.UE()
		r.UE()
		r.Flag()
	}

	numSets := r.UE()
	if r.Err() == nil && numSets > 64 {
		return nil, video.SyntaxErrorf("h265: %d short-term rps sets out of range", numSets)
	}
	s.ShortTermRPS = make([]ShortTermRPS, 0, numSets)
	for i := 0; i < int(numSets); i++ {
		rps, err := parseShortTermRPS(r, i, s.ShortTermRPS, false)
		if err != nil {
			return nil, err
		}
		s.ShortTermRPS = append(s.ShortTermRPS, rps)
	}

	s.LongTermRefsPresent = r.Flag()
	if s.LongTermRefsPresent {
		n := r.UE()
		if r.Err() == nil && n > 32 {
			return nil, video.SyntaxErrorf("h265: num_long_term_ref_pics_sps %d out of range", n)
		}
		s.NumLongTermRefPics = n
		for i := uint32(0); i < n; i++ {
			s.LtRefPicPocLsb[i] = r.U(int(s.Log2MaxPicOrderCntLsb))
			s.UsedByCurrPicLt[i] = r.Flag()
		}
	}
	s.TemporalMVPEnabled = r.Flag()
	r.Flag() // strong_intra_smoothing_enabled_flag
	if r.Flag() { // vui_parameters_present_flag
		parseVUI(r, s)
	}

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h265: sps: %v", err)
	}
	return s, nil
}

func skipScalingListData(r *bits.Reader) {
	for sizeID := 0; sizeID < 4; sizeID++ {
		matrices := 6
		if sizeID == 3 {
			matrices = 2
		}
		for m := 0; m < matrices && r.Err() == nil; m++ {
			if !r.Flag() { // scaling_list_pred_mode_flag
				r.UE() // scaling_list_pred_matrix_id_delta
				continue
			}
			coefs := 64
			if sizeID == 0 {
				coefs = 16
			}
			if sizeID > 1 {
				r.SE() // scaling_list_dc_coef_minus8
			}
			for i := 0; i < coefs; i++ {
				r.SE()
			}
		}
	}
}

func parseVUI(r *bits.Reader, s *SPS) {
	if r.Flag() { // aspect_ratio_info_present_flag
		if r.U(8) == 255 {
			r.Skip(32)
		}
	}
	if r.Flag() { // overscan_info_present_flag
		r.Flag()
	}
	if r.Flag() { // video_signal_type_present_flag
		r.Skip(4)
		if r.Flag() {
			r.Skip(24)
		}
	}
	if r.Flag() { // chroma_loc_info_present_flag
		r.UE()
		r.UE()
	}
	r.Flag() // neutral_chroma_indication_flag
	r.Flag() // field_seq_flag
	r.Flag() // frame_field_info_present_flag
	if r.Flag() { // default_display_window_flag
		r.UE()
		r.UE()
		r.UE()
		r.UE()
	}
	if r.Flag() { // vui_timing_info_present_flag
		s.TimingPresent = true
		s.NumUnitsInTick = r.U(32)
		s.TimeScale = r.U(32)
		if r.Flag() { // vui_poc_proportional_to_timing_flag
			r.UE()
		}
		if r.Flag() { // vui_hrd_parameters_present_flag
			// HRD carries nothing this core needs and ends the fields we
			// read; stop here.
			return
		}
	}
}
