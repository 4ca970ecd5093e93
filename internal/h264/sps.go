// Package h264 parses H.264 elementary streams: NAL segmentation, SPS/PPS
// activation, slice headers, picture-order-count derivation and reference
// marking, driving the backend one picture at a time.
package h264

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// NAL unit types (nal_unit_type, 5 bits).
const (
	nalTypeSliceNonIDR = 1
	nalTypeSlicePartA  = 2
	nalTypeSliceIDR    = 5
	nalTypeSEI         = 6
	nalTypeSPS         = 7
	nalTypePPS         = 8
	nalTypeAUD         = 9
	nalTypeEndOfSeq    = 10
	nalTypeEndOfStream = 11
)

// Slice types after mod 5.
const (
	sliceTypeP = 0
	sliceTypeB = 1
	sliceTypeI = 2
	sliceTypeSP = 3
	sliceTypeSI = 4
)

const maxSPSID = 31

// SPS is a parsed sequence parameter set.
type SPS struct {
	ID              int32
	ProfileIDC      uint8
	ConstraintFlags uint8
	LevelIDC        uint8

	ChromaFormatIDC     uint8
	SeparateColourPlane bool
	BitDepthLuma        uint8
	BitDepthChroma      uint8

	Log2MaxFrameNum         uint8
	PicOrderCntType         uint8
	Log2MaxPicOrderCntLsb   uint8
	DeltaPicOrderAlwaysZero bool
	OffsetForNonRefPic      int32
	OffsetForTopToBottom    int32
	OffsetsForRefFrame      []int32

	MaxNumRefFrames       uint32
	GapsInFrameNumAllowed bool

	PicWidthInMbs        uint32
	PicHeightInMapUnits  uint32
	FrameMbsOnly         bool
	MbAdaptiveFrameField bool
	Direct8x8Inference   bool

	CropLeft, CropRight, CropTop, CropBottom uint32

	// VUI subset the session uses.
	TimingPresent    bool
	NumUnitsInTick   uint32
	TimeScale        uint32
	MaxNumReorder    uint32
	MaxDecFrameBuf   uint32
	RestrictionFlags bool
}

func (s *SPS) ParamType() paramset.Type { return paramset.TypeH264SPS }
func (s *SPS) ParamID() int32           { return s.ID }

// CodedWidth returns the luma width in samples before cropping.
func (s *SPS) CodedWidth() int32 { return int32(s.PicWidthInMbs) * 16 }

// CodedHeight returns the luma height in samples before cropping.
func (s *SPS) CodedHeight() int32 {
	h := int32(s.PicHeightInMapUnits) * 16
	if !s.FrameMbsOnly {
		h *= 2
	}
	return h
}

// DisplayWidth returns the width after cropping.
func (s *SPS) DisplayWidth() int32 {
	cropX := int32(2)
	if s.ChromaFormatIDC == 3 || s.ChromaFormatIDC == 0 {
		cropX = 1
	}
	return s.CodedWidth() - cropX*int32(s.CropLeft+s.CropRight)
}

// DisplayHeight returns the height after cropping.
func (s *SPS) DisplayHeight() int32 {
	cropY := int32(2)
	if s.ChromaFormatIDC == 3 || s.ChromaFormatIDC == 0 {
		cropY = 1
	}
	if !s.FrameMbsOnly {
		cropY *= 2
	}
	return s.CodedHeight() - cropY*int32(s.CropTop+s.CropBottom)
}

// MaxFrameNum returns 2^log2_max_frame_num.
func (s *SPS) MaxFrameNum() int32 { return 1 << s.Log2MaxFrameNum }

// MaxPicOrderCntLsb returns 2^log2_max_pic_order_cnt_lsb.
func (s *SPS) MaxPicOrderCntLsb() int32 { return 1 << s.Log2MaxPicOrderCntLsb }

// FrameRate derives the frame rate from VUI timing, if present.
func (s *SPS) FrameRate() video.FrameRate {
	if !s.TimingPresent || s.NumUnitsInTick == 0 {
		return video.FrameRate{}
	}
	// Field-based timing: a frame spans two ticks.
	return video.FrameRate{Numerator: s.TimeScale, Denominator: 2 * s.NumUnitsInTick}
}

func hasChromaArrayType(profileIDC uint32) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// ParseSPS parses a seq_parameter_set_rbsp. rbsp excludes the NAL header
// byte and has emulation prevention removed.
func ParseSPS(rbsp []byte) (*SPS, error) {
	r := bits.NewReader(rbsp)
	s := &SPS{
		ChromaFormatIDC: 1,
		BitDepthLuma:    8,
		BitDepthChroma:  8,
	}

	profileIDC := r.U(8)
	s.ProfileIDC = uint8(profileIDC)
	s.ConstraintFlags = uint8(r.U(8))
	s.LevelIDC = uint8(r.U(8))

	id := r.UE()
	if r.Err() == nil && id > maxSPSID {
		return nil, video.SyntaxErrorf("h264: sps id %d out of range", id)
	}
	s.ID = int32(id)

	if hasChromaArrayType(profileIDC) {
		s.ChromaFormatIDC = uint8(r.UE())
		if s.ChromaFormatIDC > 3 {
			return nil, video.SyntaxErrorf("h264: chroma_format_idc %d out of range", s.ChromaFormatIDC)
		}
		if s.ChromaFormatIDC == 3 {
			s.SeparateColourPlane = r.Flag()
		}
		s.BitDepthLuma = uint8(8 + r.UE())
		s.BitDepthChroma = uint8(8 + r.UE())
		r.Flag() // qpprime_y_zero_transform_bypass_flag
		if r.Flag() {
			limit := 8
			if s.ChromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				if r.Flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	s.Log2MaxFrameNum = uint8(4 + r.UE())
	s.PicOrderCntType = uint8(r.UE())
	switch s.PicOrderCntType {
	case 0:
		s.Log2MaxPicOrderCntLsb = uint8(4 + r.UE())
	case 1:
		s.DeltaPicOrderAlwaysZero = r.Flag()
		s.OffsetForNonRefPic = r.SE()
		s.OffsetForTopToBottom = r.SE()
		n := r.UE()
		if r.Err() == nil && n > 255 {
			return nil, video.SyntaxErrorf("h264: num_ref_frames_in_pic_order_cnt_cycle %d out of range", n)
		}
		s.OffsetsForRefFrame = make([]int32, n)
		for i := range s.OffsetsForRefFrame {
			s.OffsetsForRefFrame[i] = r.SE()
		}
	case 2:
	default:
		return nil, video.SyntaxErrorf("h264: pic_order_cnt_type %d out of range", s.PicOrderCntType)
	}

	s.MaxNumRefFrames = r.UE()
	s.GapsInFrameNumAllowed = r.Flag()
	s.PicWidthInMbs = 1 + r.UE()
	s.PicHeightInMapUnits = 1 + r.UE()
	s.FrameMbsOnly = r.Flag()
	if !s.FrameMbsOnly {
		s.MbAdaptiveFrameField = r.Flag()
	}
	s.Direct8x8Inference = r.Flag()
	if r.Flag() {
		s.CropLeft = r.UE()
		s.CropRight = r.UE()
		s.CropTop = r.UE()
		s.CropBottom = r.UE()
	}
	if r.Flag() {
		parseVUI(r, s)
	}
	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h264: sps: %v", err)
	}
	if s.MaxNumRefFrames > 16 {
		return nil, video.SyntaxErrorf("h264: max_num_ref_frames %d out of range", s.MaxNumRefFrames)
	}
	return s, nil
}

func skipScalingList(r *bits.Reader, size int) {
	lastScale, nextScale := int32(8), int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			nextScale = (lastScale + r.SE() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

func parseVUI(r *bits.Reader, s *SPS) {
	if r.Flag() { // aspect_ratio_info_present_flag
		if r.U(8) == 255 {
			r.Skip(32) // sar_width, sar_height
		}
	}
	if r.Flag() { // overscan_info_present_flag
		r.Flag()
	}
	if r.Flag() { // video_signal_type_present_flag
		r.Skip(4)
		if r.Flag() { // colour_description_present_flag
			r.Skip(24)
		}
	}
	if r.Flag() { // chroma_loc_info_present_flag
		r.UE()
		r.UE()
	}
	if r.Flag() { // timing_info_present_flag
		s.TimingPresent = true
		s.NumUnitsInTick = r.U(32)
		s.TimeScale = r.U(32)
		r.Flag() // fixed_frame_rate_flag
	}
	nalHRD := r.Flag()
	if nalHRD {
		skipHRD(r)
	}
	vclHRD := r.Flag()
	if vclHRD {
		skipHRD(r)
	}
	if nalHRD || vclHRD {
		r.Flag() // low_delay_hrd_flag
	}
	r.Flag() // pic_struct_present_flag
	if r.Flag() { // bitstream_restriction_flag
		r.Flag()
		r.UE()
		r.UE()
		r.UE()
		r.UE()
		s.RestrictionFlags = true
		s.MaxNumReorder = r.UE()
		s.MaxDecFrameBuf = r.UE()
	}
}

func skipHRD(r *bits.Reader) {
	cpbCnt := 1 + r.UE()
	r.Skip(8) // bit_rate_scale, cpb_size_scale
	for i := uint32(0); i < cpbCnt && r.Err() == nil; i++ {
		r.UE()
		r.UE()
		r.Flag()
	}
	r.Skip(20) // delay length fields
}
