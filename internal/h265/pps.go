package h265

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// PPS is a parsed picture parameter set, carrying the fields slice-header
// parsing depends on.
type PPS struct {
	ID    int32
	SPSID int32

	DependentSliceSegments bool
	OutputFlagPresent      bool
	NumExtraSliceHeaderBits uint8
	CabacInitPresent       bool
	NumRefIdxL0Default     uint32
	NumRefIdxL1Default     uint32
	SliceChromaQPOffsets   bool
	WeightedPred           bool
	WeightedBipred         bool
	TilesEnabled           bool
	EntropyCodingSync      bool
	SliceSegmentHeaderExt  bool
	LoopFilterAcrossSlices bool
	DeblockingOverride     bool
	DeblockingDisabled     bool
	ListsModificationPresent bool
	Log2ParallelMergeLevel uint32
}

func (p *PPS) ParamType() paramset.Type { return paramset.TypeH265PPS }
func (p *PPS) ParamID() int32           { return p.ID }

// ParsePPS parses a pic_parameter_set_rbsp. rbsp excludes the 2-byte NAL
// header and has emulation prevention removed.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}

	id := r.UE()
	if r.Err() == nil && id > 63 {
		return nil, video.SyntaxErrorf("h265: pps id %d out of range", id)
	}
	p.ID = int32(id)
	spsID := r.UE()
	if r.Err() == nil && spsID > 15 {
		return nil, video.SyntaxErrorf("h265: pps references sps %d out of range", spsID)
	}
	p.SPSID = int32(spsID)

	p.DependentSliceSegments = r.Flag()
	p.OutputFlagPresent = r.Flag()
	p.NumExtraSliceHeaderBits = uint8(r.U(3))
	r.Flag() // sign_data_hiding_enabled_flag
	p.CabacInitPresent = r.Flag()
	p.NumRefIdxL0Default = 1 + r.UE()
	p.NumRefIdxL1Default = 1 + r.UE()
	r.SE() // init_qp_minus26
	r.Flag()
	r.Flag()
	if r.Flag() { // cu_qp_delta_enabled_flag
		r.UE()
	}
	r.SE() // pps_cb_qp_offset
	r.SE() // pps_cr_qp_offset
	p.SliceChromaQPOffsets = r.Flag()
	p.WeightedPred = r.Flag()
	p.WeightedBipred = r.Flag()
	r.Flag() // transquant_bypass_enabled_flag
	p.TilesEnabled = r.Flag()
	p.EntropyCodingSync = r.Flag()
	if p.TilesEnabled {
		cols := 1 + r.UE()
		rows := 1 + r.UE()
		if !r.Flag() { // uniform_spacing_flag
			for i := uint32(1); i < cols && r.Err() == nil; i++ {
				r.UE()
			}
			for i := uint32(1); i < rows && r.Err() == nil; i++ {
				r.UE()
			}
		}
		r.Flag() // loop_filter_across_tiles_enabled_flag
	}
	p.LoopFilterAcrossSlices = r.Flag()
	if r.Flag() { // deblocking_filter_control_present_flag
		p.DeblockingOverride = r.Flag()
		p.DeblockingDisabled = r.Flag()
		if !p.DeblockingDisabled {
			r.SE()
			r.SE()
		}
	}
	if r.Flag() { // pps_scaling_list_data_present_flag
		skipScalingListData(r)
	}
	p.ListsModificationPresent = r.Flag()
	p.Log2ParallelMergeLevel = 2 + r.UE()
	p.SliceSegmentHeaderExt = r.Flag()

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h265: pps: %v", err)
	}
	return p, nil
}
