package h265

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// VPS is a parsed video parameter set. The decode path needs little of it;
// it is cached for change detection and forwarded to the backend.
type VPS struct {
	ID                 int32
	MaxLayers          uint32
	MaxSubLayers       uint32
	MaxDecPicBuffering uint32
	MaxNumReorderPics  uint32

	TimingPresent  bool
	NumUnitsInTick uint32
	TimeScale      uint32
}

func (v *VPS) ParamType() paramset.Type { return paramset.TypeH265VPS }
func (v *VPS) ParamID() int32           { return v.ID }

// ParseVPS parses a video_parameter_set_rbsp. rbsp excludes the 2-byte NAL
// header and has emulation prevention removed.
func ParseVPS(rbsp []byte) (*VPS, error) {
	r := bits.NewReader(rbsp)
	v := &VPS{}

	v.ID = int32(r.U(4))
	r.U(2) // vps_base_layer_internal/available
	v.MaxLayers = 1 + r.U(6)
	maxSubLayersMinus1 := r.U(3)
	v.MaxSubLayers = maxSubLayersMinus1 + 1
	r.Flag()   // vps_temporal_id_nesting_flag
	r.Skip(16) // vps_reserved_0xffff_16bits
	skipProfileTierLevel(r, nil, maxSubLayersMinus1)

	subLayerOrdering := r.Flag()
	start := uint32(0)
	if !subLayerOrdering {
		start = maxSubLayersMinus1
	}
	for i := start; i <= maxSubLayersMinus1; i++ {
		v.MaxDecPicBuffering = 1 + r.UE()
		v.MaxNumReorderPics = r.UE()
		r.UE()
	}

	maxLayerID := r.U(6)
	numLayerSets := 1 + r.UE()
	for i := uint32(1); i < numLayerSets && r.Err() == nil; i++ {
		for j := uint32(0); j <= maxLayerID; j++ {
			r.Flag() // layer_id_included_flag
		}
	}
	if r.Flag() { // vps_timing_info_present_flag
		v.TimingPresent = true
		v.NumUnitsInTick = r.U(32)
		v.TimeScale = r.U(32)
	}

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h265: vps: %v", err)
	}
	return v, nil
}
