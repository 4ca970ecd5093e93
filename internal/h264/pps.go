package h264

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

const maxPPSID = 255

// PPS is a parsed picture parameter set.
type PPS struct {
	ID    int32
	SPSID int32

	EntropyCodingMode       bool
	BottomFieldPOCInFrame   bool
	NumSliceGroups          uint32
	NumRefIdxL0Default      uint32
	NumRefIdxL1Default      uint32
	WeightedPred            bool
	WeightedBipredIDC       uint8
	PicInitQP               int32
	ChromaQPIndexOffset     int32
	DeblockingControlPresent bool
	ConstrainedIntraPred    bool
	RedundantPicCntPresent  bool

	Transform8x8Mode          bool
	SecondChromaQPIndexOffset int32
}

func (p *PPS) ParamType() paramset.Type { return paramset.TypeH264PPS }
func (p *PPS) ParamID() int32           { return p.ID }

// ParsePPS parses a pic_parameter_set_rbsp. rbsp excludes the NAL header
// byte and has emulation prevention removed.
func ParsePPS(rbsp []byte) (*PPS, error) {
	r := bits.NewReader(rbsp)
	p := &PPS{}

	id := r.UE()
	if r.Err() == nil && id > maxPPSID {
		return nil, video.SyntaxErrorf("h264: pps id %d out of range", id)
	}
	p.ID = int32(id)
	spsID := r.UE()
	if r.Err() == nil && spsID > maxSPSID {
		return nil, video.SyntaxErrorf("h264: pps references sps %d out of range", spsID)
	}
	p.SPSID = int32(spsID)

	p.EntropyCodingMode = r.Flag()
	p.BottomFieldPOCInFrame = r.Flag()
	p.NumSliceGroups = 1 + r.UE()
	if r.Err() == nil && p.NumSliceGroups > 1 {
		// FMO slice groups are baseline-only territory and not supported by
		// any decode backend this core targets.
		return nil, video.SyntaxErrorf("h264: %d slice groups unsupported", p.NumSliceGroups)
	}
	p.NumRefIdxL0Default = 1 + r.UE()
	p.NumRefIdxL1Default = 1 + r.UE()
	p.WeightedPred = r.Flag()
	p.WeightedBipredIDC = uint8(r.U(2))
	p.PicInitQP = 26 + r.SE()
	r.SE() // pic_init_qs_minus26
	p.ChromaQPIndexOffset = r.SE()
	p.DeblockingControlPresent = r.Flag()
	p.ConstrainedIntraPred = r.Flag()
	p.RedundantPicCntPresent = r.Flag()

	// Optional High-profile extension.
	if r.Err() == nil && r.MoreRBSPData() {
		p.Transform8x8Mode = r.Flag()
		if r.Flag() { // pic_scaling_matrix_present_flag
			lists := 6
			if p.Transform8x8Mode {
				lists = 8
			}
			for i := 0; i < lists && r.Err() == nil; i++ {
				if r.Flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
		p.SecondChromaQPIndexOffset = r.SE()
	}

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h264: pps: %v", err)
	}
	return p, nil
}
