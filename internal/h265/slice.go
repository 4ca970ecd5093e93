package h265

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/video"
)

// longTermEntry is one long-term reference declared by a slice header.
type longTermEntry struct {
	pocLsb      int32
	usedByCurr  bool
	msbPresent  bool
	deltaMsbCyc int32
}

// sliceHeader holds the slice_segment_header fields the session needs,
// through the reference picture set and long-term declarations.
type sliceHeader struct {
	firstSlice          bool
	dependent           bool
	noOutputOfPriorPics bool
	ppsID               int32
	sliceType           uint32
	picOrderCntLsb      int32

	rps               ShortTermRPS
	rpsFromSlice      bool
	numBitsShortTermRPS int32
	numDeltaPocsOfRefRpsIdx int32

	longTerm []longTermEntry
}

func ceilLog2(n uint32) int {
	b := 0
	for (1 << b) < int(n) {
		b++
	}
	return b
}

// parseSliceHeader reads a slice_segment_header up to the point the session
// needs. rbsp excludes the 2-byte NAL header; nalType selects the IRAP and
// IDR paths. Dependent slice segments return with dependent set and nothing
// else parsed.
func parseSliceHeader(rbsp []byte, sps *SPS, pps *PPS, nalType uint8) (*sliceHeader, error) {
	r := bits.NewReader(rbsp)
	h := &sliceHeader{}

	h.firstSlice = r.Flag()
	if isIRAP(nalType) {
		h.noOutputOfPriorPics = r.Flag()
	}
	h.ppsID = int32(r.UE())

	if !h.firstSlice {
		if pps.DependentSliceSegments {
			h.dependent = r.Flag()
		}
		r.U(ceilLog2(sps.PicSizeInCtbs())) // slice_segment_address
	}
	if h.dependent {
		return h, r.Err()
	}

	for i := uint8(0); i < pps.NumExtraSliceHeaderBits; i++ {
		r.Flag()
	}
	h.sliceType = r.UE()
	if r.Err() == nil && h.sliceType > 2 {
		return nil, video.SyntaxErrorf("h265: slice_type %d out of range", h.sliceType)
	}
	if pps.OutputFlagPresent {
		r.Flag() // pic_output_flag
	}
	if sps.SeparateColourPlane {
		r.U(2)
	}

	if !isIDR(nalType) {
		h.picOrderCntLsb = int32(r.U(int(sps.Log2MaxPicOrderCntLsb)))
		fromSPS := r.Flag() // short_term_ref_pic_set_sps_flag
		if !fromSPS {
			h.rpsFromSlice = true
			before := r.BitsConsumed()
			rps, err := parseShortTermRPS(r, len(sps.ShortTermRPS), sps.ShortTermRPS, true)
			if err != nil {
				return nil, err
			}
			h.rps = rps
			h.numBitsShortTermRPS = int32(r.BitsConsumed() - before)
		} else if len(sps.ShortTermRPS) > 0 {
			idx := 0
			if len(sps.ShortTermRPS) > 1 {
				idx = int(r.U(ceilLog2(uint32(len(sps.ShortTermRPS)))))
			}
			if r.Err() == nil && idx >= len(sps.ShortTermRPS) {
				return nil, video.SyntaxErrorf("h265: short_term_ref_pic_set_idx %d out of range", idx)
			}
			if r.Err() == nil {
				h.rps = sps.ShortTermRPS[idx]
				h.numDeltaPocsOfRefRpsIdx = h.rps.NumDeltaPocs()
			}
		}

		if sps.LongTermRefsPresent {
			numLtSPS := uint32(0)
			if sps.NumLongTermRefPics > 0 {
				numLtSPS = r.UE()
			}
			numLtPics := r.UE()
			if r.Err() == nil && numLtSPS+numLtPics > 32 {
				return nil, video.SyntaxErrorf("h265: %d long-term references out of range", numLtSPS+numLtPics)
			}
			for i := uint32(0); i < numLtSPS+numLtPics && r.Err() == nil; i++ {
				var e longTermEntry
				if i < numLtSPS {
					idx := uint32(0)
					if sps.NumLongTermRefPics > 1 {
						idx = r.U(ceilLog2(sps.NumLongTermRefPics))
					}
					if idx < sps.NumLongTermRefPics {
						e.pocLsb = int32(sps.LtRefPicPocLsb[idx])
						e.usedByCurr = sps.UsedByCurrPicLt[idx]
					}
				} else {
					e.pocLsb = int32(r.U(int(sps.Log2MaxPicOrderCntLsb)))
					e.usedByCurr = r.Flag()
				}
				e.msbPresent = r.Flag()
				if e.msbPresent {
					e.deltaMsbCyc = int32(r.UE())
				}
				h.longTerm = append(h.longTerm, e)
			}
		}
	}

	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("h265: slice header: %v", err)
	}
	return h, nil
}
