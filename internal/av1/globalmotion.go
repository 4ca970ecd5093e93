package av1

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/video"
)

// Global motion parameter precision, in WARPEDMODEL fractional bits.
const (
	warpedModelPrecBits = 16

	gmAbsAlphaBits     = 12
	gmAlphaPrecBits    = 15
	gmAbsTransBits     = 12
	gmTransPrecBits    = 6
	gmAbsTransOnlyBits = 9
	gmTransOnlyPrecBits = 3
)

// parseGlobalMotion reads global_motion_params for an inter frame. Each
// model is coded as a subexponential delta against the primary reference
// frame's model, or the identity model when there is no primary reference.
func (p *Parser) parseGlobalMotion(r *bits.Reader, pd *video.AV1PictureData) {
	var prev [video.AV1RefsPerFrame]video.AV1GlobalMotion
	for i := range prev {
		prev[i] = video.AV1DefaultGlobalMotion()
	}
	if pd.PrimaryRefFrame != video.AV1PrimaryRefNone {
		if slot := p.refs[pd.RefFrameIdx[pd.PrimaryRefFrame]]; slot != nil {
			prev = slot.globalMotion
		}
	}

	for ref := 0; ref < video.AV1RefsPerFrame; ref++ {
		gm := &pd.GlobalMotion[ref]
		if !r.Flag() { // is_global
			continue
		}
		if r.Flag() { // is_rot_zoom
			gm.WarpType = video.AV1WarpRotZoom
		} else if r.Flag() { // is_translation
			gm.WarpType = video.AV1WarpTranslation
		} else {
			gm.WarpType = video.AV1WarpAffine
		}

		if gm.WarpType >= video.AV1WarpRotZoom {
			readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 2)
			readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 3)
			if gm.WarpType == video.AV1WarpAffine {
				readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 4)
				readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 5)
			} else {
				gm.Params[4] = -gm.Params[3]
				gm.Params[5] = gm.Params[2]
			}
		}
		readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 0)
		readGlobalParam(r, gm, &prev[ref], pd.AllowHighPrecisionMV, 1)
	}
}

func readGlobalParam(r *bits.Reader, gm *video.AV1GlobalMotion, prev *video.AV1GlobalMotion, allowHP bool, idx int) {
	absBits := gmAbsAlphaBits
	precBits := gmAlphaPrecBits
	if idx < 2 {
		if gm.WarpType == video.AV1WarpTranslation {
			absBits = gmAbsTransOnlyBits
			precBits = gmTransOnlyPrecBits
			if !allowHP {
				absBits--
				precBits--
			}
		} else {
			absBits = gmAbsTransBits
			precBits = gmTransPrecBits
		}
	}

	precDiff := warpedModelPrecBits - precBits
	var round, sub int32
	if idx%3 == 2 {
		round = 1 << warpedModelPrecBits
		sub = 1 << precBits
	}
	mx := int32(1) << absBits
	ref := (prev.Params[idx] >> precDiff) - sub

	gm.Params[idx] = (decodeSignedSubexpWithRef(r, -mx, mx+1, ref) << precDiff) + round
}

func decodeSignedSubexpWithRef(r *bits.Reader, low, high, ref int32) int32 {
	return decodeUnsignedSubexpWithRef(r, high-low, ref-low) + low
}

func decodeUnsignedSubexpWithRef(r *bits.Reader, mx, ref int32) int32 {
	v := decodeSubexp(r, mx)
	if ref<<1 <= mx {
		return inverseRecenter(ref, v)
	}
	return mx - 1 - inverseRecenter(mx-1-ref, v)
}

func decodeSubexp(r *bits.Reader, numSyms int32) int32 {
	const k = 3
	i := int32(0)
	mk := int32(0)
	for {
		b2 := int32(k)
		if i > 0 {
			b2 = k + i - 1
		}
		a := int32(1) << b2
		if numSyms <= mk+3*a {
			return int32(r.NS(uint32(numSyms-mk))) + mk
		}
		if !r.Flag() {
			return int32(r.U(int(b2))) + mk
		}
		i++
		mk += a
	}
}

func inverseRecenter(ref, v int32) int32 {
	switch {
	case v > 2*ref:
		return v
	case v&1 != 0:
		return ref + (v+1)>>1
	default:
		return ref - v>>1
	}
}
