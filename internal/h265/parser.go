package h265

import (
	"log/slog"

	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/dpb"
	"github.com/zsiec/refract/internal/nal"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// Options configures an H.265 session.
type Options struct {
	Logger *slog.Logger
	// LengthSize selects length-prefixed framing (1, 2 or 4 byte prefixes);
	// zero means Annex B start codes.
	LengthSize int
	// ClockRate is the timestamp tick rate; zero means 90 kHz.
	ClockRate int64
}

// Parser is one H.265 decode session. Not safe for concurrent use.
type Parser struct {
	video.Base

	opts  Options
	cache *paramset.Cache
	mgr   *dpb.Manager

	sps *SPS
	pps *PPS

	cur   *pendingPicture
	store []*refFrame
	out   video.ReorderQueue

	prevPocMsb   int32
	prevPocLsb   int32
	seenPicture  bool
	pictureCount int32
}

// refFrame is one decoded picture the reference picture sets keep alive.
type refFrame struct {
	pic        video.PictureBuffer
	poc        int32
	isLongTerm bool
}

type pendingPicture struct {
	sps     *SPS
	pps     *PPS
	hdr     *sliceHeader
	nalType uint8

	bitstream    []byte
	sliceOffsets []int32
}

var startCode = []byte{0, 0, 1}

// New returns an H.265 session over the backend.
func New(backend video.Backend, opts Options) *Parser {
	p := &Parser{opts: opts}
	p.InitBase(backend, opts.Logger)
	p.ClockRate = opts.ClockRate
	p.cache = paramset.NewCache(backend.UpdatePictureParameters)
	p.mgr = dpb.NewManager(video.H265MaxDpbSlots, p.Log)
	return p
}

// ParsePacket consumes one packet of the elementary stream.
func (p *Parser) ParsePacket(pkt *video.Packet) error {
	p.MarkPacket(pkt)
	if pkt.Discontinuity {
		if p.cur != nil {
			p.Log.Warn("dropping incomplete picture at discontinuity")
			p.cur = nil
		}
		if err := p.out.Flush(p.display); err != nil {
			return err
		}
	}

	var units []nal.Unit
	if p.opts.LengthSize > 0 {
		var err error
		units, err = nal.SplitLengthPrefixed(pkt.Data, p.opts.LengthSize, 2)
		if err != nil {
			return video.SyntaxErrorf("h265: %v", err)
		}
	} else {
		units = nal.SplitAnnexB(pkt.Data, 2)
	}
	for _, u := range units {
		if err := p.handleUnit(u); err != nil {
			return err
		}
	}
	p.Advance(len(pkt.Data))

	if pkt.EndOfPicture {
		if err := p.finishPicture(); err != nil {
			return err
		}
	}
	if pkt.EndOfStream {
		return p.EndOfStream()
	}
	return nil
}

// EndOfStream completes the pending picture and drains the display queue.
func (p *Parser) EndOfStream() error {
	if err := p.finishPicture(); err != nil {
		return err
	}
	return p.out.Flush(p.display)
}

func (p *Parser) display(pic video.PictureBuffer, pts int64, valid bool) error {
	return p.DisplayPicture(pic, pts, valid)
}

func (p *Parser) handleUnit(u nal.Unit) error {
	b0, b1 := u.Data[0], u.Data[1]
	if b0&0x80 != 0 {
		return video.SyntaxErrorf("h265: forbidden_zero_bit set in nal header 0x%02x", b0)
	}
	typ := (b0 >> 1) & 0x3f
	layerID := (b0&1)<<5 | b1>>3
	if b1&0x07 == 0 {
		return video.SyntaxErrorf("h265: nuh_temporal_id_plus1 is zero")
	}
	if layerID != 0 {
		p.Log.Debug("ignoring non-base layer nal", "layer_id", layerID, "nal_type", typ)
		return nil
	}

	switch {
	case typ == nalTypeVPS:
		v, err := ParseVPS(bits.RemoveEmulationPrevention(u.Data[2:]))
		if err != nil {
			return err
		}
		_, err = p.cache.Put(v)
		return err
	case typ == nalTypeSPS:
		s, err := ParseSPS(bits.RemoveEmulationPrevention(u.Data[2:]))
		if err != nil {
			return err
		}
		_, err = p.cache.Put(s)
		return err
	case typ == nalTypePPS:
		pps, err := ParsePPS(bits.RemoveEmulationPrevention(u.Data[2:]))
		if err != nil {
			return err
		}
		_, err = p.cache.Put(pps)
		return err
	case typ == nalTypeAUD, typ == nalTypeEOS, typ == nalTypeEOB:
		return p.finishPicture()
	case isSliceType(typ):
		return p.handleSlice(u.Data, typ)
	default:
		p.Log.Debug("ignoring nal unit", "nal_type", typ)
		return nil
	}
}

func (p *Parser) handleSlice(data []byte, nalType uint8) error {
	rbsp := bits.RemoveEmulationPrevention(data[2:])

	peek := bits.NewReader(rbsp)
	peek.Flag() // first_slice_segment_in_pic_flag
	if isIRAP(nalType) {
		peek.Flag()
	}
	ppsID := peek.UE()
	if err := peek.Err(); err != nil {
		return video.SyntaxErrorf("h265: slice header: %v", err)
	}

	set, err := p.cache.Lookup(paramset.TypeH265PPS, int32(ppsID))
	if err != nil {
		return video.SyntaxErrorf("h265: slice references pps %d: %v", ppsID, err)
	}
	pps := set.(*PPS)
	set, err = p.cache.Lookup(paramset.TypeH265SPS, pps.SPSID)
	if err != nil {
		return video.SyntaxErrorf("h265: pps %d references sps %d: %v", pps.ID, pps.SPSID, err)
	}
	sps := set.(*SPS)

	hdr, err := parseSliceHeader(rbsp, sps, pps, nalType)
	if err != nil {
		return err
	}
	if hdr.dependent {
		if p.cur == nil {
			return video.SyntaxErrorf("h265: dependent slice segment without a leading slice")
		}
		p.appendSlice(data)
		return nil
	}

	if hdr.firstSlice && p.cur != nil {
		if err := p.finishPicture(); err != nil {
			return err
		}
	}
	if p.cur == nil {
		if err := p.startPicture(sps, pps, hdr, nalType); err != nil {
			return err
		}
	}
	p.appendSlice(data)
	return nil
}

func (p *Parser) startPicture(sps *SPS, pps *PPS, hdr *sliceHeader, nalType uint8) error {
	if sps != p.sps {
		info := p.sequenceInfo(sps)
		if err := p.InitSequence(&info); err != nil {
			return err
		}
		p.sps = sps
	}
	p.pps = pps

	// An IDR or BLA starts a fresh coded video sequence.
	if isIRAP(nalType) && (isIDR(nalType) || nalType < nalTypeIDRWRADL || !p.seenPicture) {
		p.clearStore()
		if hdr.noOutputOfPriorPics {
			p.out.Discard()
		} else if err := p.out.Flush(p.display); err != nil {
			return err
		}
	}

	p.MarkFrameStart()
	p.cur = &pendingPicture{sps: sps, pps: pps, hdr: hdr, nalType: nalType}
	return nil
}

func (p *Parser) appendSlice(data []byte) {
	p.cur.sliceOffsets = append(p.cur.sliceOffsets, int32(len(p.cur.bitstream)))
	p.cur.bitstream = append(p.cur.bitstream, startCode...)
	p.cur.bitstream = append(p.cur.bitstream, data...)
}

func (p *Parser) clearStore() {
	for _, f := range p.store {
		f.pic.Release()
	}
	p.store = p.store[:0]
	p.prevPocMsb = 0
	p.prevPocLsb = 0
}

func (p *Parser) sequenceInfo(sps *SPS) video.SequenceInfo {
	minSlots := int32(sps.MaxDecPicBuffering)
	if minSlots < 1 {
		minSlots = 1
	}
	if minSlots > video.H265MaxDpbSlots {
		minSlots = video.H265MaxDpbSlots
	}
	return video.SequenceInfo{
		Codec:             video.CodecH265,
		CodecProfile:      int32(sps.GeneralProfileIDC),
		CodedWidth:        int32(sps.PicWidthInLumaSamps),
		CodedHeight:       int32(sps.PicHeightInLumaSamps),
		MaxWidth:          int32(sps.PicWidthInLumaSamps),
		MaxHeight:         int32(sps.PicHeightInLumaSamps),
		DisplayWidth:      sps.DisplayWidth(),
		DisplayHeight:     sps.DisplayHeight(),
		Chroma:            video.ChromaFormat(sps.ChromaFormatIDC),
		BitDepthLuma:      sps.BitDepthLuma,
		BitDepthChroma:    sps.BitDepthChroma,
		Progressive:       true,
		FrameRate:         sps.FrameRate(),
		MinDecodeSurfaces: minSlots + 1,
		MinDPBSlots:       minSlots,
	}
}

// derivePOC computes PicOrderCntVal for the current picture.
func (p *Parser) derivePOC(sps *SPS, hdr *sliceHeader, nalType uint8) int32 {
	if isIDR(nalType) {
		return 0
	}
	maxLsb := sps.MaxPicOrderCntLsb()
	lsb := hdr.picOrderCntLsb
	var msb int32
	switch {
	case lsb < p.prevPocLsb && p.prevPocLsb-lsb >= maxLsb/2:
		msb = p.prevPocMsb + maxLsb
	case lsb > p.prevPocLsb && lsb-p.prevPocLsb > maxLsb/2:
		msb = p.prevPocMsb - maxLsb
	default:
		msb = p.prevPocMsb
	}
	if isIRAP(nalType) {
		// BLA pictures reset the msb.
		if nalType < nalTypeIDRWRADL {
			msb = 0
		}
	}
	return msb + lsb
}

// rpsPocs lists the picture order counts the current RPS keeps, split by
// subset.
type rpsPocs struct {
	stCurrBefore []int32
	stCurrAfter  []int32
	stFoll       []int32
	ltCurr       []ltPoc
	ltFoll       []ltPoc
}

type ltPoc struct {
	poc     int32
	lsbOnly bool
}

func deriveRPS(sps *SPS, hdr *sliceHeader, poc int32) rpsPocs {
	var out rpsPocs
	for i := uint32(0); i < hdr.rps.NumNegative; i++ {
		target := poc + hdr.rps.DeltaPOCS0[i]
		if hdr.rps.UsedS0[i] {
			out.stCurrBefore = append(out.stCurrBefore, target)
		} else {
			out.stFoll = append(out.stFoll, target)
		}
	}
	for i := uint32(0); i < hdr.rps.NumPositive; i++ {
		target := poc + hdr.rps.DeltaPOCS1[i]
		if hdr.rps.UsedS1[i] {
			out.stCurrAfter = append(out.stCurrAfter, target)
		} else {
			out.stFoll = append(out.stFoll, target)
		}
	}
	maxLsb := sps.MaxPicOrderCntLsb()
	for _, e := range hdr.longTerm {
		lp := ltPoc{poc: e.pocLsb, lsbOnly: !e.msbPresent}
		if e.msbPresent {
			lp.poc = e.pocLsb + poc - e.deltaMsbCyc*maxLsb - (poc & (maxLsb - 1))
		}
		if e.usedByCurr {
			out.ltCurr = append(out.ltCurr, lp)
		} else {
			out.ltFoll = append(out.ltFoll, lp)
		}
	}
	return out
}

func (p *Parser) findShortTerm(poc int32) *refFrame {
	for _, f := range p.store {
		if f.poc == poc {
			return f
		}
	}
	return nil
}

func (p *Parser) findLongTerm(lp ltPoc, maxLsb int32) *refFrame {
	for _, f := range p.store {
		if lp.lsbOnly {
			if f.poc&(maxLsb-1) == lp.poc {
				return f
			}
		} else if f.poc == lp.poc {
			return f
		}
	}
	return nil
}

func (p *Parser) finishPicture() error {
	if p.cur == nil {
		return nil
	}
	cur := p.cur
	p.cur = nil
	sps, hdr := cur.sps, cur.hdr

	pts, ptsValid := p.CapturePTS()
	poc := p.derivePOC(sps, hdr, cur.nalType)
	rps := deriveRPS(sps, hdr, poc)
	maxLsb := sps.MaxPicOrderCntLsb()

	pd := &video.H265PictureData{
		SPSID:          sps.ID,
		VPSID:          sps.VPSID,
		PPSID:          cur.pps.ID,
		PicOrderCntVal: poc,
		IrapPicFlag:    isIRAP(cur.nalType),
		IdrPicFlag:     isIDR(cur.nalType),
		NumBitsForShortTermRPSInSlice: hdr.numBitsShortTermRPS,
		NumDeltaPocsOfRefRpsIdx:       hdr.numDeltaPocsOfRefRpsIdx,
	}
	for i := range pd.RefPicSetStCurrBefore {
		pd.RefPicSetStCurrBefore[i] = -1
		pd.RefPicSetStCurrAfter[i] = -1
		pd.RefPicSetLtCurr[i] = -1
	}

	// Gather the retained pictures and resolve each subset to indices into
	// the RefPics list. A reference the store cannot produce is logged and
	// left unresolved.
	kept := make(map[*refFrame]int8)
	addRef := func(f *refFrame, longTerm bool) int8 {
		if idx, ok := kept[f]; ok {
			return idx
		}
		n := pd.NumRefPics
		if int(n) >= len(pd.RefPics) {
			p.Log.Warn("reference picture set overflows dpb", "poc", poc)
			return -1
		}
		pd.RefPics[n] = f.pic
		pd.PicOrderCnt[n] = f.poc
		pd.IsLongTerm[n] = longTerm
		f.isLongTerm = longTerm
		pd.NumRefPics++
		kept[f] = int8(n)
		return int8(n)
	}

	for i, target := range rps.stCurrBefore {
		f := p.findShortTerm(target)
		if f == nil {
			p.Log.Warn("missing short-term reference", "poc", target, "current", poc)
			continue
		}
		if i < len(pd.RefPicSetStCurrBefore) {
			pd.RefPicSetStCurrBefore[i] = addRef(f, false)
			pd.NumPocStCurrBefore++
		}
	}
	for i, target := range rps.stCurrAfter {
		f := p.findShortTerm(target)
		if f == nil {
			p.Log.Warn("missing short-term reference", "poc", target, "current", poc)
			continue
		}
		if i < len(pd.RefPicSetStCurrAfter) {
			pd.RefPicSetStCurrAfter[i] = addRef(f, false)
			pd.NumPocStCurrAfter++
		}
	}
	for _, target := range rps.stFoll {
		if f := p.findShortTerm(target); f != nil {
			addRef(f, false)
		}
	}
	for i, lp := range rps.ltCurr {
		f := p.findLongTerm(lp, maxLsb)
		if f == nil {
			p.Log.Warn("missing long-term reference", "poc", lp.poc, "current", poc)
			continue
		}
		if i < len(pd.RefPicSetLtCurr) {
			pd.RefPicSetLtCurr[i] = addRef(f, true)
			pd.NumPocLtCurr++
		}
	}
	for _, lp := range rps.ltFoll {
		if f := p.findLongTerm(lp, maxLsb); f != nil {
			addRef(f, true)
		}
	}

	// Evict everything the RPS let go.
	n := 0
	for _, f := range p.store {
		if _, ok := kept[f]; ok {
			p.store[n] = f
			n++
		} else {
			f.pic.Release()
		}
	}
	p.store = p.store[:n]

	buf, err := p.Backend.GetBitstreamBuffer(len(cur.bitstream))
	if err != nil {
		return err
	}
	bitstream := buf[:copy(buf, cur.bitstream)]

	pic, err := p.Backend.AllocatePictureBuffer()
	if err != nil {
		return err
	}
	desc := &video.PictureDescriptor{
		Bitstream:    bitstream,
		SliceOffsets: cur.sliceOffsets,
		Current:      pic,
		PictureIndex: p.pictureCount,
		Width:        int32(sps.PicWidthInLumaSamps),
		Height:       int32(sps.PicHeightInLumaSamps),
		IntraPic:     isIRAP(cur.nalType),
		RefPic:       true,
		Progressive:  true,
		H265:         pd,
	}
	if err := p.mgr.FillH265(desc); err != nil {
		pic.Release()
		return err
	}
	ok, err := p.Backend.DecodePicture(desc)
	if err != nil {
		pic.Release()
		return err
	}
	p.NoteDecoded()
	p.pictureCount++
	p.seenPicture = true

	// The current picture joins the store for later RPSes.
	pic.Retain()
	p.store = append(p.store, &refFrame{pic: pic, poc: poc})
	p.prevPocMsb = poc - (poc & (maxLsb - 1))
	p.prevPocLsb = poc & (maxLsb - 1)

	if ok {
		p.out.Push(pic, poc, pts, ptsValid)
	}
	pic.Release()
	return p.out.Bump(int(sps.MaxNumReorderPics), p.display)
}
