package h264

import (
	"log/slog"

	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/dpb"
	"github.com/zsiec/refract/internal/nal"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// Options configures an H.264 session.
type Options struct {
	Logger *slog.Logger
	// LengthSize selects length-prefixed framing (1, 2 or 4 byte prefixes);
	// zero means Annex B start codes.
	LengthSize int
	// ClockRate is the timestamp tick rate; zero means 90 kHz.
	ClockRate int64
}

// Parser is one H.264 decode session. Not safe for concurrent use.
type Parser struct {
	video.Base

	opts  Options
	cache *paramset.Cache
	mgr   *dpb.Manager

	sps *SPS
	pps *PPS

	cur        *pendingPicture
	refs       *refList
	poc        pocState
	out        video.ReorderQueue
	firstField *fieldHold

	prevRefFrameNum int32
	pictureCount    int32
}

type pendingPicture struct {
	sps    *SPS
	pps    *PPS
	hdr    *sliceHeader
	idr    bool
	refIDC uint8

	bitstream    []byte
	sliceOffsets []int32
}

type fieldHold struct {
	pic         video.PictureBuffer
	hdr         *sliceHeader
	top, bottom int32
	refIDC      uint8
	idr         bool
	pts         int64
	ptsValid    bool
}

var startCode = []byte{0, 0, 1}

// New returns an H.264 session over the backend.
func New(backend video.Backend, opts Options) *Parser {
	p := &Parser{opts: opts}
	p.InitBase(backend, opts.Logger)
	p.ClockRate = opts.ClockRate
	p.cache = paramset.NewCache(backend.UpdatePictureParameters)
	p.mgr = dpb.NewManager(video.H264MaxDpbEntries, p.Log)
	p.refs = newRefList(p.Log)
	return p
}

// ParsePacket consumes one packet of the elementary stream.
func (p *Parser) ParsePacket(pkt *video.Packet) error {
	p.MarkPacket(pkt)
	if pkt.Discontinuity {
		p.abandonCurrent()
		if err := p.out.Flush(p.display); err != nil {
			return err
		}
	}

	var units []nal.Unit
	if p.opts.LengthSize > 0 {
		var err error
		units, err = nal.SplitLengthPrefixed(pkt.Data, p.opts.LengthSize, 1)
		if err != nil {
			return video.SyntaxErrorf("h264: %v", err)
		}
	} else {
		units = nal.SplitAnnexB(pkt.Data, 1)
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
	if p.firstField != nil {
		p.firstField.pic.Release()
		p.firstField = nil
	}
	return p.out.Flush(p.display)
}

func (p *Parser) display(pic video.PictureBuffer, pts int64, valid bool) error {
	return p.DisplayPicture(pic, pts, valid)
}

func (p *Parser) abandonCurrent() {
	if p.cur != nil {
		p.Log.Warn("dropping incomplete picture at discontinuity")
		p.cur = nil
	}
	if p.firstField != nil {
		p.firstField.pic.Release()
		p.firstField = nil
	}
}

func (p *Parser) handleUnit(u nal.Unit) error {
	hdr := u.Data[0]
	if hdr&0x80 != 0 {
		return video.SyntaxErrorf("h264: forbidden_zero_bit set in nal header 0x%02x", hdr)
	}
	refIDC := (hdr >> 5) & 3
	typ := hdr & 0x1f

	switch typ {
	case nalTypeSPS:
		s, err := ParseSPS(bits.RemoveEmulationPrevention(u.Data[1:]))
		if err != nil {
			return err
		}
		_, err = p.cache.Put(s)
		return err
	case nalTypePPS:
		pps, err := ParsePPS(bits.RemoveEmulationPrevention(u.Data[1:]))
		if err != nil {
			return err
		}
		_, err = p.cache.Put(pps)
		return err
	case nalTypeSliceNonIDR, nalTypeSliceIDR:
		return p.handleSlice(u.Data, typ == nalTypeSliceIDR, refIDC)
	case nalTypeAUD, nalTypeEndOfSeq:
		return p.finishPicture()
	case nalTypeEndOfStream:
		return p.EndOfStream()
	case nalTypeSlicePartA, nalTypeSlicePartA + 1, nalTypeSlicePartA + 2:
		p.Log.Warn("skipping unsupported slice data partition", "nal_type", typ)
		return nil
	default:
		p.Log.Debug("ignoring nal unit", "nal_type", typ)
		return nil
	}
}

func (p *Parser) handleSlice(data []byte, idr bool, refIDC uint8) error {
	rbsp := bits.RemoveEmulationPrevention(data[1:])

	peek := bits.NewReader(rbsp)
	firstMB := peek.UE()
	peek.UE() // slice_type
	ppsID := peek.UE()
	if err := peek.Err(); err != nil {
		return video.SyntaxErrorf("h264: slice header: %v", err)
	}

	set, err := p.cache.Lookup(paramset.TypeH264PPS, int32(ppsID))
	if err != nil {
		return video.SyntaxErrorf("h264: slice references pps %d: %v", ppsID, err)
	}
	pps := set.(*PPS)
	set, err = p.cache.Lookup(paramset.TypeH264SPS, pps.SPSID)
	if err != nil {
		return video.SyntaxErrorf("h264: pps %d references sps %d: %v", pps.ID, pps.SPSID, err)
	}
	sps := set.(*SPS)

	hdr, err := parseSliceHeader(rbsp, sps, pps, idr, refIDC)
	if err != nil {
		return err
	}

	if p.cur != nil && firstMB == 0 {
		if err := p.finishPicture(); err != nil {
			return err
		}
	}
	if p.cur == nil {
		if err := p.startPicture(sps, pps, hdr, idr, refIDC); err != nil {
			return err
		}
	}
	p.appendSlice(data)
	return nil
}

func (p *Parser) startPicture(sps *SPS, pps *PPS, hdr *sliceHeader, idr bool, refIDC uint8) error {
	if sps != p.sps {
		info := p.sequenceInfo(sps)
		if err := p.InitSequence(&info); err != nil {
			return err
		}
		p.sps = sps
	}
	p.pps = pps

	if idr {
		if hdr.noOutputOfPriorPics {
			p.out.Discard()
		} else if err := p.out.Flush(p.display); err != nil {
			return err
		}
	}

	p.MarkFrameStart()
	p.cur = &pendingPicture{sps: sps, pps: pps, hdr: hdr, idr: idr, refIDC: refIDC}
	return nil
}

func (p *Parser) appendSlice(data []byte) {
	p.cur.sliceOffsets = append(p.cur.sliceOffsets, int32(len(p.cur.bitstream)))
	p.cur.bitstream = append(p.cur.bitstream, startCode...)
	p.cur.bitstream = append(p.cur.bitstream, data...)
}

func (p *Parser) sequenceInfo(sps *SPS) video.SequenceInfo {
	minSlots := int32(sps.MaxNumRefFrames) + 1
	surfaces := minSlots
	if sps.RestrictionFlags && int32(sps.MaxDecFrameBuf)+1 > surfaces {
		surfaces = int32(sps.MaxDecFrameBuf) + 1
	}
	return video.SequenceInfo{
		Codec:             video.CodecH264,
		CodecProfile:      int32(sps.ProfileIDC),
		CodedWidth:        sps.CodedWidth(),
		CodedHeight:       sps.CodedHeight(),
		MaxWidth:          sps.CodedWidth(),
		MaxHeight:         sps.CodedHeight(),
		DisplayWidth:      sps.DisplayWidth(),
		DisplayHeight:     sps.DisplayHeight(),
		Chroma:            video.ChromaFormat(sps.ChromaFormatIDC),
		BitDepthLuma:      sps.BitDepthLuma,
		BitDepthChroma:    sps.BitDepthChroma,
		Progressive:       sps.FrameMbsOnly,
		FrameRate:         sps.FrameRate(),
		MinDecodeSurfaces: surfaces,
		MinDPBSlots:       minSlots,
	}
}

func (p *Parser) reorderDepth(sps *SPS) int {
	if sps.RestrictionFlags {
		return int(sps.MaxNumReorder)
	}
	return int(sps.MaxNumRefFrames)
}

func (p *Parser) finishPicture() error {
	if p.cur == nil {
		return nil
	}
	cur := p.cur
	p.cur = nil
	sps, hdr := cur.sps, cur.hdr
	isRef := cur.refIDC != 0

	pts, ptsValid := p.CapturePTS()

	buf, err := p.Backend.GetBitstreamBuffer(len(cur.bitstream))
	if err != nil {
		return err
	}
	bitstream := buf[:copy(buf, cur.bitstream)]

	if !cur.idr && sps.GapsInFrameNumAllowed {
		p.insertFrameNumGaps(sps, hdr.frameNum)
	}

	top, bottom := p.poc.derive(sps, hdr, cur.idr, isRef)

	// Second field of a pair reuses the first field's surface.
	var pic video.PictureBuffer
	secondField := false
	if hdr.fieldPic && p.firstField != nil &&
		p.firstField.hdr.frameNum == hdr.frameNum &&
		p.firstField.hdr.bottomField != hdr.bottomField {
		secondField = true
		pic = p.firstField.pic
		if hdr.bottomField {
			top = p.firstField.top
		} else {
			bottom = p.firstField.bottom
		}
		if !ptsValid {
			pts, ptsValid = p.firstField.pts, p.firstField.ptsValid
		}
	} else {
		if p.firstField != nil {
			p.Log.Warn("unpaired field dropped", "frame_num", p.firstField.hdr.frameNum)
			p.firstField.pic.Release()
			p.firstField = nil
		}
		var err error
		pic, err = p.Backend.AllocatePictureBuffer()
		if err != nil {
			return err
		}
	}

	pd := &video.H264PictureData{
		SPSID:             sps.ID,
		PPSID:             cur.pps.ID,
		FrameNum:          hdr.frameNum,
		CurrFieldOrderCnt: [2]int32{top, bottom},
		IDRPic:            cur.idr,
		MMCO5:             hdr.hasMMCO5(),
	}
	p.refs.updatePicNums(hdr.frameNum, sps.MaxFrameNum())
	p.refs.fillDpbEntries(pd)

	desc := &video.PictureDescriptor{
		Bitstream:    bitstream,
		SliceOffsets: cur.sliceOffsets,
		Current:      pic,
		PictureIndex: p.pictureCount,
		Width:        sps.CodedWidth(),
		Height:       sps.CodedHeight(),
		IntraPic:     cur.idr,
		RefPic:       isRef,
		Progressive:  sps.FrameMbsOnly,
		FieldPic:     hdr.fieldPic,
		BottomField:  hdr.bottomField,
		SecondField:  secondField,
		H264:         pd,
	}
	if err := p.mgr.FillH264(desc); err != nil {
		return err
	}
	ok, err := p.Backend.DecodePicture(desc)
	if err != nil {
		pic.Release()
		return err
	}
	p.NoteDecoded()
	p.pictureCount++

	// A first field waits for its pair before marking and output.
	if hdr.fieldPic && !secondField {
		p.firstField = &fieldHold{pic: pic, hdr: hdr, top: top, bottom: bottom,
			refIDC: cur.refIDC, idr: cur.idr, pts: pts, ptsValid: ptsValid}
		return nil
	}
	p.firstField = nil

	frameNum := hdr.frameNum
	if isRef {
		if cur.idr {
			p.refs.clear()
			p.poc.prevFrameNumOffset = 0
			fs := &frameStore{pic: pic, frameNum: frameNum, topFOC: top, bottomFOC: bottom,
				isLongTerm: hdr.longTermRefFlag}
			p.refs.add(fs)
		} else {
			if hdr.hasMMCO5() {
				p.refs.clear()
				p.poc.resetForMMCO5(top, bottom)
				base := top
				if bottom < base {
					base = bottom
				}
				top -= base
				bottom -= base
				frameNum = 0
			}
			if hdr.adaptiveMarking {
				p.refs.applyMMCOs(hdr.mmcos, frameNum)
			} else {
				p.refs.slidingWindow(int32(sps.MaxNumRefFrames))
			}
			fs := &frameStore{pic: pic, frameNum: frameNum, topFOC: top, bottomFOC: bottom}
			for _, m := range hdr.mmcos {
				if m.op == 6 {
					fs.isLongTerm = true
					fs.longTermFrameIdx = m.longTermFrameIdx
					fs.picNum = m.longTermFrameIdx
				}
			}
			p.refs.add(fs)
		}
		p.prevRefFrameNum = frameNum
	}

	if ok {
		poc := top
		if bottom < poc {
			poc = bottom
		}
		p.out.Push(pic, poc, pts, ptsValid)
	}
	pic.Release()
	return p.out.Bump(p.reorderDepth(sps), p.display)
}

// insertFrameNumGaps synthesizes not-existing reference frames for skipped
// frame_num values so later decode submissions can declare them.
func (p *Parser) insertFrameNumGaps(sps *SPS, frameNum int32) {
	maxFrameNum := sps.MaxFrameNum()
	next := (p.prevRefFrameNum + 1) % maxFrameNum
	for guard := int32(0); next != frameNum && guard < maxFrameNum; guard++ {
		p.Log.Debug("frame_num gap", "missing", next)
		p.refs.updatePicNums(next, maxFrameNum)
		p.refs.slidingWindow(int32(sps.MaxNumRefFrames))
		p.refs.add(&frameStore{frameNum: next, nonExisting: true})
		p.prevRefFrameNum = next
		next = (next + 1) % maxFrameNum
	}
}
