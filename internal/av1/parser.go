package av1

import (
	"log/slog"

	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// Options configures an AV1 session.
type Options struct {
	Logger *slog.Logger
	// ClockRate is the timestamp tick rate; zero means 90 kHz.
	ClockRate int64
	// AnnexB selects the length-delimited OBU framing instead of the
	// low-overhead format with mandatory size fields.
	AnnexB bool
}

// Parser is one AV1 decode session. Not safe for concurrent use.
type Parser struct {
	video.Base

	opts  Options
	cache *paramset.Cache

	seq *SequenceHeader

	refs         [video.AV1NumRefFrames]*refSlot
	refOrderHint [video.AV1NumRefFrames]uint32
	refValid     [video.AV1NumRefFrames]bool
	refFrameID   [video.AV1NumRefFrames]uint32

	temporalID uint8
	spatialID  uint8
	opIDC      uint16

	cur          *pendingFrame
	pictureCount int32
}

// pendingFrame is a frame whose header is parsed but whose tile groups are
// still arriving in separate OBUs.
type pendingFrame struct {
	pd       *video.AV1PictureData
	start    int // packet offset of the frame's first OBU
	pts      int64
	ptsValid bool
}

// New returns an AV1 session over the backend.
func New(backend video.Backend, opts Options) *Parser {
	p := &Parser{opts: opts}
	p.InitBase(backend, opts.Logger)
	p.ClockRate = opts.ClockRate
	p.PacketPerFrame = true
	p.cache = paramset.NewCache(backend.UpdatePictureParameters)
	return p
}

// ParsePacket consumes one packet, which holds one temporal unit of OBUs.
func (p *Parser) ParsePacket(pkt *video.Packet) error {
	p.MarkPacket(pkt)
	if pkt.Discontinuity {
		p.cur = nil
	}

	data := pkt.Data
	pos := 0
	for pos < len(data) {
		hdr, err := ParseOBUHeader(data[pos:], p.opts.AnnexB)
		if err != nil {
			return err
		}
		payload := data[pos+hdr.HeaderSize : pos+hdr.HeaderSize+hdr.PayloadSize]
		if err := p.handleOBU(hdr, payload, data, pos); err != nil {
			return err
		}
		pos += hdr.HeaderSize + hdr.PayloadSize
		// Trailing zero bytes may pad the temporal unit.
		for pos < len(data) && data[pos] == 0 {
			pos++
		}
	}
	p.Advance(len(data))

	if pkt.EndOfStream {
		return p.EndOfStream()
	}
	return nil
}

// EndOfStream releases the reference table. AV1 output order is decode
// order, so nothing is pending.
func (p *Parser) EndOfStream() error {
	p.cur = nil
	for i, s := range p.refs {
		if s != nil {
			s.pic.Release()
			p.refs[i] = nil
		}
	}
	return nil
}

func (p *Parser) handleOBU(hdr *OBUHeader, payload, packet []byte, pos int) error {
	p.temporalID = hdr.TemporalID
	p.spatialID = hdr.SpatialID

	// Units outside the active operating point carry no decodable data.
	if p.opIDC != 0 && hdr.HasExtension &&
		hdr.Type != OBUTemporalDelimiter && hdr.Type != OBUSequenceHeader && hdr.Type != OBUPadding {
		inTemporal := p.opIDC>>hdr.TemporalID&1 != 0
		inSpatial := p.opIDC>>(hdr.SpatialID+8)&1 != 0
		if !inTemporal || !inSpatial {
			return nil
		}
	}

	switch hdr.Type {
	case OBUTemporalDelimiter:
		p.cur = nil

	case OBUSequenceHeader:
		seq, err := ParseSequenceHeader(payload)
		if err != nil {
			return err
		}
		if _, err := p.cache.Put(seq); err != nil {
			return err
		}
		p.seq = seq
		p.opIDC = seq.OperatingPoints[0].IDC

	case OBUFrameHeader, OBUFrame:
		if p.seq == nil {
			return video.SyntaxErrorf("av1: frame before sequence header")
		}
		p.MarkFrameStart()
		r := bits.NewReader(payload)
		fh, err := p.parseFrameHeader(r)
		if err != nil {
			return err
		}
		if fh.showExisting {
			return p.showExistingFrame(fh.showIdx)
		}
		pts, ptsValid := p.CapturePTS()
		p.cur = &pendingFrame{pd: fh.pd, start: pos, pts: pts, ptsValid: ptsValid}
		if hdr.Type == OBUFrameHeader {
			if err := r.RBSPTrailingBits(); err != nil {
				p.cur = nil
				return video.SyntaxErrorf("av1: frame header trailing bits: %v", err)
			}
			return nil
		}
		if err := r.ByteAlignment(); err != nil {
			p.cur = nil
			return video.SyntaxErrorf("av1: frame obu alignment: %v", err)
		}
		done, err := p.parseTileGroup(hdr, r, payload, pos)
		if err != nil {
			p.cur = nil
			return err
		}
		if done {
			return p.finishPicture(packet)
		}

	case OBUTileGroup:
		if p.cur == nil {
			return video.SyntaxErrorf("av1: tile group without frame header")
		}
		r := bits.NewReader(payload)
		done, err := p.parseTileGroup(hdr, r, payload, pos)
		if err != nil {
			p.cur = nil
			return err
		}
		if done {
			return p.finishPicture(packet)
		}

	case OBUMetadata, OBUPadding, OBURedundantFrameHeader, OBUTileList:
		// ignored
	}
	return nil
}

// parseTileGroup reads one tile group's header and size fields, recording
// per-tile offsets relative to the frame's first OBU. It reports whether
// this group completes the frame.
func (p *Parser) parseTileGroup(hdr *OBUHeader, r *bits.Reader, payload []byte, pos int) (bool, error) {
	pd := p.cur.pd
	ti := &pd.TileInfo
	numTiles := ti.Cols * ti.Rows

	startAndEndPresent := false
	if numTiles > 1 {
		startAndEndPresent = r.Flag()
	}
	if hdr.Type == OBUFrame && startAndEndPresent {
		return false, video.SyntaxErrorf("av1: frame obu with tile_start_and_end_present_flag")
	}

	tgStart, tgEnd := int32(0), numTiles-1
	if numTiles > 1 && startAndEndPresent {
		n := int(ti.ColsLog2 + ti.RowsLog2)
		tgStart = int32(r.U(n))
		tgEnd = int32(r.U(n))
	}
	if err := r.ByteAlignment(); err != nil {
		return false, video.SyntaxErrorf("av1: tile group alignment: %v", err)
	}
	if err := r.Err(); err != nil {
		return false, video.SyntaxErrorf("av1: tile group: %v", err)
	}

	dataPos := r.BytesConsumed()
	remaining := int32(len(payload) - dataPos)
	base := int32(pos + hdr.HeaderSize - p.cur.start)
	sizeBytes := int32(ti.SizeBytesMinus1) + 1

	for tile := tgStart; tile <= tgEnd; tile++ {
		var size int32
		if tile == tgEnd {
			size = remaining
		} else {
			if remaining < sizeBytes {
				return false, video.SyntaxErrorf("av1: truncated tile size field")
			}
			// tile_size_minus_1, little-endian
			for j := int32(0); j < sizeBytes; j++ {
				size |= int32(payload[dataPos+int(j)]) << (8 * j)
			}
			size++
			dataPos += int(sizeBytes)
			remaining -= sizeBytes
		}
		if size <= 0 || size > remaining {
			return false, video.SyntaxErrorf("av1: tile %d of %d bytes overruns %d byte group",
				tile, size, remaining)
		}
		pd.TileOffsets = append(pd.TileOffsets, base+int32(dataPos))
		pd.TileSizes = append(pd.TileSizes, size)
		pd.NumTiles++
		dataPos += int(size)
		remaining -= size
	}

	return tgEnd == numTiles-1, nil
}

func (p *Parser) showExistingFrame(idx uint8) error {
	slot := p.refs[idx]
	if slot == nil {
		return video.SyntaxErrorf("av1: show_existing_frame names empty slot %d", idx)
	}
	pts, ptsValid := p.CapturePTS()

	if slot.frameType == video.AV1FrameKey {
		// Showing a buffered key frame reloads its snapshotted state into
		// every slot, like decoding it again.
		pd := &video.AV1PictureData{
			FrameType:         video.AV1FrameKey,
			ShowFrame:         true,
			OrderHint:         slot.orderHint,
			RefreshFrameFlags: 0xff,
			Width:             slot.width,
			Height:            slot.height,
			UpscaledWidth:     slot.upscaledWidth,
			RenderWidth:       slot.renderWidth,
			RenderHeight:      slot.renderHeight,
			FilmGrain:         slot.filmGrain,
			GlobalMotion:      slot.globalMotion,
			Segmentation:      slot.segmentation,
		}
		pd.LoopFilter.RefDeltas = slot.lfRefDeltas
		pd.LoopFilter.ModeDeltas = slot.lfModeDeltas
		p.updateFramePointers(pd, slot.pic, false)
	}

	return p.DisplayPicture(slot.pic, pts, ptsValid)
}

func (p *Parser) finishPicture(packet []byte) error {
	cur := p.cur
	p.cur = nil
	pd := cur.pd

	if err := p.initSequence(); err != nil {
		return err
	}

	frame := packet[cur.start:]
	buf, err := p.Backend.GetBitstreamBuffer(len(frame))
	if err != nil {
		return err
	}
	n := copy(buf, frame)

	pic, err := p.Backend.AllocatePictureBuffer()
	if err != nil {
		return err
	}
	for i, s := range p.refs {
		if s != nil {
			pd.RefFrames[i] = s.pic
		}
	}

	desc := &video.PictureDescriptor{
		Bitstream:    buf[:n],
		Current:      pic,
		PictureIndex: p.pictureCount,
		Width:        pd.Width,
		Height:       pd.Height,
		IntraPic:     pd.FrameIsIntra,
		RefPic:       pd.RefreshFrameFlags != 0,
		Progressive:  true,
		SetupSlot:    -1,
		AV1:          pd,
	}
	ok, err := p.Backend.DecodePicture(desc)
	if err != nil {
		pic.Release()
		return err
	}
	p.NoteDecoded()
	p.pictureCount++

	p.updateFramePointers(pd, pic, pd.ShowableFrame)

	if pd.ShowFrame && ok {
		if err := p.DisplayPicture(pic, cur.pts, cur.ptsValid); err != nil {
			pic.Release()
			return err
		}
	}
	pic.Release()
	return nil
}

func (p *Parser) initSequence() error {
	seq := p.seq
	info := video.SequenceInfo{
		Codec:             video.CodecAV1,
		CodecProfile:      int32(seq.Profile),
		CodedWidth:        seq.MaxFrameWidth,
		CodedHeight:       seq.MaxFrameHeight,
		MaxWidth:          seq.MaxFrameWidth,
		MaxHeight:         seq.MaxFrameHeight,
		DisplayWidth:      seq.MaxFrameWidth,
		DisplayHeight:     seq.MaxFrameHeight,
		Chroma:            seq.Chroma(),
		BitDepthLuma:      seq.Color.BitDepth,
		BitDepthChroma:    seq.Color.BitDepth,
		Progressive:       true,
		FrameRate:         seq.FrameRate(),
		MinDecodeSurfaces: video.AV1NumRefFrames + 1,
		MinDPBSlots:       video.AV1NumRefFrames,
	}
	return p.InitSequence(&info)
}
