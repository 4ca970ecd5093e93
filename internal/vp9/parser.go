package vp9

import (
	"log/slog"

	"github.com/zsiec/refract/internal/video"
)

// Options configures a VP9 session.
type Options struct {
	Logger *slog.Logger
	// ClockRate is the timestamp tick rate; zero means 90 kHz.
	ClockRate int64
}

// Parser is one VP9 decode session. Not safe for concurrent use.
type Parser struct {
	video.Base

	opts Options

	refs [video.VP9NumRefFrames]*refSlot
	prev *video.VP9PictureData

	lastWidth     int32
	lastHeight    int32
	lastShowFrame bool
	maxWidth      int32
	maxHeight     int32
	pictureCount  int32
}

// refSlot is one entry of the flat reference table.
type refSlot struct {
	pic           video.PictureBuffer
	width, height int32
}

// New returns a VP9 session over the backend.
func New(backend video.Backend, opts Options) *Parser {
	p := &Parser{opts: opts}
	p.InitBase(backend, opts.Logger)
	p.ClockRate = opts.ClockRate
	p.PacketPerFrame = true
	return p
}

func (p *Parser) dims(idx uint8) (int32, int32, bool) {
	if int(idx) >= len(p.refs) || p.refs[idx] == nil {
		return 0, 0, false
	}
	return p.refs[idx].width, p.refs[idx].height, true
}

// ParsePacket consumes one packet, which holds one frame or one superframe.
func (p *Parser) ParsePacket(pkt *video.Packet) error {
	p.MarkPacket(pkt)
	frames, err := SplitSuperframe(pkt.Data)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := p.decodeFrame(f); err != nil {
			return err
		}
	}
	p.Advance(len(pkt.Data))
	if pkt.EndOfStream {
		return p.EndOfStream()
	}
	return nil
}

// EndOfStream releases the reference table. VP9 display is immediate, so
// nothing is pending.
func (p *Parser) EndOfStream() error {
	for i, s := range p.refs {
		if s != nil {
			s.pic.Release()
			p.refs[i] = nil
		}
	}
	return nil
}

func (p *Parser) decodeFrame(frame []byte) error {
	p.MarkFrameStart()
	pts, ptsValid := p.CapturePTS()

	pd, err := ParseFrameHeader(frame, p.prev, p)
	if err != nil {
		return err
	}

	if pd.ShowExistingFrame {
		slot := p.refs[pd.FrameToShowIdx]
		if slot == nil {
			return video.SyntaxErrorf("vp9: show_existing_frame names empty slot %d", pd.FrameToShowIdx)
		}
		return p.DisplayPicture(slot.pic, pts, ptsValid)
	}

	if err := p.ensureSequence(pd); err != nil {
		return err
	}

	pd.UsePrevFrameMVs = !pd.ErrorResilient && !pd.FrameIsIntra &&
		p.lastShowFrame && pd.Width == p.lastWidth && pd.Height == p.lastHeight

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
		VP9:          pd,
	}
	ok, err := p.Backend.DecodePicture(desc)
	if err != nil {
		pic.Release()
		return err
	}
	p.NoteDecoded()
	p.pictureCount++

	p.updateFramePointers(pd, pic)

	p.prev = pd
	p.lastWidth = pd.Width
	p.lastHeight = pd.Height
	p.lastShowFrame = pd.ShowFrame

	if pd.ShowFrame && ok {
		if err := p.DisplayPicture(pic, pts, ptsValid); err != nil {
			pic.Release()
			return err
		}
	}
	pic.Release()
	return nil
}

// ensureSequence issues BeginSequence the first time and again whenever the
// coded dimensions outgrow the negotiated maximum, dropping the reference
// table in that case.
func (p *Parser) ensureSequence(pd *video.VP9PictureData) error {
	grew := pd.Width > p.maxWidth || pd.Height > p.maxHeight
	if !grew {
		return nil
	}
	if p.maxWidth > 0 {
		p.Log.Info("coded size outgrew sequence, renegotiating",
			"width", pd.Width, "height", pd.Height)
		for i, s := range p.refs {
			if s != nil {
				s.pic.Release()
				p.refs[i] = nil
			}
		}
	}
	if pd.Width > p.maxWidth {
		p.maxWidth = pd.Width
	}
	if pd.Height > p.maxHeight {
		p.maxHeight = pd.Height
	}

	chroma := video.Chroma420
	switch {
	case pd.SubsamplingX == 0 && pd.SubsamplingY == 0:
		chroma = video.Chroma444
	case pd.SubsamplingX == 1 && pd.SubsamplingY == 0:
		chroma = video.Chroma422
	}
	info := video.SequenceInfo{
		Codec:             video.CodecVP9,
		CodecProfile:      int32(pd.Profile),
		CodedWidth:        p.maxWidth,
		CodedHeight:       p.maxHeight,
		MaxWidth:          p.maxWidth,
		MaxHeight:         p.maxHeight,
		DisplayWidth:      pd.RenderWidth,
		DisplayHeight:     pd.RenderHeight,
		Chroma:            chroma,
		BitDepthLuma:      pd.BitDepth,
		BitDepthChroma:    pd.BitDepth,
		Progressive:       true,
		MinDecodeSurfaces: video.VP9NumRefFrames + 1,
		MinDPBSlots:       video.VP9NumRefFrames,
	}
	return p.InitSequence(&info)
}

func (p *Parser) updateFramePointers(pd *video.VP9PictureData, pic video.PictureBuffer) {
	for i := 0; i < video.VP9NumRefFrames; i++ {
		if pd.RefreshFrameFlags&(1<<i) == 0 {
			continue
		}
		if p.refs[i] != nil {
			p.refs[i].pic.Release()
		}
		pic.Retain()
		p.refs[i] = &refSlot{pic: pic, width: pd.Width, height: pd.Height}
	}
}
