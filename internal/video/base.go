package video

import (
	"log/slog"
	"sync/atomic"
)

const (
	// maxQueuedPTS bounds how many packet timestamps can be waiting for a
	// frame start before the oldest is overwritten.
	maxQueuedPTS = 16

	// ptsMatchWindow is the byte slack tolerated between a recorded packet
	// position and a frame start when pairing timestamps. Packet-per-frame
	// codecs use an exact match instead.
	ptsMatchWindow = 3

	defaultClockRate = 90000
)

type ptsEntry struct {
	pts      int64
	pos      int64
	valid    bool
	discont  bool
	occupied bool
}

// Base carries the state every codec session shares: the detected sequence,
// the PTS pairing queue, and display-time interpolation. Codec packages embed
// it and call InitSequence, MarkPacket, MarkFrameStart and DisplayPicture.
type Base struct {
	Backend Backend
	Log     *slog.Logger

	// ClockRate is the timestamp tick rate; zero selects 90 kHz.
	ClockRate int64

	// PacketPerFrame disables the byte slack when pairing timestamps, for
	// codecs whose packets carry exactly one frame.
	PacketPerFrame bool

	seq           SequenceInfo
	seqValid      bool
	DecodeSurfaces int32

	ptsQueue [maxQueuedPTS]ptsEntry
	ptsWrite int
	consumed int64
	frameStart int64
	discont    bool

	expectedPTS   int64
	haveExpected  bool
	lastDisplayed int64
	frameDuration int64

	decoded   atomic.Int64
	displayed atomic.Int64
}

// InitBase wires the backend and logger. Codec constructors call it once.
func (b *Base) InitBase(backend Backend, log *slog.Logger) {
	b.Backend = backend
	if log == nil {
		log = slog.Default()
	}
	b.Log = log
}

func (b *Base) clockRate() int64 {
	if b.ClockRate > 0 {
		return b.ClockRate
	}
	return defaultClockRate
}

// MarkPacket records the packet's timestamp against the current stream
// position and handles discontinuity flushes. Call it before parsing the
// packet payload.
func (b *Base) MarkPacket(pkt *Packet) {
	if pkt.Discontinuity {
		for i := range b.ptsQueue {
			b.ptsQueue[i] = ptsEntry{}
		}
		b.haveExpected = false
		b.discont = true
	}
	if pkt.PTSValid {
		b.ptsQueue[b.ptsWrite] = ptsEntry{
			pts:      pkt.PTS,
			pos:      b.consumed,
			valid:    true,
			discont:  pkt.Discontinuity,
			occupied: true,
		}
		b.ptsWrite = (b.ptsWrite + 1) % maxQueuedPTS
	}
}

// Advance accounts n consumed payload bytes so later frame starts pair with
// the right queued timestamp.
func (b *Base) Advance(n int) {
	b.consumed += int64(n)
}

// MarkFrameStart snapshots the stream position of the picture now beginning.
func (b *Base) MarkFrameStart() {
	b.frameStart = b.consumed
}

// CapturePTS pops the queued timestamp recorded at (or just before) the
// current frame start, if any. Sessions call it once per picture when the
// picture completes and carry the result to display time.
func (b *Base) CapturePTS() (int64, bool) {
	window := int64(ptsMatchWindow)
	if b.PacketPerFrame {
		window = 0
	}
	best := -1
	var bestPos int64
	for i := range b.ptsQueue {
		e := &b.ptsQueue[i]
		if !e.occupied || e.pos > b.frameStart+window {
			continue
		}
		if best < 0 || e.pos > bestPos {
			best = i
			bestPos = e.pos
		}
	}
	if best < 0 {
		return 0, false
	}
	e := b.ptsQueue[best]
	// Drop this entry and anything older than it.
	for i := range b.ptsQueue {
		if b.ptsQueue[i].occupied && b.ptsQueue[i].pos <= e.pos {
			b.ptsQueue[i] = ptsEntry{}
		}
	}
	return e.pts, e.valid
}

// InitSequence compares the parsed sequence against the active one and, on
// any change, issues Backend.BeginSequence and re-derives the frame duration.
// Unchanged sequences are a no-op.
func (b *Base) InitSequence(info *SequenceInfo) error {
	if b.seqValid && b.seq == *info {
		return nil
	}
	surfaces, err := b.Backend.BeginSequence(info)
	if err != nil {
		return err
	}
	if surfaces < info.MinDecodeSurfaces {
		return ResourceErrorf("backend offered %d decode surfaces, sequence needs %d",
			surfaces, info.MinDecodeSurfaces)
	}
	b.seq = *info
	b.seqValid = true
	b.DecodeSurfaces = surfaces

	b.frameDuration = 0
	if info.FrameRate.Numerator > 0 && info.FrameRate.Denominator > 0 {
		b.frameDuration = b.clockRate() * int64(info.FrameRate.Denominator) / int64(info.FrameRate.Numerator)
	}
	if b.frameDuration == 0 {
		b.frameDuration = b.clockRate() / 30
	}
	b.Log.Info("sequence started",
		"codec", info.Codec.String(),
		"coded_width", info.CodedWidth,
		"coded_height", info.CodedHeight,
		"surfaces", surfaces)
	return nil
}

// Sequence reports the active sequence, if one has been established.
func (b *Base) Sequence() (SequenceInfo, bool) {
	return b.seq, b.seqValid
}

// NoteDecoded bumps the decode counter for observability.
func (b *Base) NoteDecoded() {
	b.decoded.Add(1)
}

// DecodedPictures reports how many pictures have been submitted to the backend.
func (b *Base) DecodedPictures() int64 { return b.decoded.Load() }

// DisplayedPictures reports how many pictures have been emitted for display.
func (b *Base) DisplayedPictures() int64 { return b.displayed.Load() }

// DisplayPicture resolves the picture's captured timestamp and hands it to
// the backend. Missing timestamps are interpolated from the frame duration;
// timestamps that run backwards (DTS-order feeds) are replaced with the
// interpolated value so display time stays monotonic.
func (b *Base) DisplayPicture(pic PictureBuffer, pts int64, valid bool) error {
	switch {
	case !valid && b.haveExpected:
		pts = b.expectedPTS
	case !valid:
		pts = 0
	case b.haveExpected && pts < b.lastDisplayed:
		b.Log.Debug("non-monotonic pts, interpolating", "pts", pts, "expected", b.expectedPTS)
		pts = b.expectedPTS
	}
	b.lastDisplayed = pts
	b.expectedPTS = pts + b.frameDuration
	b.haveExpected = true
	b.displayed.Add(1)
	return b.Backend.DisplayPicture(pic, pts)
}
