// Package video defines the contract between the elementary-stream parsers
// and the decode backend: the packet input format, per-codec picture data,
// the backend callback interface, and the shared parser base that tracks
// timestamps and sequence changes.
package video

// CodecType identifies the elementary-stream codec a session parses.
type CodecType uint8

const (
	CodecH264 CodecType = iota + 1
	CodecH265
	CodecVP9
	CodecAV1
)

func (c CodecType) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecVP9:
		return "vp9"
	case CodecAV1:
		return "av1"
	}
	return "unknown"
}

// ChromaFormat is the chroma subsampling of the decoded sequence.
type ChromaFormat uint8

const (
	ChromaMonochrome ChromaFormat = iota
	Chroma420
	Chroma422
	Chroma444
)

// FrameRate is a rational frame rate. A zero Denominator means unknown.
type FrameRate struct {
	Numerator   uint32
	Denominator uint32
}

// Packet is one input unit of bytes plus its transport-level metadata.
type Packet struct {
	Data          []byte
	PTS           int64
	PTSValid      bool
	EndOfStream   bool
	EndOfPicture  bool
	Discontinuity bool
	SideData      []byte
}

// PictureBuffer is a backend-allocated decode surface. The parser retains it
// while the DPB or display queue references it and releases it when done.
type PictureBuffer interface {
	Retain()
	Release()
}

// SequenceInfo describes the detected coded sequence. A change in any field
// triggers BeginSequence on the backend.
type SequenceInfo struct {
	Codec             CodecType
	CodecProfile      int32
	CodedWidth        int32
	CodedHeight       int32
	MaxWidth          int32
	MaxHeight         int32
	DisplayWidth      int32
	DisplayHeight     int32
	Chroma            ChromaFormat
	BitDepthLuma      uint8
	BitDepthChroma    uint8
	Progressive       bool
	FrameRate         FrameRate
	MinDecodeSurfaces int32
	MinDPBSlots       int32
}

// ReferenceSlot is one entry of the ordered reference list handed to the
// backend with each picture.
type ReferenceSlot struct {
	Slot             int8
	Picture          PictureBuffer
	PicOrderCnt      int32
	FieldOrderCnt    [2]int32
	FrameIdx         int32
	IsLongTerm       bool
	NonExisting      bool
	UsedForReference uint8 // bit 0 top field, bit 1 bottom field
}

// PictureDescriptor is the per-picture record handed to Backend.DecodePicture.
// Exactly one of the codec-specific pointers is set.
type PictureDescriptor struct {
	Bitstream    []byte
	SliceOffsets []int32

	Current      PictureBuffer
	PictureIndex int32
	Width        int32
	Height       int32

	IntraPic    bool
	RefPic      bool
	Progressive bool
	FieldPic    bool
	BottomField bool
	SecondField bool

	// SetupSlot is the DPB slot reserved for this picture; RefSlots is the
	// ordered reference list. Unused (SetupSlot = -1, nil RefSlots) for
	// VP9/AV1, which carry a flat reference table instead.
	SetupSlot int8
	RefSlots  []ReferenceSlot

	H264 *H264PictureData
	H265 *H265PictureData
	VP9  *VP9PictureData
	AV1  *AV1PictureData
}
