package video

// VP9 reference table bounds.
const (
	VP9NumRefFrames  = 8
	VP9RefsPerFrame  = 3
	VP9MaxSegments   = 8
	VP9SegLvlMax     = 4
	VP9MaxRefLFDelta = 4
	VP9MaxModeLF     = 2
)

// VP9FrameType is the frame_type syntax element.
type VP9FrameType uint8

const (
	VP9FrameKey VP9FrameType = iota
	VP9FrameNonKey
)

// VP9LoopFilter is the loop_filter_params syntax plus the carried-forward
// ref/mode deltas.
type VP9LoopFilter struct {
	Level             uint8
	Sharpness         uint8
	DeltaEnabled      bool
	DeltaUpdate       bool
	UpdateRefDeltas   uint8
	UpdateModeDeltas  uint8
	RefDeltas         [VP9MaxRefLFDelta]int8
	ModeDeltas        [VP9MaxModeLF]int8
}

// VP9Segmentation mirrors the segmentation syntax with the fixed
// feature-bit tables applied.
type VP9Segmentation struct {
	Enabled          bool
	UpdateMap        bool
	TemporalUpdate   bool
	UpdateData       bool
	AbsOrDeltaUpdate bool
	TreeProbs        [7]uint8
	PredProbs        [3]uint8
	FeatureEnabled   [VP9MaxSegments]uint8
	FeatureData      [VP9MaxSegments][VP9SegLvlMax]int16
}

// VP9PictureData carries one VP9 frame's uncompressed-header syntax and the
// flat reference table snapshot for the backend.
type VP9PictureData struct {
	Profile   uint8
	FrameType VP9FrameType

	ShowFrame         bool
	ShowExistingFrame bool
	FrameToShowIdx    uint8
	ErrorResilient    bool
	IntraOnly         bool
	FrameIsIntra      bool
	ResetFrameContext uint8
	RefreshFrameFlags uint8
	FrameContextIdx   uint8

	RefreshFrameContext       bool
	FrameParallelDecodingMode bool
	AllowHighPrecisionMV      bool
	UsePrevFrameMVs           bool
	InterpolationFilter       uint8

	Width        int32
	Height       int32
	RenderWidth  int32
	RenderHeight int32

	BitDepth     uint8
	ColorSpace   uint8
	ColorRange   bool
	SubsamplingX uint8
	SubsamplingY uint8

	RefFrameIdx      [VP9RefsPerFrame]uint8
	RefFrameSignBias uint8
	RefFrames        [VP9NumRefFrames]PictureBuffer

	BaseQIdx  uint8
	DeltaQYDC int8
	DeltaQUVDC int8
	DeltaQUVAC int8

	LoopFilter   VP9LoopFilter
	Segmentation VP9Segmentation

	TileColsLog2 uint8
	TileRowsLog2 uint8
	NumTiles     int32

	// Byte offsets within the frame payload.
	UncompressedHeaderSize int32
	CompressedHeaderSize   int32
	TilesOffset            int32
}
