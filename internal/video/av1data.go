package video

// AV1 bitstream bounds.
const (
	AV1NumRefFrames   = 8
	AV1RefsPerFrame   = 7
	AV1MaxSegments    = 8
	AV1SegLvlMax      = 8
	AV1MaxTileCols    = 64
	AV1MaxTileRows    = 64
	AV1PrimaryRefNone = 7
)

// AV1FrameType is the frame_type syntax element.
type AV1FrameType uint8

const (
	AV1FrameKey AV1FrameType = iota
	AV1FrameInter
	AV1FrameIntraOnly
	AV1FrameSwitch
)

func (t AV1FrameType) String() string {
	switch t {
	case AV1FrameKey:
		return "key"
	case AV1FrameInter:
		return "inter"
	case AV1FrameIntraOnly:
		return "intra-only"
	case AV1FrameSwitch:
		return "switch"
	}
	return "unknown"
}

// AV1TransformationType classifies a global motion model.
type AV1TransformationType uint8

const (
	AV1WarpIdentity AV1TransformationType = iota
	AV1WarpTranslation
	AV1WarpRotZoom
	AV1WarpAffine
)

// AV1GlobalMotion is one reference's global motion model. Params are in
// WARPEDMODEL precision (16 fractional bits).
type AV1GlobalMotion struct {
	WarpType AV1TransformationType
	Invalid  bool
	Params   [6]int32
}

// AV1DefaultGlobalMotion is the identity warp model every frame starts from.
func AV1DefaultGlobalMotion() AV1GlobalMotion {
	return AV1GlobalMotion{
		WarpType: AV1WarpIdentity,
		Params:   [6]int32{0, 0, 1 << 16, 0, 0, 1 << 16},
	}
}

// AV1FilmGrain is the film_grain_params syntax.
type AV1FilmGrain struct {
	ApplyGrain     bool
	GrainSeed      uint16
	UpdateGrain    bool
	FilmGrainRefIdx uint8

	NumYPoints    uint8
	PointYValue   [14]uint8
	PointYScaling [14]uint8

	ChromaScalingFromLuma bool
	NumCbPoints           uint8
	PointCbValue          [10]uint8
	PointCbScaling        [10]uint8
	NumCrPoints           uint8
	PointCrValue          [10]uint8
	PointCrScaling        [10]uint8

	GrainScalingMinus8 uint8
	ARCoeffLag         uint8
	ARCoeffsYPlus128   [24]uint8
	ARCoeffsCbPlus128  [25]uint8
	ARCoeffsCrPlus128  [25]uint8
	ARCoeffShiftMinus6 uint8
	GrainScaleShift    uint8

	CbMult       uint8
	CbLumaMult   uint8
	CbOffset     uint16
	CrMult       uint8
	CrLumaMult   uint8
	CrOffset     uint16

	OverlapFlag            bool
	ClipToRestrictedRange  bool
}

// AV1LoopFilter is the loop_filter_params syntax.
type AV1LoopFilter struct {
	Levels       [4]uint8
	Sharpness    uint8
	DeltaEnabled bool
	DeltaUpdate  bool
	RefDeltas    [AV1NumRefFrames]int8
	ModeDeltas   [2]int8

	// delta_lf_params
	DeltaLFPresent bool
	DeltaLFRes     uint8
	DeltaLFMulti   bool
}

// AV1Quantization is the quantization_params syntax.
type AV1Quantization struct {
	BaseQIdx     uint8
	DeltaQYDC    int8
	DiffUVDelta  bool
	DeltaQUDC    int8
	DeltaQUAC    int8
	DeltaQVDC    int8
	DeltaQVAC    int8
	UsingQMatrix bool
	QMY          uint8
	QMU          uint8
	QMV          uint8

	// delta_q_params
	DeltaQPresent bool
	DeltaQRes     uint8
}

// AV1Segmentation is the segmentation_params syntax with derived ids.
type AV1Segmentation struct {
	Enabled        bool
	UpdateMap      bool
	TemporalUpdate bool
	UpdateData     bool

	FeatureEnabled [AV1MaxSegments][AV1SegLvlMax]bool
	FeatureData    [AV1MaxSegments][AV1SegLvlMax]int16
	LastActiveID   uint8
	PreskipID      uint8
}

// AV1CDEF is the cdef_params syntax.
type AV1CDEF struct {
	DampingMinus3 uint8
	Bits          uint8
	YPriStrength  [8]uint8
	YSecStrength  [8]uint8
	UVPriStrength [8]uint8
	UVSecStrength [8]uint8
}

// AV1LoopRestorationType is a per-plane restoration filter type.
type AV1LoopRestorationType uint8

const (
	AV1RestoreNone AV1LoopRestorationType = iota
	AV1RestoreSwitchable
	AV1RestoreWiener
	AV1RestoreSgrproj
)

// AV1LoopRestoration is the lr_params syntax.
type AV1LoopRestoration struct {
	Type         [3]AV1LoopRestorationType
	UnitSize     [3]uint8 // log2 of restoration unit size per plane
	UsesLR       bool
	UsesChromaLR bool
}

// AV1TileInfo is the tile_info syntax.
type AV1TileInfo struct {
	Cols              int32
	Rows              int32
	ColsLog2          uint8
	RowsLog2          uint8
	UniformSpacing    bool
	WidthsSB          [AV1MaxTileCols]int16
	HeightsSB         [AV1MaxTileRows]int16
	ContextUpdateID   uint32
	SizeBytesMinus1   uint8
}

// AV1PictureData carries one AV1 frame's header syntax and reference
// snapshot for the backend.
type AV1PictureData struct {
	FrameType     AV1FrameType
	ShowFrame     bool
	ShowableFrame bool

	ErrorResilientMode      bool
	DisableCDFUpdate        bool
	AllowScreenContentTools bool
	ForceIntegerMV          bool
	AllowIntraBC            bool
	AllowHighPrecisionMV    bool

	FrameIsIntra bool
	OrderHint    uint32
	FrameIDValid bool
	CurrentFrameID uint32

	PrimaryRefFrame   uint8
	RefreshFrameFlags uint8
	RefFrameIdx       [AV1RefsPerFrame]int8
	RefOrderHints     [AV1NumRefFrames]uint32
	RefFrameSignBias  uint8
	RefFrames         [AV1NumRefFrames]PictureBuffer

	Width            int32
	Height           int32
	RenderWidth      int32
	RenderHeight     int32
	SuperresDenom    uint8
	UpscaledWidth    int32

	InterpolationFilter     uint8
	IsMotionModeSwitchable  bool
	UseRefFrameMVs          bool
	DisableFrameEndUpdateCDF bool

	TileInfo     AV1TileInfo
	Quant        AV1Quantization
	Segmentation AV1Segmentation
	LoopFilter   AV1LoopFilter
	CDEF         AV1CDEF
	LoopRestoration AV1LoopRestoration

	TxModeSelect    bool
	ReferenceSelect bool
	SkipModePresent bool
	SkipModeFrame   [2]uint8
	AllowWarpedMotion bool
	ReducedTxSet      bool

	CodedLossless bool
	AllLossless   bool

	GlobalMotion [AV1RefsPerFrame]AV1GlobalMotion
	FilmGrain    AV1FilmGrain

	// Tile group accounting within the frame payload.
	NumTiles    int32
	TileOffsets []int32
	TileSizes   []int32
}
