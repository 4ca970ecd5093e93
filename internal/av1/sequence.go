package av1

import (
	"github.com/zsiec/refract/internal/bits"
	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

const (
	maxOperatingPoints = 32

	// Signaled when the per-frame header chooses the value itself.
	selectScreenContentTools = 2
	selectIntegerMV          = 2
)

// OperatingPoint is one entry of the sequence header's operating point table.
type OperatingPoint struct {
	IDC                 uint16
	SeqLevelIdx         uint8
	SeqTier             uint8
	DecoderModelPresent bool
	DecoderBufferDelay  uint32
	EncoderBufferDelay  uint32
	LowDelayMode        bool
	DisplayModelPresent bool
	InitialDisplayDelay uint8
}

// TimingInfo is the sequence header's timing_info syntax.
type TimingInfo struct {
	NumUnitsInDisplayTick uint32
	TimeScale             uint32
	EqualPictureInterval  bool
	NumTicksPerPicture    uint32
}

// DecoderModelInfo is the sequence header's decoder_model_info syntax.
type DecoderModelInfo struct {
	BufferDelayLength           uint8
	NumUnitsInDecodingTick      uint32
	BufferRemovalTimeLength     uint8
	FramePresentationTimeLength uint8
}

// ColorConfig is the sequence header's color_config syntax with the derived
// subsampling.
type ColorConfig struct {
	BitDepth               uint8
	Monochrome             bool
	ColorPrimaries         uint8
	TransferCharacteristic uint8
	MatrixCoefficients     uint8
	ColorRange             bool
	SubsamplingX           uint8
	SubsamplingY           uint8
	ChromaSamplePosition   uint8
	SeparateUVDeltaQ       bool
}

// SequenceHeader is one parsed sequence header OBU. AV1 carries no id, so
// every sequence header shares id zero and replaces the previous one.
type SequenceHeader struct {
	Profile                  uint8
	StillPicture             bool
	ReducedStillPicture      bool
	TimingInfoPresent        bool
	Timing                   TimingInfo
	DecoderModelInfoPresent  bool
	DecoderModel             DecoderModelInfo
	InitialDisplayDelayFlag  bool
	OperatingPointCount      uint8
	OperatingPoints          [maxOperatingPoints]OperatingPoint
	FrameWidthBits           uint8
	FrameHeightBits          uint8
	MaxFrameWidth            int32
	MaxFrameHeight           int32
	FrameIDNumbersPresent    bool
	DeltaFrameIDLength       uint8
	FrameIDLength            uint8
	Use128x128Superblock     bool
	EnableFilterIntra        bool
	EnableIntraEdgeFilter    bool
	EnableInterintraCompound bool
	EnableMaskedCompound     bool
	EnableWarpedMotion       bool
	EnableDualFilter         bool
	EnableOrderHint          bool
	EnableJntComp            bool
	EnableRefFrameMVs        bool
	ForceScreenContentTools  uint8
	ForceIntegerMV           uint8
	OrderHintBits            uint8
	EnableSuperres           bool
	EnableCDEF               bool
	EnableRestoration        bool
	Color                    ColorConfig
	FilmGrainParamsPresent   bool
}

func (s *SequenceHeader) ParamType() paramset.Type { return paramset.TypeAV1SequenceHeader }
func (s *SequenceHeader) ParamID() int32           { return 0 }

// FrameRate derives a rational frame rate from timing info, when the stream
// carries fixed-interval timing.
func (s *SequenceHeader) FrameRate() video.FrameRate {
	if !s.TimingInfoPresent || !s.Timing.EqualPictureInterval {
		return video.FrameRate{}
	}
	return video.FrameRate{
		Numerator:   s.Timing.TimeScale,
		Denominator: s.Timing.NumUnitsInDisplayTick * s.Timing.NumTicksPerPicture,
	}
}

// Chroma maps the color config's subsampling to the sequence chroma format.
func (s *SequenceHeader) Chroma() video.ChromaFormat {
	switch {
	case s.Color.Monochrome:
		return video.ChromaMonochrome
	case s.Color.SubsamplingX == 0 && s.Color.SubsamplingY == 0:
		return video.Chroma444
	case s.Color.SubsamplingX == 1 && s.Color.SubsamplingY == 0:
		return video.Chroma422
	}
	return video.Chroma420
}

// ParseSequenceHeader parses a sequence header OBU payload.
func ParseSequenceHeader(data []byte) (*SequenceHeader, error) {
	r := bits.NewReader(data)
	s := &SequenceHeader{}

	s.Profile = uint8(r.U(3))
	if s.Profile > 2 {
		return nil, video.SyntaxErrorf("av1: unsupported seq_profile %d", s.Profile)
	}
	s.StillPicture = r.Flag()
	s.ReducedStillPicture = r.Flag()
	if s.ReducedStillPicture && !s.StillPicture {
		return nil, video.SyntaxErrorf("av1: reduced_still_picture_header without still_picture")
	}

	if s.ReducedStillPicture {
		s.OperatingPointCount = 1
		s.OperatingPoints[0].SeqLevelIdx = uint8(r.U(5))
	} else {
		s.TimingInfoPresent = r.Flag()
		if s.TimingInfoPresent {
			parseTimingInfo(r, &s.Timing)
			s.DecoderModelInfoPresent = r.Flag()
			if s.DecoderModelInfoPresent {
				parseDecoderModelInfo(r, &s.DecoderModel)
			}
		}
		s.InitialDisplayDelayFlag = r.Flag()
		s.OperatingPointCount = uint8(r.U(5)) + 1
		for i := 0; i < int(s.OperatingPointCount); i++ {
			op := &s.OperatingPoints[i]
			op.IDC = uint16(r.U(12))
			op.SeqLevelIdx = uint8(r.U(5))
			if op.SeqLevelIdx > 7 { // above level 3.3
				op.SeqTier = uint8(r.U(1))
			}
			if s.DecoderModelInfoPresent {
				op.DecoderModelPresent = r.Flag()
				if op.DecoderModelPresent {
					n := int(s.DecoderModel.BufferDelayLength)
					op.DecoderBufferDelay = r.U(n)
					op.EncoderBufferDelay = r.U(n)
					op.LowDelayMode = r.Flag()
				}
			}
			op.InitialDisplayDelay = 10
			if s.InitialDisplayDelayFlag {
				op.DisplayModelPresent = r.Flag()
				if op.DisplayModelPresent {
					op.InitialDisplayDelay = uint8(r.U(4)) + 1
				}
			}
		}
	}

	s.FrameWidthBits = uint8(r.U(4)) + 1
	s.FrameHeightBits = uint8(r.U(4)) + 1
	s.MaxFrameWidth = int32(r.U(int(s.FrameWidthBits))) + 1
	s.MaxFrameHeight = int32(r.U(int(s.FrameHeightBits))) + 1

	if !s.ReducedStillPicture {
		s.FrameIDNumbersPresent = r.Flag()
	}
	if s.FrameIDNumbersPresent {
		s.DeltaFrameIDLength = uint8(r.U(4)) + 2
		s.FrameIDLength = uint8(r.U(3)) + s.DeltaFrameIDLength + 1
		if s.FrameIDLength > 16 {
			return nil, video.SyntaxErrorf("av1: frame_id_length %d exceeds 16", s.FrameIDLength)
		}
	}

	s.Use128x128Superblock = r.Flag()
	s.EnableFilterIntra = r.Flag()
	s.EnableIntraEdgeFilter = r.Flag()

	if s.ReducedStillPicture {
		s.ForceScreenContentTools = selectScreenContentTools
		s.ForceIntegerMV = selectIntegerMV
	} else {
		s.EnableInterintraCompound = r.Flag()
		s.EnableMaskedCompound = r.Flag()
		s.EnableWarpedMotion = r.Flag()
		s.EnableDualFilter = r.Flag()
		s.EnableOrderHint = r.Flag()
		if s.EnableOrderHint {
			s.EnableJntComp = r.Flag()
			s.EnableRefFrameMVs = r.Flag()
		}
		if r.Flag() {
			s.ForceScreenContentTools = selectScreenContentTools
		} else {
			s.ForceScreenContentTools = uint8(r.U(1))
		}
		if s.ForceScreenContentTools > 0 {
			if r.Flag() {
				s.ForceIntegerMV = selectIntegerMV
			} else {
				s.ForceIntegerMV = uint8(r.U(1))
			}
		} else {
			s.ForceIntegerMV = selectIntegerMV
		}
		if s.EnableOrderHint {
			s.OrderHintBits = uint8(r.U(3)) + 1
		}
	}

	s.EnableSuperres = r.Flag()
	s.EnableCDEF = r.Flag()
	s.EnableRestoration = r.Flag()

	parseColorConfig(r, s)
	s.FilmGrainParamsPresent = r.Flag()

	if err := r.RBSPTrailingBits(); err != nil {
		return nil, video.SyntaxErrorf("av1: sequence header trailing bits: %v", err)
	}
	if err := r.Err(); err != nil {
		return nil, video.SyntaxErrorf("av1: sequence header: %v", err)
	}
	return s, nil
}

func parseTimingInfo(r *bits.Reader, t *TimingInfo) {
	t.NumUnitsInDisplayTick = r.U(32)
	t.TimeScale = r.U(32)
	t.EqualPictureInterval = r.Flag()
	if t.EqualPictureInterval {
		t.NumTicksPerPicture = r.UVLC() + 1
	}
}

func parseDecoderModelInfo(r *bits.Reader, d *DecoderModelInfo) {
	d.BufferDelayLength = uint8(r.U(5)) + 1
	d.NumUnitsInDecodingTick = r.U(32)
	d.BufferRemovalTimeLength = uint8(r.U(5)) + 1
	d.FramePresentationTimeLength = uint8(r.U(5)) + 1
}

func parseColorConfig(r *bits.Reader, s *SequenceHeader) {
	cc := &s.Color
	highBitdepth := r.Flag()
	switch {
	case s.Profile == 2 && highBitdepth:
		if r.Flag() {
			cc.BitDepth = 12
		} else {
			cc.BitDepth = 10
		}
	case highBitdepth:
		cc.BitDepth = 10
	default:
		cc.BitDepth = 8
	}

	if s.Profile != 1 {
		cc.Monochrome = r.Flag()
	}
	if r.Flag() { // color_description_present_flag
		cc.ColorPrimaries = uint8(r.U(8))
		cc.TransferCharacteristic = uint8(r.U(8))
		cc.MatrixCoefficients = uint8(r.U(8))
	} else {
		cc.ColorPrimaries = 2 // unspecified
		cc.TransferCharacteristic = 2
		cc.MatrixCoefficients = 2
	}

	if cc.Monochrome {
		cc.ColorRange = r.Flag()
		cc.SubsamplingX = 1
		cc.SubsamplingY = 1
		return
	}
	// BT.709 primaries + sRGB transfer + identity matrix means 4:4:4 full
	// range with no further signaling.
	if cc.ColorPrimaries == 1 && cc.TransferCharacteristic == 13 && cc.MatrixCoefficients == 0 {
		cc.ColorRange = true
	} else {
		cc.ColorRange = r.Flag()
		switch {
		case s.Profile == 0:
			cc.SubsamplingX, cc.SubsamplingY = 1, 1
		case s.Profile == 1:
			cc.SubsamplingX, cc.SubsamplingY = 0, 0
		case cc.BitDepth == 12:
			cc.SubsamplingX = uint8(r.U(1))
			if cc.SubsamplingX == 1 {
				cc.SubsamplingY = uint8(r.U(1))
			}
		default:
			cc.SubsamplingX, cc.SubsamplingY = 1, 0
		}
		if cc.SubsamplingX == 1 && cc.SubsamplingY == 1 {
			cc.ChromaSamplePosition = uint8(r.U(2))
		}
	}
	cc.SeparateUVDeltaQ = r.Flag()
}
