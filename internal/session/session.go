// Package session selects and configures the per-codec parser for one
// decode session. The codec is negotiated once at creation; from then on
// every packet flows through the same parser instance.
package session

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/refract/internal/av1"
	"github.com/zsiec/refract/internal/h264"
	"github.com/zsiec/refract/internal/h265"
	"github.com/zsiec/refract/internal/video"
	"github.com/zsiec/refract/internal/vp9"
)

// Config carries the session-wide knobs shared by every codec.
type Config struct {
	Codec  video.CodecType
	Logger *slog.Logger

	// ClockRate is the timestamp tick rate; zero means 90 kHz.
	ClockRate int64

	// LengthSize selects length-prefixed NAL framing for H.264/H.265
	// (1, 2 or 4 byte prefixes); zero means Annex B start codes.
	LengthSize int

	// AnnexB selects the length-delimited OBU framing for AV1.
	AnnexB bool
}

// ParseCodec maps a codec name to its CodecType.
func ParseCodec(name string) (video.CodecType, error) {
	switch name {
	case "h264", "avc":
		return video.CodecH264, nil
	case "h265", "hevc":
		return video.CodecH265, nil
	case "vp9":
		return video.CodecVP9, nil
	case "av1":
		return video.CodecAV1, nil
	}
	return 0, fmt.Errorf("session: unknown codec %q", name)
}

// New returns a parser for the configured codec driving the backend.
func New(backend video.Backend, cfg Config) (video.Parser, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("codec", cfg.Codec.String())

	switch cfg.Codec {
	case video.CodecH264:
		return h264.New(backend, h264.Options{
			Logger:     log,
			LengthSize: cfg.LengthSize,
			ClockRate:  cfg.ClockRate,
		}), nil
	case video.CodecH265:
		return h265.New(backend, h265.Options{
			Logger:     log,
			LengthSize: cfg.LengthSize,
			ClockRate:  cfg.ClockRate,
		}), nil
	case video.CodecVP9:
		return vp9.New(backend, vp9.Options{
			Logger:    log,
			ClockRate: cfg.ClockRate,
		}), nil
	case video.CodecAV1:
		return av1.New(backend, av1.Options{
			Logger:    log,
			ClockRate: cfg.ClockRate,
			AnnexB:    cfg.AnnexB,
		}), nil
	default:
		return nil, fmt.Errorf("session: unsupported codec %v", cfg.Codec)
	}
}
