// Command refract-probe parses a raw elementary stream (H.264/H.265 Annex B,
// a VP9 frame or superframe, or an AV1 OBU stream) and prints the structure
// the decode session sees: sequence changes, parameter-set deliveries,
// decoded pictures, and display order. Decoded pictures flow through the
// bounded submission queue the way a GPU worker would consume them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/session"
	"github.com/zsiec/refract/internal/video"
)

var version = "dev"

var (
	codecName  string
	clockRate  int64
	lengthSize int
	annexB     bool
	queueDepth int
	pts        int64
)

var rootCmd = &cobra.Command{
	Use:          "refract-probe --codec <name> <stream>",
	Short:        "Parse an elementary stream and print its decode structure",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	Version:      version,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&codecName, "codec", "c", "", "stream codec: h264, h265, vp9 or av1")
	f.Int64Var(&clockRate, "clock-rate", 90000, "timestamp tick rate")
	f.IntVar(&lengthSize, "length-size", 0, "NAL length prefix bytes for H.264/H.265 (0 = Annex B)")
	f.BoolVar(&annexB, "annexb", false, "AV1 length-delimited OBU framing")
	f.IntVar(&queueDepth, "queue-depth", 8, "submission queue depth")
	f.Int64Var(&pts, "pts", 0, "presentation timestamp of the first packet")
	_ = rootCmd.MarkFlagRequired("codec")
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	codec, err := session.ParseCodec(codecName)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	pl := pipeline.New(queueDepth, slog.Default())
	probe := &probeBackend{out: cmd.OutOrStdout(), queue: pl.Queue()}

	parser, err := session.New(probe, session.Config{
		Codec:      codec,
		Logger:     slog.Default(),
		ClockRate:  clockRate,
		LengthSize: lengthSize,
		AnnexB:     annexB,
	})
	if err != nil {
		return err
	}

	err = pl.Run(cmd.Context(),
		func(ctx context.Context, q *pipeline.Queue) error {
			probe.ctx = ctx
			return parser.ParsePacket(&video.Packet{
				Data:        data,
				PTS:         pts,
				PTSValid:    true,
				EndOfStream: true,
			})
		},
		probe.printPicture)
	if err != nil {
		return err
	}

	stats := pl.Queue().Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d bytes, %d pictures decoded, %d displayed\n",
		len(data), stats.Delivered, probe.displayed)
	return nil
}

// probePic is a numbered stand-in for a decode surface.
type probePic struct{ id int }

func (p *probePic) Retain()  {}
func (p *probePic) Release() {}

// probeBackend prints every session callback and forwards decoded pictures
// into the submission queue.
type probeBackend struct {
	out   io.Writer
	queue *pipeline.Queue
	ctx   context.Context

	allocated int
	displayed int
}

func (b *probeBackend) BeginSequence(info *video.SequenceInfo) (int32, error) {
	fmt.Fprintf(b.out, "sequence  %s profile=%d coded=%dx%d display=%dx%d chroma=%d depth=%d surfaces>=%d dpb>=%d\n",
		info.Codec, info.CodecProfile,
		info.CodedWidth, info.CodedHeight,
		info.DisplayWidth, info.DisplayHeight,
		info.Chroma, info.BitDepthLuma,
		info.MinDecodeSurfaces, info.MinDPBSlots)
	return info.MinDecodeSurfaces + 2, nil
}

func (b *probeBackend) AllocatePictureBuffer() (video.PictureBuffer, error) {
	b.allocated++
	return &probePic{id: b.allocated - 1}, nil
}

func (b *probeBackend) DecodePicture(pic *video.PictureDescriptor) (bool, error) {
	if err := b.queue.Push(b.ctx, pic); err != nil {
		return false, err
	}
	return true, nil
}

func (b *probeBackend) UpdatePictureParameters(set paramset.Set, seq uint64) error {
	fmt.Fprintf(b.out, "params    type=%s id=%d update=%d\n", set.ParamType(), set.ParamID(), seq)
	return nil
}

func (b *probeBackend) DisplayPicture(pic video.PictureBuffer, ts int64) error {
	b.displayed++
	if p, ok := pic.(*probePic); ok {
		fmt.Fprintf(b.out, "display   surface=%d pts=%d\n", p.id, ts)
	}
	return nil
}

func (b *probeBackend) GetBitstreamBuffer(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// printPicture runs on the submission worker, one call per decoded picture.
func (b *probeBackend) printPicture(d *video.PictureDescriptor) error {
	kind := "inter"
	if d.IntraPic {
		kind = "intra"
	}
	surface := -1
	if p, ok := d.Current.(*probePic); ok {
		surface = p.id
	}
	fmt.Fprintf(b.out, "picture   #%-4d %s %dx%d surface=%d ref=%t slot=%d payload=%dB\n",
		d.PictureIndex, kind, d.Width, d.Height, surface, d.RefPic, d.SetupSlot, len(d.Bitstream))
	return nil
}
