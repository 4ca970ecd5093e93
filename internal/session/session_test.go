package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

type nullBackend struct{}

func (nullBackend) BeginSequence(info *video.SequenceInfo) (int32, error) { return 32, nil }
func (nullBackend) AllocatePictureBuffer() (video.PictureBuffer, error)   { return nil, nil }
func (nullBackend) DecodePicture(pic *video.PictureDescriptor) (bool, error) {
	return true, nil
}
func (nullBackend) UpdatePictureParameters(s paramset.Set, seq uint64) error { return nil }
func (nullBackend) DisplayPicture(pic video.PictureBuffer, pts int64) error  { return nil }
func (nullBackend) GetBitstreamBuffer(size int) ([]byte, error)              { return make([]byte, size), nil }

func TestNewSelectsCodec(t *testing.T) {
	t.Parallel()

	for _, codec := range []video.CodecType{
		video.CodecH264, video.CodecH265, video.CodecVP9, video.CodecAV1,
	} {
		p, err := New(nullBackend{}, Config{Codec: codec})
		require.NoError(t, err, codec.String())
		assert.NotNil(t, p, codec.String())
	}
}

func TestNewUnknownCodec(t *testing.T) {
	t.Parallel()

	_, err := New(nullBackend{}, Config{})
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	t.Parallel()

	cases := map[string]video.CodecType{
		"h264": video.CodecH264,
		"avc":  video.CodecH264,
		"h265": video.CodecH265,
		"hevc": video.CodecH265,
		"vp9":  video.CodecVP9,
		"av1":  video.CodecAV1,
	}
	for name, want := range cases {
		got, err := ParseCodec(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseCodec("mpeg2")
	assert.Error(t, err)
}
