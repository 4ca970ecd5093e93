package av1

import (
	"testing"

	"github.com/zsiec/refract/internal/video"
)

func orderHintParser(bits uint8) *Parser {
	return &Parser{seq: &SequenceHeader{EnableOrderHint: true, OrderHintBits: bits}}
}

func TestRelativeDist(t *testing.T) {
	t.Parallel()

	p := orderHintParser(7)
	for _, a := range []uint32{0, 1, 63, 64, 127} {
		if d := p.relativeDist(a, a); d != 0 {
			t.Fatalf("relativeDist(%d, %d) = %d", a, a, d)
		}
	}
	cases := []struct {
		a, b uint32
		want int32
	}{
		{10, 7, 3},
		{7, 10, -3},
		{1, 126, 3},   // wraps forward
		{126, 1, -3},  // wraps backward
		{64, 0, -64},  // half the range is the break point
		{100, 40, 60},
	}
	for _, tc := range cases {
		if d := p.relativeDist(tc.a, tc.b); d != tc.want {
			t.Errorf("relativeDist(%d, %d) = %d, want %d", tc.a, tc.b, d, tc.want)
		}
		if d := p.relativeDist(tc.b, tc.a); d != -tc.want {
			t.Errorf("relativeDist(%d, %d) = %d, want %d", tc.b, tc.a, d, -tc.want)
		}
	}

	disabled := &Parser{seq: &SequenceHeader{}}
	if d := disabled.relativeDist(10, 7); d != 0 {
		t.Fatalf("order hints disabled: got %d", d)
	}
}

func TestSetFrameRefs(t *testing.T) {
	t.Parallel()

	p := orderHintParser(7)
	p.refOrderHint = [video.AV1NumRefFrames]uint32{9, 5, 11, 12, 8, 7, 6, 4}

	pd := &video.AV1PictureData{OrderHint: 10}
	p.setFrameRefs(pd, 0, 1)

	// ALTREF takes the latest future frame, BWDREF the earliest, and the
	// nearest past frames fill the remaining names.
	want := [video.AV1RefsPerFrame]int8{0, 4, 5, 1, 2, 6, 3}
	if pd.RefFrameIdx != want {
		t.Fatalf("RefFrameIdx = %v, want %v", pd.RefFrameIdx, want)
	}
}

func TestSkipModeFrames(t *testing.T) {
	t.Parallel()

	p := orderHintParser(7)
	p.refOrderHint = [video.AV1NumRefFrames]uint32{9, 5, 11, 12, 8, 7, 6, 4}

	pd := &video.AV1PictureData{
		OrderHint:       10,
		ReferenceSelect: true,
		RefFrameIdx:     [video.AV1RefsPerFrame]int8{0, 4, 5, 1, 2, 6, 3},
	}
	if !p.isSkipModeAllowed(pd) {
		t.Fatal("skip mode should be allowed with references on both sides")
	}
	// nearest forward is hint 9 (LAST), nearest backward is hint 11 (BWDREF)
	if pd.SkipModeFrame != [2]uint8{1, 5} {
		t.Fatalf("SkipModeFrame = %v", pd.SkipModeFrame)
	}

	pd.ReferenceSelect = false
	if p.isSkipModeAllowed(pd) {
		t.Fatal("skip mode requires compound reference mode")
	}

	intra := &video.AV1PictureData{FrameIsIntra: true, ReferenceSelect: true}
	if p.isSkipModeAllowed(intra) {
		t.Fatal("skip mode never applies to intra frames")
	}
}
