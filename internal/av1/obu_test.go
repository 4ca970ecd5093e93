package av1

import (
	"errors"
	"testing"

	"github.com/zsiec/refract/internal/video"
)

func TestOBUHeader(t *testing.T) {
	t.Parallel()

	hdr, err := ParseOBUHeader([]byte{0x32, 0x03, 0xaa, 0xbb, 0xcc}, false)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Type != OBUFrame || hdr.HeaderSize != 2 || hdr.PayloadSize != 3 {
		t.Fatalf("got %+v", hdr)
	}
	if hdr.HasExtension {
		t.Fatal("extension flag set")
	}
}

func TestOBUHeaderExtension(t *testing.T) {
	t.Parallel()

	// tile group with temporal_id 2, spatial_id 1
	hdr, err := ParseOBUHeader([]byte{0x26, 0x48, 0x01, 0xff}, false)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Type != OBUTileGroup || hdr.TemporalID != 2 || hdr.SpatialID != 1 {
		t.Fatalf("got %+v", hdr)
	}
	if hdr.HeaderSize != 3 || hdr.PayloadSize != 1 {
		t.Fatalf("size accounting: %+v", hdr)
	}
}

func TestOBUHeaderRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data []byte
	}{
		{"forbidden bit", []byte{0x80, 0x00}},
		{"reserved type", []byte{0x02, 0x00}},
		{"reserved bit", []byte{0x33, 0x00}},
		{"extension reserved bits", []byte{0x26, 0x49, 0x00}},
		{"missing size field", []byte{0x30, 0x00}},
		{"payload overrun", []byte{0x32, 0x05, 0xaa}},
		{"empty", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseOBUHeader(tc.data, false); !errors.Is(err, video.ErrSyntax) {
				t.Fatalf("got %v, want syntax error", err)
			}
		})
	}
}

func TestOBUHeaderAnnexB(t *testing.T) {
	t.Parallel()

	// length 4 covers the header byte plus three payload bytes
	hdr, err := ParseOBUHeader([]byte{0x04, 0x30, 0x11, 0x22, 0x33}, true)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Type != OBUFrame || hdr.HeaderSize != 2 || hdr.PayloadSize != 3 {
		t.Fatalf("got %+v", hdr)
	}
}

func TestReadLEB(t *testing.T) {
	t.Parallel()

	v, n, err := readLEB([]byte{0xe5, 0x8e, 0x26})
	if err != nil {
		t.Fatal(err)
	}
	if v != 624485 || n != 3 {
		t.Fatalf("got %d in %d bytes", v, n)
	}

	if _, _, err := readLEB([]byte{0x80, 0x80}); !errors.Is(err, video.ErrSyntax) {
		t.Fatalf("unterminated: got %v", err)
	}
	if _, _, err := readLEB([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}); !errors.Is(err, video.ErrSyntax) {
		t.Fatalf("oversize value: got %v", err)
	}
}
