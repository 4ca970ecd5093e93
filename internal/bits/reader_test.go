package bits

import (
	"errors"
	"testing"
)

// bitWriter builds synthetic bitstreams for tests, MSB first.
type bitWriter struct {
	data []byte
	bit  int
}

func (w *bitWriter) writeBit(b uint32) {
	if w.bit == 0 {
		w.data = append(w.data, 0)
	}
	if b != 0 {
		w.data[len(w.data)-1] |= 1 << (7 - w.bit)
	}
	w.bit = (w.bit + 1) % 8
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> i) & 1)
	}
}

func (w *bitWriter) writeUE(v uint32) {
	zeros := 0
	for (uint64(1)<<(zeros+1))-1 <= uint64(v) {
		zeros++
	}
	for i := 0; i < zeros; i++ {
		w.writeBit(0)
	}
	w.writeBit(1)
	w.writeBits(v-((1<<zeros)-1), zeros)
}

func (w *bitWriter) writeSE(v int32) {
	if v > 0 {
		w.writeUE(uint32(2*v - 1))
	} else {
		w.writeUE(uint32(-2 * v))
	}
}

func TestReadBits(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0b10110100, 0b01100000})
	got, err := r.ReadBits(3)
	if err != nil || got != 0b101 {
		t.Fatalf("ReadBits(3) = %b, %v", got, err)
	}
	got, err = r.ReadBits(7)
	if err != nil || got != 0b1010001 {
		t.Fatalf("ReadBits(7) = %b, %v", got, err)
	}
	if _, err := r.ReadBits(10); !errors.Is(err, ErrShortData) {
		t.Fatalf("expected ErrShortData, got %v", err)
	}
}

func TestExpGolombRoundTrip(t *testing.T) {
	t.Parallel()

	for v := uint32(0); v < 1<<20; v++ {
		var w bitWriter
		w.writeUE(v)
		r := NewReader(w.data)
		got, err := r.ReadUE()
		if err != nil {
			t.Fatalf("ReadUE(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadUE(%d) = %d", v, got)
		}
	}
}

func TestSignedExpGolombRoundTrip(t *testing.T) {
	t.Parallel()

	for v := int32(-1 << 19); v < 1<<19; v++ {
		var w bitWriter
		w.writeSE(v)
		r := NewReader(w.data)
		got, err := r.ReadSE()
		if err != nil {
			t.Fatalf("ReadSE(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadSE(%d) = %d", v, got)
		}
	}
}

func TestReadSignedBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bits uint32
		n    int
		want int32
	}{
		{"zero", 0b000, 3, 0},
		{"positive", 0b011, 3, 3},
		{"negative one", 0b111, 3, -1},
		{"min", 0b100, 3, -4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var w bitWriter
			w.writeBits(tt.bits, tt.n)
			r := NewReader(w.data)
			got, err := r.ReadSignedBits(tt.n)
			if err != nil {
				t.Fatalf("ReadSignedBits: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ReadSignedBits = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadNS(t *testing.T) {
	t.Parallel()

	// n=10: w=4, m=6. Values 0-5 use 3 bits, 6-9 use 4.
	tests := []struct {
		bits []uint32
		want uint32
	}{
		{[]uint32{0, 0, 0}, 0},
		{[]uint32{1, 0, 1}, 5},
		{[]uint32{1, 1, 0, 0}, 6},
		{[]uint32{1, 1, 1, 1}, 9},
	}
	for _, tt := range tests {
		var w bitWriter
		for _, b := range tt.bits {
			w.writeBit(b)
		}
		r := NewReader(w.data)
		got, err := r.ReadNS(10)
		if err != nil {
			t.Fatalf("ReadNS: %v", err)
		}
		if got != tt.want {
			t.Fatalf("ReadNS(%v) = %d, want %d", tt.bits, got, tt.want)
		}
	}
}

func TestReadLEB128(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		want    uint64
		wantErr error
	}{
		{"single byte", []byte{0x2a}, 42, nil},
		{"two bytes", []byte{0x80, 0x01}, 128, nil},
		{"max 32-bit", []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff, nil},
		{"over 32-bit", []byte{0x80, 0x80, 0x80, 0x80, 0x10}, 0, ErrValueTooLarge},
		{"truncated", []byte{0x80}, 0, ErrShortData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(tt.data)
			got, err := r.ReadLEB128()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadLEB128 error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Fatalf("ReadLEB128 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRBSPTrailingBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		skip    int
		wantErr error
	}{
		{"stop bit at byte start", []byte{0x80}, 0, nil},
		{"stop bit mid byte", []byte{0xa0}, 2, nil},
		{"missing stop bit", []byte{0x00}, 0, ErrTrailingBits},
		{"nonzero after stop", []byte{0xc0}, 0, ErrTrailingBits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(tt.data)
			if _, err := r.ReadBits(tt.skip); err != nil {
				t.Fatal(err)
			}
			if err := r.RBSPTrailingBits(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("RBSPTrailingBits = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMoreRBSPData(t *testing.T) {
	t.Parallel()

	// One flag bit then trailing bits: stop after the first bit.
	r := NewReader([]byte{0b11000000})
	if !r.MoreRBSPData() {
		t.Fatal("expected more data before the flag")
	}
	if _, err := r.ReadBit(); err != nil {
		t.Fatal(err)
	}
	if r.MoreRBSPData() {
		t.Fatal("expected no data before trailing bits")
	}
}

func TestRemoveEmulationPrevention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no escapes", []byte{0x01, 0x02, 0x03}, []byte{0x01, 0x02, 0x03}},
		{"escape removed", []byte{0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x01}},
		{"escape kept before large byte", []byte{0x00, 0x00, 0x03, 0x04}, []byte{0x00, 0x00, 0x03, 0x04}},
		{"trailing escape", []byte{0x00, 0x00, 0x03}, []byte{0x00, 0x00}},
		{"double escape", []byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x00, 0x00, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RemoveEmulationPrevention(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %x, want %x", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %x, want %x", got, tt.want)
				}
			}
		})
	}
}
