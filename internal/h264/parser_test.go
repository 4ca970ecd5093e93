package h264

import (
	"errors"
	"testing"

	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

// streamWriter builds synthetic RBSP payloads bit by bit.
type streamWriter struct {
	buf []byte
	bit int
}

func (w *streamWriter) writeBit(b uint32) {
	if w.bit == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.bit)
	}
	w.bit = (w.bit + 1) % 8
}

func (w *streamWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> i) & 1)
	}
}

func (w *streamWriter) writeUE(v uint32) {
	lead := 0
	for (1 << (lead + 1)) <= int(v)+1 {
		lead++
	}
	for i := 0; i < lead; i++ {
		w.writeBit(0)
	}
	w.writeBits(v+1, lead+1)
}

func (w *streamWriter) writeSE(v int32) {
	if v > 0 {
		w.writeUE(uint32(2*v - 1))
	} else {
		w.writeUE(uint32(-2 * v))
	}
}

func (w *streamWriter) stopBit() {
	w.writeBit(1)
	for w.bit != 0 {
		w.writeBit(0)
	}
}

// testPic is a refcounted fake surface.
type testPic struct {
	id       int
	retains  int
	releases int
}

func (p *testPic) Retain()  { p.retains++ }
func (p *testPic) Release() { p.releases++ }

// recordingBackend captures every callback for assertions.
type recordingBackend struct {
	sequences []video.SequenceInfo
	surfaces  int32

	allocated []*testPic
	decoded   []video.PictureDescriptor
	displayed []struct {
		pic video.PictureBuffer
		pts int64
	}
	paramUpdates []paramset.Type

	skipNext bool
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{surfaces: 8}
}

func (b *recordingBackend) BeginSequence(info *video.SequenceInfo) (int32, error) {
	b.sequences = append(b.sequences, *info)
	return b.surfaces, nil
}

func (b *recordingBackend) AllocatePictureBuffer() (video.PictureBuffer, error) {
	p := &testPic{id: len(b.allocated)}
	b.allocated = append(b.allocated, p)
	return p, nil
}

func (b *recordingBackend) DecodePicture(pic *video.PictureDescriptor) (bool, error) {
	cp := *pic
	cp.RefSlots = append([]video.ReferenceSlot(nil), pic.RefSlots...)
	b.decoded = append(b.decoded, cp)
	if b.skipNext {
		b.skipNext = false
		return false, nil
	}
	return true, nil
}

func (b *recordingBackend) UpdatePictureParameters(s paramset.Set, seq uint64) error {
	b.paramUpdates = append(b.paramUpdates, s.ParamType())
	return nil
}

func (b *recordingBackend) DisplayPicture(pic video.PictureBuffer, pts int64) error {
	b.displayed = append(b.displayed, struct {
		pic video.PictureBuffer
		pts int64
	}{pic, pts})
	return nil
}

func (b *recordingBackend) GetBitstreamBuffer(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// buildSPS encodes a baseline SPS: 64x64, poc type 2, one reference frame.
func buildSPS(maxRefFrames uint32) []byte {
	w := &streamWriter{}
	w.writeBits(66, 8) // profile_idc baseline
	w.writeBits(0, 8)  // constraint flags
	w.writeBits(30, 8) // level_idc
	w.writeUE(0)       // seq_parameter_set_id
	w.writeUE(0)       // log2_max_frame_num_minus4
	w.writeUE(2)       // pic_order_cnt_type
	w.writeUE(maxRefFrames)
	w.writeBit(0) // gaps_in_frame_num_value_allowed_flag
	w.writeUE(3)  // pic_width_in_mbs_minus1
	w.writeUE(3)  // pic_height_in_map_units_minus1
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(1) // direct_8x8_inference_flag
	w.writeBit(0) // frame_cropping_flag
	w.writeBit(0) // vui_parameters_present_flag
	w.stopBit()
	return append([]byte{0x67}, w.buf...)
}

func buildPPS() []byte {
	w := &streamWriter{}
	w.writeUE(0)  // pic_parameter_set_id
	w.writeUE(0)  // seq_parameter_set_id
	w.writeBit(0) // entropy_coding_mode_flag
	w.writeBit(0) // bottom_field_pic_order_in_frame_present_flag
	w.writeUE(0)  // num_slice_groups_minus1
	w.writeUE(0)  // num_ref_idx_l0_default_active_minus1
	w.writeUE(0)  // num_ref_idx_l1_default_active_minus1
	w.writeBit(0) // weighted_pred_flag
	w.writeBits(0, 2)
	w.writeSE(0) // pic_init_qp_minus26
	w.writeSE(0) // pic_init_qs_minus26
	w.writeSE(0) // chroma_qp_index_offset
	w.writeBit(0)
	w.writeBit(0)
	w.writeBit(0)
	w.stopBit()
	return append([]byte{0x68}, w.buf...)
}

// buildSlice encodes a slice header for poc type 2 streams, plus filler
// payload bytes.
func buildSlice(idr bool, frameNum uint32) []byte {
	w := &streamWriter{}
	w.writeUE(0) // first_mb_in_slice
	if idr {
		w.writeUE(2) // slice_type I
	} else {
		w.writeUE(0) // slice_type P
	}
	w.writeUE(0)             // pic_parameter_set_id
	w.writeBits(frameNum, 4) // frame_num
	if idr {
		w.writeUE(0) // idr_pic_id
	}
	if !idr {
		w.writeBit(0) // ref_pic_list_modification_flag_l0
	}
	// dec_ref_pic_marking (nal_ref_idc != 0)
	if idr {
		w.writeBit(0) // no_output_of_prior_pics_flag
		w.writeBit(0) // long_term_reference_flag
	} else {
		w.writeBit(0) // adaptive_ref_pic_marking_mode_flag
	}
	w.stopBit()
	hdr := byte(0x65) // nal_ref_idc 3, IDR
	if !idr {
		hdr = 0x61
	}
	out := append([]byte{hdr}, w.buf...)
	return append(out, 0x88, 0x99) // slice payload filler
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestDecodeIDRThenP(t *testing.T) {
	t.Parallel()

	be := newRecordingBackend()
	p := New(be, Options{})

	pkt := &video.Packet{
		Data:         annexB(buildSPS(1), buildPPS(), buildSlice(true, 0)),
		PTS:          1000,
		PTSValid:     true,
		EndOfPicture: true,
	}
	if err := p.ParsePacket(pkt); err != nil {
		t.Fatalf("ParsePacket idr: %v", err)
	}
	pkt2 := &video.Packet{
		Data:         annexB(buildSlice(false, 1)),
		PTS:          4000,
		PTSValid:     true,
		EndOfPicture: true,
	}
	if err := p.ParsePacket(pkt2); err != nil {
		t.Fatalf("ParsePacket p: %v", err)
	}
	if err := p.EndOfStream(); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}

	if len(be.sequences) != 1 {
		t.Fatalf("BeginSequence calls = %d, want 1", len(be.sequences))
	}
	seq := be.sequences[0]
	if seq.Codec != video.CodecH264 || seq.CodedWidth != 64 || seq.CodedHeight != 64 {
		t.Fatalf("sequence = %+v", seq)
	}
	if len(be.decoded) != 2 {
		t.Fatalf("DecodePicture calls = %d, want 2", len(be.decoded))
	}
	if !be.decoded[0].IntraPic || !be.decoded[0].H264.IDRPic {
		t.Errorf("first picture should be intra IDR")
	}
	if got := len(be.decoded[0].RefSlots); got != 0 {
		t.Errorf("idr ref slots = %d, want 0", got)
	}
	if got := len(be.decoded[1].RefSlots); got != 1 {
		t.Fatalf("p ref slots = %d, want 1", got)
	}
	if be.decoded[1].RefSlots[0].Slot != be.decoded[0].SetupSlot {
		t.Errorf("p references slot %d, idr occupied %d",
			be.decoded[1].RefSlots[0].Slot, be.decoded[0].SetupSlot)
	}
	if be.decoded[1].SetupSlot == be.decoded[0].SetupSlot {
		t.Errorf("setup slot reused while reference is live")
	}
	if len(be.displayed) != 2 {
		t.Fatalf("displayed = %d, want 2", len(be.displayed))
	}
	if be.displayed[0].pts != 1000 || be.displayed[1].pts != 4000 {
		t.Errorf("display pts = %d, %d", be.displayed[0].pts, be.displayed[1].pts)
	}
}

func TestParameterSetRedeliverySuppressed(t *testing.T) {
	t.Parallel()

	be := newRecordingBackend()
	p := New(be, Options{})

	pkt := &video.Packet{Data: annexB(buildSPS(1), buildPPS(), buildSPS(1))}
	if err := p.ParsePacket(pkt); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if len(be.paramUpdates) != 2 {
		t.Fatalf("param updates = %d, want 2 (sps once, pps once)", len(be.paramUpdates))
	}
}

func TestForbiddenBitRejected(t *testing.T) {
	t.Parallel()

	be := newRecordingBackend()
	p := New(be, Options{})

	pkt := &video.Packet{Data: annexB([]byte{0xE7, 0x42, 0x00, 0x1E})}
	err := p.ParsePacket(pkt)
	if !errors.Is(err, video.ErrSyntax) {
		t.Fatalf("err = %v, want syntax error", err)
	}
}

func TestSkippedPictureNotDisplayed(t *testing.T) {
	t.Parallel()

	be := newRecordingBackend()
	be.skipNext = true
	p := New(be, Options{})

	pkt := &video.Packet{Data: annexB(buildSPS(1), buildPPS(), buildSlice(true, 0)), EndOfPicture: true}
	if err := p.ParsePacket(pkt); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if err := p.EndOfStream(); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}
	if len(be.decoded) != 1 {
		t.Fatalf("decoded = %d, want 1", len(be.decoded))
	}
	if len(be.displayed) != 0 {
		t.Fatalf("displayed = %d, want 0 for skipped picture", len(be.displayed))
	}
}

func TestLengthPrefixedInput(t *testing.T) {
	t.Parallel()

	be := newRecordingBackend()
	p := New(be, Options{LengthSize: 4})

	var data []byte
	for _, n := range [][]byte{buildSPS(1), buildPPS(), buildSlice(true, 0)} {
		data = append(data, byte(len(n)>>24), byte(len(n)>>16), byte(len(n)>>8), byte(len(n)))
		data = append(data, n...)
	}
	pkt := &video.Packet{Data: data, EndOfPicture: true}
	if err := p.ParsePacket(pkt); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if len(be.decoded) != 1 {
		t.Fatalf("decoded = %d, want 1", len(be.decoded))
	}
}
