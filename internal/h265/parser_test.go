package h265

import (
	"testing"

	"github.com/zsiec/refract/internal/paramset"
	"github.com/zsiec/refract/internal/video"
)

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

func (w *streamWriter) stopBit() {
	w.writeBit(1)
	for w.bit != 0 {
		w.writeBit(0)
	}
}

type testPic struct {
	id       int
	retains  int
	releases int
}

func (p *testPic) Retain()  { p.retains++ }
func (p *testPic) Release() { p.releases++ }

type recordingBackend struct {
	sequences    []video.SequenceInfo
	allocated    []*testPic
	decoded      []video.PictureDescriptor
	displayed    []int64
	displayedPic []video.PictureBuffer
	paramUpdates []paramset.Type
}

func (b *recordingBackend) BeginSequence(info *video.SequenceInfo) (int32, error) {
	b.sequences = append(b.sequences, *info)
	return 16, nil
}

func (b *recordingBackend) AllocatePictureBuffer() (video.PictureBuffer, error) {
	p := &testPic{id: len(b.allocated)}
	b.allocated = append(b.allocated, p)
	return p, nil
}

func (b *recordingBackend) DecodePicture(pic *video.PictureDescriptor) (bool, error) {
	cp := *pic
	cp.RefSlots = append([]video.ReferenceSlot(nil), pic.RefSlots...)
	h := *pic.H265
	cp.H265 = &h
	b.decoded = append(b.decoded, cp)
	return true, nil
}

func (b *recordingBackend) UpdatePictureParameters(s paramset.Set, seq uint64) error {
	b.paramUpdates = append(b.paramUpdates, s.ParamType())
	return nil
}

func (b *recordingBackend) DisplayPicture(pic video.PictureBuffer, pts int64) error {
	b.displayed = append(b.displayed, pts)
	b.displayedPic = append(b.displayedPic, pic)
	return nil
}

func (b *recordingBackend) GetBitstreamBuffer(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func writePTL(w *streamWriter) {
	w.writeBits(0, 2) // general_profile_space
	w.writeBit(0)     // general_tier_flag
	w.writeBits(1, 5) // general_profile_idc Main
	w.writeBits(0, 32)
	w.writeBits(0, 24)
	w.writeBits(0, 24)
	w.writeBits(93, 8) // general_level_idc
}

func buildVPS() []byte {
	w := &streamWriter{}
	w.writeBits(0, 4) // vps_video_parameter_set_id
	w.writeBits(3, 2) // base_layer_internal/available
	w.writeBits(0, 6) // vps_max_layers_minus1
	w.writeBits(0, 3) // vps_max_sub_layers_minus1
	w.writeBit(1)     // vps_temporal_id_nesting_flag
	w.writeBits(0xffff, 16)
	writePTL(w)
	w.writeBit(1) // vps_sub_layer_ordering_info_present_flag
	w.writeUE(2)  // vps_max_dec_pic_buffering_minus1
	w.writeUE(0)  // vps_max_num_reorder_pics
	w.writeUE(0)
	w.writeBits(0, 6) // vps_max_layer_id
	w.writeUE(0)      // vps_num_layer_sets_minus1
	w.writeBit(0)     // vps_timing_info_present_flag
	w.stopBit()
	return append([]byte{0x40, 0x01}, w.buf...)
}

func buildSPS() []byte {
	w := &streamWriter{}
	w.writeBits(0, 4) // sps_video_parameter_set_id
	w.writeBits(0, 3) // sps_max_sub_layers_minus1
	w.writeBit(1)     // sps_temporal_id_nesting_flag
	writePTL(w)
	w.writeUE(0)  // sps_seq_parameter_set_id
	w.writeUE(1)  // chroma_format_idc
	w.writeUE(64) // pic_width_in_luma_samples
	w.writeUE(64) // pic_height_in_luma_samples
	w.writeBit(0) // conformance_window_flag
	w.writeUE(0)  // bit_depth_luma_minus8
	w.writeUE(0)  // bit_depth_chroma_minus8
	w.writeUE(0)  // log2_max_pic_order_cnt_lsb_minus4
	w.writeBit(1) // sps_sub_layer_ordering_info_present_flag
	w.writeUE(2)  // sps_max_dec_pic_buffering_minus1
	w.writeUE(0)  // sps_max_num_reorder_pics
	w.writeUE(0)
	w.writeUE(0) // log2_min_luma_coding_block_size_minus3
	w.writeUE(3) // log2_diff_max_min_luma_coding_block_size
	w.writeUE(0)
	w.writeUE(0)
	w.writeUE(0)
	w.writeUE(0)
	w.writeBit(0) // scaling_list_enabled_flag
	w.writeBit(0) // amp_enabled_flag
	w.writeBit(0) // sample_adaptive_offset_enabled_flag
	w.writeBit(0) // pcm_enabled_flag
	w.writeUE(1)  // num_short_term_ref_pic_sets
	// set 0: one negative pic at delta -1, used by current
	w.writeUE(1) // num_negative_pics
	w.writeUE(0) // num_positive_pics
	w.writeUE(0) // delta_poc_s0_minus1
	w.writeBit(1)
	w.writeBit(0) // long_term_ref_pics_present_flag
	w.writeBit(0) // sps_temporal_mvp_enabled_flag
	w.writeBit(0) // strong_intra_smoothing_enabled_flag
	w.writeBit(0) // vui_parameters_present_flag
	w.stopBit()
	return append([]byte{0x42, 0x01}, w.buf...)
}

func buildPPS() []byte {
	w := &streamWriter{}
	w.writeUE(0)
	w.writeUE(0)
	w.writeBit(0)     // dependent_slice_segments_enabled_flag
	w.writeBit(0)     // output_flag_present_flag
	w.writeBits(0, 3) // num_extra_slice_header_bits
	w.writeBit(0)     // sign_data_hiding_enabled_flag
	w.writeBit(0)     // cabac_init_present_flag
	w.writeUE(0)      // num_ref_idx_l0_default_active_minus1
	w.writeUE(0)
	w.writeUE(0)  // init_qp_minus26 (se: value 0)
	w.writeBit(0) // constrained_intra_pred_flag
	w.writeBit(0) // transform_skip_enabled_flag
	w.writeBit(0) // cu_qp_delta_enabled_flag
	w.writeUE(0)  // pps_cb_qp_offset (se 0)
	w.writeUE(0)  // pps_cr_qp_offset (se 0)
	w.writeBit(0)
	w.writeBit(0) // weighted_pred_flag
	w.writeBit(0) // weighted_bipred_flag
	w.writeBit(0) // transquant_bypass_enabled_flag
	w.writeBit(0) // tiles_enabled_flag
	w.writeBit(0) // entropy_coding_sync_enabled_flag
	w.writeBit(1) // pps_loop_filter_across_slices_enabled_flag
	w.writeBit(0) // deblocking_filter_control_present_flag
	w.writeBit(0) // pps_scaling_list_data_present_flag
	w.writeBit(0) // lists_modification_present_flag
	w.writeUE(0)  // log2_parallel_merge_level_minus2
	w.writeBit(0) // slice_segment_header_extension_present_flag
	w.stopBit()
	return append([]byte{0x44, 0x01}, w.buf...)
}

func buildIDRSlice() []byte {
	w := &streamWriter{}
	w.writeBit(1) // first_slice_segment_in_pic_flag
	w.writeBit(0) // no_output_of_prior_pics_flag
	w.writeUE(0)  // slice_pic_parameter_set_id
	w.writeUE(2)  // slice_type I
	w.stopBit()
	hdr := []byte{byte(nalTypeIDRWRADL << 1), 0x01}
	return append(append(hdr, w.buf...), 0x77, 0x77)
}

func buildTrailSlice(pocLsb uint32) []byte {
	w := &streamWriter{}
	w.writeBit(1)           // first_slice_segment_in_pic_flag
	w.writeUE(0)            // slice_pic_parameter_set_id
	w.writeUE(1)            // slice_type P
	w.writeBits(pocLsb, 4)  // slice_pic_order_cnt_lsb
	w.writeBit(1)           // short_term_ref_pic_set_sps_flag
	w.stopBit()
	hdr := []byte{0x02, 0x01} // TRAIL_R
	return append(append(hdr, w.buf...), 0x77, 0x77)
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestEndToEndIDR(t *testing.T) {
	t.Parallel()

	be := &recordingBackend{}
	p := New(be, Options{})

	pkt := &video.Packet{
		Data:         annexB(buildVPS(), buildSPS(), buildPPS(), buildIDRSlice()),
		PTS:          9000,
		PTSValid:     true,
		EndOfPicture: true,
	}
	if err := p.ParsePacket(pkt); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}

	if len(be.sequences) != 1 {
		t.Fatalf("BeginSequence calls = %d, want 1", len(be.sequences))
	}
	seq := be.sequences[0]
	if seq.Codec != video.CodecH265 || seq.CodedWidth != 64 || seq.CodedHeight != 64 {
		t.Fatalf("sequence = %+v", seq)
	}
	if len(be.paramUpdates) != 3 {
		t.Fatalf("param updates = %d, want 3", len(be.paramUpdates))
	}
	if len(be.allocated) != 1 {
		t.Fatalf("allocations = %d, want 1", len(be.allocated))
	}
	if len(be.decoded) != 1 {
		t.Fatalf("DecodePicture calls = %d, want 1", len(be.decoded))
	}
	d := be.decoded[0]
	if !d.H265.IrapPicFlag || !d.H265.IdrPicFlag {
		t.Errorf("idr flags = irap %v idr %v", d.H265.IrapPicFlag, d.H265.IdrPicFlag)
	}
	if len(d.RefSlots) != 0 {
		t.Errorf("idr ref slots = %d, want 0", len(d.RefSlots))
	}
	if d.SetupSlot < 0 {
		t.Errorf("setup slot = %d", d.SetupSlot)
	}
	if got := p.mgr.Table.InUseCount(); got != 1 {
		t.Errorf("in-use slots = %d, want 1", got)
	}
}

func TestTrailReferencesIDR(t *testing.T) {
	t.Parallel()

	be := &recordingBackend{}
	p := New(be, Options{})

	pkts := []*video.Packet{
		{Data: annexB(buildVPS(), buildSPS(), buildPPS(), buildIDRSlice()), PTS: 0, PTSValid: true, EndOfPicture: true},
		{Data: annexB(buildTrailSlice(1)), PTS: 3000, PTSValid: true, EndOfPicture: true},
	}
	for i, pkt := range pkts {
		if err := p.ParsePacket(pkt); err != nil {
			t.Fatalf("ParsePacket %d: %v", i, err)
		}
	}
	if err := p.EndOfStream(); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}

	if len(be.decoded) != 2 {
		t.Fatalf("decoded = %d, want 2", len(be.decoded))
	}
	trail := be.decoded[1]
	if trail.H265.NumPocStCurrBefore != 1 {
		t.Fatalf("NumPocStCurrBefore = %d, want 1", trail.H265.NumPocStCurrBefore)
	}
	if trail.H265.RefPicSetStCurrBefore[0] != be.decoded[0].SetupSlot {
		t.Errorf("RefPicSetStCurrBefore[0] = %d, want idr slot %d",
			trail.H265.RefPicSetStCurrBefore[0], be.decoded[0].SetupSlot)
	}
	if len(trail.RefSlots) != 1 {
		t.Fatalf("trail ref slots = %d, want 1", len(trail.RefSlots))
	}
	if trail.SetupSlot == trail.RefSlots[0].Slot {
		t.Errorf("setup slot collides with reference slot")
	}
	if len(be.displayed) != 2 || be.displayed[0] != 0 || be.displayed[1] != 3000 {
		t.Errorf("displayed pts = %v", be.displayed)
	}
}

func TestRPSPartition(t *testing.T) {
	t.Parallel()

	sps := &SPS{Log2MaxPicOrderCntLsb: 4}
	hdr := &sliceHeader{
		rps: ShortTermRPS{
			NumNegative: 2,
			NumPositive: 1,
			DeltaPOCS0:  [16]int32{-1, -3},
			UsedS0:      [16]bool{true, false},
			DeltaPOCS1:  [16]int32{2},
			UsedS1:      [16]bool{true},
		},
		longTerm: []longTermEntry{
			{pocLsb: 5, usedByCurr: true},
			{pocLsb: 7, usedByCurr: false},
		},
	}
	rps := deriveRPS(sps, hdr, 10)

	total := len(rps.stCurrBefore) + len(rps.stCurrAfter) + len(rps.stFoll) +
		len(rps.ltCurr) + len(rps.ltFoll)
	if total != 5 {
		t.Fatalf("partition total = %d, want 5", total)
	}
	if len(rps.stCurrBefore) != 1 || rps.stCurrBefore[0] != 9 {
		t.Errorf("stCurrBefore = %v", rps.stCurrBefore)
	}
	if len(rps.stCurrAfter) != 1 || rps.stCurrAfter[0] != 12 {
		t.Errorf("stCurrAfter = %v", rps.stCurrAfter)
	}
	if len(rps.stFoll) != 1 || rps.stFoll[0] != 7 {
		t.Errorf("stFoll = %v", rps.stFoll)
	}
	if len(rps.ltCurr) != 1 || rps.ltCurr[0].poc != 5 || !rps.ltCurr[0].lsbOnly {
		t.Errorf("ltCurr = %+v", rps.ltCurr)
	}
	if len(rps.ltFoll) != 1 {
		t.Errorf("ltFoll = %+v", rps.ltFoll)
	}
}

func TestSPSRoundTrip(t *testing.T) {
	t.Parallel()

	raw := buildSPS()
	sps, err := ParseSPS(raw[2:])
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.PicWidthInLumaSamps != 64 || sps.PicHeightInLumaSamps != 64 {
		t.Errorf("dims = %dx%d", sps.PicWidthInLumaSamps, sps.PicHeightInLumaSamps)
	}
	if sps.Log2CtbSize != 6 {
		t.Errorf("Log2CtbSize = %d, want 6", sps.Log2CtbSize)
	}
	if len(sps.ShortTermRPS) != 1 {
		t.Fatalf("rps sets = %d, want 1", len(sps.ShortTermRPS))
	}
	rps := sps.ShortTermRPS[0]
	if rps.NumNegative != 1 || rps.DeltaPOCS0[0] != -1 || !rps.UsedS0[0] {
		t.Errorf("rps = %+v", rps)
	}
	if sps.MaxDecPicBuffering != 3 {
		t.Errorf("MaxDecPicBuffering = %d, want 3", sps.MaxDecPicBuffering)
	}
}
