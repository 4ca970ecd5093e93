package dpb

import (
	"testing"

	"github.com/zsiec/refract/internal/video"
)

func TestFillH264FirstPicture(t *testing.T) {
	t.Parallel()

	m := NewManager(4, nil)
	cur := &refPic{}
	desc := &video.PictureDescriptor{
		Current: cur,
		H264:    &video.H264PictureData{IDRPic: true},
	}
	if err := m.FillH264(desc); err != nil {
		t.Fatalf("FillH264: %v", err)
	}
	if desc.SetupSlot != 0 {
		t.Fatalf("setup slot = %d, want 0", desc.SetupSlot)
	}
	if len(desc.RefSlots) != 0 {
		t.Fatalf("ref slots = %d, want 0", len(desc.RefSlots))
	}
	if got := m.Table.InUseCount(); got != 1 {
		t.Fatalf("in-use slots = %d, want 1", got)
	}
}

func TestFillH264ReferenceChain(t *testing.T) {
	t.Parallel()

	m := NewManager(4, nil)
	p0 := &refPic{}
	d0 := &video.PictureDescriptor{Current: p0, H264: &video.H264PictureData{IDRPic: true}}
	if err := m.FillH264(d0); err != nil {
		t.Fatalf("FillH264 p0: %v", err)
	}

	p1 := &refPic{}
	pd := &video.H264PictureData{FrameNum: 1}
	pd.DPB[0] = video.H264DpbEntry{Picture: p0, FrameIdx: 0, UsedForReference: 3}
	d1 := &video.PictureDescriptor{Current: p1, H264: pd}
	if err := m.FillH264(d1); err != nil {
		t.Fatalf("FillH264 p1: %v", err)
	}
	if len(d1.RefSlots) != 1 {
		t.Fatalf("ref slots = %d, want 1", len(d1.RefSlots))
	}
	if d1.RefSlots[0].Slot != d0.SetupSlot {
		t.Fatalf("reference slot = %d, want p0's setup slot %d", d1.RefSlots[0].Slot, d0.SetupSlot)
	}
	if d1.SetupSlot == d0.SetupSlot {
		t.Fatalf("setup slot %d collides with reference slot", d1.SetupSlot)
	}
	if got := m.Table.InUseCount(); got != 2 {
		t.Fatalf("in-use slots = %d, want 2", got)
	}
}

func TestFillH264NonExistingBackfill(t *testing.T) {
	t.Parallel()

	m := NewManager(6, nil)
	p0 := &refPic{}
	d0 := &video.PictureDescriptor{Current: p0, H264: &video.H264PictureData{IDRPic: true}}
	if err := m.FillH264(d0); err != nil {
		t.Fatalf("FillH264 p0: %v", err)
	}

	// frame_num gap: frame 1 was never coded, frame 2 references it.
	p2 := &refPic{}
	pd := &video.H264PictureData{FrameNum: 2}
	pd.DPB[0] = video.H264DpbEntry{Picture: p0, FrameIdx: 0, UsedForReference: 3}
	pd.DPB[1] = video.H264DpbEntry{FrameIdx: 1, NotExisting: true, UsedForReference: 3}
	d2 := &video.PictureDescriptor{Current: p2, H264: pd}
	if err := m.FillH264(d2); err != nil {
		t.Fatalf("FillH264 p2: %v", err)
	}
	if len(d2.RefSlots) != 2 {
		t.Fatalf("ref slots = %d, want 2", len(d2.RefSlots))
	}
	gap := d2.RefSlots[1]
	if !gap.NonExisting {
		t.Fatalf("gap entry not flagged non-existing")
	}
	if gap.Picture != p0 {
		t.Fatalf("gap entry should borrow the nearest resident frame")
	}
	if gap.Slot == d2.RefSlots[0].Slot || gap.Slot == d2.SetupSlot {
		t.Fatalf("gap slot %d collides with another slot", gap.Slot)
	}

	// Next picture drops the gap; its slot must come back.
	before := m.Table.InUseCount()
	p3 := &refPic{}
	pd3 := &video.H264PictureData{FrameNum: 3}
	pd3.DPB[0] = video.H264DpbEntry{Picture: p2, FrameIdx: 2, UsedForReference: 3}
	d3 := &video.PictureDescriptor{Current: p3, H264: pd3}
	if err := m.FillH264(d3); err != nil {
		t.Fatalf("FillH264 p3: %v", err)
	}
	if got := m.Table.InUseCount(); got >= before {
		t.Fatalf("in-use slots = %d, want fewer than %d after gap and p0 dropped", got, before)
	}
}

func TestFillH265RemapsRPSToSlots(t *testing.T) {
	t.Parallel()

	m := NewManager(8, nil)
	p0, p1 := &refPic{}, &refPic{}
	d0 := &video.PictureDescriptor{Current: p0, H265: &video.H265PictureData{IdrPicFlag: true, IrapPicFlag: true}}
	if err := m.FillH265(d0); err != nil {
		t.Fatalf("FillH265 p0: %v", err)
	}
	d1pd := &video.H265PictureData{PicOrderCntVal: 2}
	d1pd.RefPics[0] = p0
	d1pd.PicOrderCnt[0] = 0
	d1pd.NumRefPics = 1
	d1pd.NumPocStCurrBefore = 1
	d1pd.RefPicSetStCurrBefore[0] = 0
	d1 := &video.PictureDescriptor{Current: p1, H265: d1pd}
	if err := m.FillH265(d1); err != nil {
		t.Fatalf("FillH265 p1: %v", err)
	}

	if got := d1pd.RefPicSetStCurrBefore[0]; got != d0.SetupSlot {
		t.Fatalf("RefPicSetStCurrBefore[0] = %d, want slot %d", got, d0.SetupSlot)
	}
	for i := 1; i < len(d1pd.RefPicSetStCurrBefore); i++ {
		if d1pd.RefPicSetStCurrBefore[i] != -1 {
			t.Fatalf("unused entry %d = %d, want -1", i, d1pd.RefPicSetStCurrBefore[i])
		}
	}
	for _, set := range [][8]int8{d1pd.RefPicSetStCurrAfter, d1pd.RefPicSetLtCurr} {
		for i, v := range set {
			if v != -1 {
				t.Fatalf("empty set entry %d = %d, want -1", i, v)
			}
		}
	}
	if d1.SetupSlot == d1.RefSlots[0].Slot {
		t.Fatalf("setup slot %d collides with reference slot", d1.SetupSlot)
	}
}

func TestFillH265EvictsDroppedReferences(t *testing.T) {
	t.Parallel()

	m := NewManager(8, nil)
	p0, p1, p2 := &refPic{}, &refPic{}, &refPic{}
	d0 := &video.PictureDescriptor{Current: p0, H265: &video.H265PictureData{IdrPicFlag: true}}
	if err := m.FillH265(d0); err != nil {
		t.Fatalf("FillH265 p0: %v", err)
	}
	d1pd := &video.H265PictureData{}
	d1pd.RefPics[0] = p0
	d1pd.NumRefPics = 1
	if err := m.FillH265(&video.PictureDescriptor{Current: p1, H265: d1pd}); err != nil {
		t.Fatalf("FillH265 p1: %v", err)
	}

	// p2 references only p1; p0 must leave the table and be released.
	d2pd := &video.H265PictureData{}
	d2pd.RefPics[0] = p1
	d2pd.NumRefPics = 1
	if err := m.FillH265(&video.PictureDescriptor{Current: p2, H265: d2pd}); err != nil {
		t.Fatalf("FillH265 p2: %v", err)
	}
	if m.Table.SlotOf(p0) != -1 {
		t.Fatalf("p0 still holds a slot after leaving the reference set")
	}
	if p0.releases != p0.retains {
		t.Fatalf("p0 retains=%d releases=%d, want balanced", p0.retains, p0.releases)
	}
	if got := m.Table.InUseCount(); got != 2 {
		t.Fatalf("in-use slots = %d, want 2", got)
	}
}
