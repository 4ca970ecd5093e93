package dpb

import (
	"errors"
	"testing"
)

// refPic counts retains and releases so tests can assert ownership is
// balanced and released exactly once per free.
type refPic struct {
	retains  int
	releases int
}

func (p *refPic) Retain()  { p.retains++ }
func (p *refPic) Release() { p.releases++ }

func TestAllocateAndFree(t *testing.T) {
	t.Parallel()

	tbl := New(4)
	var slots []int8
	for i := 0; i < 4; i++ {
		s, err := tbl.AllocateSlot()
		if err != nil {
			t.Fatalf("AllocateSlot %d: %v", i, err)
		}
		slots = append(slots, s)
	}
	if _, err := tbl.AllocateSlot(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if err := tbl.FreeSlot(slots[2]); err != nil {
		t.Fatalf("FreeSlot: %v", err)
	}
	s, err := tbl.AllocateSlot()
	if err != nil {
		t.Fatalf("AllocateSlot after free: %v", err)
	}
	if s != slots[2] {
		t.Fatalf("reallocated slot = %d, want %d", s, slots[2])
	}
	if err := tbl.FreeSlot(7); err == nil {
		t.Fatal("expected error freeing out-of-range slot")
	}
}

func TestSlotExclusivity(t *testing.T) {
	t.Parallel()

	tbl := New(8)
	pic := &refPic{}

	s1, err := tbl.SlotForReference(pic, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Binding the same picture again must reuse the slot, never take a second.
	s2, err := tbl.SlotForReference(pic, 2)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("picture got two slots: %d and %d", s1, s2)
	}
	// Forcing the picture into a different slot frees the original.
	s3, err := tbl.AllocateSlot()
	if err != nil {
		t.Fatal(err)
	}
	tbl.SetPicture(s3, pic, 3)
	if got := tbl.SlotOf(pic); got != s3 {
		t.Fatalf("SlotOf = %d, want %d", got, s3)
	}
	if tbl.PictureAt(s1) != nil {
		t.Fatalf("slot %d still holds the moved picture", s1)
	}
	count := 0
	for i := int8(0); i < int8(tbl.Size()); i++ {
		if tbl.PictureAt(i) == Picture(pic) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("picture resident in %d slots, want 1", count)
	}
}

func TestReleaseBalancedOnFree(t *testing.T) {
	t.Parallel()

	tbl := New(4)
	pic := &refPic{}
	s, err := tbl.SlotForReference(pic, 0)
	if err != nil {
		t.Fatal(err)
	}
	if pic.retains != 1 {
		t.Fatalf("retains = %d, want 1", pic.retains)
	}
	if err := tbl.FreeSlot(s); err != nil {
		t.Fatal(err)
	}
	if pic.releases != 1 {
		t.Fatalf("releases = %d, want 1", pic.releases)
	}
	// Double free must fail without releasing again.
	if err := tbl.FreeSlot(s); err == nil {
		t.Fatal("expected error on double free")
	}
	if pic.releases != 1 {
		t.Fatalf("releases after double free = %d, want 1", pic.releases)
	}
}

func TestResetSlots(t *testing.T) {
	t.Parallel()

	tbl := New(4)
	keep := &refPic{}
	drop := &refPic{}
	sKeep, err := tbl.SlotForReference(keep, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.SlotForReference(drop, 0); err != nil {
		t.Fatal(err)
	}

	tbl.ResetSlots(map[Picture]bool{keep: true})

	if got := tbl.SlotOf(keep); got != sKeep {
		t.Fatalf("kept picture lost its slot: %d", got)
	}
	if got := tbl.SlotOf(drop); got != -1 {
		t.Fatalf("dropped picture still slotted: %d", got)
	}
	if drop.releases != 1 {
		t.Fatalf("dropped picture releases = %d, want 1", drop.releases)
	}
	if tbl.InUseCount() != 1 {
		t.Fatalf("InUseCount = %d, want 1", tbl.InUseCount())
	}
}

func TestFlushReleasesEverything(t *testing.T) {
	t.Parallel()

	tbl := New(3)
	pics := []*refPic{{}, {}, {}}
	for _, p := range pics {
		if _, err := tbl.SlotForReference(p, 0); err != nil {
			t.Fatal(err)
		}
	}
	tbl.Flush()
	for i, p := range pics {
		if p.releases != 1 {
			t.Fatalf("pic %d releases = %d, want 1", i, p.releases)
		}
	}
	if tbl.InUseMask() != 0 {
		t.Fatalf("InUseMask = %b, want 0", tbl.InUseMask())
	}
}
