// Package dpb manages the bounded decoded-picture-buffer slot table used by
// the H.264 and H.265 sessions. Slots move empty -> reserved -> in-use and
// back; the table owns the reference to a slotted picture and releases it
// exactly once when the slot is invalidated.
package dpb

import (
	"errors"
	"fmt"
)

// MaxSlots is the largest slot table any codec configures (H.264's 16
// references plus one setup slot).
const MaxSlots = 17

// ErrExhausted is returned when no free slot remains. This means the stream
// needs more references than the negotiated DPB size and is a hard error.
var ErrExhausted = errors.New("dpb: no free slot available")

// Picture is a backend-owned picture buffer. The table retains a picture
// while a slot holds it and releases it when the slot is freed.
type Picture interface {
	Retain()
	Release()
}

type slot struct {
	pic      Picture
	age      int32
	reserved bool
	inUse    bool
}

func (s *slot) occupied() bool { return s.reserved || s.inUse }

func (s *slot) invalidate() {
	if s.pic != nil {
		s.pic.Release()
		s.pic = nil
	}
	s.reserved = false
	s.inUse = false
	s.age = 0
}

// Table is the slot table plus the picture-to-slot mapping. It is owned by a
// single session and is not safe for concurrent use.
type Table struct {
	slots     []slot
	free      []int8
	inUseMask uint32
	picSlot   map[Picture]int8
}

// New returns a table with n slots, all empty. n must not exceed MaxSlots.
func New(n int) *Table {
	t := &Table{picSlot: make(map[Picture]int8)}
	t.Init(n)
	return t
}

// Init resizes the table to n slots, invalidating everything currently held.
func (t *Table) Init(n int) {
	if n > MaxSlots {
		n = MaxSlots
	}
	for i := range t.slots {
		t.slots[i].invalidate()
	}
	t.slots = make([]slot, n)
	t.free = t.free[:0]
	for i := 0; i < n; i++ {
		t.free = append(t.free, int8(i))
	}
	t.inUseMask = 0
	t.picSlot = make(map[Picture]int8)
}

// Size returns the number of slots.
func (t *Table) Size() int { return len(t.slots) }

// InUseMask returns a bitmask of occupied slots.
func (t *Table) InUseMask() uint32 { return t.inUseMask }

// InUseCount returns the number of occupied slots.
func (t *Table) InUseCount() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].occupied() {
			n++
		}
	}
	return n
}

// AllocateSlot reserves the oldest free slot and returns its index.
func (t *Table) AllocateSlot() (int8, error) {
	if len(t.free) == 0 {
		return -1, ErrExhausted
	}
	idx := t.free[0]
	t.free = t.free[1:]
	t.slots[idx].reserved = true
	t.inUseMask |= 1 << uint(idx)
	return idx, nil
}

// FreeSlot invalidates a slot and returns it to the free list.
func (t *Table) FreeSlot(idx int8) error {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return fmt.Errorf("dpb: slot %d out of range", idx)
	}
	s := &t.slots[idx]
	if !s.occupied() {
		return fmt.Errorf("dpb: slot %d is not in use", idx)
	}
	if s.pic != nil {
		delete(t.picSlot, s.pic)
	}
	s.invalidate()
	t.free = append(t.free, idx)
	t.inUseMask &^= 1 << uint(idx)
	return nil
}

// MarkInUse transitions a reserved slot to in-use, recording the picture age.
func (t *Table) MarkInUse(idx int8, age int32) {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return
	}
	t.slots[idx].inUse = true
	t.slots[idx].age = age
}

// SetPicture binds a picture to a slot, retaining the new picture and
// releasing any previous occupant. Any other slot holding the same picture
// is freed first so a picture never occupies two slots.
func (t *Table) SetPicture(idx int8, pic Picture, age int32) {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return
	}
	if pic != nil {
		if old, ok := t.picSlot[pic]; ok && old != idx {
			_ = t.FreeSlot(old)
		}
	}
	s := &t.slots[idx]
	if pic != nil {
		pic.Retain()
		t.picSlot[pic] = idx
	}
	if s.pic != nil {
		delete(t.picSlot, s.pic)
		s.pic.Release()
	}
	s.pic = pic
	s.age = age
}

// SlotOf returns the slot occupied by pic, or -1.
func (t *Table) SlotOf(pic Picture) int8 {
	if pic == nil {
		return -1
	}
	if idx, ok := t.picSlot[pic]; ok && t.slots[idx].occupied() {
		return idx
	}
	return -1
}

// PictureAt returns the picture held by a slot, or nil.
func (t *Table) PictureAt(idx int8) Picture {
	if int(idx) < 0 || int(idx) >= len(t.slots) {
		return nil
	}
	return t.slots[idx].pic
}

// SlotForReference returns the slot already holding pic, allocating and
// binding one if the picture is not yet resident.
func (t *Table) SlotForReference(pic Picture, age int32) (int8, error) {
	if idx := t.SlotOf(pic); idx >= 0 {
		t.MarkInUse(idx, age)
		return idx, nil
	}
	idx, err := t.AllocateSlot()
	if err != nil {
		return -1, err
	}
	t.SetPicture(idx, pic, age)
	t.MarkInUse(idx, age)
	return idx, nil
}

// SlotForCurrent reserves the setup slot for the picture being decoded,
// reusing its existing slot when the first field of a pair already claimed
// one.
func (t *Table) SlotForCurrent(pic Picture, age int32) (int8, error) {
	return t.SlotForReference(pic, age)
}

// ResetSlots frees every occupied slot whose picture is absent from valid.
// This enforces that a slot is held only while some picture references it.
func (t *Table) ResetSlots(valid map[Picture]bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.occupied() && s.pic != nil && !valid[s.pic] {
			_ = t.FreeSlot(int8(i))
		}
	}
}

// Flush invalidates every slot, releasing all held pictures.
func (t *Table) Flush() {
	t.Init(len(t.slots))
}

// FirstFreeSlotIndex returns the lowest-numbered unoccupied slot without
// reserving it, used when synthesizing entries for non-existing references.
func (t *Table) FirstFreeSlotIndex() int8 {
	for i := range t.slots {
		if !t.slots[i].occupied() {
			return int8(i)
		}
	}
	return -1
}
