package dpb

import (
	"log/slog"

	"github.com/zsiec/refract/internal/video"
)

// Manager layers per-codec reference bookkeeping on a slot Table: it
// translates the parser-declared reference lists of a picture into bound
// slot indices on its PictureDescriptor before the backend sees it.
type Manager struct {
	Table *Table

	log         *slog.Logger
	decodeOrder int32
	nonExisting []int8
}

// NewManager returns a manager over a fresh table of size slots.
func NewManager(size int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{Table: New(size), log: log}
}

// Reset resizes the table for a new sequence, dropping every held picture.
func (m *Manager) Reset(size int) {
	m.Table.Init(size)
	m.nonExisting = m.nonExisting[:0]
	m.decodeOrder = 0
}

// Flush releases every slot, keeping the table size.
func (m *Manager) Flush() {
	m.Table.Flush()
	m.nonExisting = m.nonExisting[:0]
}

// FillH264 binds the picture's declared DPB to slots and writes SetupSlot
// and RefSlots on the descriptor. Entries flagged not-existing (gaps in
// frame_num) get a slot of their own with the nearest resident frame as a
// stand-in image; those slots are rebuilt from scratch on the next picture.
func (m *Manager) FillH264(desc *video.PictureDescriptor) error {
	pd := desc.H264
	m.decodeOrder++

	for _, idx := range m.nonExisting {
		_ = m.Table.FreeSlot(idx)
	}
	m.nonExisting = m.nonExisting[:0]

	refs := make([]*video.H264DpbEntry, 0, video.H264MaxDpbEntries)
	for i := range pd.DPB {
		if pd.DPB[i].UsedForReference != 0 {
			refs = append(refs, &pd.DPB[i])
		}
	}

	valid := make(map[Picture]bool, len(refs)+1)
	for _, e := range refs {
		if e.Picture != nil {
			valid[e.Picture] = true
		}
	}
	if desc.Current != nil {
		valid[desc.Current] = true
	}
	m.Table.ResetSlots(valid)

	desc.RefSlots = desc.RefSlots[:0]
	for _, e := range refs {
		rs := video.ReferenceSlot{
			FrameIdx:         e.FrameIdx,
			FieldOrderCnt:    e.FieldOrderCnt,
			IsLongTerm:       e.IsLongTerm,
			UsedForReference: e.UsedForReference,
		}
		if e.NotExisting || e.Picture == nil {
			idx, err := m.Table.AllocateSlot()
			if err != nil {
				return err
			}
			m.nonExisting = append(m.nonExisting, idx)
			rs.Slot = idx
			rs.NonExisting = true
			rs.Picture = closestFrame(refs, e.FrameIdx)
			m.log.Debug("backfilled non-existing reference",
				"slot", idx, "frame_idx", e.FrameIdx)
		} else {
			idx, err := m.Table.SlotForReference(e.Picture, m.decodeOrder)
			if err != nil {
				return err
			}
			rs.Slot = idx
			rs.Picture = e.Picture
		}
		desc.RefSlots = append(desc.RefSlots, rs)
	}

	setup, err := m.Table.SlotForCurrent(desc.Current, m.decodeOrder)
	if err != nil {
		return err
	}
	desc.SetupSlot = setup
	return nil
}

// closestFrame picks the resident reference with the nearest FrameNum as a
// stand-in image for a frame_num gap.
func closestFrame(refs []*video.H264DpbEntry, frameIdx int32) video.PictureBuffer {
	var best video.PictureBuffer
	bestDiff := int32(1 << 30)
	for _, e := range refs {
		if e.Picture == nil || e.NotExisting {
			continue
		}
		d := e.FrameIdx - frameIdx
		if d < 0 {
			d = -d
		}
		if d < bestDiff {
			bestDiff = d
			best = e.Picture
		}
	}
	return best
}

// FillH265 binds the picture's reference picture set to slots, writes
// SetupSlot and RefSlots, and remaps the RefPicSetStCurrBefore/After and
// RefPicSetLtCurr lists from reference-list positions to slot indices.
// Unused remap entries become -1.
func (m *Manager) FillH265(desc *video.PictureDescriptor) error {
	pd := desc.H265
	m.decodeOrder++

	valid := make(map[Picture]bool, pd.NumRefPics+1)
	for i := int32(0); i < pd.NumRefPics; i++ {
		if pd.RefPics[i] != nil {
			valid[pd.RefPics[i]] = true
		}
	}
	if desc.Current != nil {
		valid[desc.Current] = true
	}
	m.Table.ResetSlots(valid)

	var listToSlot [video.H265MaxDpbSlots]int8
	for i := range listToSlot {
		listToSlot[i] = -1
	}
	desc.RefSlots = desc.RefSlots[:0]
	for i := int32(0); i < pd.NumRefPics; i++ {
		idx, err := m.Table.SlotForReference(pd.RefPics[i], m.decodeOrder)
		if err != nil {
			return err
		}
		listToSlot[i] = idx
		desc.RefSlots = append(desc.RefSlots, video.ReferenceSlot{
			Slot:             idx,
			Picture:          pd.RefPics[i],
			PicOrderCnt:      pd.PicOrderCnt[i],
			IsLongTerm:       pd.IsLongTerm[i],
			UsedForReference: 3,
		})
	}

	remap := func(set *[8]int8, n int32) {
		for i := range set {
			if int32(i) < n && set[i] >= 0 && int(set[i]) < len(listToSlot) {
				set[i] = listToSlot[set[i]]
			} else {
				set[i] = -1
			}
		}
	}
	remap(&pd.RefPicSetStCurrBefore, pd.NumPocStCurrBefore)
	remap(&pd.RefPicSetStCurrAfter, pd.NumPocStCurrAfter)
	remap(&pd.RefPicSetLtCurr, pd.NumPocLtCurr)

	setup, err := m.Table.SlotForCurrent(desc.Current, m.decodeOrder)
	if err != nil {
		return err
	}
	desc.SetupSlot = setup
	return nil
}
