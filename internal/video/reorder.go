package video

// ReorderQueue buffers decoded pictures keyed by picture order count until
// enough later pictures arrive to pin down output order. It retains each
// pushed picture and releases it after emit. Each entry carries the
// timestamp captured when the picture completed parsing.
type ReorderQueue struct {
	entries []reorderEntry
}

type reorderEntry struct {
	pic      PictureBuffer
	poc      int32
	pts      int64
	ptsValid bool
}

// EmitFunc receives pictures in output order with their captured timestamp.
type EmitFunc func(pic PictureBuffer, pts int64, ptsValid bool) error

// Len returns the number of pending pictures.
func (q *ReorderQueue) Len() int { return len(q.entries) }

// Push adds a decoded picture with its order count and captured timestamp.
func (q *ReorderQueue) Push(pic PictureBuffer, poc int32, pts int64, ptsValid bool) {
	pic.Retain()
	q.entries = append(q.entries, reorderEntry{pic: pic, poc: poc, pts: pts, ptsValid: ptsValid})
}

// Bump emits pictures in order-count order while more than depth are
// pending.
func (q *ReorderQueue) Bump(depth int, emit EmitFunc) error {
	for len(q.entries) > depth {
		if err := q.emitMin(emit); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits everything pending.
func (q *ReorderQueue) Flush(emit EmitFunc) error {
	return q.Bump(0, emit)
}

// Discard drops everything pending without emitting.
func (q *ReorderQueue) Discard() {
	for _, e := range q.entries {
		e.pic.Release()
	}
	q.entries = q.entries[:0]
}

func (q *ReorderQueue) emitMin(emit EmitFunc) error {
	min := 0
	for i := 1; i < len(q.entries); i++ {
		if q.entries[i].poc < q.entries[min].poc {
			min = i
		}
	}
	e := q.entries[min]
	q.entries = append(q.entries[:min], q.entries[min+1:]...)
	err := emit(e.pic, e.pts, e.ptsValid)
	e.pic.Release()
	return err
}
