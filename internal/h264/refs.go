package h264

import (
	"log/slog"

	"github.com/zsiec/refract/internal/video"
)

// frameStore is one decoded reference frame held by the session.
type frameStore struct {
	pic          video.PictureBuffer
	frameNum     int32
	frameNumWrap int32
	picNum       int32
	topFOC       int32
	bottomFOC    int32

	isLongTerm       bool
	longTermFrameIdx int32
	nonExisting      bool
}

func (f *frameStore) poc() int32 {
	if f.bottomFOC < f.topFOC {
		return f.bottomFOC
	}
	return f.topFOC
}

// refList is the session's reference frame memory. It retains each stored
// picture and releases it on removal.
type refList struct {
	frames         []*frameStore
	maxLongTermIdx int32
	log            *slog.Logger
}

func newRefList(log *slog.Logger) *refList {
	return &refList{maxLongTermIdx: -1, log: log}
}

func (l *refList) add(f *frameStore) {
	if f.pic != nil {
		f.pic.Retain()
	}
	l.frames = append(l.frames, f)
}

func (l *refList) removeAt(i int) {
	f := l.frames[i]
	if f.pic != nil {
		f.pic.Release()
	}
	l.frames = append(l.frames[:i], l.frames[i+1:]...)
}

func (l *refList) clear() {
	for _, f := range l.frames {
		if f.pic != nil {
			f.pic.Release()
		}
	}
	l.frames = l.frames[:0]
	l.maxLongTermIdx = -1
}

// updatePicNums recomputes FrameNumWrap and PicNum for the current frame_num.
func (l *refList) updatePicNums(currFrameNum, maxFrameNum int32) {
	for _, f := range l.frames {
		if f.isLongTerm {
			f.picNum = f.longTermFrameIdx
			continue
		}
		if f.frameNum > currFrameNum {
			f.frameNumWrap = f.frameNum - maxFrameNum
		} else {
			f.frameNumWrap = f.frameNum
		}
		f.picNum = f.frameNumWrap
	}
}

func (l *refList) counts() (short, long int) {
	for _, f := range l.frames {
		if f.isLongTerm {
			long++
		} else {
			short++
		}
	}
	return short, long
}

// slidingWindow evicts oldest short-term frames until there is room for one
// more reference.
func (l *refList) slidingWindow(maxRefFrames int32) {
	if maxRefFrames < 1 {
		maxRefFrames = 1
	}
	for {
		short, long := l.counts()
		if int32(short+long) < maxRefFrames {
			return
		}
		oldest := -1
		for i, f := range l.frames {
			if f.isLongTerm {
				continue
			}
			if oldest < 0 || f.frameNumWrap < l.frames[oldest].frameNumWrap {
				oldest = i
			}
		}
		if oldest < 0 {
			// Nothing short-term left to evict; the stream oversubscribed
			// long-term references.
			return
		}
		l.removeAt(oldest)
	}
}

// applyMMCOs runs the slice's adaptive marking operations. Operation 5 is
// handled by the caller (it resets POC state as well); operation 6 applies
// when the current picture is stored.
func (l *refList) applyMMCOs(ops []mmco, currPicNum int32) {
	for _, m := range ops {
		switch m.op {
		case 1:
			picNumX := currPicNum - m.diffOfPicNums
			for i, f := range l.frames {
				if !f.isLongTerm && f.picNum == picNumX {
					l.removeAt(i)
					break
				}
			}
		case 2:
			for i, f := range l.frames {
				if f.isLongTerm && f.picNum == m.longTermPicNum {
					l.removeAt(i)
					break
				}
			}
		case 3:
			picNumX := currPicNum - m.diffOfPicNums
			// A long-term frame already using the target index is dropped.
			for i, f := range l.frames {
				if f.isLongTerm && f.longTermFrameIdx == m.longTermFrameIdx {
					l.removeAt(i)
					break
				}
			}
			for _, f := range l.frames {
				if !f.isLongTerm && f.picNum == picNumX {
					f.isLongTerm = true
					f.longTermFrameIdx = m.longTermFrameIdx
					f.picNum = m.longTermFrameIdx
					break
				}
			}
		case 4:
			l.maxLongTermIdx = m.maxLongTermIdx
			for i := 0; i < len(l.frames); {
				f := l.frames[i]
				if f.isLongTerm && f.longTermFrameIdx > l.maxLongTermIdx {
					l.removeAt(i)
					continue
				}
				i++
			}
		case 6:
			// Applied by the caller when storing the current picture.
		}
	}
}

// fillDpbEntries writes the list into the picture data's declared DPB and
// returns the entry count.
func (l *refList) fillDpbEntries(pd *video.H264PictureData) int {
	n := 0
	for _, f := range l.frames {
		if n >= video.H264MaxDpbEntries-1 {
			l.log.Warn("reference list overflows declared dpb", "frames", len(l.frames))
			break
		}
		e := &pd.DPB[n]
		e.Picture = f.pic
		e.FieldOrderCnt = [2]int32{f.topFOC, f.bottomFOC}
		e.IsLongTerm = f.isLongTerm
		e.NotExisting = f.nonExisting
		e.UsedForReference = 3
		if f.isLongTerm {
			e.FrameIdx = f.longTermFrameIdx
		} else {
			e.FrameIdx = f.frameNum
		}
		n++
	}
	return n
}
