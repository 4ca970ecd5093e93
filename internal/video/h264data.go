package video

// H264DpbEntry is one entry of the parser-declared DPB input list for an
// H.264 picture.
type H264DpbEntry struct {
	Picture PictureBuffer
	// FrameIdx is FrameNum for short-term references and LongTermFrameIdx
	// for long-term ones.
	FrameIdx         int32
	FieldOrderCnt    [2]int32
	IsLongTerm       bool
	NotExisting      bool
	UsedForReference uint8 // bit 0 top field, bit 1 bottom field
}

// H264MaxDpbEntries bounds the declared DPB input list: 16 references plus
// the current picture.
const H264MaxDpbEntries = 17

// H264PictureData carries the H.264-specific syntax the backend needs for
// one picture.
type H264PictureData struct {
	SPSID int32
	PPSID int32

	FrameNum          int32
	CurrFieldOrderCnt [2]int32
	IDRPic            bool
	MMCO5             bool

	DPB [H264MaxDpbEntries]H264DpbEntry
}
