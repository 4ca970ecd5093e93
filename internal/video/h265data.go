package video

// H265MaxDpbSlots is the H.265 DPB bound.
const H265MaxDpbSlots = 16

// H265PictureData carries the H.265-specific syntax and derived reference
// picture set for one picture. RefPics and the parallel PicOrderCntVal and
// IsLongTerm arrays list every picture the RPS keeps; the RefPicSet* arrays
// index into RefPics for the entries the current picture predicts from.
type H265PictureData struct {
	VPSID int32
	SPSID int32
	PPSID int32

	PicOrderCntVal int32
	IrapPicFlag    bool
	IdrPicFlag     bool

	// Slice-header accounting the backend forwards to hardware.
	NumBitsForShortTermRPSInSlice int32
	NumDeltaPocsOfRefRpsIdx       int32

	RefPics        [H265MaxDpbSlots]PictureBuffer
	PicOrderCnt    [H265MaxDpbSlots]int32
	IsLongTerm     [H265MaxDpbSlots]bool
	NumRefPics     int32

	NumPocStCurrBefore int32
	NumPocStCurrAfter  int32
	NumPocLtCurr       int32

	RefPicSetStCurrBefore [8]int8
	RefPicSetStCurrAfter  [8]int8
	RefPicSetLtCurr       [8]int8
}
