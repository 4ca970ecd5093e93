package video

import "github.com/zsiec/refract/internal/paramset"

// Backend is the decode/encode consumer the parsing core drives. Real
// implementations wrap a GPU video API; tests use recording fakes.
type Backend interface {
	// BeginSequence is called once per detected sequence-parameter change and
	// returns the number of decode surfaces the backend provides. A return
	// below the sequence's minimum requirement fails the session.
	BeginSequence(info *SequenceInfo) (int32, error)

	// AllocatePictureBuffer returns a fresh decode surface.
	AllocatePictureBuffer() (PictureBuffer, error)

	// DecodePicture submits one picture. A false return means the backend
	// chose to skip it; the parser advances as if decode succeeded but marks
	// the picture not displayable.
	DecodePicture(pic *PictureDescriptor) (bool, error)

	// UpdatePictureParameters pushes a newly parsed parameter set for
	// out-of-band delivery. The cache suppresses unchanged re-delivery.
	UpdatePictureParameters(set paramset.Set, sequenceCount uint64) error

	// DisplayPicture is invoked once a picture reaches output order.
	DisplayPicture(pic PictureBuffer, pts int64) error

	// GetBitstreamBuffer returns backing storage of at least size bytes for
	// the parser to assemble a picture's payload into.
	GetBitstreamBuffer(size int) ([]byte, error)
}

// Parser is one codec session. Implementations are not safe for concurrent
// use; feed packets from a single goroutine.
type Parser interface {
	// ParsePacket consumes one input packet, invoking backend callbacks for
	// every completed picture it contains.
	ParsePacket(pkt *Packet) error
	// EndOfStream completes any pending picture and drains the display queue.
	EndOfStream() error
}
