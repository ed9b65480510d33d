package mp4

import (
	"errors"

	"m7s.live/mp4demux/pkg/box"
)

var (
	ErrMissingMandatoryBox = errors.New("missing mandatory box")
	ErrCorruptSampleTable  = errors.New("corrupt sample table")
	ErrUnsupportedCodec    = errors.New("unsupported codec")
	ErrNotAContainer       = errors.New("not an iso-bmff container")
	ErrAlreadyClosed       = errors.New("demuxer already closed")
	ErrTrackNotFound       = errors.New("track not found")
	ErrNoCover             = errors.New("no cover")
)

// box level errors, re-exported so callers only need this package
var (
	ErrIO              = box.ErrIO
	ErrTruncatedHeader = box.ErrTruncatedHeader
	ErrSizeOverflow    = box.ErrSizeOverflow
	ErrDepthExceeded   = box.ErrDepthExceeded
)
