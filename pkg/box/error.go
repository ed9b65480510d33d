package box

import "errors"

var (
	ErrIO              = errors.New("io error")
	ErrTruncatedHeader = errors.New("truncated box header")
	ErrSizeOverflow    = errors.New("box size overflow")
	ErrShortPayload    = errors.New("box payload too short")
	ErrPayloadTooLarge = errors.New("box payload too large")
	ErrDepthExceeded   = errors.New("box nesting too deep")
)
