package box

import (
	"bytes"
	"encoding/binary"
)

// aligned(8) class HandlerBox extends FullBox('hdlr', version = 0, 0) {
//     unsigned int(32) pre_defined = 0;
//     unsigned int(32) handler_type;
//     const unsigned int(32)[3] reserved = 0;
//     string name;
// }

type HandlerType = [4]byte
type HandlerBox struct {
	Pre_defined  uint32
	Handler_type HandlerType
	Name         string
}

func (hdlr *HandlerBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < 24 {
		return 0, ErrShortPayload
	}
	// QuickTime calls the first field component_type ('mhlr'/'dhlr')
	hdlr.Pre_defined = binary.BigEndian.Uint32(buf[4:])
	copy(hdlr.Handler_type[:], buf[8:12])
	name := buf[24:]
	if len(name) > 0 && int(name[0]) == len(name)-1 {
		// pascal string written by QuickTime
		name = name[1:]
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	hdlr.Name = string(name)
	return len(buf), nil
}
