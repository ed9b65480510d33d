package box

import (
	"encoding/binary"

	"github.com/yapingcat/gomedia/go-codec"
	"m7s.live/mp4demux/pkg/util"
)

// aligned(8) class MediaHeaderBox extends FullBox('mdhd', version, 0) {
//     if (version==1) {
//         unsigned int(64) creation_time;
//         unsigned int(64) modification_time;
//         unsigned int(32) timescale;
//         unsigned int(64) duration;
//     } else { // version==0
//         unsigned int(32) creation_time;
//         unsigned int(32) modification_time;
//         unsigned int(32) timescale;
//         unsigned int(32) duration;
//     }
//     bit(1) pad = 0;
//     unsigned int(5)[3] language; // ISO-639-2/T language code
//     unsigned int(16) pre_defined = 0;
// }

type MediaHeaderBox struct {
	Creation_time     uint64
	Modification_time uint64
	Timescale         uint32
	Duration          uint64
	Pad               uint8
	Language          [3]uint8
}

func (mdhd *MediaHeaderBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	size := util.Conditional(fullbox.Version == 1, 32, 20)
	if len(buf) < 4+size {
		return 0, ErrShortPayload
	}
	buf = buf[4:]
	offset := 0
	if fullbox.Version == 1 {
		mdhd.Creation_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		mdhd.Modification_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		mdhd.Timescale = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
		mdhd.Duration = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	} else {
		mdhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		mdhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		mdhd.Timescale = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
		mdhd.Duration = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
	}
	bs := codec.NewBitStream(buf[offset:])
	mdhd.Pad = bs.GetBit()
	mdhd.Language[0] = bs.Uint8(5)
	mdhd.Language[1] = bs.Uint8(5)
	mdhd.Language[2] = bs.Uint8(5)
	offset += 4
	return 4 + offset, nil
}

// LanguageCode returns the ISO-639-2/T code, "und" when the field is not a packed code.
func (mdhd *MediaHeaderBox) LanguageCode() string {
	var code [3]byte
	for i, c := range mdhd.Language {
		if c == 0 {
			return "und"
		}
		code[i] = c + 0x60
	}
	return string(code[:])
}
