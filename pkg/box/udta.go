package box

import (
	"encoding/binary"
	"fmt"

	"github.com/yapingcat/gomedia/go-codec"
)

// QuickTime user data text atoms ('©nam', '©ART', ...) directly under udta hold a
// list of international strings:
//
//	unsigned int(16) text_size;
//	unsigned int(16) language;
//	unsigned int(8)[text_size] text;

type IntlString struct {
	Language uint16
	Value    []byte
}

// IsMacLanguage reports whether the language field is a Macintosh language code
// rather than a packed ISO-639-2/T code.
func (s IntlString) IsMacLanguage() bool {
	return s.Language < 0x400 || s.Language == 0x7FFF
}

type UserDataTextBox []IntlString

func (text *UserDataTextBox) Decode(buf []byte) (int, error) {
	n := 0
	for len(buf)-n >= 4 {
		size := int(binary.BigEndian.Uint16(buf[n:]))
		lang := binary.BigEndian.Uint16(buf[n+2:])
		n += 4
		if size > len(buf)-n {
			return n, fmt.Errorf("%w: text of %d bytes, %d remain", ErrShortPayload, size, len(buf)-n)
		}
		*text = append(*text, IntlString{Language: lang, Value: buf[n : n+size]})
		n += size
	}
	return n, nil
}

// aligned(8) class CopyrightBox extends FullBox('cprt', version = 0, 0) {
//     const bit(1) pad = 0;
//     unsigned int(5)[3] language; // ISO-639-2/T language code
//     string notice;
// }

type CopyrightBox struct {
	FullBox
	Language [3]uint8
	// UTF-8, or UTF-16 behind a byte order mark
	Notice []byte
}

func (cprt *CopyrightBox) Decode(buf []byte) (int, error) {
	if _, err := cprt.FullBox.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < 6 {
		return 0, ErrShortPayload
	}
	bs := codec.NewBitStream(buf[4:6])
	bs.SkipBits(1)
	for i := range cprt.Language {
		cprt.Language[i] = bs.Uint8(5)
	}
	cprt.Notice = buf[6:]
	return len(buf), nil
}
