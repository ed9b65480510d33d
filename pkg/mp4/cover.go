package mp4

import (
	"bytes"

	"m7s.live/mp4demux/pkg/box"
)

type CoverFormat int

const (
	CoverJPEG CoverFormat = iota
	CoverPNG
	CoverBMP
)

func (f CoverFormat) String() string {
	switch f {
	case CoverJPEG:
		return "JPEG"
	case CoverPNG:
		return "PNG"
	case CoverBMP:
		return "BMP"
	}
	return "unknown"
}

type CoverImage struct {
	Format CoverFormat
	Data   []byte
}

var (
	jpegMagic = []byte{0xFF, 0xD8}
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	bmpMagic  = []byte{'B', 'M'}
)

// sniffCover classifies an image by its leading bytes, then by the data type the
// file declares for it.
func sniffCover(data []byte, dataType uint32) (CoverFormat, bool) {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return CoverJPEG, true
	case bytes.HasPrefix(data, pngMagic):
		return CoverPNG, true
	case bytes.HasPrefix(data, bmpMagic):
		return CoverBMP, true
	}
	switch dataType {
	case box.DataTypeJPEG:
		return CoverJPEG, true
	case box.DataTypePNG:
		return CoverPNG, true
	case box.DataTypeBMP:
		return CoverBMP, true
	}
	return 0, false
}

// newCover copies data out of the payload buffer, nil when the format is not recognized.
func newCover(data []byte, dataType uint32) *CoverImage {
	if len(data) == 0 {
		return nil
	}
	format, ok := sniffCover(data, dataType)
	if !ok {
		return nil
	}
	return &CoverImage{Format: format, Data: bytes.Clone(data)}
}

// fill implements the two phase cover query: with a short buffer only the size is
// reported, otherwise the image is copied into buf.
func (cover *CoverImage) fill(buf []byte) (int, CoverFormat) {
	n := len(cover.Data)
	if len(buf) >= n {
		copy(buf, cover.Data)
	}
	return n, cover.Format
}
