package box

import "encoding/binary"

// aligned(8) class FileTypeBox extends Box('ftyp') {
//     unsigned int(32) major_brand;
//     unsigned int(32) minor_version;
//     unsigned int(32) compatible_brands[];
// }

type FileTypeBox struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

func (ftyp *FileTypeBox) Decode(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, ErrShortPayload
	}
	copy(ftyp.MajorBrand[:], buf)
	ftyp.MinorVersion = binary.BigEndian.Uint32(buf[4:])
	n := 8
	for ; n+4 <= len(buf); n += 4 {
		ftyp.CompatibleBrands = append(ftyp.CompatibleBrands, [4]byte(buf[n:n+4]))
	}
	return n, nil
}
