package box

import (
	"encoding/binary"
	"fmt"
)

// well-known data type indicators, ISO/IEC 14496-12 and the QuickTime file format
const (
	DataTypeImplicit = 0
	DataTypeUTF8     = 1
	DataTypeUTF16    = 2
	DataTypeJPEG     = 13
	DataTypePNG      = 14
	DataTypeBEInt    = 21
	DataTypeBMP      = 27
)

// class DataBox extends Box('data') {
//     unsigned int(8) type_set;
//     unsigned int(24) type;
//     unsigned int(16) country;
//     unsigned int(16) language;
//     unsigned int(8) value[];
// }

type DataBox struct {
	TypeSet  uint8
	DataType uint32
	Locale   uint32
	Value    []byte
}

func (data *DataBox) Decode(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, ErrShortPayload
	}
	data.TypeSet = buf[0]
	data.DataType = binary.BigEndian.Uint32(buf) & 0xFFFFFF
	data.Locale = binary.BigEndian.Uint32(buf[4:])
	data.Value = buf[8:]
	return len(buf), nil
}

// aligned(8) class KeysBox extends FullBox('keys', 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(32) key_size;
//         unsigned int(32) key_namespace;
//         unsigned int(8) key_value[key_size-8];
//     }
// }

type MetadataKey struct {
	Namespace [4]byte
	Value     string
}

type KeysBox []MetadataKey

func (keys *KeysBox) Decode(buf []byte) (int, error) {
	_, count, data, err := entries(buf, 8)
	if err != nil {
		return 0, err
	}
	*keys = make([]MetadataKey, 0, count)
	n := 0
	for range count {
		if len(data)-n < 8 {
			return 0, ErrShortPayload
		}
		size := int(binary.BigEndian.Uint32(data[n:]))
		if size < 8 || size > len(data)-n {
			return 0, fmt.Errorf("%w: key of %d bytes", ErrShortPayload, size)
		}
		*keys = append(*keys, MetadataKey{
			Namespace: [4]byte(data[n+4 : n+8]),
			Value:     string(data[n+8 : n+size]),
		})
		n += size
	}
	return 8 + n, nil
}

// Lookup returns the key an ilst item of type t refers to. mdta items are named by
// the 1-based index of their key.
func (keys KeysBox) Lookup(t [4]byte) (MetadataKey, bool) {
	idx := binary.BigEndian.Uint32(t[:])
	if idx == 0 || uint64(idx) > uint64(len(keys)) {
		return MetadataKey{}, false
	}
	return keys[idx-1], true
}
