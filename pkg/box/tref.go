package box

import "encoding/binary"

// aligned(8) class TrackReferenceTypeBox (unsigned int(32) reference_type) extends Box(reference_type) {
//     unsigned int(32) track_IDs[];
// }

type TrackReferenceTypeBox struct {
	Type     [4]byte
	TrackIDs []uint32
}

func (ref *TrackReferenceTypeBox) Decode(buf []byte) (int, error) {
	n := len(buf) / 4 * 4
	ref.TrackIDs = make([]uint32, 0, n/4)
	for i := 0; i < n; i += 4 {
		ref.TrackIDs = append(ref.TrackIDs, binary.BigEndian.Uint32(buf[i:]))
	}
	return n, nil
}
