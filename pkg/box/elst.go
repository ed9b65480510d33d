package box

import (
	"encoding/binary"

	"m7s.live/mp4demux/pkg/util"
)

// aligned(8) class EditListBox extends FullBox('elst', version, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         if (version==1) {
//             unsigned int(64) segment_duration;
//             int(64) media_time;
//         } else { // version==0
//             unsigned int(32) segment_duration;
//             int(32) media_time;
//         }
//         int(16) media_rate_integer;
//         int(16) media_rate_fraction = 0;
//     }
// }

type ELSTEntry struct {
	SegmentDuration   uint64
	MediaTime         int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

type EditListBox struct {
	Version byte
	Entrys  []ELSTEntry
}

func (elst *EditListBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	elst.Version = fullbox.Version
	size := util.Conditional(elst.Version == 1, 20, 12)
	_, l, data, err := entries(buf, size)
	if err != nil {
		return 0, err
	}
	elst.Entrys = make([]ELSTEntry, l)
	nn := 0
	for i := range elst.Entrys {
		entry := &elst.Entrys[i]
		if elst.Version == 1 {
			entry.SegmentDuration = binary.BigEndian.Uint64(data[nn:])
			entry.MediaTime = int64(binary.BigEndian.Uint64(data[nn+8:]))
			nn += 16
		} else {
			entry.SegmentDuration = uint64(binary.BigEndian.Uint32(data[nn:]))
			entry.MediaTime = int64(int32(binary.BigEndian.Uint32(data[nn+4:])))
			nn += 8
		}
		entry.MediaRateInteger = int16(binary.BigEndian.Uint16(data[nn:]))
		entry.MediaRateFraction = int16(binary.BigEndian.Uint16(data[nn+2:]))
		nn += 4
	}
	return 8 + nn, nil
}
