package box

import (
	"encoding/binary"
	"time"
)

// aligned(8) class MovieHeaderBox extends FullBox('mvhd', version, 0) {
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
//     template int(32) rate = 0x00010000; // typically 1.0
//     template int(16) volume = 0x0100; // typically, full volume
//     const bit(16) reserved = 0;
//     const unsigned int(32)[2] reserved = 0;
//     template int(32)[9] matrix;
//     bit(32)[6] pre_defined = 0;
//     unsigned int(32) next_track_ID;
// }

type MovieHeaderBox struct {
	Creation_time     uint64
	Modification_time uint64
	Timescale         uint32
	Duration          uint64
	Rate              uint32
	Volume            uint16
	Next_track_ID     uint32
}

func (mvhd *MovieHeaderBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	n, err := fullbox.Decode(buf)
	if err != nil {
		return 0, err
	}
	size := 96
	if fullbox.Version == 1 {
		size = 108
	}
	if len(buf) < n+size {
		return 0, ErrShortPayload
	}
	buf = buf[n:]
	n = 0
	if fullbox.Version == 1 {
		mvhd.Creation_time = binary.BigEndian.Uint64(buf[n:])
		mvhd.Modification_time = binary.BigEndian.Uint64(buf[n+8:])
		mvhd.Timescale = binary.BigEndian.Uint32(buf[n+16:])
		mvhd.Duration = binary.BigEndian.Uint64(buf[n+20:])
		n += 28
	} else {
		mvhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[n:]))
		mvhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[n+4:]))
		mvhd.Timescale = binary.BigEndian.Uint32(buf[n+8:])
		mvhd.Duration = uint64(binary.BigEndian.Uint32(buf[n+12:]))
		n += 16
	}
	mvhd.Rate = binary.BigEndian.Uint32(buf[n:])
	mvhd.Volume = binary.BigEndian.Uint16(buf[n+4:])
	// reserved, matrix and pre_defined
	n += 4 + 2 + 10 + 36 + 24
	mvhd.Next_track_ID = binary.BigEndian.Uint32(buf[n:])
	return 4 + n + 4, nil
}

// macEpoch is 1904-01-01, the origin of every ISO-BMFF timestamp.
var macEpoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

// MacTime converts a box timestamp to wall clock time. Zero stays the zero time.
func MacTime(seconds uint64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return macEpoch.Add(time.Duration(seconds) * time.Second)
}
