package box

import "encoding/binary"

// aligned(8) class TrackHeaderBox extends FullBox('tkhd', version, flags){
//     if (version==1) {
//         unsigned int(64) creation_time;
//         unsigned int(64) modification_time;
//         unsigned int(32) track_ID;
//         const unsigned int(32) reserved = 0;
//         unsigned int(64) duration;
//     } else { // version==0
//         unsigned int(32) creation_time;
//         unsigned int(32) modification_time;
//         unsigned int(32) track_ID;
//         const unsigned int(32) reserved = 0;
//         unsigned int(32) duration;
//     }
//     const unsigned int(32)[2] reserved = 0;
//     template int(16) layer = 0;
//     template int(16) alternate_group = 0;
//     template int(16) volume = {if track_is_audio 0x0100 else 0};
//     const unsigned int(16) reserved = 0;
//     template int(32)[9] matrix= { 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 };
//     unsigned int(32) width;
//     unsigned int(32) height;
// }

type TrackHeaderBox struct {
	Flags             uint32
	Creation_time     uint64
	Modification_time uint64
	Track_ID          uint32
	Duration          uint64
	Layer             uint16
	Alternate_group   uint16
	Volume            uint16
	Width             uint32
	Height            uint32
}

func (tkhd *TrackHeaderBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	tkhd.Flags = fullbox.FlagsUint32()
	size := 80
	if fullbox.Version == 1 {
		size = 92
	}
	if len(buf) < 4+size {
		return 0, ErrShortPayload
	}
	buf = buf[4:]
	n := 0
	if fullbox.Version == 1 {
		tkhd.Creation_time = binary.BigEndian.Uint64(buf[n:])
		tkhd.Modification_time = binary.BigEndian.Uint64(buf[n+8:])
		tkhd.Track_ID = binary.BigEndian.Uint32(buf[n+16:])
		tkhd.Duration = binary.BigEndian.Uint64(buf[n+24:])
		n += 32
	} else {
		tkhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[n:]))
		tkhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[n+4:]))
		tkhd.Track_ID = binary.BigEndian.Uint32(buf[n+8:])
		tkhd.Duration = uint64(binary.BigEndian.Uint32(buf[n+16:]))
		n += 20
	}
	n += 8
	tkhd.Layer = binary.BigEndian.Uint16(buf[n:])
	tkhd.Alternate_group = binary.BigEndian.Uint16(buf[n+2:])
	tkhd.Volume = binary.BigEndian.Uint16(buf[n+4:])
	n += 8 + 36
	// 16.16 fixed point
	tkhd.Width = binary.BigEndian.Uint32(buf[n:]) >> 16
	tkhd.Height = binary.BigEndian.Uint32(buf[n+4:]) >> 16
	return 4 + n + 8, nil
}
