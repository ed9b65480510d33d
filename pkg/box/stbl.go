package box

import (
	"encoding/binary"
	"fmt"
)

type (
	STTSEntry struct {
		SampleCount uint32
		SampleDelta uint32
	}
	CTTSEntry struct {
		SampleCount  uint32
		SampleOffset int32
	}
	STSCEntry struct {
		FirstChunk             uint32
		SamplesPerChunk        uint32
		SampleDescriptionIndex uint32
	}
)

// entries decodes the full box header and entry count shared by every sample table
// box and returns the entry area, checked against the declared count.
func entries(buf []byte, entrySize int) (fullbox FullBox, count uint32, data []byte, err error) {
	if _, err = fullbox.Decode(buf); err != nil {
		return
	}
	if len(buf) < 8 {
		err = ErrShortPayload
		return
	}
	count = binary.BigEndian.Uint32(buf[4:])
	data = buf[8:]
	if uint64(count)*uint64(entrySize) > uint64(len(data)) {
		err = fmt.Errorf("%w: %d entries of %d bytes in %d bytes", ErrShortPayload, count, entrySize, len(data))
	}
	return
}

// aligned(8) class TimeToSampleBox extends FullBox('stts', version = 0, 0) {
//     unsigned int(32) entry_count;
//     int i;
//     for (i=0; i < entry_count; i++) {
//         unsigned int(32) sample_count;
//         unsigned int(32) sample_delta;
//     }
// }

type TimeToSampleBox []STTSEntry

func (stts *TimeToSampleBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 8)
	if err != nil {
		return 0, err
	}
	*stts = make([]STTSEntry, l)
	idx := 0
	for i := range *stts {
		(*stts)[i].SampleCount = binary.BigEndian.Uint32(data[idx:])
		(*stts)[i].SampleDelta = binary.BigEndian.Uint32(data[idx+4:])
		idx += 8
	}
	return 8 + idx, nil
}

// aligned(8) class CompositionOffsetBox extends FullBox('ctts', version, 0) {
//     unsigned int(32) entry_count;
//     for (i=0; i < entry_count; i++) {
//         unsigned int(32) sample_count;
//         if (version==0) unsigned int(32) sample_offset;
//         else signed int(32) sample_offset;
//     }
// }

type CompositionOffsetBox []CTTSEntry

func (ctts *CompositionOffsetBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 8)
	if err != nil {
		return 0, err
	}
	*ctts = make([]CTTSEntry, l)
	idx := 0
	// version 0 writers routinely store negative offsets too, so both are read signed
	for i := range *ctts {
		entry := &(*ctts)[i]
		entry.SampleCount = binary.BigEndian.Uint32(data[idx:])
		entry.SampleOffset = int32(binary.BigEndian.Uint32(data[idx+4:]))
		idx += 8
	}
	return 8 + idx, nil
}

// aligned(8) class SampleToChunkBox extends FullBox('stsc', version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(32) first_chunk;
//         unsigned int(32) samples_per_chunk;
//         unsigned int(32) sample_description_index;
//     }
// }

type SampleToChunkBox []STSCEntry

func (stsc *SampleToChunkBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 12)
	if err != nil {
		return 0, err
	}
	*stsc = make([]STSCEntry, l)
	idx := 0
	for i := range *stsc {
		entry := &(*stsc)[i]
		entry.FirstChunk = binary.BigEndian.Uint32(data[idx:])
		entry.SamplesPerChunk = binary.BigEndian.Uint32(data[idx+4:])
		entry.SampleDescriptionIndex = binary.BigEndian.Uint32(data[idx+8:])
		idx += 12
	}
	return 8 + idx, nil
}

// aligned(8) class SampleSizeBox extends FullBox('stsz', version = 0, 0) {
//     unsigned int(32) sample_size;
//     unsigned int(32) sample_count;
//     if (sample_size==0) {
//         for (i=1; i <= sample_count; i++) {
//             unsigned int(32) entry_size;
//         }
//     }
// }
//
// aligned(8) class CompactSampleSizeBox extends FullBox('stz2', version = 0, 0) {
//     unsigned int(24) reserved = 0;
//     unsigned int(8) field_size;
//     unsigned int(32) sample_count;
//     for (i=1; i <= sample_count; i++) {
//         unsigned int(field_size) entry_size;
//     }
// }

type SampleSizeBox struct {
	SampleSize    uint32
	SampleCount   uint32
	EntrySizelist []uint32
}

func (stsz *SampleSizeBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < 12 {
		return 0, ErrShortPayload
	}
	stsz.SampleSize = binary.BigEndian.Uint32(buf[4:])
	stsz.SampleCount = binary.BigEndian.Uint32(buf[8:])
	if stsz.SampleSize != 0 {
		return 12, nil
	}
	data := buf[12:]
	if uint64(stsz.SampleCount)*4 > uint64(len(data)) {
		return 0, fmt.Errorf("%w: %d sample sizes in %d bytes", ErrShortPayload, stsz.SampleCount, len(data))
	}
	stsz.EntrySizelist = make([]uint32, stsz.SampleCount)
	for i := range stsz.EntrySizelist {
		stsz.EntrySizelist[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return 12 + len(stsz.EntrySizelist)*4, nil
}

// DecodeCompact fills stsz from a stz2 payload.
func (stsz *SampleSizeBox) DecodeCompact(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < 12 {
		return 0, ErrShortPayload
	}
	fieldSize := buf[7]
	stsz.SampleSize = 0
	stsz.SampleCount = binary.BigEndian.Uint32(buf[8:])
	data := buf[12:]
	var need uint64
	switch fieldSize {
	case 4:
		need = (uint64(stsz.SampleCount) + 1) / 2
	case 8, 16:
		need = uint64(stsz.SampleCount) * uint64(fieldSize/8)
	default:
		return 0, fmt.Errorf("stz2 field size %d", fieldSize)
	}
	if need > uint64(len(data)) {
		return 0, fmt.Errorf("%w: %d compact sizes in %d bytes", ErrShortPayload, stsz.SampleCount, len(data))
	}
	stsz.EntrySizelist = make([]uint32, stsz.SampleCount)
	for i := range stsz.EntrySizelist {
		switch fieldSize {
		case 4:
			b := data[i/2]
			if i%2 == 0 {
				stsz.EntrySizelist[i] = uint32(b >> 4)
			} else {
				stsz.EntrySizelist[i] = uint32(b & 0x0F)
			}
		case 8:
			stsz.EntrySizelist[i] = uint32(data[i])
		case 16:
			stsz.EntrySizelist[i] = uint32(binary.BigEndian.Uint16(data[i*2:]))
		}
	}
	return 12 + int(need), nil
}

// SizeOf returns the size of sample i, counted from zero.
func (stsz *SampleSizeBox) SizeOf(i int) uint32 {
	if stsz.SampleSize != 0 {
		return stsz.SampleSize
	}
	return stsz.EntrySizelist[i]
}

// aligned(8) class ChunkOffsetBox extends FullBox('stco', version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(32) chunk_offset;
//     }
// }
// aligned(8) class ChunkLargeOffsetBox extends FullBox('co64', version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(64) chunk_offset;
//     }
// }

type ChunkOffsetBox []uint64

func (stco *ChunkOffsetBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 4)
	if err != nil {
		return 0, err
	}
	*stco = make([]uint64, l)
	for i := range *stco {
		(*stco)[i] = uint64(binary.BigEndian.Uint32(data[i*4:]))
	}
	return 8 + int(l)*4, nil
}

type ChunkLargeOffsetBox ChunkOffsetBox

func (co64 *ChunkLargeOffsetBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 8)
	if err != nil {
		return 0, err
	}
	*co64 = make([]uint64, l)
	for i := range *co64 {
		(*co64)[i] = binary.BigEndian.Uint64(data[i*8:])
	}
	return 8 + int(l)*8, nil
}

// aligned(8) class SyncSampleBox extends FullBox('stss', version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=0; i < entry_count; i++) {
//         unsigned int(32) sample_number;
//     }
// }

type SyncSampleBox []uint32

func (stss *SyncSampleBox) Decode(buf []byte) (int, error) {
	_, l, data, err := entries(buf, 4)
	if err != nil {
		return 0, err
	}
	*stss = make([]uint32, l)
	for i := range *stss {
		(*stss)[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return 8 + int(l)*4, nil
}
