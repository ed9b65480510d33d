package box

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// aligned(8) abstract class SampleEntry (unsigned int(32) format) extends Box(format){
//     const unsigned int(8)[6] reserved = 0;
//     unsigned int(16) data_reference_index;
// }

type SampleEntryKind uint8

const (
	SAMPLE_UNKNOWN SampleEntryKind = iota
	SAMPLE_AUDIO
	SAMPLE_VIDEO
	SAMPLE_METADATA
	SAMPLE_TEXT
)

type SampleEntry struct {
	Type                 [4]byte
	Kind                 SampleEntryKind
	Data_reference_index uint16
	Visual               *VisualSampleEntry
	Audio                *AudioSampleEntry
	Metadata             *MetadataSampleEntry
	// ConfigType is avcC, hvcC or esds, Config its payload.
	ConfigType [4]byte
	Config     []byte
}

// class VisualSampleEntry(codingname) extends SampleEntry (codingname){
//     unsigned int(16) pre_defined = 0;
//     const unsigned int(16) reserved = 0;
//     unsigned int(32)[3] pre_defined = 0;
//     unsigned int(16) width;
//     unsigned int(16) height;
//     template unsigned int(32) horizresolution = 0x00480000; // 72 dpi
//     template unsigned int(32) vertresolution = 0x00480000; // 72 dpi
//     const unsigned int(32) reserved = 0;
//     template unsigned int(16) frame_count = 1;
//     string[32] compressorname;
//     template unsigned int(16) depth = 0x0018;
//     int(16) pre_defined = -1;
// }

type VisualSampleEntry struct {
	Width, Height  uint16
	FrameCount     uint16
	CompressorName string
}

const visualSampleEntryLen = 70

func (entry *VisualSampleEntry) Decode(buf []byte) (int, error) {
	if len(buf) < visualSampleEntryLen {
		return 0, ErrShortPayload
	}
	entry.Width = binary.BigEndian.Uint16(buf[16:])
	entry.Height = binary.BigEndian.Uint16(buf[18:])
	entry.FrameCount = binary.BigEndian.Uint16(buf[32:])
	name := buf[34:66]
	if l := int(name[0]); l < len(name) {
		entry.CompressorName = string(name[1 : 1+l])
	}
	return visualSampleEntryLen, nil
}

// class AudioSampleEntry(codingname) extends SampleEntry (codingname){
//     const unsigned int(32)[2] reserved = 0;
//     template unsigned int(16) channelcount = 2;
//     template unsigned int(16) samplesize = 16;
//     unsigned int(16) pre_defined = 0;
//     const unsigned int(16) reserved = 0 ;
//     template unsigned int(32) samplerate = { default samplerate of media}<<16;
// }
//
// QuickTime reuses the first reserved word as a version: version 1 appends four
// 32-bit fields, version 2 replaces rate and channels with an extension block.

type AudioSampleEntry struct {
	Version      uint16
	ChannelCount uint16
	SampleSize   uint16
	Samplerate   uint32
}

func (entry *AudioSampleEntry) Decode(buf []byte) (int, error) {
	if len(buf) < 20 {
		return 0, ErrShortPayload
	}
	entry.Version = binary.BigEndian.Uint16(buf)
	entry.ChannelCount = binary.BigEndian.Uint16(buf[8:])
	entry.SampleSize = binary.BigEndian.Uint16(buf[10:])
	entry.Samplerate = binary.BigEndian.Uint32(buf[16:]) >> 16
	offset := 20
	switch entry.Version {
	case 1:
		offset += 16
	case 2:
		offset += 36
		if len(buf) < offset {
			return 0, ErrShortPayload
		}
		entry.Samplerate = uint32(math.Float64frombits(binary.BigEndian.Uint64(buf[24:])))
		entry.ChannelCount = uint16(binary.BigEndian.Uint32(buf[32:]))
		entry.SampleSize = uint16(binary.BigEndian.Uint32(buf[40:]))
	}
	if len(buf) < offset {
		return 0, ErrShortPayload
	}
	return offset, nil
}

// class TextMetaDataSampleEntry() extends MetaDataSampleEntry ('mett') {
//     string content_encoding; // optional
//     string mime_format;
//     BitRateBox (); // optional
// }

type MetadataSampleEntry struct {
	ContentEncoding string
	MimeFormat      string
}

func (entry *MetadataSampleEntry) Decode(buf []byte) (int, error) {
	n := 0
	fields := [2]*string{&entry.ContentEncoding, &entry.MimeFormat}
	for _, field := range fields {
		end := bytes.IndexByte(buf[n:], 0)
		if end < 0 {
			return 0, ErrShortPayload
		}
		*field = string(buf[n : n+end])
		n += end + 1
	}
	return n, nil
}

// aligned(8) class SampleDescriptionBox (unsigned int(32) handler_type) extends FullBox('stsd', version, 0){
//     unsigned int(32) entry_count;
//     for (i = 1 ; i <= entry_count ; i++){
//         SampleEntry(); // an instance of a class derived from SampleEntry
//     }
// }

type SampleDescriptionBox struct {
	Handler HandlerType
	Entries []SampleEntry
}

func entryKind(handler HandlerType, format [4]byte) SampleEntryKind {
	switch handler {
	case TypeVIDE:
		return SAMPLE_VIDEO
	case TypeSOUN:
		return SAMPLE_AUDIO
	case TypeMETA:
		if format == TypeMETT {
			return SAMPLE_METADATA
		}
	case TypeTEXT, TypeSBTL, TypeSUBT:
		return SAMPLE_TEXT
	}
	switch format {
	case TypeAVC1, TypeAVC3, TypeHVC1, TypeHEV1:
		return SAMPLE_VIDEO
	case TypeMP4A, TypeMP3, TypeULAW, TypeALAW, TypeOPUS:
		return SAMPLE_AUDIO
	case TypeMETT:
		return SAMPLE_METADATA
	case TypeTEXT, TypeTX3G:
		return SAMPLE_TEXT
	}
	return SAMPLE_UNKNOWN
}

func (stsd *SampleDescriptionBox) Decode(buf []byte) (int, error) {
	_, count, data, err := entries(buf, BasicBoxLen)
	if err != nil {
		return 0, err
	}
	stsd.Entries = stsd.Entries[:0]
	err = Children(data, func(b BasicBox, payload []byte) error {
		if uint32(len(stsd.Entries)) == count {
			return errStop
		}
		entry, err := stsd.decodeEntry(b.Type, payload)
		if err != nil {
			return fmt.Errorf("sample entry %s: %w", TypeName(b.Type), err)
		}
		stsd.Entries = append(stsd.Entries, entry)
		return nil
	})
	return len(buf), err
}

func (stsd *SampleDescriptionBox) decodeEntry(format [4]byte, buf []byte) (entry SampleEntry, err error) {
	entry.Type = format
	entry.Kind = entryKind(stsd.Handler, format)
	if len(buf) < 8 {
		return entry, ErrShortPayload
	}
	entry.Data_reference_index = binary.BigEndian.Uint16(buf[6:])
	buf = buf[8:]
	var n int
	switch entry.Kind {
	case SAMPLE_VIDEO:
		entry.Visual = new(VisualSampleEntry)
		n, err = entry.Visual.Decode(buf)
	case SAMPLE_AUDIO:
		entry.Audio = new(AudioSampleEntry)
		n, err = entry.Audio.Decode(buf)
	case SAMPLE_METADATA:
		entry.Metadata = new(MetadataSampleEntry)
		n, err = entry.Metadata.Decode(buf)
	default:
		return
	}
	if err != nil {
		return
	}
	entry.findConfig(buf[n:])
	return
}

func (entry *SampleEntry) findConfig(children []byte) {
	_ = Children(children, func(b BasicBox, payload []byte) error {
		switch b.Type {
		case TypeAVCC, TypeHVCC, TypeESDS:
			entry.ConfigType, entry.Config = b.Type, payload
			return errStop
		case TypeWAVE:
			// QuickTime sound descriptions wrap esds in a wave atom
			if esds, ok := Find(payload, TypeESDS); ok {
				entry.ConfigType, entry.Config = TypeESDS, esds
				return errStop
			}
		}
		return nil
	})
}
