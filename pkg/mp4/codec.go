package mp4

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/deepch/vdk/codec/h265parser"
	"m7s.live/mp4demux/pkg/box"
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecAAC
	CodecMP3
	CodecG711A
	CodecG711U
	CodecOpus
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H.264"
	case CodecH265:
		return "H.265"
	case CodecAAC:
		return "AAC"
	case CodecMP3:
		return "MP3"
	case CodecG711A:
		return "G.711 A-law"
	case CodecG711U:
		return "G.711 mu-law"
	case CodecOpus:
		return "Opus"
	}
	return "unknown"
}

// ffmpeg isom.c ff_mp4_obj_type
func codecByObjectType(objType uint8) Codec {
	switch objType {
	case 0x21:
		return CodecH264
	case 0x23:
		return CodecH265
	case 0x40, 0x66, 0x67, 0x68:
		return CodecAAC
	case 0x69, 0x6b:
		return CodecMP3
	case 0xfd:
		return CodecG711A
	case 0xfe:
		return CodecG711U
	}
	return CodecUnknown
}

// applySampleEntry fills the codec fields of info from a sample description entry.
// Entries of an unmodelled format leave Codec unknown and return ErrUnsupportedCodec.
func (info *TrackInfo) applySampleEntry(entry *box.SampleEntry) error {
	info.CodecTag = entry.Type
	switch {
	case entry.Visual != nil:
		info.Width, info.Height = uint32(entry.Visual.Width), uint32(entry.Visual.Height)
	case entry.Audio != nil:
		info.ChannelCount = entry.Audio.ChannelCount
		info.SampleSize = entry.Audio.SampleSize
		info.SampleRate = entry.Audio.Samplerate
	case entry.Metadata != nil:
		info.MetadataContentEncoding = entry.Metadata.ContentEncoding
		info.MetadataMimeFormat = entry.Metadata.MimeFormat
		return nil
	default:
		if entry.Kind == box.SAMPLE_TEXT {
			return nil
		}
	}
	switch entry.Type {
	case box.TypeAVC1, box.TypeAVC3:
		info.Codec = CodecH264
		return info.applyVideoConfig(entry)
	case box.TypeHVC1, box.TypeHEV1:
		info.Codec = CodecH265
		return info.applyVideoConfig(entry)
	case box.TypeMP4A:
		return info.applyESDS(entry)
	case box.TypeMP3:
		info.Codec = CodecMP3
	case box.TypeALAW:
		info.Codec = CodecG711A
	case box.TypeULAW:
		info.Codec = CodecG711U
	case box.TypeOPUS:
		info.Codec = CodecOpus
	default:
		return fmt.Errorf("%w: sample entry %s", ErrUnsupportedCodec, box.TypeName(entry.Type))
	}
	return nil
}

// applyVideoConfig keeps the decoder configuration record and takes the picture size
// from the SPS when the sample entry leaves it zero.
func (info *TrackInfo) applyVideoConfig(entry *box.SampleEntry) error {
	if entry.ConfigType != box.TypeAVCC && entry.ConfigType != box.TypeHVCC {
		return nil
	}
	info.ExtraData = entry.Config
	if info.Width != 0 && info.Height != 0 {
		return nil
	}
	switch info.Codec {
	case CodecH264:
		ctx, err := h264parser.NewCodecDataFromAVCDecoderConfRecord(entry.Config)
		if err != nil {
			return fmt.Errorf("avcC: %w", err)
		}
		info.Width, info.Height = uint32(ctx.Width()), uint32(ctx.Height())
	case CodecH265:
		ctx, err := h265parser.NewCodecDataFromAVCDecoderConfRecord(entry.Config)
		if err != nil {
			return fmt.Errorf("hvcC: %w", err)
		}
		info.Width, info.Height = uint32(ctx.Width()), uint32(ctx.Height())
	}
	return nil
}

func (info *TrackInfo) applyESDS(entry *box.SampleEntry) error {
	if entry.ConfigType != box.TypeESDS {
		// mp4a without esds is AAC by convention
		info.Codec = CodecAAC
		return nil
	}
	var esd box.ESDescriptor
	if _, err := esd.Decode(entry.Config); err != nil {
		return err
	}
	info.Codec = codecByObjectType(esd.ObjectTypeIndication)
	switch info.Codec {
	case CodecAAC:
		info.ExtraData = esd.DecoderSpecificInfo
		var asc mpeg4audio.Config
		if err := asc.Unmarshal(esd.DecoderSpecificInfo); err != nil {
			// keep the sample entry values
			return nil
		}
		info.SampleRate = uint32(asc.SampleRate)
		if asc.ChannelCount > 0 {
			info.ChannelCount = uint16(asc.ChannelCount)
		}
	case CodecUnknown:
		return fmt.Errorf("%w: mp4a object type 0x%02x", ErrUnsupportedCodec, esd.ObjectTypeIndication)
	}
	return nil
}
