package box

import (
	"fmt"

	"github.com/yapingcat/gomedia/go-codec"
)

// ISO/IEC 14496-1 descriptor tags carried by esds
const (
	ES_DescrTag            = 0x03
	DecoderConfigDescrTag  = 0x04
	DecSpecificInfoTag     = 0x05
	SLConfigDescrTag       = 0x06
	maxDescriptorSizeBytes = 4
)

// abstract aligned(8) expandable(2^28-1) class BaseDescriptor : bit(8) tag=0 {
//     // empty. To be filled by classes extending this class.
// }

type BaseDescriptor struct {
	tag            uint8
	sizeOfInstance uint32
}

func (base *BaseDescriptor) Decode(data []byte) (*codec.BitStream, error) {
	if len(data) < 2 {
		return nil, ErrShortPayload
	}
	bs := codec.NewBitStream(data)
	base.tag = bs.Uint8(8)
	header := 1
	nextbit := uint8(1)
	for nextbit == 1 {
		if header > maxDescriptorSizeBytes || header >= len(data) {
			return nil, fmt.Errorf("%w: descriptor 0x%02x size field", ErrShortPayload, base.tag)
		}
		nextbit = bs.GetBit()
		base.sizeOfInstance = base.sizeOfInstance<<7 | bs.Uint32(7)
		header++
	}
	if uint64(base.sizeOfInstance) > uint64(len(data)-header) {
		return nil, fmt.Errorf("%w: descriptor 0x%02x declares %d bytes, %d remain", ErrShortPayload, base.tag, base.sizeOfInstance, len(data)-header)
	}
	return bs, nil
}

// ESDescriptor keeps the parts of an elementary stream descriptor a demuxer needs.
type ESDescriptor struct {
	ESID                 uint16
	ObjectTypeIndication uint8
	StreamType           uint8
	BufferSizeDB         uint32
	MaxBitrate           uint32
	AvgBitrate           uint32
	DecoderSpecificInfo  []byte
}

// Decode reads an esds payload: a full box header followed by an ES_Descriptor.
func (esd *ESDescriptor) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	if _, err := fullbox.Decode(buf); err != nil {
		return 0, err
	}
	data := buf[4:]
	for len(data) > 0 {
		var based BaseDescriptor
		bs, err := based.Decode(data)
		if err != nil {
			return 0, err
		}
		// body of this descriptor starts where the bit stream is now
		body := bs.RemainData()
		size := int(based.sizeOfInstance)
		switch based.tag {
		case ES_DescrTag:
			if size < 3 {
				return 0, ErrShortPayload
			}
			esd.ESID = uint16(bs.Uint32(16))
			streamDependenceFlag := bs.Uint8(1)
			urlFlag := bs.Uint8(1)
			oCRstreamFlag := bs.Uint8(1)
			_ = bs.Uint8(5) // streamPriority
			skip := 0
			if streamDependenceFlag == 1 {
				skip += 2
			}
			if urlFlag == 1 {
				if size < 4 {
					return 0, ErrShortPayload
				}
				skip += 1 + int(body[3])
			}
			if oCRstreamFlag == 1 {
				skip += 2
			}
			if 3+skip > size {
				return 0, ErrShortPayload
			}
			// descend: the remaining descriptors are nested in this one
			data = body[3+skip : size]
			continue
		case DecoderConfigDescrTag:
			if size < 13 {
				return 0, ErrShortPayload
			}
			esd.ObjectTypeIndication = bs.Uint8(8)
			esd.StreamType = bs.Uint8(6)
			_ = bs.Uint8(2) // upStream, reserved
			esd.BufferSizeDB = bs.Uint32(24)
			esd.MaxBitrate = bs.Uint32(32)
			esd.AvgBitrate = bs.Uint32(32)
			if err = esd.decodeSpecificInfo(body[13:size]); err != nil {
				return 0, err
			}
		case DecSpecificInfoTag:
			esd.DecoderSpecificInfo = bs.GetBytes(size)
		}
		data = body[size:]
	}
	return len(buf), nil
}

func (esd *ESDescriptor) decodeSpecificInfo(data []byte) error {
	for len(data) > 0 {
		var based BaseDescriptor
		bs, err := based.Decode(data)
		if err != nil {
			return err
		}
		body := bs.RemainData()
		if based.tag == DecSpecificInfoTag {
			esd.DecoderSpecificInfo = bs.GetBytes(int(based.sizeOfInstance))
			return nil
		}
		data = body[based.sizeOfInstance:]
	}
	return nil
}
