package box

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	BasicBoxLen = 8
	FullBoxLen  = 12
	LargeBoxLen = 16
	UUIDLen     = 16
)

func f(s string) [4]byte {
	return [4]byte([]byte(s))
}

var (
	TypeFTYP = f("ftyp")
	TypeMOOV = f("moov")
	TypeMVHD = f("mvhd")
	TypeTRAK = f("trak")
	TypeTKHD = f("tkhd")
	TypeTREF = f("tref")
	TypeEDTS = f("edts")
	TypeELST = f("elst")
	TypeMDIA = f("mdia")
	TypeMDHD = f("mdhd")
	TypeHDLR = f("hdlr")
	TypeMINF = f("minf")
	TypeVMHD = f("vmhd")
	TypeSMHD = f("smhd")
	TypeHMHD = f("hmhd")
	TypeNMHD = f("nmhd")
	TypeGMHD = f("gmhd")
	TypeDINF = f("dinf")
	TypeSTBL = f("stbl")
	TypeSTSD = f("stsd")
	TypeSTTS = f("stts")
	TypeCTTS = f("ctts")
	TypeSTSC = f("stsc")
	TypeSTSZ = f("stsz")
	TypeSTZ2 = f("stz2")
	TypeSTCO = f("stco")
	TypeCO64 = f("co64")
	TypeSTSS = f("stss")
	TypeMDAT = f("mdat")
	TypeFREE = f("free")
	TypeSKIP = f("skip")
	TypeWIDE = f("wide")
	TypePDIN = f("pdin")
	TypeUUID = f("uuid")
	TypeMOOF = f("moof")
	TypeMVEX = f("mvex")

	TypeUDTA = f("udta")
	TypeMETA = f("meta")
	TypeKEYS = f("keys")
	TypeILST = f("ilst")
	TypeDATA = f("data")
	TypeCHPL = f("chpl")
	TypeCOVR = f("covr")
	TypeCPRT = f("cprt")

	TypeAVC1 = f("avc1")
	TypeAVC3 = f("avc3")
	TypeHVC1 = f("hvc1")
	TypeHEV1 = f("hev1")
	TypeMP4A = f("mp4a")
	TypeMP3  = f(".mp3")
	TypeULAW = f("ulaw")
	TypeALAW = f("alaw")
	TypeOPUS = f("Opus")
	TypeMETT = f("mett")
	TypeTEXT = f("text")
	TypeTX3G = f("tx3g")
	TypeAVCC = f("avcC")
	TypeHVCC = f("hvcC")
	TypeESDS = f("esds")
	TypeWAVE = f("wave")

	TypeVIDE = f("vide")
	TypeSOUN = f("soun")
	TypeHINT = f("hint")
	TypeSBTL = f("sbtl")
	TypeSUBT = f("subt")
	TypeMDIR = f("mdir")
	TypeMDTA = f("mdta")

	TypeCHAP = f("chap")
	TypeCDSC = f("cdsc")
)

// BoxDecoder is implemented by every leaf box that can be decoded from its payload.
type BoxDecoder interface {
	Decode(buf []byte) (int, error)
}

//	aligned(8) class Box (unsigned int(32) boxtype, optional unsigned int(8)[16] extended_type) {
//	    unsigned int(32) size;
//	    unsigned int(32) type = boxtype;
//	    if (size==1) {
//	       unsigned int(64) largesize;
//	    } else if (size==0) {
//	       // box extends to end of file
//	    }
//	    if (boxtype=='uuid') {
//	    unsigned int(8)[16] usertype = extended_type;
//	 }
//	}
type BasicBox struct {
	Offset     int64
	Size       uint64
	Type       [4]byte
	UserType   [16]byte
	HeaderSize int
}

func (box *BasicBox) PayloadOffset() int64 {
	return box.Offset + int64(box.HeaderSize)
}

func (box *BasicBox) PayloadSize() uint64 {
	return box.Size - uint64(box.HeaderSize)
}

func (box *BasicBox) End() int64 {
	return box.Offset + int64(box.Size)
}

func (box *BasicBox) String() string {
	return fmt.Sprintf("%s@%d+%d", TypeName(box.Type), box.Offset, box.Size)
}

// TypeName renders a box type for logs, escaping non printable bytes.
func TypeName(t [4]byte) string {
	buf := make([]byte, 0, 8)
	for _, c := range t {
		if c == 0xA9 {
			buf = append(buf, "(c)"...)
		} else if c < 0x20 || c > 0x7e {
			buf = append(buf, '.')
		} else {
			buf = append(buf, c)
		}
	}
	return string(buf)
}

// ParseHeader decodes a box header from buf. remain is the number of bytes left in
// the enclosing container starting at the header, it bounds the declared size and
// gives meaning to size==0.
func ParseHeader(buf []byte, remain uint64) (box BasicBox, err error) {
	if remain < BasicBoxLen || len(buf) < BasicBoxLen {
		return box, ErrTruncatedHeader
	}
	box.Size = uint64(binary.BigEndian.Uint32(buf))
	copy(box.Type[:], buf[4:8])
	box.HeaderSize = BasicBoxLen
	switch box.Size {
	case 1:
		if remain < LargeBoxLen || len(buf) < LargeBoxLen {
			return box, ErrTruncatedHeader
		}
		box.Size = binary.BigEndian.Uint64(buf[8:])
		box.HeaderSize = LargeBoxLen
	case 0:
		box.Size = remain
	}
	if box.Type == TypeUUID {
		if remain < uint64(box.HeaderSize+UUIDLen) || len(buf) < box.HeaderSize+UUIDLen {
			return box, ErrTruncatedHeader
		}
		copy(box.UserType[:], buf[box.HeaderSize:])
		box.HeaderSize += UUIDLen
	}
	if box.Size < uint64(box.HeaderSize) {
		return box, fmt.Errorf("%w: %s declares %d bytes, header needs %d", ErrSizeOverflow, TypeName(box.Type), box.Size, box.HeaderSize)
	}
	if box.Size > remain {
		return box, fmt.Errorf("%w: %s declares %d bytes, %d remain", ErrSizeOverflow, TypeName(box.Type), box.Size, remain)
	}
	return
}

// aligned(8) class FullBox(unsigned int(32) boxtype, unsigned int(8) v, bit(24) f) extends Box(boxtype) {
//     unsigned int(8) version = v;
//     bit(24) flags = f;
// }

type FullBox struct {
	Version uint8
	Flags   [3]byte
}

func (box *FullBox) Decode(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrShortPayload
	}
	box.Version = buf[0]
	copy(box.Flags[:], buf[1:4])
	return 4, nil
}

func (box *FullBox) FlagsUint32() uint32 {
	return uint32(box.Flags[0])<<16 | uint32(box.Flags[1])<<8 | uint32(box.Flags[2])
}

// Reader reads box headers and payloads from a seekable byte source.
type Reader struct {
	rs  io.ReadSeeker
	hdr [LargeBoxLen + UUIDLen]byte
}

func NewReader(rs io.ReadSeeker) *Reader {
	return &Reader{rs: rs}
}

// Size reports the total length of the underlying source.
func (r *Reader) Size() (int64, error) {
	cur, err := r.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if _, err = r.rs.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return end, nil
}

// ReadHeader decodes the header of the box starting at offset inside a container
// that ends at end.
func (r *Reader) ReadHeader(offset, end int64) (*BasicBox, error) {
	if end <= offset {
		return nil, ErrTruncatedHeader
	}
	remain := uint64(end - offset)
	n := min(remain, uint64(len(r.hdr)))
	if n < BasicBoxLen {
		return nil, ErrTruncatedHeader
	}
	if err := r.readAt(r.hdr[:n], offset, ErrTruncatedHeader); err != nil {
		return nil, err
	}
	box, err := ParseHeader(r.hdr[:n], remain)
	if err != nil {
		return nil, err
	}
	box.Offset = offset
	return &box, nil
}

// Peek reads n bytes at offset without interpreting them.
func (r *Reader) Peek(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readAt(buf, offset, ErrShortPayload); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadPayload reads the whole payload of box, refusing payloads larger than limit.
func (r *Reader) ReadPayload(box *BasicBox, limit uint64) ([]byte, error) {
	size := box.PayloadSize()
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: %s payload %d exceeds %d", ErrPayloadTooLarge, TypeName(box.Type), size, limit)
	}
	buf := make([]byte, size)
	if err := r.readAt(buf, box.PayloadOffset(), ErrShortPayload); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readAt(buf []byte, offset int64, short error) error {
	if _, err := r.rs.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if _, err := io.ReadFull(r.rs, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: source ended after %d", short, offset)
		}
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}
