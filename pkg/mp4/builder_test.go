package mp4

import (
	"bytes"
	"encoding/binary"
	"slices"
)

func mkbox(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	buf := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(buf, uint32(8+len(body)))
	copy(buf[4:8], typ)
	return append(buf, body...)
}

func mkfull(typ string, version uint8, payload ...[]byte) []byte {
	return mkbox(typ, append([][]byte{{version, 0, 0, 0}}, payload...)...)
}

func u32(vs ...uint32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func u16(vs ...uint16) []byte {
	buf := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// testTrack describes one trak. Samples are stored back to back in mdat, perChunk
// samples per chunk.
type testTrack struct {
	id        uint32
	handler   string
	timescale uint32
	entry     []byte
	samples   [][]byte
	delta     uint32
	perChunk  uint32
	stss      []uint32
	ctts      []byte
	tref      []byte
	elst      []byte
	// stsc claims one sample per chunk more than the layout has
	badStsc bool
}

type testMovie struct {
	timescale uint32
	duration  uint32
	tracks    []*testTrack
	udta      [][]byte
	meta      []byte
	// raw bytes closing moov, written as is
	moovTail  []byte
	after     [][]byte
	noMvhd    bool
}

func (m *testMovie) bytes() []byte {
	ftyp := mkbox("ftyp", []byte("isom"), u32(0x200), []byte("isomiso2mp41"))
	var payload []byte
	bases := make([]uint64, len(m.tracks))
	for i, tr := range m.tracks {
		bases[i] = uint64(len(ftyp) + 8 + len(payload))
		for _, s := range tr.samples {
			payload = append(payload, s...)
		}
	}
	var moov [][]byte
	if !m.noMvhd {
		moov = append(moov, mvhd(m.timescale, m.duration, uint32(len(m.tracks)+1)))
	}
	for i, tr := range m.tracks {
		moov = append(moov, tr.trak(bases[i]))
	}
	if len(m.udta) > 0 {
		moov = append(moov, mkbox("udta", m.udta...))
	}
	if m.meta != nil {
		moov = append(moov, m.meta)
	}
	if m.moovTail != nil {
		moov = append(moov, m.moovTail)
	}
	out := slices.Concat(ftyp, mkbox("mdat", payload), mkbox("moov", moov...))
	for _, b := range m.after {
		out = append(out, b...)
	}
	return out
}

func (tr *testTrack) trak(base uint64) []byte {
	n := uint32(len(tr.samples))
	perChunk := max(tr.perChunk, 1)
	var sizes, chunks []uint32
	offset := base
	for i, s := range tr.samples {
		if uint32(i)%perChunk == 0 {
			chunks = append(chunks, uint32(offset))
		}
		sizes = append(sizes, uint32(len(s)))
		offset += uint64(len(s))
	}
	declared := perChunk
	if tr.badStsc {
		declared++
	}
	stbl := [][]byte{
		mkfull("stsd", 0, u32(1), tr.entry),
		mkfull("stts", 0, u32(1, n, tr.delta)),
		mkfull("stsc", 0, u32(1, 1, declared, 1)),
		mkfull("stsz", 0, u32(0, n), u32(sizes...)),
		mkfull("stco", 0, u32(uint32(len(chunks))), u32(chunks...)),
	}
	if tr.stss != nil {
		stbl = append(stbl, mkfull("stss", 0, u32(uint32(len(tr.stss))), u32(tr.stss...)))
	}
	if tr.ctts != nil {
		stbl = append(stbl, tr.ctts)
	}
	duration := n * tr.delta
	minf := mkbox("minf", mkbox("dinf"), mkbox("stbl", stbl...))
	mdia := mkbox("mdia", mdhd(tr.timescale, duration), hdlr(tr.handler, "test handler"), minf)
	children := [][]byte{tkhd(tr.id, duration)}
	if tr.elst != nil {
		children = append(children, mkbox("edts", tr.elst))
	}
	if tr.tref != nil {
		children = append(children, tr.tref)
	}
	return mkbox("trak", append(children, mdia)...)
}

// mvhd writes a version 0 movie header created at 2001-01-01.
func mvhd(timescale, duration, next uint32) []byte {
	return mkfull("mvhd", 0, u32(3061152000, 3061152000, timescale, duration, 0x10000), u16(0x100),
		make([]byte, 10+36+24), u32(next))
}

func tkhd(id, duration uint32) []byte {
	return mkfull("tkhd", 0, u32(0, 0, id, 0, duration), make([]byte, 8), u16(0, 0, 0, 0),
		make([]byte, 36), u32(0, 0))
}

// mdhd writes a version 0 media header with language eng.
func mdhd(timescale, duration uint32) []byte {
	lang := uint16('e'-0x60)<<10 | uint16('n'-0x60)<<5 | uint16('g'-0x60)
	return mkfull("mdhd", 0, u32(0, 0, timescale, duration), u16(lang, 0))
}

func hdlr(handler, name string) []byte {
	return mkfull("hdlr", 0, u32(0), []byte(handler), make([]byte, 12), []byte(name+"\x00"))
}

func elst(entries ...[2]int32) []byte {
	body := u32(uint32(len(entries)))
	for _, e := range entries {
		body = append(body, u32(uint32(e[0]), uint32(e[1]))...)
		body = append(body, u16(1, 0)...)
	}
	return mkfull("elst", 0, body)
}

func tref(typ string, ids ...uint32) []byte {
	return mkbox("tref", mkbox(typ, u32(ids...)))
}

func avc1(width, height uint16, config []byte) []byte {
	visual := append(make([]byte, 6), u16(1)...)
	visual = append(visual, make([]byte, 16)...)
	visual = append(visual, u16(width, height)...)
	visual = append(visual, make([]byte, 50)...)
	return mkbox("avc1", visual, mkbox("avcC", config))
}

// audioEntry writes a version 0 audio sample entry followed by children.
func audioEntry(typ string, channels uint16, rate uint32, children ...[]byte) []byte {
	audio := append(make([]byte, 6), u16(1)...)
	audio = append(audio, make([]byte, 8)...)
	audio = append(audio, u16(channels, 16, 0, 0)...)
	audio = append(audio, u32(rate<<16)...)
	return mkbox(typ, append([][]byte{audio}, children...)...)
}

func mp4a(channels uint16, rate uint32, asc []byte) []byte {
	dsi := append([]byte{0x05, byte(len(asc))}, asc...)
	dcd := append([]byte{0x04, byte(13 + len(dsi)), 0x40, 0x15, 0, 0, 0}, u32(128000, 128000)...)
	dcd = append(dcd, dsi...)
	body := append(u16(1), 0)
	body = append(body, dcd...)
	body = append(body, 0x06, 1, 2)
	es := append([]byte{0x03, byte(len(body))}, body...)
	return audioEntry("mp4a", channels, rate, mkfull("esds", 0, es))
}

func mett(mime string) []byte {
	return mkbox("mett", make([]byte, 6), u16(1), []byte("\x00"+mime+"\x00"))
}

func textEntry() []byte {
	return mkbox("text", make([]byte, 6), u16(1))
}

func textSample(s string) []byte {
	return append(u16(uint16(len(s))), s...)
}

func dataBox(dataType uint32, value []byte) []byte {
	return mkbox("data", u32(dataType, 0), value)
}

// itunesMeta is the udta/meta layout written by iTunes style taggers.
func itunesMeta(items ...[]byte) []byte {
	return mkfull("meta", 0, hdlr("mdir", ""), mkbox("ilst", items...))
}

// mdtaMeta is the moov/meta layout written by QuickTime: no full box header, items
// named by the index of their key.
func mdtaMeta(keys []string, values ...[]byte) []byte {
	var table []byte
	for _, k := range keys {
		table = append(table, u32(uint32(8+len(k)))...)
		table = append(table, "mdta"...)
		table = append(table, k...)
	}
	var items [][]byte
	for i, v := range values {
		items = append(items, mkbox(string(u32(uint32(i+1))), v))
	}
	return mkbox("meta", hdlr("mdta", ""), mkfull("keys", 0, u32(uint32(len(keys))), table), mkbox("ilst", items...))
}

// intlText is a QuickTime udta text atom with a Macintosh language code.
func intlText(typ string, value []byte) []byte {
	return mkbox(typ, u16(uint16(len(value)), 0), value)
}

type testChapter struct {
	start uint64
	title string
}

func chpl(chapters ...testChapter) []byte {
	body := append(u32(0), byte(len(chapters)))
	for _, c := range chapters {
		body = append(body, u64(c.start)...)
		body = append(body, byte(len(c.title)))
		body = append(body, c.title...)
	}
	return mkfull("chpl", 1, body)
}

var jpegCover = []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3, 4}

// testAVCC is an avcC record; the sample entry carries the picture size so the SPS
// is never parsed.
var testAVCC = []byte{1, 0x64, 0, 0x1f, 0xff, 0xe1, 0, 0}
