package mp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"m7s.live/mp4demux/pkg/box"
)

func TestChapterText(t *testing.T) {
	name, ok := decodeChapterText(textSample("Intro"))
	require.True(t, ok)
	assert.Equal(t, "Intro", name)

	utf16 := []byte{0xFE, 0xFF, 0, 'H', 0, 'i'}
	name, ok = decodeChapterText(append(u16(uint16(len(utf16))), utf16...))
	require.True(t, ok)
	assert.Equal(t, "Hi", name)

	_, ok = decodeChapterText([]byte{0, 9, 'a'})
	assert.False(t, ok)
	_, ok = decodeChapterText([]byte{0})
	assert.False(t, ok)
}

func TestChaptersFromList(t *testing.T) {
	list := box.ChapterListBox{{Start: 20_000_000, Title: "B"}, {Start: 0, Title: "A"}, {Start: 20_000_000, Title: "C"}}
	assert.Equal(t, []Chapter{{0, "A"}, {1200, "B"}, {1200, "C"}}, chaptersFromList(list, 600))
	assert.Empty(t, chaptersFromList(nil, 600))
}

func TestSniffCover(t *testing.T) {
	cases := []struct {
		data     []byte
		dataType uint32
		format   CoverFormat
		ok       bool
	}{
		{jpegCover, box.DataTypeImplicit, CoverJPEG, true},
		{[]byte{0x89, 'P', 'N', 'G'}, box.DataTypeJPEG, CoverPNG, true},
		{[]byte("BM\x00\x00"), box.DataTypeImplicit, CoverBMP, true},
		{[]byte{1, 2, 3}, box.DataTypePNG, CoverPNG, true},
		{[]byte{1, 2, 3}, box.DataTypeUTF8, 0, false},
	}
	for _, c := range cases {
		format, ok := sniffCover(c.data, c.dataType)
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, c.format, format)
	}
	assert.Nil(t, newCover(nil, box.DataTypeJPEG))

	data := []byte{0xFF, 0xD8, 9}
	cover := newCover(data, box.DataTypeImplicit)
	data[2] = 0
	assert.Equal(t, []byte{0xFF, 0xD8, 9}, cover.Data)
}

func TestIntlString(t *testing.T) {
	assert.Equal(t, "Café", decodeIntlString(box.IntlString{Language: 0, Value: []byte("Caf\x8e")}))
	// packed ISO language: the text is UTF-8
	assert.Equal(t, "Café", decodeIntlString(box.IntlString{Language: 0x15C7, Value: []byte("Café")}))
	assert.Equal(t, "Ω", decodeIntlString(box.IntlString{Language: 0x15C7, Value: []byte{0xFE, 0xFF, 0x03, 0xA9}}))
}

func TestMetadataKeys(t *testing.T) {
	keys := MetadataKeys()
	require.Len(t, keys, 10)
	assert.Equal(t, "artist", keys[0].String())
	assert.Equal(t, "encoder", keys[9].String())
	assert.Equal(t, "unknown", MetadataKey(42).String())
}

func TestCodecByObjectType(t *testing.T) {
	assert.Equal(t, CodecAAC, codecByObjectType(0x40))
	assert.Equal(t, CodecAAC, codecByObjectType(0x67))
	assert.Equal(t, CodecMP3, codecByObjectType(0x6B))
	assert.Equal(t, CodecH264, codecByObjectType(0x21))
	assert.Equal(t, CodecUnknown, codecByObjectType(0xAA))
}

func TestApplySampleEntry(t *testing.T) {
	var info TrackInfo
	err := info.applySampleEntry(&box.SampleEntry{Type: [4]byte{'s', 'a', 'm', 'r'}, Kind: box.SAMPLE_AUDIO, Audio: &box.AudioSampleEntry{ChannelCount: 1}})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
	assert.Equal(t, CodecUnknown, info.Codec)
	assert.Equal(t, uint16(1), info.ChannelCount)

	info = TrackInfo{}
	require.NoError(t, info.applySampleEntry(&box.SampleEntry{Type: box.TypeALAW, Kind: box.SAMPLE_AUDIO, Audio: &box.AudioSampleEntry{ChannelCount: 1, Samplerate: 8000}}))
	assert.Equal(t, CodecG711A, info.Codec)
	assert.Equal(t, uint32(8000), info.SampleRate)
}

func TestOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 16, opts.MaxDepth)
	assert.Equal(t, ChapterListFirst, opts.ChapterPrecedence)
	assert.True(t, opts.ReadCover)

	t.Setenv("MP4_MAXDEPTH", "4")
	opts = ParseOptions(map[string]any{"chapterprecedence": "track"})
	assert.Equal(t, 4, opts.MaxDepth)
	assert.Equal(t, ChapterTrackFirst, opts.ChapterPrecedence)

	opts.MaxDepth = 99
	opts.ChapterPrecedence = "bogus"
	opts.normalize()
	assert.Equal(t, box.MaxDepth, opts.MaxDepth)
	assert.Equal(t, ChapterListFirst, opts.ChapterPrecedence)
}
