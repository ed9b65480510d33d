package mp4

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"m7s.live/mp4demux/pkg/box"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func aacConfig(t *testing.T) []byte {
	asc, err := mpeg4audio.Config{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 48000, ChannelCount: 2}.Marshal()
	require.NoError(t, err)
	return asc
}

func avMovie(t *testing.T) *testMovie {
	return &testMovie{
		timescale: 1000,
		duration:  2000,
		tracks: []*testTrack{{
			id:        1,
			handler:   "vide",
			timescale: 90000,
			entry:     avc1(640, 360, testAVCC),
			samples:   [][]byte{{1, 1, 1}, {2, 2}, {3}, {4, 4, 4, 4}},
			delta:     3000,
			perChunk:  2,
			stss:      []uint32{1, 3},
		}, {
			id:        2,
			handler:   "soun",
			timescale: 48000,
			entry:     mp4a(1, 44100, aacConfig(t)),
			samples:   [][]byte{{5}, {6, 6}, {7, 7, 7}},
			delta:     1024,
			perChunk:  3,
		}},
	}
}

func open(t *testing.T, m *testMovie, opts ...Option) *Demuxer {
	d, err := NewDemuxer(bytes.NewReader(m.bytes()), append([]Option{quiet}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen(t *testing.T) {
	d := open(t, avMovie(t))
	info, err := d.Info()
	require.NoError(t, err)
	assert.Equal(t, "isom", box.TypeName(info.MajorBrand))
	assert.Len(t, info.CompatibleBrands, 3)
	assert.Equal(t, uint32(1000), info.Timescale)
	assert.Equal(t, uint64(2000), info.Duration)
	assert.Equal(t, time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC), info.CreateTime)

	n, err := d.TrackCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	video, err := d.TrackInfo(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), video.ID)
	assert.Equal(t, KindVideo, video.Kind)
	assert.Equal(t, CodecH264, video.Codec)
	assert.Equal(t, uint32(640), video.Width)
	assert.Equal(t, uint32(360), video.Height)
	assert.Equal(t, testAVCC, video.ExtraData)
	assert.Equal(t, uint32(4), video.SampleCount)
	assert.Equal(t, uint64(12000), video.Duration)
	assert.Equal(t, "eng", video.Language)
	assert.Equal(t, "test handler", video.Name)

	audio, err := d.TrackInfo(1)
	require.NoError(t, err)
	assert.Equal(t, KindAudio, audio.Kind)
	assert.Equal(t, CodecAAC, audio.Codec)
	// the AudioSpecificConfig wins over the sample entry
	assert.Equal(t, uint32(48000), audio.SampleRate)
	assert.Equal(t, uint16(2), audio.ChannelCount)
	assert.Equal(t, uint16(16), audio.SampleSize)
	assert.Equal(t, aacConfig(t), audio.ExtraData)

	_, err = d.TrackInfo(2)
	assert.ErrorIs(t, err, ErrTrackNotFound)
	_, err = d.NextSample(9)
	assert.ErrorIs(t, err, ErrTrackNotFound)

	tracks, err := d.Tracks()
	require.NoError(t, err)
	assert.Equal(t, []TrackInfo{video, audio}, tracks)
}

func TestNextSample(t *testing.T) {
	m := avMovie(t)
	data := m.bytes()
	d, err := NewDemuxer(bytes.NewReader(data), quiet)
	require.NoError(t, err)
	defer d.Close()

	var (
		buf  []byte
		last uint64
		got  [][]byte
	)
	for i := 0; ; i++ {
		next, err := d.NextSample(1)
		require.NoError(t, err)
		if next.Size == 0 {
			break
		}
		assert.GreaterOrEqual(t, next.DTS, last)
		assert.Equal(t, next.DTS+3000, next.NextDTS)
		assert.Equal(t, i == 0 || i == 2, next.Sync)
		last = next.DTS
		buf, err = d.ReadSample(next.Sample, buf)
		require.NoError(t, err)
		got = append(got, bytes.Clone(buf))
	}
	assert.Equal(t, m.tracks[0].samples, got)

	// stays exhausted
	next, err := d.NextSample(1)
	require.NoError(t, err)
	assert.Zero(t, next.Size)

	next, err = d.NextSample(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), next.Size)
	assert.Equal(t, uint64(1024), next.NextDTS)
}

func TestCursor(t *testing.T) {
	d := open(t, avMovie(t))
	track, err := d.Track(1)
	require.NoError(t, err)

	c := track.NewCursor()
	assert.Equal(t, BeforeFirst, c.State())
	c.Seek(7000, false)
	assert.Equal(t, OnSample, c.State())
	assert.Equal(t, uint64(6000), c.Next().DTS)
	c.Seek(7000, true)
	assert.Equal(t, uint64(6000), c.Next().DTS)
	c.Seek(5000, true)
	assert.Equal(t, BeforeFirst, c.State())
	assert.Equal(t, uint64(0), c.Next().DTS)
	c.Seek(9000, false)
	s := c.Next()
	assert.Equal(t, uint64(9000), s.DTS)
	assert.Equal(t, uint64(12000), s.NextDTS)
	assert.Equal(t, Exhausted, c.State())
	c.Reset()
	assert.Equal(t, BeforeFirst, c.State())
}

func TestTrackReadOnly(t *testing.T) {
	d := open(t, avMovie(t))
	track, err := d.Track(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), track.ID())
	assert.Equal(t, 3, track.Len())
	s, ok := track.Sample(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), s.Size)
	_, ok = track.Sample(3)
	assert.False(t, ok)

	info := track.Info()
	require.NotEmpty(t, info.ExtraData)
	info.ExtraData[0] ^= 0xFF
	info.Kind = KindText
	again, err := d.TrackInfo(1)
	require.NoError(t, err)
	assert.Equal(t, aacConfig(t), again.ExtraData)
	assert.Equal(t, KindAudio, again.Kind)

	again.ExtraData[0] ^= 0xFF
	assert.Equal(t, aacConfig(t), track.Info().ExtraData)
}

func TestOpenIdempotent(t *testing.T) {
	m := avMovie(t)
	m.udta = [][]byte{intlText("\xa9nam", []byte("Title")), itunesMeta(mkbox("covr", dataBox(box.DataTypeJPEG, jpegCover)))}
	a, b := open(t, m), open(t, m)
	for _, d := range []*Demuxer{a, b} {
		_, err := d.NextSample(1)
		require.NoError(t, err)
	}
	ta, _ := a.Tracks()
	tb, _ := b.Tracks()
	assert.Equal(t, ta, tb)
	ma, _ := a.MetadataValues()
	mb, _ := b.MetadataValues()
	assert.Equal(t, ma, mb)
	na, fa, _ := a.Cover(nil)
	nb, fb, _ := b.Cover(nil)
	assert.Equal(t, na, nb)
	assert.Equal(t, fa, fb)
}

func TestCorruptTrackDropped(t *testing.T) {
	m := avMovie(t)
	m.tracks[0].badStsc = true
	d := open(t, m)
	n, err := d.TrackCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	info, err := d.TrackInfo(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.ID)
}

func TestUnsupportedCodecKept(t *testing.T) {
	m := avMovie(t)
	m.tracks[1].entry = audioEntry("samr", 1, 8000)
	d := open(t, m)
	n, err := d.TrackCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	info, err := d.TrackInfo(1)
	require.NoError(t, err)
	assert.Equal(t, KindAudio, info.Kind)
	assert.Equal(t, CodecUnknown, info.Codec)
	assert.Equal(t, "samr", box.TypeName(info.CodecTag))
	assert.Equal(t, uint16(1), info.ChannelCount)
	assert.Equal(t, uint32(8000), info.SampleRate)

	next, err := d.NextSample(2)
	require.NoError(t, err)
	buf, err := d.ReadSample(next.Sample, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, buf)
}

func TestOpenErrors(t *testing.T) {
	t.Run("not a container", func(t *testing.T) {
		_, err := NewDemuxer(bytes.NewReader([]byte("GIF89a............")), quiet)
		assert.ErrorIs(t, err, ErrNotAContainer)
		_, err = NewDemuxer(bytes.NewReader([]byte{0, 0}), quiet)
		assert.ErrorIs(t, err, ErrNotAContainer)
	})
	t.Run("no moov", func(t *testing.T) {
		_, err := NewDemuxer(bytes.NewReader(mkbox("ftyp", []byte("isom"), u32(0))), quiet)
		assert.ErrorIs(t, err, ErrNotAContainer)
	})
	t.Run("no mvhd", func(t *testing.T) {
		m := avMovie(t)
		m.noMvhd = true
		_, err := NewDemuxer(bytes.NewReader(m.bytes()), quiet)
		assert.ErrorIs(t, err, ErrMissingMandatoryBox)
	})
	t.Run("oversize box", func(t *testing.T) {
		data := slices.Concat(mkbox("ftyp", []byte("isom"), u32(0)), mkbox("moov", mvhd(1000, 0, 1)))
		binary.BigEndian.PutUint32(data[16:], 4096)
		_, err := NewDemuxer(bytes.NewReader(data), quiet)
		assert.ErrorIs(t, err, ErrSizeOverflow)
	})
	t.Run("trailing garbage", func(t *testing.T) {
		m := avMovie(t)
		m.after = [][]byte{{0, 0, 0x10, 0, 'f', 'r', 'e', 'e'}}
		d := open(t, m)
		n, _ := d.TrackCount()
		assert.Equal(t, 2, n)
	})
	t.Run("overflowing box in moov", func(t *testing.T) {
		for _, typ := range []string{"udta", "trak", "abcd"} {
			m := avMovie(t)
			m.moovTail = mkbox(typ, make([]byte, 13))
			binary.BigEndian.PutUint32(m.moovTail, 4096)
			d := open(t, m)
			tracks, err := d.Tracks()
			require.NoError(t, err, typ)
			assert.Len(t, tracks, 2, typ)
		}
	})
	t.Run("overflowing mvhd", func(t *testing.T) {
		m := avMovie(t)
		m.noMvhd = true
		m.moovTail = mkbox("mvhd", make([]byte, 13))
		binary.BigEndian.PutUint32(m.moovTail, 4096)
		_, err := NewDemuxer(bytes.NewReader(m.bytes()), quiet)
		assert.ErrorIs(t, err, ErrSizeOverflow)
	})
	t.Run("open missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
		assert.ErrorIs(t, err, ErrIO)
	})
}

func TestClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(path, avMovie(t).bytes(), 0o644))
	d, err := Open(path, quiet)
	require.NoError(t, err)
	next, err := d.NextSample(2)
	require.NoError(t, err)
	buf, err := d.ReadSample(next.Sample, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, buf)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Close(), ErrAlreadyClosed)
	_, err = d.TrackCount()
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.TrackInfo(0)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.NextSample(1)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.ReadSample(next.Sample, nil)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.MetadataValues()
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, _, err = d.Cover(nil)
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.Chapters()
	assert.ErrorIs(t, err, ErrAlreadyClosed)
	_, err = d.Info()
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestMetadataPrecedence(t *testing.T) {
	m := avMovie(t)
	m.udta = [][]byte{
		intlText("\xa9ART", []byte("Udta Artist")),
		intlText("\xa9day", []byte("2020")),
		intlText("\xa9cmt", []byte("Caf\x8e")),
		itunesMeta(
			mkbox("\xa9ART", dataBox(box.DataTypeUTF8, []byte("iTunes Artist"))),
			mkbox("\xa9nam", dataBox(box.DataTypeUTF8, []byte("iTunes Title"))),
		),
	}
	m.meta = mdtaMeta([]string{"com.apple.quicktime.artist", "com.apple.quicktime.make"},
		dataBox(box.DataTypeUTF8, []byte("Keys Artist")),
		dataBox(box.DataTypeUTF8, []byte("Apple")),
	)
	d := open(t, m)
	values, err := d.MetadataValues()
	require.NoError(t, err)
	assert.Equal(t, MetadataSet{
		KeyArtist:  "Keys Artist",
		KeyTitle:   "iTunes Title",
		KeyDate:    "2020",
		KeyComment: "Café",
		KeyMaker:   "Apple",
	}, values)

	// callers get a copy
	values[KeyTitle] = "changed"
	again, _ := d.MetadataValues()
	assert.Equal(t, "iTunes Title", again[KeyTitle])
}

func TestCopyrightNotice(t *testing.T) {
	lang := uint16('e'-0x60)<<10 | uint16('n'-0x60)<<5 | uint16('g'-0x60)
	t.Run("utf-8", func(t *testing.T) {
		m := avMovie(t)
		m.udta = [][]byte{mkfull("cprt", 0, u16(lang), []byte("© Acme\x00"))}
		values, err := open(t, m).MetadataValues()
		require.NoError(t, err)
		assert.Equal(t, "© Acme", values[KeyCopyright])
	})
	t.Run("utf-16", func(t *testing.T) {
		m := avMovie(t)
		m.udta = [][]byte{mkfull("cprt", 0, u16(lang), []byte{0xFE, 0xFF, 0, 'A', 0, 'b', 0, 0})}
		values, err := open(t, m).MetadataValues()
		require.NoError(t, err)
		assert.Equal(t, "Ab", values[KeyCopyright])
	})
}

func TestNoMetadata(t *testing.T) {
	d := open(t, avMovie(t))
	values, err := d.MetadataValues()
	require.NoError(t, err)
	assert.Empty(t, values)
	_, _, err = d.Cover(nil)
	assert.ErrorIs(t, err, ErrNoCover)
	chapters, err := d.Chapters()
	require.NoError(t, err)
	assert.Empty(t, chapters)
}

func TestBrokenMetadataTolerated(t *testing.T) {
	m := avMovie(t)
	m.udta = [][]byte{
		itunesMeta(mkbox("\xa9nam", mkbox("data", []byte{0, 0}))),
		intlText("\xa9ART", []byte("Artist")),
	}
	d := open(t, m)
	values, err := d.MetadataValues()
	require.NoError(t, err)
	assert.Equal(t, MetadataSet{KeyArtist: "Artist"}, values)
}

func TestCover(t *testing.T) {
	t.Run("two phase", func(t *testing.T) {
		m := avMovie(t)
		m.udta = [][]byte{itunesMeta(mkbox("covr", dataBox(box.DataTypeJPEG, jpegCover)))}
		d := open(t, m)
		n, format, err := d.Cover(nil)
		require.NoError(t, err)
		assert.Equal(t, len(jpegCover), n)
		assert.Equal(t, CoverJPEG, format)

		small := make([]byte, 2)
		n, _, err = d.Cover(small)
		require.NoError(t, err)
		assert.Equal(t, len(jpegCover), n)
		assert.Equal(t, []byte{0, 0}, small)

		buf := make([]byte, n)
		_, _, err = d.Cover(buf)
		require.NoError(t, err)
		assert.Equal(t, jpegCover, buf)
	})
	t.Run("artwork key first", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}
		m := avMovie(t)
		m.udta = [][]byte{itunesMeta(mkbox("covr", dataBox(box.DataTypeJPEG, jpegCover)))}
		m.meta = mdtaMeta([]string{"com.apple.quicktime.artwork"}, dataBox(box.DataTypeImplicit, png))
		d := open(t, m)
		n, format, err := d.Cover(nil)
		require.NoError(t, err)
		assert.Equal(t, len(png), n)
		assert.Equal(t, CoverPNG, format)
	})
	t.Run("disabled", func(t *testing.T) {
		m := avMovie(t)
		m.udta = [][]byte{itunesMeta(mkbox("covr", dataBox(box.DataTypeJPEG, jpegCover)))}
		opts := DefaultOptions()
		opts.ReadCover = false
		d := open(t, m, WithConfig(opts))
		_, _, err := d.Cover(nil)
		assert.ErrorIs(t, err, ErrNoCover)
	})
}

func chapterMovie(t *testing.T) *testMovie {
	m := avMovie(t)
	m.tracks[0].tref = tref("chap", 3)
	m.tracks = append(m.tracks, &testTrack{
		id:        3,
		handler:   "text",
		timescale: 600,
		entry:     textEntry(),
		samples:   [][]byte{textSample("Opening"), textSample("Credits")},
		delta:     600,
		perChunk:  2,
	})
	m.udta = [][]byte{chpl(testChapter{30_000_000, "Second"}, testChapter{0, "First"})}
	return m
}

func TestChapters(t *testing.T) {
	t.Run("list first", func(t *testing.T) {
		d := open(t, chapterMovie(t))
		chapters, err := d.Chapters()
		require.NoError(t, err)
		assert.Equal(t, []Chapter{{0, "First"}, {3000, "Second"}}, chapters)

		info, err := d.TrackInfo(2)
		require.NoError(t, err)
		assert.Equal(t, KindChapters, info.Kind)
	})
	t.Run("track first", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ChapterPrecedence = ChapterTrackFirst
		d := open(t, chapterMovie(t), WithConfig(opts))
		chapters, err := d.Chapters()
		require.NoError(t, err)
		assert.Equal(t, []Chapter{{0, "Opening"}, {1000, "Credits"}}, chapters)
	})
	t.Run("track only", func(t *testing.T) {
		m := chapterMovie(t)
		m.udta = nil
		d := open(t, m)
		chapters, err := d.Chapters()
		require.NoError(t, err)
		assert.Len(t, chapters, 2)
	})
	t.Run("disabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ReadChapters = false
		d := open(t, chapterMovie(t), WithConfig(opts))
		chapters, err := d.Chapters()
		require.NoError(t, err)
		assert.Empty(t, chapters)
	})
}

func TestTimedMetadata(t *testing.T) {
	m := avMovie(t)
	m.tracks = append(m.tracks, &testTrack{
		id:        3,
		handler:   "meta",
		timescale: 90000,
		entry:     mett("application/json"),
		samples:   [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)},
		delta:     3000,
		perChunk:  1,
		tref:      tref("cdsc", 1),
	})
	d := open(t, m)
	video, err := d.TrackInfo(0)
	require.NoError(t, err)
	assert.True(t, video.HasMetadata)
	assert.Equal(t, "application/json", video.MetadataMimeFormat)

	meta, err := d.TrackInfo(2)
	require.NoError(t, err)
	assert.Equal(t, KindMetadata, meta.Kind)

	var linked []uint64
	for {
		next, err := d.NextSample(1)
		require.NoError(t, err)
		if next.Size == 0 {
			break
		}
		if next.Metadata != nil {
			linked = append(linked, next.Metadata.DTS)
			buf, err := d.ReadSample(*next.Metadata, nil)
			require.NoError(t, err)
			assert.Equal(t, m.tracks[2].samples[next.Metadata.Index], buf)
		}
	}
	assert.Equal(t, []uint64{0, 3000}, linked)
}

func TestEditList(t *testing.T) {
	m := avMovie(t)
	// 500ms of empty edit, then the media from 3000
	m.tracks[0].elst = elst([2]int32{500, -1}, [2]int32{2000, 3000})
	d := open(t, m)
	video, err := d.TrackInfo(0)
	require.NoError(t, err)
	assert.Equal(t, int64(45000-3000), video.PresentationOffset)

	next, err := d.NextSample(1)
	require.NoError(t, err)
	assert.Zero(t, next.DTS)
}

func TestCompositionOffsets(t *testing.T) {
	m := avMovie(t)
	m.tracks[0].ctts = mkfull("ctts", 1, u32(2, 2, 6000, 2, 0xFFFFF448))
	d := open(t, m)
	var cts []uint64
	for {
		next, _ := d.NextSample(1)
		if next.Size == 0 {
			break
		}
		cts = append(cts, next.CTS)
	}
	assert.Equal(t, []uint64{6000, 9000, 3000, 6000}, cts)
}

func TestMP4ffInit(t *testing.T) {
	seg := mp4.CreateEmptyInit()
	seg.AddEmptyTrack(90000, "video", "und")
	var buf bytes.Buffer
	require.NoError(t, seg.Encode(&buf))

	d, err := NewDemuxer(bytes.NewReader(buf.Bytes()), quiet)
	require.NoError(t, err)
	defer d.Close()
	n, err := d.TrackCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	info, err := d.TrackInfo(0)
	require.NoError(t, err)
	assert.Equal(t, KindVideo, info.Kind)
	assert.Equal(t, uint32(90000), info.Timescale)
	assert.Zero(t, info.SampleCount)
	next, err := d.NextSample(info.ID)
	require.NoError(t, err)
	assert.Zero(t, next.Size)
}
