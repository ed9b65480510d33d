package mp4

import (
	"slices"

	"m7s.live/mp4demux/pkg/box"
	"m7s.live/mp4demux/pkg/util"
)

type TrackKind int

const (
	KindUnknown TrackKind = iota
	KindVideo
	KindAudio
	KindHint
	KindMetadata
	KindText
	KindChapters
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindHint:
		return "hint"
	case KindMetadata:
		return "metadata"
	case KindText:
		return "text"
	case KindChapters:
		return "chapters"
	}
	return "unknown"
}

func kindOf(handler box.HandlerType) TrackKind {
	switch handler {
	case box.TypeVIDE:
		return KindVideo
	case box.TypeSOUN:
		return KindAudio
	case box.TypeHINT:
		return KindHint
	case box.TypeMETA:
		return KindMetadata
	case box.TypeTEXT, box.TypeSBTL, box.TypeSUBT:
		return KindText
	}
	return KindUnknown
}

type TrackInfo struct {
	ID        uint32
	Kind      TrackKind
	Timescale uint32
	// Duration is in Timescale units.
	Duration uint64
	Codec    Codec
	CodecTag [4]byte
	Width    uint32
	Height   uint32
	// audio
	ChannelCount uint16
	SampleSize   uint16
	SampleRate   uint32
	// avcC, hvcC or AudioSpecificConfig
	ExtraData   []byte
	Language    string
	Name        string
	SampleCount uint32
	// PresentationOffset is the edit list shift applied at presentation, in Timescale
	// units: empty edits delay the track, a positive media_time skips into it.
	PresentationOffset int64

	HasMetadata             bool
	MetadataContentEncoding string
	MetadataMimeFormat      string
}

func (info *TrackInfo) DurationUs() uint64 {
	return util.Rescale(info.Duration, info.Timescale, 1_000_000)
}

func (info TrackInfo) clone() TrackInfo {
	info.ExtraData = slices.Clone(info.ExtraData)
	return info
}

// Track is a kept track of an opened file. It does not change after open, callers
// walk it with their own cursors.
type Track struct {
	info  TrackInfo
	table *SampleTable
	// metadata track linked to this one through tref/cdsc
	metadata *Track
	cursor   Cursor
}

func newTrack(info TrackInfo, table *SampleTable) *Track {
	track := &Track{info: info, table: table}
	track.info.SampleCount = uint32(table.Len())
	track.cursor.track = track
	return track
}

func (track *Track) ID() uint32 {
	return track.info.ID
}

// Info describes the track. The returned ExtraData is a copy.
func (track *Track) Info() TrackInfo {
	return track.info.clone()
}

func (track *Track) Len() int {
	return track.table.Len()
}

// Sample returns sample i, counted from zero.
func (track *Track) Sample(i int) (Sample, bool) {
	if i < 0 || i >= track.table.Len() {
		return Sample{}, false
	}
	return track.table.Samples[i], true
}

func (track *Track) NewCursor() *Cursor {
	return &Cursor{track: track}
}

// Cursor walks the samples of a track in decode order. A cursor is not safe for
// concurrent use.
type Cursor struct {
	track *Track
	state CursorState
	pos   int
}

type CursorState uint8

const (
	BeforeFirst CursorState = iota
	OnSample
	Exhausted
)

type NextSample struct {
	Sample
	// NextDTS is the decode time of the following sample, or the track end time.
	NextDTS uint64
	// Metadata is the sample of the linked metadata track with the same decode time.
	Metadata *Sample
}

func (c *Cursor) State() CursorState {
	return c.state
}

// Next returns the sample under the cursor and advances. Past the last sample it
// returns a zero-size sample.
func (c *Cursor) Next() (next NextSample) {
	table := c.track.table
	samples := table.Samples
	if c.state == Exhausted || c.pos >= len(samples) {
		c.state = Exhausted
		return
	}
	next.Sample = samples[c.pos]
	next.NextDTS = table.NextDTS(c.pos)
	if meta := c.track.metadata; meta != nil {
		dts := util.Rescale(next.DTS, c.track.info.Timescale, meta.info.Timescale)
		if i := meta.table.SearchTime(dts); i >= 0 && meta.table.Samples[i].DTS == dts {
			s := meta.table.Samples[i]
			next.Metadata = &s
		}
	}
	c.pos++
	c.state = util.Conditional(c.pos == len(samples), Exhausted, OnSample)
	return
}

// Seek positions the cursor on the last sample at or before dts, in track timescale.
// With syncOnly it backs up to the nearest sync sample.
func (c *Cursor) Seek(dts uint64, syncOnly bool) {
	i := c.track.table.SearchTime(dts)
	if syncOnly && i >= 0 {
		i = c.track.table.SyncBefore(i)
	}
	c.pos = max(i, 0)
	c.state = util.Conditional(c.pos == 0, BeforeFirst, OnSample)
	if c.pos >= c.track.Len() {
		c.state = Exhausted
	}
}

func (c *Cursor) Reset() {
	c.pos, c.state = 0, BeforeFirst
}
