package mp4

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"m7s.live/mp4demux/pkg"
	"m7s.live/mp4demux/pkg/box"
	"m7s.live/mp4demux/pkg/util"
)

type (
	Info struct {
		MajorBrand       [4]byte
		MinorVersion     uint32
		CompatibleBrands [][4]byte
		// movie timescale, Duration is in its units
		Timescale  uint32
		Duration   uint64
		CreateTime time.Time
		ModifyTime time.Time
	}

	// trakBuilder gathers the boxes of one trak until the walk is over.
	trakBuilder struct {
		info    TrackInfo
		handler box.HandlerType
		tkhd    bool
		mdhd    bool
		elst    *box.EditListBox
		boxes   sampleTableBoxes
		refs    map[[4]byte][]uint32
		err     error
		track   *Track
	}

	// Demuxer is an opened file. Its index is immutable once NewDemuxer returns, so
	// queries and ReadSample may run concurrently. The per track cursor used by
	// NextSample is not synchronized.
	Demuxer struct {
		*slog.Logger
		opts     Options
		info     Info
		reader   io.ReadSeeker
		readerAt io.ReaderAt
		closer   io.Closer
		mu       sync.Mutex
		closed   atomic.Bool
		tracks   []*Track
		metadata MetadataSet
		cover    *CoverImage
		chapters []Chapter
	}

	parser struct {
		*Demuxer
		size  int64
		moov  bool
		mvhd  bool
		trak  *trakBuilder
		traks []*trakBuilder
		meta  *metadataCollector
		chpl  box.ChapterListBox
	}
)

// top level boxes a file may start with
var leadingBoxes = map[[4]byte]bool{
	box.TypeFTYP: true,
	box.TypeMOOV: true,
	box.TypeMDAT: true,
	box.TypeFREE: true,
	box.TypeSKIP: true,
	box.TypeWIDE: true,
	box.TypePDIN: true,
	box.TypeUUID: true,
}

// Open opens the file at path. The file is closed by Close.
func Open(path string, opts ...Option) (*Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	d, err := NewDemuxer(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.closer = f
	return d, nil
}

// NewDemuxer indexes the movie read from r. Sample payloads are read lazily, so r
// must stay valid until Close.
func NewDemuxer(r io.ReadSeeker, opts ...Option) (*Demuxer, error) {
	d := &Demuxer{opts: DefaultOptions(), reader: r}
	for _, opt := range opts {
		opt(d)
	}
	d.opts.normalize()
	if d.Logger == nil {
		handler := pkg.NewMultiLogHandler(slog.Default().Handler())
		handler.SetLevel(d.opts.Level())
		d.Logger = slog.New(handler)
	}
	d.readerAt, _ = r.(io.ReaderAt)
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Demuxer) open() error {
	reader := box.NewReader(d.reader)
	size, err := reader.Size()
	if err != nil {
		return err
	}
	head, err := reader.Peek(0, box.BasicBoxLen)
	if err != nil {
		if errors.Is(err, ErrIO) {
			return err
		}
		return fmt.Errorf("%w: %d bytes", ErrNotAContainer, size)
	}
	if t := [4]byte(head[4:8]); !leadingBoxes[t] {
		return fmt.Errorf("%w: leading box %q", ErrNotAContainer, box.TypeName(t))
	}
	p := &parser{Demuxer: d, size: size, meta: newMetadataCollector()}
	walker := box.NewWalker(reader, d.Logger)
	walker.MaxDepth = d.opts.MaxDepth
	walker.MaxPayload = d.opts.MaxBoxPayload
	walker.OnEnter = p.enter
	walker.OnExit = p.exit
	walker.OnError = p.fault
	p.register(walker)
	if err = walker.Walk(0, size); err != nil {
		return err
	}
	switch {
	case !p.moov:
		return fmt.Errorf("%w: no moov", ErrNotAContainer)
	case !p.mvhd:
		return fmt.Errorf("%w: mvhd", ErrMissingMandatoryBox)
	}
	p.buildTracks()
	chapterTrack := p.link()
	d.metadata, d.cover = p.meta.result()
	if !d.opts.ReadCover {
		d.cover = nil
	}
	if d.opts.ReadChapters {
		d.chapters = p.resolveChapters(chapterTrack)
	}
	d.Logger.Info("opened", "brand", box.TypeName(d.info.MajorBrand), "tracks", len(d.tracks),
		"duration", time.Duration(util.Rescale(d.info.Duration, d.info.Timescale, 1_000_000))*time.Microsecond,
		"boxes", walker.Visited(), "tags", len(d.metadata), "chapters", len(d.chapters), "cover", d.cover != nil)
	return nil
}

// in wraps a handler that only applies to boxes of the current trak directly under parent.
func (p *parser) in(parent [4]byte, fn func(t *trakBuilder, b *box.BasicBox, payload []byte) error) box.HandlerFunc {
	return func(path box.Path, b *box.BasicBox, payload []byte) error {
		if p.trak == nil || path.Parent() != parent || path.Has(box.TypeUDTA) || path.Has(box.TypeMETA) {
			return nil
		}
		return fn(p.trak, b, payload)
	}
}

// movieLevel wraps a handler for moov/udta and moov/meta content.
func movieLevel(fn box.HandlerFunc) box.HandlerFunc {
	return func(path box.Path, b *box.BasicBox, payload []byte) error {
		if len(path) < 2 || path[0].Type != box.TypeMOOV || path.Has(box.TypeTRAK) {
			return nil
		}
		return fn(path, b, payload)
	}
}

func (p *parser) register(w *box.Walker) {
	w.Handle(box.TypeFTYP, func(path box.Path, b *box.BasicBox, payload []byte) error {
		if len(path) != 0 {
			return nil
		}
		var ftyp box.FileTypeBox
		if _, err := ftyp.Decode(payload); err != nil {
			return err
		}
		p.info.MajorBrand = ftyp.MajorBrand
		p.info.MinorVersion = ftyp.MinorVersion
		p.info.CompatibleBrands = ftyp.CompatibleBrands
		return nil
	})
	w.Handle(box.TypeMVHD, func(path box.Path, b *box.BasicBox, payload []byte) error {
		if path.Parent() != box.TypeMOOV {
			return nil
		}
		var mvhd box.MovieHeaderBox
		if _, err := mvhd.Decode(payload); err != nil {
			return err
		}
		p.mvhd = true
		p.info.Timescale = mvhd.Timescale
		p.info.Duration = mvhd.Duration
		p.info.CreateTime = box.MacTime(mvhd.Creation_time)
		p.info.ModifyTime = box.MacTime(mvhd.Modification_time)
		return nil
	})
	w.Handle(box.TypeTKHD, p.in(box.TypeTRAK, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		var tkhd box.TrackHeaderBox
		if _, err := tkhd.Decode(payload); err != nil {
			return err
		}
		t.tkhd = true
		t.info.ID = tkhd.Track_ID
		t.info.Width, t.info.Height = tkhd.Width, tkhd.Height
		return nil
	}))
	w.Handle(box.TypeMDHD, p.in(box.TypeMDIA, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		var mdhd box.MediaHeaderBox
		if _, err := mdhd.Decode(payload); err != nil {
			return err
		}
		t.mdhd = true
		t.info.Timescale = mdhd.Timescale
		t.info.Duration = mdhd.Duration
		t.info.Language = mdhd.LanguageCode()
		return nil
	}))
	w.Handle(box.TypeHDLR, p.in(box.TypeMDIA, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		var hdlr box.HandlerBox
		if _, err := hdlr.Decode(payload); err != nil {
			return err
		}
		t.handler = hdlr.Handler_type
		t.info.Name = hdlr.Name
		return nil
	}))
	w.Handle(box.TypeELST, p.in(box.TypeEDTS, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.elst = new(box.EditListBox)
		_, err := t.elst.Decode(payload)
		return err
	}))
	reference := p.in(box.TypeTREF, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		ref := box.TrackReferenceTypeBox{Type: b.Type}
		if _, err := ref.Decode(payload); err != nil {
			return err
		}
		t.refs[ref.Type] = append(t.refs[ref.Type], ref.TrackIDs...)
		return nil
	})
	w.Handle(box.TypeCHAP, reference)
	w.Handle(box.TypeCDSC, reference)
	p.registerSampleTable(w)

	w.Handle(box.TypeKEYS, movieLevel(func(path box.Path, b *box.BasicBox, payload []byte) error {
		if path.Parent() != box.TypeMETA {
			return nil
		}
		var keys box.KeysBox
		if _, err := keys.Decode(payload); err != nil {
			return err
		}
		p.meta.addKeys(path, keys)
		return nil
	}))
	w.Handle(box.TypeDATA, movieLevel(func(path box.Path, b *box.BasicBox, payload []byte) error {
		return p.meta.addData(path, payload)
	}))
	userData := movieLevel(func(path box.Path, b *box.BasicBox, payload []byte) error {
		return p.meta.addUserData(path, b, payload)
	})
	for t := range itunesTags {
		w.Handle(t, userData)
	}
	w.Handle(box.TypeCHPL, movieLevel(func(path box.Path, b *box.BasicBox, payload []byte) error {
		if path.Parent() != box.TypeUDTA {
			return nil
		}
		var chpl box.ChapterListBox
		if _, err := chpl.Decode(payload); err != nil {
			return err
		}
		if p.chpl == nil {
			p.chpl = chpl
		}
		return nil
	}))
}

func (p *parser) registerSampleTable(w *box.Walker) {
	w.Handle(box.TypeSTSD, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		stsd := &box.SampleDescriptionBox{Handler: t.handler}
		if _, err := stsd.Decode(payload); err != nil {
			return err
		}
		t.boxes.stsd = stsd
		return nil
	}))
	w.Handle(box.TypeSTTS, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.hasStts = true
		_, err := t.boxes.stts.Decode(payload)
		return err
	}))
	w.Handle(box.TypeCTTS, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		_, err := t.boxes.ctts.Decode(payload)
		return err
	}))
	w.Handle(box.TypeSTSC, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.hasStsc = true
		_, err := t.boxes.stsc.Decode(payload)
		return err
	}))
	w.Handle(box.TypeSTSZ, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.stsz = new(box.SampleSizeBox)
		_, err := t.boxes.stsz.Decode(payload)
		return err
	}))
	w.Handle(box.TypeSTZ2, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.stsz = new(box.SampleSizeBox)
		_, err := t.boxes.stsz.DecodeCompact(payload)
		return err
	}))
	w.Handle(box.TypeSTCO, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.hasStco = true
		_, err := t.boxes.stco.Decode(payload)
		return err
	}))
	w.Handle(box.TypeCO64, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		var co64 box.ChunkLargeOffsetBox
		if _, err := co64.Decode(payload); err != nil {
			return err
		}
		t.boxes.hasStco = true
		t.boxes.stco = box.ChunkOffsetBox(co64)
		return nil
	}))
	w.Handle(box.TypeSTSS, p.in(box.TypeSTBL, func(t *trakBuilder, b *box.BasicBox, payload []byte) error {
		t.boxes.hasStss = true
		_, err := t.boxes.stss.Decode(payload)
		return err
	}))
}

func (p *parser) enter(path box.Path, b *box.BasicBox) error {
	switch b.Type {
	case box.TypeMOOV:
		if len(path) != 0 {
			return nil
		}
		if p.moov {
			return fmt.Errorf("second moov at %d", b.Offset)
		}
		p.moov = true
	case box.TypeTRAK:
		if path.Parent() == box.TypeMOOV {
			p.trak = &trakBuilder{refs: make(map[[4]byte][]uint32)}
		}
	}
	return nil
}

func (p *parser) exit(path box.Path, b *box.BasicBox) error {
	if b.Type == box.TypeTRAK && p.trak != nil && path.Parent() == box.TypeMOOV {
		p.traks = append(p.traks, p.trak)
		p.trak = nil
	}
	return nil
}

// fault keeps the file open where it can: metadata boxes are skipped, a broken
// trak only loses that track, data after moov is ignored. Once mvhd is read a bad
// header directly in moov ends moov, keeping the tracks read so far.
func (p *parser) fault(path box.Path, b *box.BasicBox, err error) error {
	name := "header"
	if b != nil {
		name = box.TypeName(b.Type)
	}
	switch {
	case errors.Is(err, ErrIO):
		return err
	case box.Tolerant(path):
		p.Warn("skip box", "path", path.String(), "box", name, "err", err)
		return nil
	case p.trak != nil && path.Has(box.TypeTRAK):
		if p.trak.err == nil {
			p.trak.err = fmt.Errorf("%s/%s: %w", path, name, err)
		}
		return nil
	case len(path) == 1 && path[0].Type == box.TypeMOOV &&
		(b == nil && p.mvhd || b != nil && b.Type != box.TypeMVHD):
		p.Warn("skip box", "path", path.String(), "box", name, "err", err)
		return nil
	case len(path) == 0 && p.moov:
		p.Debug("ignore top level box", "box", name, "err", err)
		return nil
	}
	return err
}

func (p *parser) buildTracks() {
	for _, t := range p.traks {
		track, err := p.buildTrack(t)
		if err != nil {
			p.Warn("drop track", "id", t.info.ID, "err", err)
			continue
		}
		if _, found := p.trackByID(track.ID()); found {
			p.Warn("drop track", "id", track.ID(), "err", "duplicate track id")
			continue
		}
		t.track = track
		p.tracks = append(p.tracks, track)
	}
}

func (p *parser) buildTrack(t *trakBuilder) (*Track, error) {
	switch {
	case t.err != nil:
		return nil, t.err
	case !t.tkhd:
		return nil, fmt.Errorf("%w: tkhd", ErrMissingMandatoryBox)
	case !t.mdhd:
		return nil, fmt.Errorf("%w: mdhd", ErrMissingMandatoryBox)
	}
	table, err := buildSampleTable(&t.boxes, uint64(p.size))
	if err != nil {
		return nil, err
	}
	info := t.info
	info.Kind = kindOf(t.handler)
	if stsd := t.boxes.stsd; stsd != nil && len(stsd.Entries) > 0 {
		entry := &stsd.Entries[0]
		if info.Kind == KindUnknown {
			info.Kind = kindOfEntry(entry.Kind)
		}
		if err = info.applySampleEntry(entry); err != nil {
			p.Warn("sample entry", "track", info.ID, "err", err)
		}
	}
	info.PresentationOffset = presentationOffset(t.elst, p.info.Timescale, info.Timescale)
	if info.Duration == 0 {
		info.Duration = table.EndDTS
	}
	return newTrack(info, table), nil
}

func kindOfEntry(kind box.SampleEntryKind) TrackKind {
	switch kind {
	case box.SAMPLE_VIDEO:
		return KindVideo
	case box.SAMPLE_AUDIO:
		return KindAudio
	case box.SAMPLE_METADATA:
		return KindMetadata
	case box.SAMPLE_TEXT:
		return KindText
	}
	return KindUnknown
}

// presentationOffset sums the leading empty edits, in movie timescale, and subtracts
// the media time of the first real edit.
func presentationOffset(elst *box.EditListBox, movieTimescale, timescale uint32) int64 {
	if elst == nil {
		return 0
	}
	var delay uint64
	for _, entry := range elst.Entrys {
		if entry.MediaTime == -1 {
			delay += entry.SegmentDuration
			continue
		}
		return int64(util.Rescale(delay, movieTimescale, timescale)) - entry.MediaTime
	}
	return 0
}

// link applies chap and cdsc references and returns the chapter track, if any.
func (p *parser) link() (chapters *Track) {
	for _, t := range p.traks {
		if t.track == nil {
			continue
		}
		for _, id := range t.refs[box.TypeCHAP] {
			target, ok := p.trackByID(id)
			if !ok {
				p.Debug("dangling chapter reference", "track", t.track.ID(), "ref", id)
				continue
			}
			target.info.Kind = KindChapters
			if chapters == nil {
				chapters = target
			}
		}
		for _, id := range t.refs[box.TypeCDSC] {
			target, ok := p.trackByID(id)
			if !ok || target == t.track {
				continue
			}
			target.metadata = t.track
			target.info.HasMetadata = true
			target.info.MetadataContentEncoding = t.track.info.MetadataContentEncoding
			target.info.MetadataMimeFormat = t.track.info.MetadataMimeFormat
		}
	}
	return
}

func (p *parser) resolveChapters(track *Track) []Chapter {
	list := chaptersFromList(p.chpl, p.info.Timescale)
	var text []Chapter
	if track != nil {
		var err error
		if text, err = p.readChapterTrack(track); err != nil {
			p.Warn("chapter track", "track", track.ID(), "err", err)
		}
	}
	first, second := list, text
	if p.opts.ChapterPrecedence == ChapterTrackFirst {
		first, second = text, list
	}
	if len(first) > 0 {
		return first
	}
	return second
}

func (d *Demuxer) readChapterTrack(track *Track) ([]Chapter, error) {
	chapters := make([]Chapter, 0, track.Len())
	var buf []byte
	for _, s := range track.table.Samples {
		if s.Size == 0 {
			continue
		}
		if d.opts.MaxBoxPayload > 0 && uint64(s.Size) > d.opts.MaxBoxPayload {
			return nil, fmt.Errorf("%w: chapter sample %d is %d bytes", box.ErrPayloadTooLarge, s.Index, s.Size)
		}
		var err error
		if buf, err = d.readSample(s, buf); err != nil {
			return nil, err
		}
		if name, ok := decodeChapterText(buf); ok {
			chapters = append(chapters, Chapter{Time: util.Rescale(s.DTS, track.info.Timescale, d.info.Timescale), Name: name})
		}
	}
	return sortChapters(chapters), nil
}

func (d *Demuxer) readSample(s Sample, buf []byte) ([]byte, error) {
	if cap(buf) < int(s.Size) {
		buf = make([]byte, s.Size)
	}
	buf = buf[:s.Size]
	if d.readerAt != nil {
		n, err := d.readerAt.ReadAt(buf, int64(s.Offset))
		if n == len(buf) {
			return buf, nil
		}
		return nil, fmt.Errorf("%w: sample %d at %d: %w", ErrIO, s.Index, s.Offset, util.Conditional(err == nil, io.ErrUnexpectedEOF, err))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.reader.Seek(int64(s.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if _, err := io.ReadFull(d.reader, buf); err != nil {
		return nil, fmt.Errorf("%w: sample %d at %d: %w", ErrIO, s.Index, s.Offset, err)
	}
	return buf, nil
}

func (d *Demuxer) trackByID(id uint32) (*Track, bool) {
	return lo.Find(d.tracks, func(t *Track) bool {
		return t.ID() == id
	})
}

func (d *Demuxer) TrackCount() (int, error) {
	if d.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	return len(d.tracks), nil
}

// TrackInfo describes the i-th kept track, in file order.
func (d *Demuxer) TrackInfo(i int) (TrackInfo, error) {
	if d.closed.Load() {
		return TrackInfo{}, ErrAlreadyClosed
	}
	if i < 0 || i >= len(d.tracks) {
		return TrackInfo{}, fmt.Errorf("%w: index %d of %d", ErrTrackNotFound, i, len(d.tracks))
	}
	return d.tracks[i].Info(), nil
}

func (d *Demuxer) Tracks() ([]TrackInfo, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	return lo.Map(d.tracks, func(t *Track, _ int) TrackInfo {
		return t.Info()
	}), nil
}

// Track returns the track with the given id, for callers that want their own cursors.
// The track is read only.
func (d *Demuxer) Track(id uint32) (*Track, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	track, ok := d.trackByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTrackNotFound, id)
	}
	return track, nil
}

// NextSample advances the built-in cursor of the track. Once the track is exhausted
// it returns a sample with Size 0.
func (d *Demuxer) NextSample(trackID uint32) (NextSample, error) {
	track, err := d.Track(trackID)
	if err != nil {
		return NextSample{}, err
	}
	return track.cursor.Next(), nil
}

// ReadSample reads the payload of s into buf, growing it when it is too small.
func (d *Demuxer) ReadSample(s Sample, buf []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	return d.readSample(s, buf)
}

func (d *Demuxer) MetadataValues() (MetadataSet, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	return d.metadata.clone(), nil
}

// Cover copies the cover image into buf when it fits. The size is always returned,
// so a first call with a nil buf tells how much to allocate.
func (d *Demuxer) Cover(buf []byte) (int, CoverFormat, error) {
	if d.closed.Load() {
		return 0, 0, ErrAlreadyClosed
	}
	if d.cover == nil {
		return 0, 0, ErrNoCover
	}
	n, format := d.cover.fill(buf)
	return n, format, nil
}

func (d *Demuxer) Chapters() ([]Chapter, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	return append([]Chapter(nil), d.chapters...), nil
}

func (d *Demuxer) Info() (Info, error) {
	if d.closed.Load() {
		return Info{}, ErrAlreadyClosed
	}
	return d.info, nil
}

// Close releases the file opened by Open. Sources given to NewDemuxer stay open.
func (d *Demuxer) Close() error {
	if d.closed.Swap(true) {
		return ErrAlreadyClosed
	}
	if d.closer != nil {
		if err := d.closer.Close(); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	return nil
}
