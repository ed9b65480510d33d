package mp4

import (
	"fmt"
	"slices"
	"sort"

	"m7s.live/mp4demux/pkg/box"
	"m7s.live/mp4demux/pkg/util"
)

type Sample struct {
	Index  uint32
	Offset uint64
	Size   uint32
	DTS    uint64
	CTS    uint64
	Sync   bool
}

// sampleTableBoxes collects the decoded children of one stbl.
type sampleTableBoxes struct {
	stsd *box.SampleDescriptionBox
	stsz *box.SampleSizeBox
	stco box.ChunkOffsetBox
	stsc box.SampleToChunkBox
	stts box.TimeToSampleBox
	ctts box.CompositionOffsetBox
	stss box.SyncSampleBox

	hasStco, hasStsc, hasStts, hasStss bool
}

// SampleTable is the flattened index of one track. Samples are ordered by index and
// decode time.
type SampleTable struct {
	Samples []Sample
	// EndDTS is the decode time right after the last sample.
	EndDTS uint64
	// sync sample indexes, nil when every sample is a sync sample
	syncIndex []uint32
}

func corrupt(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptSampleTable, fmt.Sprintf(format, a...))
}

type chunkSpan struct {
	start, end uint64
}

// buildSampleTable flattens the sample table of one track. size is the length of the
// source, the samples of a uniform stsz must fit in it.
func buildSampleTable(b *sampleTableBoxes, size uint64) (*SampleTable, error) {
	if b.stsz == nil {
		return nil, corrupt("no stsz")
	}
	count := b.stsz.SampleCount
	table := &SampleTable{}
	if count == 0 {
		return table, nil
	}
	switch {
	case !b.hasStco:
		return nil, corrupt("no stco or co64")
	case !b.hasStsc || len(b.stsc) == 0:
		return nil, corrupt("no stsc")
	case !b.hasStts:
		return nil, corrupt("no stts")
	case b.stsc[0].FirstChunk != 1:
		return nil, corrupt("stsc starts at chunk %d", b.stsc[0].FirstChunk)
	}
	if total := chunkSamples(b); total != uint64(count) {
		return nil, corrupt("stsc expands to %d samples, stsz declares %d", total, count)
	}
	// a uniform stsz has no size list bounding its count
	if sampleSize := uint64(b.stsz.SampleSize); sampleSize != 0 && uint64(count)*sampleSize > size {
		return nil, corrupt("%d samples of %d bytes exceed the %d byte source", count, sampleSize, size)
	}
	table.Samples = make([]Sample, count)
	if err := table.layout(b); err != nil {
		return nil, err
	}
	if err := table.timing(b); err != nil {
		return nil, err
	}
	table.sync(b)
	return table, nil
}

// chunkSamples is the number of samples stsc spreads over the chunk offsets.
func chunkSamples(b *sampleTableBoxes) uint64 {
	var total uint64
	run := 0
	for i := range b.stco {
		chunk := uint32(i + 1)
		for run+1 < len(b.stsc) && b.stsc[run+1].FirstChunk <= chunk {
			run++
		}
		total += uint64(b.stsc[run].SamplesPerChunk)
	}
	return total
}

// layout expands stsc over the chunk offsets and places every sample in its chunk.
func (table *SampleTable) layout(b *sampleTableBoxes) error {
	samples := table.Samples
	spans := make([]chunkSpan, 0, len(b.stco))
	var expanded uint64
	run := 0
	idx := 0
	for i, offset := range b.stco {
		chunk := uint32(i + 1)
		for run+1 < len(b.stsc) && b.stsc[run+1].FirstChunk <= chunk {
			run++
		}
		perChunk := b.stsc[run].SamplesPerChunk
		expanded += uint64(perChunk)
		if expanded > uint64(len(samples)) {
			return corrupt("stsc expands to more than %d samples", len(samples))
		}
		start := offset
		for range perChunk {
			size := b.stsz.SizeOf(idx)
			samples[idx] = Sample{Index: uint32(idx), Offset: offset, Size: size}
			var overflow bool
			if offset, overflow = util.AddOverflow(offset, uint64(size)); overflow {
				return corrupt("sample %d offset overflows", idx)
			}
			idx++
		}
		if offset > start {
			spans = append(spans, chunkSpan{start, offset})
		}
	}
	if expanded != uint64(len(samples)) {
		return corrupt("stsc expands to %d samples, stsz declares %d", expanded, len(samples))
	}
	slices.SortFunc(spans, func(a, b chunkSpan) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return corrupt("chunk at %d overlaps chunk at %d", spans[i].start, spans[i-1].start)
		}
	}
	return nil
}

// timing expands stts into decode times and applies ctts composition offsets.
func (table *SampleTable) timing(b *sampleTableBoxes) error {
	samples := table.Samples
	var dts, delta uint64
	idx := 0
	for _, entry := range b.stts {
		for range entry.SampleCount {
			if idx == len(samples) {
				break
			}
			samples[idx].DTS = dts
			delta = uint64(entry.SampleDelta)
			var overflow bool
			if dts, overflow = util.AddOverflow(dts, delta); overflow {
				return corrupt("decode time of sample %d overflows", idx)
			}
			idx++
		}
	}
	if idx < len(samples) {
		return corrupt("stts covers %d samples, stsz declares %d", idx, len(samples))
	}
	table.EndDTS = dts

	idx = 0
	for _, entry := range b.ctts {
		for range entry.SampleCount {
			if idx == len(samples) {
				break
			}
			s := &samples[idx]
			if entry.SampleOffset >= 0 {
				s.CTS = s.DTS + uint64(entry.SampleOffset)
			} else if back := uint64(-int64(entry.SampleOffset)); back < s.DTS {
				s.CTS = s.DTS - back
			}
			idx++
		}
	}
	// samples past the end of ctts have no offset
	for ; idx < len(samples); idx++ {
		samples[idx].CTS = samples[idx].DTS
	}
	return nil
}

func (table *SampleTable) sync(b *sampleTableBoxes) {
	samples := table.Samples
	if !b.hasStss {
		for i := range samples {
			samples[i].Sync = true
		}
		return
	}
	table.syncIndex = make([]uint32, 0, len(b.stss))
	for _, number := range b.stss {
		if number == 0 || uint64(number) > uint64(len(samples)) || samples[number-1].Sync {
			continue
		}
		samples[number-1].Sync = true
		table.syncIndex = append(table.syncIndex, number-1)
	}
	slices.Sort(table.syncIndex)
}

func (table *SampleTable) Len() int {
	return len(table.Samples)
}

// SearchTime returns the index of the last sample whose decode time is at or before
// dts, or -1 when dts precedes the first sample.
func (table *SampleTable) SearchTime(dts uint64) int {
	return sort.Search(len(table.Samples), func(i int) bool {
		return table.Samples[i].DTS > dts
	}) - 1
}

// SyncBefore returns the index of the nearest sync sample at or before i, or -1.
func (table *SampleTable) SyncBefore(i int) int {
	if i < 0 || len(table.Samples) == 0 {
		return -1
	}
	i = min(i, len(table.Samples)-1)
	if table.syncIndex == nil {
		return util.Conditional(table.Samples[i].Sync, i, -1)
	}
	n := sort.Search(len(table.syncIndex), func(k int) bool {
		return int(table.syncIndex[k]) > i
	})
	if n == 0 {
		return -1
	}
	return int(table.syncIndex[n-1])
}

// NextDTS returns the decode time following sample i.
func (table *SampleTable) NextDTS(i int) uint64 {
	if i+1 < len(table.Samples) {
		return table.Samples[i+1].DTS
	}
	return table.EndDTS
}
