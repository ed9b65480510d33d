package mp4

import (
	"encoding/binary"
	"slices"
	"strings"

	"m7s.live/mp4demux/pkg/box"
	"m7s.live/mp4demux/pkg/util"
)

// Chapter marks a named position. Time is in movie timescale units.
type Chapter struct {
	Time uint64
	Name string
}

func sortChapters(chapters []Chapter) []Chapter {
	slices.SortStableFunc(chapters, func(a, b Chapter) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
	return chapters
}

func chaptersFromList(list box.ChapterListBox, movieTimescale uint32) []Chapter {
	chapters := make([]Chapter, 0, len(list))
	for _, entry := range list {
		chapters = append(chapters, Chapter{
			Time: util.Rescale(entry.Start, box.ChapterTimescale, movieTimescale),
			Name: entry.Title,
		})
	}
	return sortChapters(chapters)
}

// decodeChapterText reads a QuickTime text sample: a 16-bit length, then UTF-8 or
// BOM-prefixed UTF-16 text. Style atoms after the text are ignored.
func decodeChapterText(sample []byte) (string, bool) {
	if len(sample) < 2 {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(sample))
	if n > len(sample)-2 {
		return "", false
	}
	text := sample[2 : 2+n]
	if len(text) >= 2 && text[0] == 0xFE && text[1] == 0xFF {
		return decodeUTF16(text)
	}
	return strings.TrimRight(string(text), "\x00"), true
}
