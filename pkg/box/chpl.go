package box

import (
	"encoding/binary"
	"fmt"
)

// Nero chapter list, found in moov/udta:
//
//	unsigned int(8) version;
//	bit(24) flags;
//	if (version==1) unsigned int(32) reserved;
//	unsigned int(8) chapter_count;
//	for (i=0; i < chapter_count; i++) {
//	    unsigned int(64) start_time; // 100ns units
//	    unsigned int(8) title_size;
//	    unsigned int(8)[title_size] title;
//	}

type ChapterEntry struct {
	Start uint64
	Title string
}

// ChapterTimescale is the clock of chpl start times.
const ChapterTimescale = 10_000_000

type ChapterListBox []ChapterEntry

func (chpl *ChapterListBox) Decode(buf []byte) (int, error) {
	var fullbox FullBox
	n, err := fullbox.Decode(buf)
	if err != nil {
		return 0, err
	}
	if fullbox.Version == 1 {
		n += 4
	}
	if len(buf) < n+1 {
		return 0, ErrShortPayload
	}
	count := int(buf[n])
	n++
	*chpl = make([]ChapterEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(buf)-n < 9 {
			return 0, fmt.Errorf("%w: chapter %d of %d", ErrShortPayload, i+1, count)
		}
		start := binary.BigEndian.Uint64(buf[n:])
		size := int(buf[n+8])
		n += 9
		if size > len(buf)-n {
			return 0, fmt.Errorf("%w: chapter %d title", ErrShortPayload, i+1)
		}
		*chpl = append(*chpl, ChapterEntry{Start: start, Title: string(buf[n : n+size])})
		n += size
	}
	return n, nil
}
