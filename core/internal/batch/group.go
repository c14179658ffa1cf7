package batch

import (
	"fmt"
	"io"
)

// rangeGroup is a contiguous byte range of the source holding one or more
// entries. A group is fetched with a single read.
type rangeGroup struct {
	start   int64
	end     int64
	entries []*Entry
}

func (g rangeGroup) size() int64 {
	return g.end - g.start
}

// groupAdjacentEntries groups entries whose stored bytes touch or overlap.
// Several names may share one block, so overlap is common.
//
// Entries must be sorted by Offset and the slice must be non-empty. A group
// grows past limit bytes only when a single entry is larger than limit; a
// limit of 0 means no limit.
func groupAdjacentEntries(entries []*Entry, limit int64) []rangeGroup {
	groups := make([]rangeGroup, 0, len(entries))
	current := rangeGroup{
		start:   entries[0].Offset,
		end:     entries[0].end(),
		entries: []*Entry{entries[0]},
	}

	for _, entry := range entries[1:] {
		end := max(current.end, entry.end())
		if entry.Offset <= current.end && (limit <= 0 || end-current.start <= limit) {
			current.end = end
			current.entries = append(current.entries, entry)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{
			start:   entry.Offset,
			end:     entry.end(),
			entries: []*Entry{entry},
		}
	}
	return append(groups, current)
}

// window exposes one group's bytes at their absolute source offsets.
type window struct {
	data  []byte
	start int64
}

// ReadAt implements io.ReaderAt.
func (w *window) ReadAt(p []byte, off int64) (int, error) {
	rel := off - w.start
	if rel < 0 {
		return 0, fmt.Errorf("batch: read at %d before group start %d", off, w.start)
	}
	if rel >= int64(len(w.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, w.data[rel:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
