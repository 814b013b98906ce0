// Package index implements the two sparse indexes a log segment
// maintains: the offset index and the time index. Both are sorted,
// binary-searched in-memory structures with a compact on-disk mirror,
// following the binary-search-over-a-sorted-slice idiom used by a
// record index.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grafana/flashq/flashqerr"
)

// OffsetEntry is one (offset, file position) pair.
type OffsetEntry struct {
	Offset   uint64
	Position uint32
}

// Offset is a sparse, sorted offset→position index, unique by offset.
type Offset struct {
	entries []OffsetEntry
}

// NewOffset returns an empty offset index.
func NewOffset() *Offset { return &Offset{} }

// AddEntry inserts maintaining sorted order by offset. A duplicate
// offset is a no-op: the first recorded position for an offset wins.
func (idx *Offset) AddEntry(e OffsetEntry) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].Offset >= e.Offset })
	if i < len(idx.entries) && idx.entries[i].Offset == e.Offset {
		return
	}
	idx.entries = append(idx.entries, OffsetEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
}

// FindPositionForOffset returns 0 if the index is empty or target is
// before the first entry; otherwise the position of the exact entry,
// or the closest entry with a strictly smaller offset.
func (idx *Offset) FindPositionForOffset(target uint64) uint32 {
	if len(idx.entries) == 0 {
		return 0
	}
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].Offset >= target })
	if i < len(idx.entries) && idx.entries[i].Offset == target {
		return idx.entries[i].Position
	}
	if i == 0 {
		return 0
	}
	return idx.entries[i-1].Position
}

// FindFloorPositionForFilePosition returns the position field of the
// largest entry whose position is <= pos, used to back up to a record
// boundary before a time-based seek. Returns 0 if no such entry exists.
func (idx *Offset) FindFloorPositionForFilePosition(pos uint32) uint32 {
	var best uint32
	found := false
	for _, e := range idx.entries {
		if e.Position <= pos && (!found || e.Position > best) {
			best = e.Position
			found = true
		}
	}
	return best
}

// LastEntry returns the last (highest-offset) entry, if any.
func (idx *Offset) LastEntry() (OffsetEntry, bool) {
	if len(idx.entries) == 0 {
		return OffsetEntry{}, false
	}
	return idx.entries[len(idx.entries)-1], true
}

// EntryCount returns the number of entries currently held in memory.
func (idx *Offset) EntryCount() int { return len(idx.entries) }

// Reset clears all in-memory entries, used before a reload or rebuild.
func (idx *Offset) Reset() { idx.entries = idx.entries[:0] }

// SerializeEntry writes (offset-base_offset, position), both
// big-endian u32, the fixed 8-byte on-disk representation.
func SerializeEntry(e OffsetEntry, baseOffset uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Offset-baseOffset))
	binary.BigEndian.PutUint32(buf[4:8], e.Position)
	return buf
}

// DefaultMaxOffsetIndexEntries bounds how many entries ReadFromFile
// will accept before treating the file as corrupt.
const DefaultMaxOffsetIndexEntries = 1_000_000

// ReadFromFile clears current state and reloads it from r. Exceeding
// maxEntries (0 disables the bound) is reported as DataCorruption,
// prompting the caller to rebuild from the log instead.
func (idx *Offset) ReadFromFile(r io.Reader, baseOffset uint64, maxEntries int) error {
	idx.Reset()
	br := bufio.NewReader(r)
	var buf [8]byte
	count := 0
	for {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return &flashqerr.ReadFailedError{Context: "offset index read", Err: err}
		}
		count++
		if maxEntries > 0 && count > maxEntries {
			return &flashqerr.DataCorruptionError{
				Context: "offset index",
				Details: fmt.Sprintf("exceeds max_entries=%d", maxEntries),
			}
		}
		rel := binary.BigEndian.Uint32(buf[0:4])
		pos := binary.BigEndian.Uint32(buf[4:8])
		idx.entries = append(idx.entries, OffsetEntry{Offset: baseOffset + uint64(rel), Position: pos})
	}
}
