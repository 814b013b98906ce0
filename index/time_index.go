package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grafana/flashq/flashqerr"
)

// TimeEntry is one (timestamp_ms, file position) pair.
type TimeEntry struct {
	TimestampMs uint64
	Position    uint32
}

// Time is a sparse, sorted timestamp→position index. On duplicate
// timestamps it retains the entry with the earliest position.
type Time struct {
	entries []TimeEntry
}

// NewTime returns an empty time index.
func NewTime() *Time { return &Time{} }

// AddEntry inserts maintaining sorted order by timestamp_ms. On a
// duplicate timestamp, the entry with the smaller position wins: bulk
// batches share one timestamp across many positions, and the earliest
// anchors the widest safe seek-back.
func (idx *Time) AddEntry(e TimeEntry) {
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].TimestampMs >= e.TimestampMs })
	if i < len(idx.entries) && idx.entries[i].TimestampMs == e.TimestampMs {
		if e.Position < idx.entries[i].Position {
			idx.entries[i].Position = e.Position
		}
		return
	}
	idx.entries = append(idx.entries, TimeEntry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
}

// FindPositionForTimestamp returns 0 if the index is empty or ts is
// before the first entry; otherwise the position of the exact entry,
// or the closest entry with a strictly smaller timestamp.
func (idx *Time) FindPositionForTimestamp(ts uint64) uint32 {
	if len(idx.entries) == 0 {
		return 0
	}
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].TimestampMs >= ts })
	if i < len(idx.entries) && idx.entries[i].TimestampMs == ts {
		return idx.entries[i].Position
	}
	if i == 0 {
		return 0
	}
	return idx.entries[i-1].Position
}

// LastEntry returns the last (highest-timestamp) entry, if any.
func (idx *Time) LastEntry() (TimeEntry, bool) {
	if len(idx.entries) == 0 {
		return TimeEntry{}, false
	}
	return idx.entries[len(idx.entries)-1], true
}

// EntryCount returns the number of entries currently held in memory.
func (idx *Time) EntryCount() int { return len(idx.entries) }

// Reset clears all in-memory entries, used before a reload or rebuild.
func (idx *Time) Reset() { idx.entries = idx.entries[:0] }

// SerializeEntry12 writes (timestamp_ms, position), 8+4 bytes big-endian.
func SerializeEntry12(e TimeEntry) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], e.TimestampMs)
	binary.BigEndian.PutUint32(buf[8:12], e.Position)
	return buf
}

// DefaultMaxTimeIndexEntries bounds how many entries ReadFromFile will
// accept before treating the file as corrupt.
const DefaultMaxTimeIndexEntries = 1_000_000

// ReadFromFile clears current state and reloads it from r. Exceeding
// maxEntries (0 disables the bound) is reported as DataCorruption.
func (idx *Time) ReadFromFile(r io.Reader, maxEntries int) error {
	idx.Reset()
	br := bufio.NewReader(r)
	var buf [12]byte
	count := 0
	for {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return &flashqerr.ReadFailedError{Context: "time index read", Err: err}
		}
		count++
		if maxEntries > 0 && count > maxEntries {
			return &flashqerr.DataCorruptionError{
				Context: "time index",
				Details: fmt.Sprintf("exceeds max_entries=%d", maxEntries),
			}
		}
		ts := binary.BigEndian.Uint64(buf[0:8])
		pos := binary.BigEndian.Uint32(buf[8:12])
		idx.entries = append(idx.entries, TimeEntry{TimestampMs: ts, Position: pos})
	}
}
