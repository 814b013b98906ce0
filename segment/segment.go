// Package segment implements a log segment: one base-offset segment
// owning a .log/.index/.timeindex file triplet, with append, bulk
// append, sync, recovery, and index-rebuild behavior. The
// append-then-maybe-index-entry shape follows a head-block append path
// (appendObject + sorted record insert), generalized to two sparse
// indexes kept alongside the log.
package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/index"
	"github.com/grafana/flashq/record"
)

// Paths groups the three file paths a segment owns.
type Paths struct {
	Log       string
	Index     string
	TimeIndex string
}

// Segment owns one (base_offset) triplet of log/index/timeindex files.
type Segment struct {
	baseOffset uint64
	maxOffset  *uint64
	paths      Paths

	logFile       *os.File
	indexFile     *os.File
	timeIndexFile *os.File

	offsetIndex *index.Offset
	timeIndex   *index.Time

	indexBuffer     []byte
	timeIndexBuffer []byte

	pendingIndexEntries     uint64
	pendingTimeIndexEntries uint64

	bytesSinceLastIndex   uint64
	recordsSinceLastIndex uint64

	minTsMs *int64
	maxTsMs *int64

	syncMode SyncMode
	cfg      IndexingConfig
	logger   log.Logger
}

// New creates a brand new segment starting at baseOffset, creating all
// three files.
func New(baseOffset uint64, paths Paths, syncMode SyncMode, cfg IndexingConfig, logger log.Logger) (*Segment, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Segment{
		baseOffset:  baseOffset,
		paths:       paths,
		offsetIndex: index.NewOffset(),
		timeIndex:   index.NewTime(),
		syncMode:    syncMode,
		cfg:         cfg,
		logger:      logger,
	}
	var err error
	if s.logFile, err = openAppendable(paths.Log); err != nil {
		return nil, flashqerr.FromIOError(err, "open segment log")
	}
	if s.indexFile, err = openAppendable(paths.Index); err != nil {
		return nil, flashqerr.FromIOError(err, "open segment index")
	}
	if s.timeIndexFile, err = openAppendable(paths.TimeIndex); err != nil {
		return nil, flashqerr.FromIOError(err, "open segment time index")
	}
	return s, nil
}

func openAppendable(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
}

// BaseOffset returns the segment's base offset.
func (s *Segment) BaseOffset() uint64 { return s.baseOffset }

// ContainsOffset reports whether offset falls within this segment's
// assigned range.
func (s *Segment) ContainsOffset(offset uint64) bool {
	if s.maxOffset == nil {
		return false
	}
	return offset >= s.baseOffset && offset <= *s.maxOffset
}

// RecordCount returns the number of records held, 0 if empty.
func (s *Segment) RecordCount() uint64 {
	if s.maxOffset == nil {
		return 0
	}
	return *s.maxOffset - s.baseOffset + 1
}

// MaxOffset returns the highest assigned offset, if any.
func (s *Segment) MaxOffset() (uint64, bool) {
	if s.maxOffset == nil {
		return 0, false
	}
	return *s.maxOffset, true
}

// SizeBytes returns the current size of the .log file.
func (s *Segment) SizeBytes() (int64, error) {
	fi, err := s.logFile.Stat()
	if err != nil {
		return 0, flashqerr.FromIOError(err, "stat segment log")
	}
	return fi.Size(), nil
}

// FindPositionForOffset delegates to the offset index.
func (s *Segment) FindPositionForOffset(offset uint64) uint32 {
	return s.offsetIndex.FindPositionForOffset(offset)
}

// FindPositionForTimestamp delegates to the time index.
func (s *Segment) FindPositionForTimestamp(tsMs uint64) uint32 {
	return s.timeIndex.FindPositionForTimestamp(tsMs)
}

// FindFloorPositionForFilePosition delegates to the offset index.
func (s *Segment) FindFloorPositionForFilePosition(pos uint32) uint32 {
	return s.offsetIndex.FindFloorPositionForFilePosition(pos)
}

// MaxTimestampMs returns the highest timestamp observed in this
// segment, if any records have been appended or recovered.
func (s *Segment) MaxTimestampMs() (int64, bool) {
	if s.maxTsMs == nil {
		return 0, false
	}
	return *s.maxTsMs, true
}

// AppendRecord serializes and appends one record at the given offset,
// updating metadata and maybe emitting sparse index entries.
func (s *Segment) AppendRecord(r record.Record, offset uint64) error {
	startPos, err := s.SizeBytes()
	if err != nil {
		return err
	}
	ts := record.Now()
	frame, err := record.Serialize(r, offset, ts)
	if err != nil {
		return err
	}
	if _, err := s.logFile.Write(frame); err != nil {
		return flashqerr.FromIOError(err, "append record")
	}
	s.updateMetadataAfterAppend(offset, ts, uint32(startPos), uint64(len(frame)))
	return s.syncFilesIfNeeded()
}

// AppendRecordsBulk serializes every record into one buffer sharing a
// single batch timestamp, writes it in one syscall, then updates
// per-record metadata and index entries at their individual absolute
// positions. Returns the last assigned offset. Rejects empty input.
func (s *Segment) AppendRecordsBulk(records []record.Record, startOffset uint64) (uint64, error) {
	if len(records) == 0 {
		return 0, &flashqerr.WriteFailedError{Context: "bulk append", Err: fmt.Errorf("empty batch")}
	}
	startPos, err := s.SizeBytes()
	if err != nil {
		return 0, err
	}
	ts := record.Now()

	var buf []byte
	relPositions := make([]int, len(records))
	for i, r := range records {
		relPositions[i] = len(buf)
		buf, _, err = record.SerializeInto(buf, r, startOffset+uint64(i), ts)
		if err != nil {
			return 0, err
		}
	}
	if _, err := s.logFile.Write(buf); err != nil {
		return 0, flashqerr.FromIOError(err, "bulk append")
	}

	for i := range records {
		offset := startOffset + uint64(i)
		pos := uint32(startPos) + uint32(relPositions[i])
		var frameLen uint64
		if i+1 < len(records) {
			frameLen = uint64(relPositions[i+1] - relPositions[i])
		} else {
			frameLen = uint64(len(buf) - relPositions[i])
		}
		s.updateMetadataAfterAppend(offset, ts, pos, frameLen)
	}

	if err := s.syncFilesIfNeeded(); err != nil {
		return 0, err
	}
	return startOffset + uint64(len(records)) - 1, nil
}

func (s *Segment) updateMetadataAfterAppend(offset uint64, ts string, pos uint32, frameLen uint64) {
	mo := offset
	s.maxOffset = &mo
	tsMs := record.ParseTimestampMs(ts)
	if s.minTsMs == nil {
		v := tsMs
		s.minTsMs = &v
	}
	s.maxTsMs = &tsMs

	s.bytesSinceLastIndex += frameLen
	s.recordsSinceLastIndex++

	if s.shouldAddIndexEntry() {
		s.addIndexEntries(offset, uint64(tsMs), pos)
		s.bytesSinceLastIndex = 0
		s.recordsSinceLastIndex = 0
	}
}

func (s *Segment) shouldAddIndexEntry() bool {
	return s.bytesSinceLastIndex >= s.cfg.IndexIntervalBytes ||
		s.recordsSinceLastIndex >= s.cfg.IndexIntervalRecords
}

func (s *Segment) addIndexEntries(offset, tsMs uint64, pos uint32) {
	s.offsetIndex.AddEntry(index.OffsetEntry{Offset: offset, Position: pos})
	s.indexBuffer = append(s.indexBuffer, index.SerializeEntry(index.OffsetEntry{Offset: offset, Position: pos}, s.baseOffset)...)
	s.pendingIndexEntries++
	if s.walCommitDue(s.pendingIndexEntries) {
		if err := s.flushIndexBuffer(); err != nil {
			level.Warn(s.logger).Log("msg", "flush offset index buffer failed", "err", err)
		}
		s.pendingIndexEntries = 0
	}

	if last, ok := s.timeIndex.LastEntry(); !ok || last.TimestampMs != tsMs {
		s.timeIndex.AddEntry(index.TimeEntry{TimestampMs: tsMs, Position: pos})
		s.timeIndexBuffer = append(s.timeIndexBuffer, index.SerializeEntry12(index.TimeEntry{TimestampMs: tsMs, Position: pos})...)
		s.pendingTimeIndexEntries++
		if s.walCommitDue(s.pendingTimeIndexEntries) {
			if err := s.flushTimeIndexBuffer(); err != nil {
				level.Warn(s.logger).Log("msg", "flush time index buffer failed", "err", err)
			}
			s.pendingTimeIndexEntries = 0
		}
	}
}

// walCommitDue reports whether pending buffered index entries have
// reached the configured group-commit threshold and should be written
// out. A threshold of 0 or 1 commits every entry individually.
func (s *Segment) walCommitDue(pending uint64) bool {
	return s.cfg.WALCommitThreshold <= 1 || pending >= s.cfg.WALCommitThreshold
}

func (s *Segment) flushIndexBuffer() error {
	if len(s.indexBuffer) == 0 {
		return nil
	}
	if _, err := s.indexFile.Write(s.indexBuffer); err != nil {
		return flashqerr.FromIOError(err, "flush offset index buffer")
	}
	s.indexBuffer = s.indexBuffer[:0]
	return nil
}

func (s *Segment) flushTimeIndexBuffer() error {
	if len(s.timeIndexBuffer) == 0 {
		return nil
	}
	if _, err := s.timeIndexFile.Write(s.timeIndexBuffer); err != nil {
		return flashqerr.FromIOError(err, "flush time index buffer")
	}
	s.timeIndexBuffer = s.timeIndexBuffer[:0]
	return nil
}

func (s *Segment) syncFilesIfNeeded() error {
	if s.syncMode != SyncImmediate {
		return nil
	}
	return s.Sync()
}

// Sync flushes both index buffers and fsyncs all three files
// unconditionally, regardless of configured sync mode or how many
// group-commit entries are still pending.
func (s *Segment) Sync() error {
	if err := s.flushIndexBuffer(); err != nil {
		return err
	}
	s.pendingIndexEntries = 0
	if err := s.flushTimeIndexBuffer(); err != nil {
		return err
	}
	s.pendingTimeIndexEntries = 0
	if err := s.logFile.Sync(); err != nil {
		return flashqerr.FromIOError(err, "fsync log")
	}
	if err := s.indexFile.Sync(); err != nil {
		return flashqerr.FromIOError(err, "fsync index")
	}
	if err := s.timeIndexFile.Sync(); err != nil {
		return flashqerr.FromIOError(err, "fsync time index")
	}
	return nil
}

// Close flushes and closes all three files.
func (s *Segment) Close() error {
	_ = s.flushIndexBuffer()
	_ = s.flushTimeIndexBuffer()
	var firstErr error
	for _, f := range []*os.File{s.logFile, s.indexFile, s.timeIndexFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenLogReader opens a fresh, independent read handle on the .log
// file seeked to pos, per the concurrency model: readers never share
// the writer's file handle.
func (s *Segment) OpenLogReader(pos int64) (*bufio.Reader, *os.File, error) {
	f, err := os.Open(s.paths.Log)
	if err != nil {
		return nil, nil, flashqerr.FromIOError(err, "open segment log for read")
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, flashqerr.FromIOError(err, "seek segment log")
	}
	return bufio.NewReader(f), f, nil
}

