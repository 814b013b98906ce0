package segment

import (
	"bufio"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/index"
	"github.com/grafana/flashq/record"
)

// Recover opens an existing segment's three files and reconstructs
// its in-memory state: it attempts a bounded read of each sparse
// index, falling back to a full rebuild from the log when the index
// is missing, corrupt, or empty over a non-empty log. It then
// determines max_offset by scanning forward from the offset index's
// last anchor to EOF.
func Recover(baseOffset uint64, paths Paths, syncMode SyncMode, cfg IndexingConfig, logger log.Logger) (*Segment, error) {
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

	logEmpty, err := isEmptyFile(paths.Log)
	if err != nil {
		return nil, err
	}

	if err := s.loadOffsetIndexOrRebuild(logEmpty); err != nil {
		return nil, err
	}
	if err := s.loadTimeIndexOrRebuild(logEmpty); err != nil {
		return nil, err
	}
	if last, ok := s.timeIndex.LastEntry(); ok {
		v := int64(last.TimestampMs)
		s.maxTsMs = &v
	}

	maxOffset, err := determineMaxOffset(paths.Log, s.offsetIndex)
	if err != nil {
		return nil, err
	}
	s.maxOffset = maxOffset

	return s, nil
}

func isEmptyFile(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, flashqerr.FromIOError(err, "stat for recovery")
	}
	return fi.Size() == 0, nil
}

func (s *Segment) loadOffsetIndexOrRebuild(logEmpty bool) error {
	f, err := os.Open(s.paths.Index)
	readErr := error(nil)
	if err == nil {
		defer f.Close()
		readErr = s.offsetIndex.ReadFromFile(bufio.NewReader(f), s.baseOffset, index.DefaultMaxOffsetIndexEntries)
	} else if !os.IsNotExist(err) {
		readErr = flashqerr.FromIOError(err, "open offset index for recovery")
	}

	if readErr != nil || (s.offsetIndex.EntryCount() == 0 && !logEmpty) {
		if readErr != nil {
			level.Warn(s.logger).Log("msg", "offset index unreadable, rebuilding from log", "err", readErr)
		}
		return s.rebuildOffsetIndexFromLog()
	}
	return nil
}

func (s *Segment) loadTimeIndexOrRebuild(logEmpty bool) error {
	f, err := os.Open(s.paths.TimeIndex)
	readErr := error(nil)
	if err == nil {
		defer f.Close()
		readErr = s.timeIndex.ReadFromFile(bufio.NewReader(f), index.DefaultMaxTimeIndexEntries)
	} else if !os.IsNotExist(err) {
		readErr = flashqerr.FromIOError(err, "open time index for recovery")
	}

	if readErr != nil || (s.timeIndex.EntryCount() == 0 && !logEmpty) {
		if readErr != nil {
			level.Warn(s.logger).Log("msg", "time index unreadable, rebuilding from log", "err", readErr)
		}
		return s.rebuildTimeIndexFromLog()
	}
	return nil
}

// rebuildOffsetIndexFromLog scans the log from position 0, emitting an
// offset index entry every time the byte/record thresholds trigger.
// Unlike the time index, no dedup is needed: every offset is unique.
func (s *Segment) rebuildOffsetIndexFromLog() error {
	s.offsetIndex.Reset()
	s.indexBuffer = s.indexBuffer[:0]
	if err := truncateFile(s.indexFile); err != nil {
		return err
	}

	f, err := os.Open(s.paths.Log)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return flashqerr.FromIOError(err, "open log for offset index rebuild")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var pos int64
	var bytesSince, recordsSince uint64
	for {
		start := pos
		h, err := record.ReadHeader(r, start)
		if err != nil {
			break
		}
		if err := record.SkipPayload(r, h); err != nil {
			break
		}
		frameLen := record.FrameSize(h)
		pos += frameLen
		bytesSince += uint64(frameLen)
		recordsSince++

		if bytesSince >= s.cfg.IndexIntervalBytes || recordsSince >= s.cfg.IndexIntervalRecords {
			e := index.OffsetEntry{Offset: h.Offset, Position: uint32(start)}
			s.offsetIndex.AddEntry(e)
			s.indexBuffer = append(s.indexBuffer, index.SerializeEntry(e, s.baseOffset)...)
			bytesSince, recordsSince = 0, 0
		}
	}
	return s.flushIndexBuffer()
}

// rebuildTimeIndexFromLog mirrors rebuildOffsetIndexFromLog but
// suppresses an entry when it would duplicate the last emitted
// timestamp, since bulk batches share one timestamp across many records.
func (s *Segment) rebuildTimeIndexFromLog() error {
	s.timeIndex.Reset()
	s.timeIndexBuffer = s.timeIndexBuffer[:0]
	if err := truncateFile(s.timeIndexFile); err != nil {
		return err
	}

	f, err := os.Open(s.paths.Log)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return flashqerr.FromIOError(err, "open log for time index rebuild")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var pos int64
	var bytesSince, recordsSince uint64
	var lastTsMs *int64
	for {
		start := pos
		h, err := record.ReadHeader(r, start)
		if err != nil {
			break
		}
		if err := record.SkipPayload(r, h); err != nil {
			break
		}
		frameLen := record.FrameSize(h)
		pos += frameLen
		bytesSince += uint64(frameLen)
		recordsSince++

		if bytesSince >= s.cfg.IndexIntervalBytes || recordsSince >= s.cfg.IndexIntervalRecords {
			if lastTsMs == nil || *lastTsMs != h.TimestampMs {
				e := index.TimeEntry{TimestampMs: uint64(h.TimestampMs), Position: uint32(start)}
				s.timeIndex.AddEntry(e)
				s.timeIndexBuffer = append(s.timeIndexBuffer, index.SerializeEntry12(e)...)
				v := h.TimestampMs
				lastTsMs = &v
			}
			bytesSince, recordsSince = 0, 0
		}
	}
	return s.flushTimeIndexBuffer()
}

func truncateFile(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return flashqerr.FromIOError(err, "truncate index for rebuild")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return flashqerr.FromIOError(err, "seek truncated index")
	}
	return nil
}

// determineMaxOffset seeks to the offset index's last anchor (or 0)
// and scans forward decoding records, returning the last successfully
// decoded offset. Returns nil if the log is missing or empty.
func determineMaxOffset(logPath string, idx *index.Offset) (*uint64, error) {
	fi, err := os.Stat(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, flashqerr.FromIOError(err, "stat log for max offset scan")
	}
	if fi.Size() == 0 {
		return nil, nil
	}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, flashqerr.FromIOError(err, "open log for max offset scan")
	}
	defer f.Close()

	startPos := int64(0)
	if last, ok := idx.LastEntry(); ok {
		startPos = int64(last.Position)
	}
	if _, err := f.Seek(startPos, io.SeekStart); err != nil {
		return nil, flashqerr.FromIOError(err, "seek log for max offset scan")
	}

	r := bufio.NewReader(f)
	var lastValid *uint64
	pos := startPos
	for {
		h, err := record.ReadHeader(r, pos)
		if err != nil {
			break
		}
		if err := record.SkipPayload(r, h); err != nil {
			break
		}
		v := h.Offset
		lastValid = &v
		pos += record.FrameSize(h)
	}
	return lastValid, nil
}
