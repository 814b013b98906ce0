package file

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

// ReadRecordsFromTimestamp parses tsRFC3339, prunes segments that
// cannot contain a matching record, computes a conservative start
// position per segment via the offset-index floor anchor, then streams
// forward skipping payloads whose header timestamp is still too old.
func (m *Manager) ReadRecordsFromTimestamp(tsRFC3339 string, maxRecords int) ([]record.WithOffset, error) {
	targetMs, err := parseTargetTsMs(tsRFC3339)
	if err != nil {
		return nil, err
	}

	var out []record.WithOffset
	for _, s := range m.allSegmentsAscending() {
		if maxTs, ok := s.MaxTimestampMs(); ok && maxTs < targetMs {
			continue
		}
		startPos := m.computeTimeSeekStartPos(s, targetMs)
		remaining := 0
		if maxRecords > 0 {
			remaining = maxRecords - len(out)
			if remaining <= 0 {
				break
			}
		}
		got, err := m.streamFromTimestamp(s, startPos, targetMs, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
		if maxRecords > 0 && len(out) >= maxRecords {
			out = out[:maxRecords]
			break
		}
	}
	return out, nil
}

// computeTimeSeekStartPos implements the conservative back-off formula
// mandated by the time-seek correctness design note: the position
// derived purely from the (sparse) time index may land past the first
// matching record, so we back up by time_seek_back_bytes and then snap
// to the nearest offset-index record boundary at or before that guess.
func (m *Manager) computeTimeSeekStartPos(s *segment.Segment, targetMs int64) int64 {
	posTime := int64(s.FindPositionForTimestamp(uint64(targetMs)))

	back := int64(m.indexingCfg.TimeSeekBackBytes)
	if back == 0 {
		back = int64(m.indexingCfg.IndexIntervalBytes)
	}

	startGuess := posTime - back
	if startGuess < 0 {
		startGuess = 0
	}
	posAnchor := int64(s.FindFloorPositionForFilePosition(uint32(startGuess)))

	if startGuess < posAnchor {
		return startGuess
	}
	return posAnchor
}

func (m *Manager) streamFromTimestamp(s *segment.Segment, startPos int64, targetMs int64, remaining int) ([]record.WithOffset, error) {
	r, f, err := s.OpenLogReader(startPos)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []record.WithOffset
	for remaining == 0 || len(out) < remaining {
		h, err := record.ReadHeader(r, startPos)
		if err != nil {
			if isExpectedEndOfFile(err) {
				break
			}
			level.Warn(m.logger).Log("msg", "decode error during time-based scan, stopping", "err", err)
			break
		}
		if h.TimestampMs < targetMs {
			if err := record.SkipPayload(r, h); err != nil {
				break
			}
			continue
		}
		rec, err := record.DeserializePayload(r, h)
		if err != nil {
			level.Warn(m.logger).Log("msg", "payload decode error during time-based scan, stopping", "err", err)
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseTargetTsMs(tsRFC3339 string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, tsRFC3339)
	if err != nil {
		t, err = time.Parse(time.RFC3339, tsRFC3339)
		if err != nil {
			return 0, &flashqerr.DataCorruptionError{Context: "time-based read", Details: fmt.Sprintf("invalid timestamp %q: %v", tsRFC3339, err)}
		}
	}
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return ms, nil
}

// isExpectedEndOfFile reports whether err is the clean-end-of-stream
// sentinel a forward decode hits once it runs past the last cleanly
// written record, matching the original's
// is_expected_end_of_file_error suppression: these are not logged as
// warnings, unlike any other decode error.
func isExpectedEndOfFile(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
