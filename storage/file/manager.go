// Package file implements the file-backed storage stack: the segment
// manager, partition log, topic log container, consumer offset store,
// and the storage backend factory with its exclusive directory lock.
// Layout and lifecycle follow a WAL-style convention: segments are
// discovered from their directory on open, and one mutable active
// segment is archived in place when a new one is rolled.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

const (
	baseOffsetWidth = 20
	logExt          = ".log"
	indexExt        = ".index"
	timeIndexExt    = ".timeindex"
)

// Metrics holds the promauto-registered instruments shared by the
// segment manager, partition log, and topic log container, all
// namespaced "flashq".
type Metrics struct {
	SegmentRolls   prometheus.Counter
	SegmentRecover prometheus.Counter
	AppendTotal    prometheus.Counter
}

// NewMetrics registers the segment-manager metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SegmentRolls:   f.NewCounter(prometheus.CounterOpts{Namespace: "flashq", Name: "segment_rolls_total", Help: "Number of times a partition rolled to a new active segment."}),
		SegmentRecover: f.NewCounter(prometheus.CounterOpts{Namespace: "flashq", Name: "segment_recoveries_total", Help: "Number of segments recovered from disk on startup."}),
		AppendTotal:    f.NewCounter(prometheus.CounterOpts{Namespace: "flashq", Name: "append_total", Help: "Number of records appended across all partitions."}),
	}
}

func segmentFilename(baseOffset uint64, ext string) string {
	return fmt.Sprintf("%0*d%s", baseOffsetWidth, baseOffset, ext)
}

func segmentPaths(dir string, baseOffset uint64) segment.Paths {
	return segment.Paths{
		Log:       filepath.Join(dir, segmentFilename(baseOffset, logExt)),
		Index:     filepath.Join(dir, segmentFilename(baseOffset, indexExt)),
		TimeIndex: filepath.Join(dir, segmentFilename(baseOffset, timeIndexExt)),
	}
}

// Manager owns an ordered set of archived segments plus one active
// segment for a single partition directory.
type Manager struct {
	mu sync.RWMutex

	dir              string
	segmentSizeBytes uint64
	syncMode         segment.SyncMode
	indexingCfg      segment.IndexingConfig
	logger           log.Logger
	metrics          *Metrics

	archived []*segment.Segment // sorted ascending by base offset
	active   *segment.Segment
}

// NewManager constructs a manager with no segments; callers append to
// create the first active segment, or call RecoverFromDirectory on an
// existing one.
func NewManager(dir string, segmentSizeBytes uint64, syncMode segment.SyncMode, cfg segment.IndexingConfig, logger log.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		dir:              dir,
		segmentSizeBytes: segmentSizeBytes,
		syncMode:         syncMode,
		indexingCfg:      cfg,
		logger:           logger,
		metrics:          metrics,
	}
}

// RecoverFromDirectory lists *.log files, parses their base offsets,
// recovers each corresponding segment, and makes the one with the
// largest base offset active.
func (m *Manager) RecoverFromDirectory() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	offsets, err := segmentOffsetsInDir(m.dir)
	if err != nil {
		return err
	}
	m.archived = nil
	m.active = nil
	if len(offsets) == 0 {
		return nil
	}

	segments := make([]*segment.Segment, 0, len(offsets))
	for _, base := range offsets {
		s, err := segment.Recover(base, segmentPaths(m.dir, base), m.syncMode, m.indexingCfg, m.logger)
		if err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.SegmentRecover.Inc()
		}
		segments = append(segments, s)
	}

	m.active = segments[len(segments)-1]
	m.archived = segments[:len(segments)-1]
	return nil
}

func segmentOffsetsInDir(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, flashqerr.FromIOError(err, "list segment directory")
	}
	var offsets []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, logExt) {
			continue
		}
		base, err := strconv.ParseUint(strings.TrimSuffix(name, logExt), 10, 64)
		if err != nil {
			continue
		}
		offsets = append(offsets, base)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// Active returns the current active segment, creating a fresh one at
// base offset nextOffsetIfNew if none exists yet.
func (m *Manager) Active(nextOffsetIfNew uint64) (*segment.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(nextOffsetIfNew)
}

func (m *Manager) activeLocked(nextOffsetIfNew uint64) (*segment.Segment, error) {
	if m.active != nil {
		return m.active, nil
	}
	s, err := segment.New(nextOffsetIfNew, segmentPaths(m.dir, nextOffsetIfNew), m.syncMode, m.indexingCfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.active = s
	return s, nil
}

// ShouldRollSegment reports whether the active segment's size has
// reached the configured threshold.
func (m *Manager) ShouldRollSegment() bool {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if active == nil {
		return false
	}
	size, err := active.SizeBytes()
	if err != nil {
		return false
	}
	return uint64(size) >= m.segmentSizeBytes
}

// EnsureActiveForAppend returns a segment ready to receive the next
// append at nextOffset, rolling to a new active segment first if the
// current one is missing or has outgrown its size threshold.
func (m *Manager) EnsureActiveForAppend(nextOffset uint64) (*segment.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.shouldRollLocked() {
		return m.active, nil
	}
	return m.rollLocked(nextOffset)
}

func (m *Manager) shouldRollLocked() bool {
	if m.active == nil {
		return false
	}
	size, err := m.active.SizeBytes()
	if err != nil {
		return false
	}
	return uint64(size) >= m.segmentSizeBytes
}

func (m *Manager) rollLocked(nextOffset uint64) (*segment.Segment, error) {
	if m.active != nil {
		m.archived = append(m.archived, m.active)
	}
	s, err := segment.New(nextOffset, segmentPaths(m.dir, nextOffset), m.syncMode, m.indexingCfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.active = s
	if m.metrics != nil {
		m.metrics.SegmentRolls.Inc()
	}
	level.Info(m.logger).Log("msg", "rolled to new active segment", "base_offset", nextOffset, "dir", m.dir)
	return s, nil
}

// FindSegmentForOffset checks the active segment first, then the
// largest archived base offset <= the target, verifying containment.
func (m *Manager) FindSegmentForOffset(offset uint64) (*segment.Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active != nil && m.active.ContainsOffset(offset) {
		return m.active, true
	}
	for i := len(m.archived) - 1; i >= 0; i-- {
		s := m.archived[i]
		if s.BaseOffset() <= offset {
			if s.ContainsOffset(offset) {
				return s, true
			}
			return nil, false
		}
	}
	return nil, false
}

// Close flushes and closes every archived and active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, s := range m.archived {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.active != nil {
		if err := m.active.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// allSegmentsAscending returns archived segments followed by the
// active one, all ordered ascending by base offset.
func (m *Manager) allSegmentsAscending() []*segment.Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*segment.Segment, 0, len(m.archived)+1)
	all = append(all, m.archived...)
	if m.active != nil {
		all = append(all, m.active)
	}
	return all
}

// ReadRecordsStreaming finds the first segment containing or
// following fromOffset, decodes forward across segment boundaries,
// tolerating gaps between them, stopping at maxRecords if set.
func (m *Manager) ReadRecordsStreaming(fromOffset uint64, maxRecords int) ([]record.WithOffset, error) {
	segments := m.allSegmentsAscending()
	startIdx := -1
	for i, s := range segments {
		if s.ContainsOffset(fromOffset) || s.BaseOffset() > fromOffset {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil, nil
	}

	var out []record.WithOffset
	needOffset := fromOffset
	for i := startIdx; i < len(segments); i++ {
		s := segments[i]
		filePos := int64(0)
		if s.ContainsOffset(needOffset) {
			filePos = int64(s.FindPositionForOffset(needOffset))
		}
		remaining := 0
		if maxRecords > 0 {
			remaining = maxRecords - len(out)
		}
		got, lastOffset, anyFound, err := m.streamSegment(s, filePos, needOffset, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
		if anyFound {
			needOffset = lastOffset + 1
		}
		if maxRecords > 0 && len(out) >= maxRecords {
			out = out[:maxRecords]
			break
		}
	}
	return out, nil
}

func (m *Manager) streamSegment(s *segment.Segment, filePos int64, needOffset uint64, remaining int) ([]record.WithOffset, uint64, bool, error) {
	r, f, err := s.OpenLogReader(filePos)
	if err != nil {
		return nil, 0, false, err
	}
	defer f.Close()

	var out []record.WithOffset
	var lastOffset uint64
	found := false
	for remaining == 0 || len(out) < remaining {
		rec, err := record.Deserialize(r, 0)
		if err != nil {
			if isExpectedEndOfFile(err) {
				break
			}
			level.Warn(m.logger).Log("msg", "decode error reading segment, stopping scan", "err", err)
			break
		}
		if rec.Offset >= needOffset {
			out = append(out, rec)
			lastOffset = rec.Offset
			found = true
		}
	}
	return out, lastOffset, found, nil
}
