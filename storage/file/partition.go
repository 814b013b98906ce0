package file

import (
	"fmt"
	"os"

	"github.com/go-kit/log"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

// estimatedFrameOverhead approximates the fixed framing cost (length
// prefix, offset, timestamp length, timestamp bytes) used only to
// bound how many records go into one bulk-append syscall; exactness
// is not required for correctness.
const estimatedFrameOverhead = 64

// Partition is the file-backed partition log: one segment manager
// plus the (next_offset, record_count) bookkeeping for a single
// partition directory.
type Partition struct {
	dir         string
	manager     *Manager
	batchBytes  uint64
	nextOffset  uint64
	recordCount uint64
	logger      log.Logger
}

// NewPartition creates (or reopens an empty) partition directory at
// dir and returns a Partition with no records yet. Callers that want
// to reopen an existing, populated partition should use RecoverPartition.
func NewPartition(dir string, segmentSizeBytes, batchBytes uint64, syncMode segment.SyncMode, cfg segment.IndexingConfig, logger log.Logger, metrics *Metrics) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flashqerr.FromIOError(err, "create partition directory")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := NewManager(dir, segmentSizeBytes, syncMode, cfg, logger, metrics)
	return &Partition{dir: dir, manager: m, batchBytes: batchBytes, logger: logger}, nil
}

// RecoverPartition reopens an existing partition directory, recovering
// every segment found and reconstructing next_offset/record_count from
// the recovered segment state.
func RecoverPartition(dir string, segmentSizeBytes, batchBytes uint64, syncMode segment.SyncMode, cfg segment.IndexingConfig, logger log.Logger, metrics *Metrics) (*Partition, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := NewManager(dir, segmentSizeBytes, syncMode, cfg, logger, metrics)
	if err := m.RecoverFromDirectory(); err != nil {
		return nil, err
	}
	p := &Partition{dir: dir, manager: m, batchBytes: batchBytes, logger: logger}
	p.recomputeOffsetsFromSegments()
	return p, nil
}

func (p *Partition) recomputeOffsetsFromSegments() {
	segments := p.manager.allSegmentsAscending()
	var count uint64
	var next uint64
	for _, s := range segments {
		count += s.RecordCount()
		if mo, ok := s.MaxOffset(); ok && mo+1 > next {
			next = mo + 1
		}
	}
	p.nextOffset = next
	p.recordCount = count
}

// NextOffset returns the next offset this partition will assign.
func (p *Partition) NextOffset() uint64 { return p.nextOffset }

// RecordCount returns the number of records appended to this partition.
func (p *Partition) RecordCount() uint64 { return p.recordCount }

// Append serializes one record at the partition's current next offset,
// rolling the active segment first if needed, and returns the assigned offset.
func (p *Partition) Append(r record.Record) (uint64, error) {
	active, err := p.manager.EnsureActiveForAppend(p.nextOffset)
	if err != nil {
		return 0, err
	}
	offset := p.nextOffset
	if err := active.AppendRecord(r, offset); err != nil {
		return 0, err
	}
	p.nextOffset++
	p.recordCount++
	return offset, nil
}

// AppendBatch splits records into size-bounded sub-batches and bulk-
// appends each one, rolling the active segment between sub-batches as
// needed. Returns the last assigned offset; empty input returns the
// current next offset without writing.
func (p *Partition) AppendBatch(records []record.Record) (uint64, error) {
	if len(records) == 0 {
		return p.nextOffset, nil
	}
	var last uint64
	for _, chunk := range p.chunkBySize(records) {
		if len(chunk) == 0 {
			continue
		}
		active, err := p.manager.EnsureActiveForAppend(p.nextOffset)
		if err != nil {
			return 0, err
		}
		startOffset := p.nextOffset
		last, err = active.AppendRecordsBulk(chunk, startOffset)
		if err != nil {
			return 0, fmt.Errorf("append batch: %w", err)
		}
		p.nextOffset = last + 1
		p.recordCount += uint64(len(chunk))
	}
	return last, nil
}

func (p *Partition) chunkBySize(records []record.Record) [][]record.Record {
	var chunks [][]record.Record
	var cur []record.Record
	var curBytes uint64
	for _, r := range records {
		size := estimateRecordSize(r)
		if curBytes > 0 && curBytes+size > p.batchBytes {
			chunks = append(chunks, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, r)
		curBytes += size
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func estimateRecordSize(r record.Record) uint64 {
	size := uint64(len(r.Key)) + uint64(len(r.Value)) + estimatedFrameOverhead
	for k, v := range r.Headers {
		size += uint64(len(k)) + uint64(len(v))
	}
	return size
}

// Read delegates to the segment manager's streaming offset read.
func (p *Partition) Read(fromOffset uint64, maxRecords int) ([]record.WithOffset, error) {
	return p.manager.ReadRecordsStreaming(fromOffset, maxRecords)
}

// ReadFromTimestamp delegates to the segment manager's time-based read.
func (p *Partition) ReadFromTimestamp(tsRFC3339 string, maxRecords int) ([]record.WithOffset, error) {
	return p.manager.ReadRecordsFromTimestamp(tsRFC3339, maxRecords)
}

// Close closes the underlying segment manager.
func (p *Partition) Close() error { return p.manager.Close() }
