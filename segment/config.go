package segment

// SyncMode controls the fsync discipline applied on append.
type SyncMode int

const (
	// SyncImmediate flushes both index buffers and fsyncs all three
	// files after every append (single or bulk).
	SyncImmediate SyncMode = iota
	// SyncPeriodic flushes index buffers but does not fsync.
	SyncPeriodic
	// SyncNone behaves like SyncPeriodic for the segment's own
	// durability discipline; periodic background fsyncing, if any, is
	// the caller's responsibility.
	SyncNone
)

// IndexingConfig controls how densely the sparse offset/time indexes
// are populated and how far a time-based seek is willing to back off.
type IndexingConfig struct {
	IndexIntervalBytes   uint64
	IndexIntervalRecords uint64
	TimeSeekBackBytes    uint64

	// WALCommitThreshold bounds how many pending sparse-index entries a
	// segment accumulates in memory before it issues the actual write()
	// syscall that moves them into the .index/.timeindex files (group
	// commit for the index writers). A value of 0 or 1 flushes on every
	// entry, matching the behavior of committing each entry individually.
	// This does not affect fsync discipline, which SyncMode governs
	// separately: under SyncImmediate, every append still flushes and
	// fsyncs regardless of this threshold.
	WALCommitThreshold uint64
}

// DefaultIndexingConfig returns the conservative sparse-indexing
// defaults most deployments should start from.
func DefaultIndexingConfig() IndexingConfig {
	return IndexingConfig{
		IndexIntervalBytes:   4096,
		IndexIntervalRecords: 100,
		TimeSeekBackBytes:    4096,
		WALCommitThreshold:   1000,
	}
}
