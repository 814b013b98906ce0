// Package flashqcfg holds the ambient, yaml-tagged configuration
// structs shared by the storage and cluster layers: a single struct
// per concern with yaml tags and a defaults-applying constructor.
package flashqcfg

import (
	"time"

	"github.com/grafana/flashq/segment"
)

// SyncMode mirrors segment.SyncMode in a yaml-friendly string form.
type SyncMode string

const (
	SyncImmediate SyncMode = "immediate"
	SyncPeriodic  SyncMode = "periodic"
	SyncNone      SyncMode = "none"
)

// ToSegmentSyncMode converts the yaml-friendly string to the segment
// package's enum, defaulting to Periodic on an unrecognized value.
func (m SyncMode) ToSegmentSyncMode() segment.SyncMode {
	switch m {
	case SyncImmediate:
		return segment.SyncImmediate
	case SyncNone:
		return segment.SyncNone
	default:
		return segment.SyncPeriodic
	}
}

// IndexingConfig is the yaml-tagged counterpart of segment.IndexingConfig.
type IndexingConfig struct {
	IndexIntervalBytes   uint64 `yaml:"index_interval_bytes"`
	IndexIntervalRecords uint64 `yaml:"index_interval_records"`
	TimeSeekBackBytes    uint64 `yaml:"time_seek_back_bytes"`
}

// ToSegmentConfig converts to the segment package's runtime config.
func (c IndexingConfig) ToSegmentConfig() segment.IndexingConfig {
	return segment.IndexingConfig{
		IndexIntervalBytes:   c.IndexIntervalBytes,
		IndexIntervalRecords: c.IndexIntervalRecords,
		TimeSeekBackBytes:    c.TimeSeekBackBytes,
	}
}

// StorageConfig is the storage backend's configuration surface.
type StorageConfig struct {
	Backend            string         `yaml:"backend"` // "memory" or "file"
	DataDir            string         `yaml:"data_dir"`
	SyncMode           SyncMode       `yaml:"sync_mode"`
	SegmentSizeBytes   uint64         `yaml:"segment_size_bytes"`
	WALCommitThreshold uint64         `yaml:"wal_commit_threshold"`
	BatchBytes         uint64         `yaml:"batch_bytes"`
	Indexing           IndexingConfig `yaml:"indexing"`
}

// RegisterFlagsAndApplyDefaults fills in zero-valued fields with
// sensible defaults, following the RegisterFlagsAndApplyDefaults
// convention used throughout this config package.
func (c *StorageConfig) RegisterFlagsAndApplyDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.SyncMode == "" {
		c.SyncMode = SyncPeriodic
	}
	if c.SegmentSizeBytes == 0 {
		c.SegmentSizeBytes = 1 << 30 // 1 GiB
	}
	if c.WALCommitThreshold == 0 {
		c.WALCommitThreshold = 1000
	}
	if c.BatchBytes == 0 {
		c.BatchBytes = 1 << 20 // ~1 MiB
	}
	if c.Indexing.IndexIntervalBytes == 0 {
		c.Indexing.IndexIntervalBytes = 4096
	}
	if c.Indexing.IndexIntervalRecords == 0 {
		c.Indexing.IndexIntervalRecords = 100
	}
	if c.Indexing.TimeSeekBackBytes == 0 {
		c.Indexing.TimeSeekBackBytes = c.Indexing.IndexIntervalBytes
	}
}

// ClusterConfig is the cluster metadata store's configuration surface.
type ClusterConfig struct {
	DataDir          string        `yaml:"data_dir"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ManifestPath     string        `yaml:"manifest_path"`
}

// RegisterFlagsAndApplyDefaults fills in the default heartbeat timeout.
func (c *ClusterConfig) RegisterFlagsAndApplyDefaults() {
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
}
