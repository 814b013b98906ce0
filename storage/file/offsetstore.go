// Package file implements the file-backed storage stack (continued):
// consumer group offset persistence, with a whole-file rewrite per
// commit using an atomic write-to-temp-then-rename idiom.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/segment"
)

// partitionKey formats the (topic, partition) pair the way the
// on-disk consumer group file keys its map.
func partitionKey(topic string, partition uint32) string {
	return fmt.Sprintf("%s--%d", topic, partition)
}

// offsetStoreFile is the on-disk JSON shape of a consumer group file.
type offsetStoreFile struct {
	GroupID          string            `json:"group_id"`
	PartitionOffsets map[string]uint64 `json:"partition_offsets"`
}

// OffsetStore is the file-backed consumer offset store for a single
// consumer group: a (topic, partition) -> committed offset map,
// rewritten wholesale on every successful commit.
type OffsetStore struct {
	mu       sync.Mutex
	groupID  string
	path     string
	syncMode segment.SyncMode
	logger   log.Logger

	offsets map[string]uint64
}

// NewOffsetStore loads (or initializes empty) the consumer group file
// for groupID under dataDir/consumer_groups/{group_id}.json.
func NewOffsetStore(dataDir, groupID string, syncMode segment.SyncMode, logger log.Logger) (*OffsetStore, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	dir := filepath.Join(dataDir, consumerGroupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flashqerr.FromIOError(err, "create consumer groups directory")
	}
	s := &OffsetStore{
		groupID:  groupID,
		path:     filepath.Join(dir, groupID+".json"),
		syncMode: syncMode,
		logger:   logger,
		offsets:  make(map[string]uint64),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the group file from disk. A missing or empty file yields
// an empty map; malformed JSON is logged and treated as empty, favoring
// availability over consistency for offset files.
func (s *OffsetStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return flashqerr.FromIOError(err, "read consumer group file")
	}
	if len(data) == 0 {
		return nil
	}
	var f offsetStoreFile
	if err := json.Unmarshal(data, &f); err != nil {
		level.Warn(s.logger).Log("msg", "consumer group file corrupt, treating as empty", "group", s.groupID, "err", err)
		return nil
	}
	if f.PartitionOffsets != nil {
		s.offsets = f.PartitionOffsets
	}
	return nil
}

// LoadSnapshot returns the committed offset for (topic, partition), or
// 0 if no commit has ever been recorded.
func (s *OffsetStore) LoadSnapshot(topic string, partition uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[partitionKey(topic, partition)]
}

// PersistSnapshot enforces the monotonic commit gate: an offset
// strictly less than the currently committed value is rejected without
// writing; an offset greater than or equal to it is written and the
// full map is rewritten to disk.
func (s *OffsetStore) PersistSnapshot(topic string, partition uint32, offset uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := partitionKey(topic, partition)
	if current, ok := s.offsets[key]; ok && offset < current {
		return false, nil
	}
	s.offsets[key] = offset
	if err := s.writeLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// GetAllSnapshots returns a copy of every committed (topic, partition)
// -> offset pair held by this group.
func (s *OffsetStore) GetAllSnapshots() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.offsets))
	for k, v := range s.offsets {
		out[k] = v
	}
	return out
}

func (s *OffsetStore) writeLocked() error {
	data, err := json.Marshal(offsetStoreFile{GroupID: s.groupID, PartitionOffsets: s.offsets})
	if err != nil {
		return fmt.Errorf("marshal consumer group file: %w", err)
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return flashqerr.FromIOError(err, "open consumer group temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return flashqerr.FromIOError(err, "write consumer group file")
	}
	if s.syncMode == segment.SyncImmediate {
		if err := f.Sync(); err != nil {
			f.Close()
			return flashqerr.FromIOError(err, "fsync consumer group file")
		}
	}
	if err := f.Close(); err != nil {
		return flashqerr.FromIOError(err, "close consumer group temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return flashqerr.FromIOError(err, "rename consumer group file")
	}
	return nil
}

// Delete removes the consumer group file from disk.
func (s *OffsetStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return flashqerr.FromIOError(err, "remove consumer group file")
	}
	return nil
}
