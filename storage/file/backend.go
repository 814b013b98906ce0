package file

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/flashq/flashqcfg"
	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/segment"
)

const lockFileName = ".flashq.lock"

// Backend is the file-backed storage backend factory. It acquires an
// exclusive directory lock for the process lifetime at construction,
// and hands out topic logs, consumer groups, and offset stores rooted
// under DataDir.
type Backend struct {
	mu sync.Mutex

	dataDir          string
	syncMode         segment.SyncMode
	segmentSizeBytes uint64
	batchBytes       uint64
	indexingCfg      segment.IndexingConfig
	logger           log.Logger
	metrics          *Metrics

	lockFile *os.File
	lockPath string

	topics map[string]*TopicLog
	groups map[string]*OffsetStore
}

// NewBackend acquires the directory lock and constructs a file-backed
// backend from cfg. Callers must call Close to release the lock.
func NewBackend(cfg flashqcfg.StorageConfig, logger log.Logger, reg prometheus.Registerer) (*Backend, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, flashqerr.FromIOError(err, "create data directory")
	}
	lockFile, err := acquireDirectoryLock(filepath.Join(cfg.DataDir, lockFileName))
	if err != nil {
		return nil, err
	}

	var metrics *Metrics
	if reg != nil {
		metrics = NewMetrics(reg)
	}

	indexingCfg := cfg.Indexing.ToSegmentConfig()
	indexingCfg.WALCommitThreshold = cfg.WALCommitThreshold

	b := &Backend{
		dataDir:          cfg.DataDir,
		syncMode:         cfg.SyncMode.ToSegmentSyncMode(),
		segmentSizeBytes: cfg.SegmentSizeBytes,
		batchBytes:       cfg.BatchBytes,
		indexingCfg:      indexingCfg,
		logger:           logger,
		metrics:          metrics,
		lockFile:         lockFile,
		lockPath:         filepath.Join(cfg.DataDir, lockFileName),
		topics:           make(map[string]*TopicLog),
		groups:           make(map[string]*OffsetStore),
	}
	return b, nil
}

// acquireDirectoryLock runs the exclusive lock protocol: open/create,
// try a non-blocking exclusive advisory lock, write PID+timestamp on
// success; on failure, check whether the
// PID recorded by the current holder is alive, and if it is dead (or
// unparseable) remove the stale lock file and retry exactly once.
func acquireDirectoryLock(path string) (*os.File, error) {
	f, pid, err := tryAcquireDirectoryLock(path)
	if err == nil {
		return f, nil
	}
	if !isDirectoryLockedErr(err) {
		return nil, err
	}
	if isPidAlive(pid) {
		return nil, &flashqerr.DirectoryLockedError{PID: pid}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, flashqerr.FromIOError(err, "remove stale lock file")
	}
	f, _, err = tryAcquireDirectoryLock(path)
	if err != nil {
		if isDirectoryLockedErr(err) {
			return nil, &flashqerr.LockAcquisitionFailedError{Reason: "another process acquired the lock after stale lock removal"}
		}
		return nil, err
	}
	return f, nil
}

func isDirectoryLockedErr(err error) bool {
	_, ok := err.(*flashqerr.DirectoryLockedError)
	return ok
}

// tryAcquireDirectoryLock opens/creates the lock file and attempts a
// single non-blocking exclusive flock. On success it writes the PID
// and timestamp and returns the open handle. On contention it reads
// the existing PID back out (best-effort) and returns a
// DirectoryLockedError carrying it.
func tryAcquireDirectoryLock(path string) (*os.File, int, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, flashqerr.FromIOError(err, "open lock file")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid := readLockFilePid(f)
		f.Close()
		return nil, pid, &flashqerr.DirectoryLockedError{PID: pid}
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, 0, flashqerr.FromIOError(err, "truncate lock file")
	}
	content := fmt.Sprintf("PID: %d\nTimestamp: %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		f.Close()
		return nil, 0, flashqerr.FromIOError(err, "write lock file")
	}
	return f, 0, nil
}

func readLockFilePid(f *os.File) int {
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "PID:") {
			pidStr := strings.TrimSpace(strings.TrimPrefix(line, "PID:"))
			pid, err := strconv.Atoi(pidStr)
			if err != nil {
				return 0
			}
			return pid
		}
	}
	return 0
}

// isPidAlive reports whether pid refers to a live process, using
// signal 0 (no-op liveness probe). An
// unparseable or zero pid is treated as dead.
func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// CreateTopicLog returns the topic log for name, recovering it from
// disk on first access within this process's lifetime.
func (b *Backend) CreateTopicLog(topic string) (*TopicLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return t, nil
	}
	dir := filepath.Join(b.dataDir, topic)
	t, err := RecoverTopicLog(dir, topic, b.segmentSizeBytes, b.batchBytes, b.syncMode, b.indexingCfg, b.logger, b.metrics)
	if err != nil {
		return nil, err
	}
	b.topics[topic] = t
	return t, nil
}

// CreateConsumerOffsetStore returns the offset store for groupID,
// loading it from disk on first access.
func (b *Backend) CreateConsumerOffsetStore(groupID string) (*OffsetStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.groups[groupID]; ok {
		return s, nil
	}
	s, err := NewOffsetStore(b.dataDir, groupID, b.syncMode, b.logger)
	if err != nil {
		return nil, err
	}
	b.groups[groupID] = s
	return s, nil
}

// CreateConsumerGroup is an alias of CreateConsumerOffsetStore, given
// a separate name for symmetry with the memory backend's
// registry-style API.
func (b *Backend) CreateConsumerGroup(groupID string) (*OffsetStore, error) {
	return b.CreateConsumerOffsetStore(groupID)
}

// DeleteConsumerGroup removes a consumer group's offset store both
// from the in-process registry and from disk.
func (b *Backend) DeleteConsumerGroup(groupID string) error {
	b.mu.Lock()
	s, ok := b.groups[groupID]
	delete(b.groups, groupID)
	b.mu.Unlock()
	if !ok {
		var err error
		s, err = NewOffsetStore(b.dataDir, groupID, b.syncMode, b.logger)
		if err != nil {
			return err
		}
	}
	return s.Delete()
}

// DiscoverTopics lists dataDir, treating any subdirectory that
// contains at least one subdirectory with a *.log file as a topic,
// skipping consumer_groups, cluster, and dot-prefixed names.
func (b *Backend) DiscoverTopics() ([]string, error) {
	entries, err := os.ReadDir(b.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, flashqerr.FromIOError(err, "discover topics")
	}
	var topics []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == consumerGroupsDirName || name == "cluster" || len(name) == 0 || name[0] == '.' {
			continue
		}
		if topicDirHasSegments(filepath.Join(b.dataDir, name)) {
			topics = append(topics, name)
		}
	}
	return topics, nil
}

func topicDirHasSegments(topicDir string) bool {
	partitions, err := os.ReadDir(topicDir)
	if err != nil {
		return false
	}
	for _, p := range partitions {
		if !p.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(topicDir, p.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.HasSuffix(f.Name(), logExt) {
				return true
			}
		}
	}
	return false
}

// Close closes every open topic log and releases the directory lock,
// removing the lock file best-effort as the final step.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, t := range b.topics {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.lockFile != nil {
		_ = syscall.Flock(int(b.lockFile.Fd()), syscall.LOCK_UN)
		if err := b.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(b.lockPath); err != nil && !os.IsNotExist(err) {
			level.Warn(b.logger).Log("msg", "failed to remove lock file on close", "err", err)
		}
	}
	return firstErr
}
