package storage

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/flashq/flashqcfg"
	"github.com/grafana/flashq/storage/file"
	"github.com/grafana/flashq/storage/memory"
)

// NewBackend selects and constructs the backend named by cfg.Backend
// ("memory" or "file"). The file backend acquires the exclusive
// directory lock as part of construction; callers must Close the
// returned Backend to release it.
func NewBackend(cfg flashqcfg.StorageConfig, logger log.Logger, reg prometheus.Registerer) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return &memoryBackendAdapter{b: memory.NewBackend()}, nil
	case "file":
		b, err := file.NewBackend(cfg, logger, reg)
		if err != nil {
			return nil, err
		}
		return &fileBackendAdapter{b: b}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// memoryBackendAdapter adapts *memory.Backend's concrete return types
// to the Backend/TopicLog/OffsetStore interfaces.
type memoryBackendAdapter struct {
	b *memory.Backend
}

func (a *memoryBackendAdapter) CreateTopicLog(topic string) (TopicLog, error) { return a.b.CreateTopicLog(topic) }
func (a *memoryBackendAdapter) CreateConsumerGroup(groupID string) (OffsetStore, error) {
	return a.b.CreateConsumerGroup(groupID)
}
func (a *memoryBackendAdapter) CreateConsumerOffsetStore(groupID string) (OffsetStore, error) {
	return a.b.CreateConsumerOffsetStore(groupID)
}
func (a *memoryBackendAdapter) DeleteConsumerGroup(groupID string) error {
	return a.b.DeleteConsumerGroup(groupID)
}
func (a *memoryBackendAdapter) DiscoverTopics() ([]string, error) { return a.b.DiscoverTopics() }
func (a *memoryBackendAdapter) Close() error                      { return a.b.Close() }

// fileBackendAdapter adapts *file.Backend's concrete return types to
// the Backend/TopicLog/OffsetStore interfaces.
type fileBackendAdapter struct {
	b *file.Backend
}

func (a *fileBackendAdapter) CreateTopicLog(topic string) (TopicLog, error) { return a.b.CreateTopicLog(topic) }
func (a *fileBackendAdapter) CreateConsumerGroup(groupID string) (OffsetStore, error) {
	return a.b.CreateConsumerGroup(groupID)
}
func (a *fileBackendAdapter) CreateConsumerOffsetStore(groupID string) (OffsetStore, error) {
	return a.b.CreateConsumerOffsetStore(groupID)
}
func (a *fileBackendAdapter) DeleteConsumerGroup(groupID string) error {
	return a.b.DeleteConsumerGroup(groupID)
}
func (a *fileBackendAdapter) DiscoverTopics() ([]string, error) { return a.b.DiscoverTopics() }
func (a *fileBackendAdapter) Close() error                      { return a.b.Close() }
