package broker

import (
	"sync"

	"github.com/grafana/flashq/storage"
)

// consumerGroupRegistry caches storage.OffsetStore handles by group
// ID, delegating all persistence semantics to the offset store and routing by group
// the way TopicLog routes by topic.
type consumerGroupRegistry struct {
	mu      sync.RWMutex
	backend storage.Backend
	groups  map[string]storage.OffsetStore
}

func newConsumerGroupRegistry(backend storage.Backend) *consumerGroupRegistry {
	return &consumerGroupRegistry{backend: backend, groups: make(map[string]storage.OffsetStore)}
}

func (r *consumerGroupRegistry) create(groupID string) error {
	_, err := r.getOrCreate(groupID)
	return err
}

func (r *consumerGroupRegistry) delete(groupID string) error {
	r.mu.Lock()
	delete(r.groups, groupID)
	r.mu.Unlock()
	return r.backend.DeleteConsumerGroup(groupID)
}

func (r *consumerGroupRegistry) getOrCreate(groupID string) (storage.OffsetStore, error) {
	r.mu.RLock()
	s, ok := r.groups[groupID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.groups[groupID]; ok {
		return s, nil
	}
	s, err := r.backend.CreateConsumerGroup(groupID)
	if err != nil {
		return nil, err
	}
	r.groups[groupID] = s
	return s, nil
}

func (r *consumerGroupRegistry) load(groupID, topic string, partition uint32) (uint64, error) {
	s, err := r.getOrCreate(groupID)
	if err != nil {
		return 0, err
	}
	return s.LoadSnapshot(topic, partition), nil
}

func (r *consumerGroupRegistry) persist(groupID, topic string, partition uint32, offset uint64) (bool, error) {
	s, err := r.getOrCreate(groupID)
	if err != nil {
		return false, err
	}
	return s.PersistSnapshot(topic, partition, offset)
}
