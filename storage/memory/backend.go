package memory

import "sync"

// Backend is the in-memory storage backend factory. All structures
// live in RAM, so DiscoverTopics always returns empty: there is
// nothing on disk to discover.
type Backend struct {
	mu     sync.Mutex
	topics map[string]*TopicLog
	groups map[string]*OffsetStore
}

// NewBackend constructs an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		topics: make(map[string]*TopicLog),
		groups: make(map[string]*OffsetStore),
	}
}

// CreateTopicLog returns the topic log for name, creating it lazily.
func (b *Backend) CreateTopicLog(topic string) (*TopicLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		t = NewTopicLog()
		b.topics[topic] = t
	}
	return t, nil
}

// CreateConsumerGroup returns the offset store for groupID, creating it lazily.
func (b *Backend) CreateConsumerGroup(groupID string) (*OffsetStore, error) {
	return b.CreateConsumerOffsetStore(groupID)
}

// CreateConsumerOffsetStore returns the offset store for groupID, creating it lazily.
func (b *Backend) CreateConsumerOffsetStore(groupID string) (*OffsetStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.groups[groupID]
	if !ok {
		s = NewOffsetStore()
		b.groups[groupID] = s
	}
	return s, nil
}

// DeleteConsumerGroup removes a consumer group's offset store.
func (b *Backend) DeleteConsumerGroup(groupID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, groupID)
	return nil
}

// DiscoverTopics always returns empty for the memory backend.
func (b *Backend) DiscoverTopics() ([]string, error) { return nil, nil }

// Close is a no-op for the memory backend.
func (b *Backend) Close() error { return nil }
