package file

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/flashqcfg"
	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
)

func newTestBackend(t *testing.T) (*Backend, flashqcfg.StorageConfig) {
	t.Helper()
	cfg := flashqcfg.StorageConfig{DataDir: t.TempDir()}
	cfg.RegisterFlagsAndApplyDefaults()
	cfg.SyncMode = flashqcfg.SyncImmediate
	b, err := NewBackend(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, cfg
}

func TestBackendRejectsSecondLock(t *testing.T) {
	b, cfg := newTestBackend(t)

	_, err := NewBackend(cfg, nil, nil)
	require.Error(t, err)
	var locked *flashqerr.DirectoryLockedError
	require.ErrorAs(t, err, &locked)

	_ = b
}

func TestBackendDiscoverTopicsFindsSegmentedTopics(t *testing.T) {
	b, cfg := newTestBackend(t)

	tl, err := b.CreateTopicLog("orders")
	require.NoError(t, err)
	_, err = tl.Append(0, record.Record{Value: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := NewBackend(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	topics, err := reopened.DiscoverTopics()
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, topics)
}

func TestBackendConsumerGroupRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)

	s, err := b.CreateConsumerOffsetStore("g")
	require.NoError(t, err)
	ok, err := s.PersistSnapshot("t", 0, 4)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.DeleteConsumerGroup("g"))

	reloaded, err := b.CreateConsumerOffsetStore("g")
	require.NoError(t, err)
	require.Equal(t, uint64(0), reloaded.LoadSnapshot("t", 0))
}
