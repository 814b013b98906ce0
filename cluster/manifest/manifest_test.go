package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedManifest() *Manifest {
	return &Manifest{
		Brokers: []Broker{{ID: 1, Host: "a", Port: 9000}, {ID: 2, Host: "b", Port: 9001}},
		Topics: map[string]TopicManifest{
			"t0": {
				ReplicationFactor: 3,
				Partitions: []PartitionAssignment{
					{ID: 0, Leader: 1, Replicas: []uint32{1, 2, 3}, InSyncReplicas: []uint32{1, 2, 3}, Epoch: 5},
				},
			},
		},
	}
}

func TestManifestValidate(t *testing.T) {
	require.NoError(t, seedManifest().Validate())

	bad := seedManifest()
	tm := bad.Topics["t0"]
	tm.Partitions[0].Leader = 99
	bad.Topics["t0"] = tm
	require.Error(t, bad.Validate())
}

func TestManifestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "manifest.json")
	require.NoError(t, Save(jsonPath, seedManifest()))
	loaded, err := Load(jsonPath)
	require.NoError(t, err)
	require.Len(t, loaded.Brokers, 2)

	yamlPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("brokers:\n  - id: 1\n    host: a\n    port: 9000\ntopics: {}\n"), 0o644))
	loadedYAML, err := Load(yamlPath)
	require.NoError(t, err)
	require.Len(t, loadedYAML.Brokers, 1)
}

func TestManifestLoadExtensionlessTriesJSONThenYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest")
	require.NoError(t, os.WriteFile(path, []byte("brokers:\n  - id: 7\n    host: x\n    port: 1\ntopics: {}\n"), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Brokers, 1)
	require.Equal(t, uint32(7), loaded.Brokers[0].ID)
}
