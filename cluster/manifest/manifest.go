// Package manifest defines the cluster manifest data model and a
// loader that auto-detects JSON or YAML by file extension, falling
// back to trying JSON then YAML for anything else.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Broker is one cluster broker's network identity.
type Broker struct {
	ID   uint32 `json:"id" yaml:"id"`
	Host string `json:"host" yaml:"host"`
	Port uint16 `json:"port" yaml:"port"`
}

// PartitionAssignment is the manifest's static description of one
// partition's leader, replica set, in-sync replica set, and epoch.
type PartitionAssignment struct {
	ID             uint32   `json:"id" yaml:"id"`
	Leader         uint32   `json:"leader" yaml:"leader"`
	Replicas       []uint32 `json:"replicas" yaml:"replicas"`
	InSyncReplicas []uint32 `json:"in_sync_replicas" yaml:"in_sync_replicas"`
	Epoch          uint64   `json:"epoch" yaml:"epoch"`
}

// TopicManifest is one topic's replication factor and partition assignments.
type TopicManifest struct {
	ReplicationFactor uint8                 `json:"replication_factor" yaml:"replication_factor"`
	Partitions        []PartitionAssignment `json:"partitions" yaml:"partitions"`
}

// Manifest is the authoritative static cluster layout: brokers plus a
// topic-name-keyed map of topic manifests.
type Manifest struct {
	Brokers []Broker                 `json:"brokers" yaml:"brokers"`
	Topics  map[string]TopicManifest `json:"topics" yaml:"topics"`
}

// Validate checks the structural invariants a loaded manifest must
// satisfy before a metadata store accepts it: every partition's leader
// and in-sync replicas must be members of its own replica set.
func (m Manifest) Validate() error {
	for topic, tm := range m.Topics {
		for _, p := range tm.Partitions {
			replicaSet := make(map[uint32]bool, len(p.Replicas))
			for _, r := range p.Replicas {
				replicaSet[r] = true
			}
			if !replicaSet[p.Leader] {
				return fmt.Errorf("topic %q partition %d: leader %d is not in replicas %v", topic, p.ID, p.Leader, p.Replicas)
			}
			for _, isr := range p.InSyncReplicas {
				if !replicaSet[isr] {
					return fmt.Errorf("topic %q partition %d: in_sync_replica %d is not in replicas %v", topic, p.ID, isr, p.Replicas)
				}
			}
		}
	}
	return nil
}

// Load reads a manifest from path, auto-detecting the encoding by
// extension: ".json" -> JSON, ".yaml"/".yml" -> YAML, anything else
// tries JSON first and falls back to YAML on failure.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*Manifest, error) {
	ext := strings.ToLower(strings.TrimPrefix(stripDotlessExt(path), "."))
	var m Manifest
	switch ext {
	case "json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode manifest %s as json: %w", path, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode manifest %s as yaml: %w", path, err)
		}
	default:
		if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
			if yamlErr := yaml.Unmarshal(data, &m); yamlErr != nil {
				return nil, fmt.Errorf("decode manifest %s: not valid json (%v) or yaml (%v)", path, jsonErr, yamlErr)
			}
		}
	}
	return &m, nil
}

func stripDotlessExt(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i:]
}

// Save writes m to path as indented JSON, the format this repo always
// persists mutations in regardless of how the manifest was loaded.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename manifest file: %w", err)
	}
	return nil
}
