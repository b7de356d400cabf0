package config

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// rawConfig mirrors the subset of config.yaml fields EnsureNodeID reads
// and rewrites directly, bypassing viper, so it can persist a value
// without disturbing keys viper doesn't know about yet. Grounded on the
// teacher's own direct-yaml-read-then-write approach for files viper
// already owns (internal/config/local_config.go).
type rawConfig struct {
	NodeID uint32                 `yaml:"node_id"`
	Rest   map[string]interface{} `yaml:",inline"`
}

// EnsureNodeID assigns cfg a random, effectively-unique node_id and
// persists it to daemonDir/config.yaml the first time a daemon runs
// there. A node_id of 0 for every fresh clone would make every first
// daemon an indistinguishable tiebreak loser (§3.2: node_id only
// matters when wall_ms and counter are already equal), so this can't
// be left at the zero default the way the other fields can.
func EnsureNodeID(daemonDir string, v *viper.Viper, cfg *Config) error {
	if cfg.NodeID != 0 {
		return nil
	}

	id := uuid.New()
	cfg.NodeID = binary.BigEndian.Uint32(id[:4])
	v.Set("node_id", cfg.NodeID)

	return persistNodeID(daemonDir, cfg.NodeID)
}

func persistNodeID(daemonDir string, nodeID uint32) error {
	path := filepath.Join(daemonDir, "config.yaml")

	raw := rawConfig{Rest: map[string]interface{}{}}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	raw.NodeID = nodeID

	data, err := yaml.Marshal(&raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
