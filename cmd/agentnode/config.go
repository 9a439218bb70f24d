package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the on-disk bootstrap file for agentnode, mirroring how
// Warren's cmd/warren apply command loads a YAML resource file with
// gopkg.in/yaml.v3. Config loading itself is out of core scope per
// spec.md §1; this is the one legitimate edge — the host binary — where
// the dependency is wired rather than dropped, per SPEC_FULL.md's AMBIENT
// STACK section.
type RuntimeConfig struct {
	Backend string `yaml:"backend"` // "inprocess", "localactor", or "cluster"

	DataDir  string `yaml:"dataDir"`
	PoolSize int    `yaml:"poolSize"`

	Cluster struct {
		NodeID    string `yaml:"nodeId"`
		RaftAddr  string `yaml:"raftAddr"`
		GRPCAddr  string `yaml:"grpcAddr"`
		Bootstrap bool   `yaml:"bootstrap"`
	} `yaml:"cluster"`
}

// LoadRuntimeConfig reads and parses a YAML RuntimeConfig from path.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentnode: read config %s: %w", path, err)
	}
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agentnode: parse config %s: %w", path, err)
	}
	return &cfg, nil
}
