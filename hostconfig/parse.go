// SPDX-License-Identifier: LGPL-3.0-or-later

package hostconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a Host Configuration document from path, detecting
// YAML vs JSON by extension (".json" is parsed as JSON; everything
// else as YAML, which is a superset of JSON in practice).
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host configuration: %w", err)
	}
	return Parse(data, strings.HasSuffix(path, ".json"))
}

// Parse decodes a Host Configuration document from raw bytes and
// applies post-parse defaults (empty allowed_operations means both
// stage and finalize, matching the teacher's defaulting convention of
// never shipping a Config with an operationally meaningless zero
// value).
func Parse(data []byte, asJSON bool) (*Config, error) {
	cfg := &Config{}

	if asJSON {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse host configuration as JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse host configuration as YAML: %w", err)
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.AllowedOperations) == 0 {
		cfg.AllowedOperations = []Operation{OperationStage, OperationFinalize}
	}
	for i := range cfg.Disks {
		if cfg.Disks[i].TableType == "" {
			cfg.Disks[i].TableType = PartitionTableGPT
		}
	}
}
