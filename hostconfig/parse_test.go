// SPDX-License-Identifier: LGPL-3.0-or-later

package hostconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
disks:
  - id: disk0
    device: /dev/sda
    table_type: gpt
    partitions:
      - id: esp
        type: esp
        size: "1073741824"
      - id: root
        type: root
        size: grow
filesystems:
  - id: root-fs
    backing: root
    type: ext4
    source:
      kind: create
    mount_point:
      path: /
`

func TestFromFileParsesYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := FromFile(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Disks, 1)
	assert.Equal(t, PartitionTableGPT, cfg.Disks[0].TableType)
	assert.Equal(t, []Operation{OperationStage, OperationFinalize}, cfg.AllowedOperations)
}

func TestFromFileMissingFile(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("disks: [not a mapping"), false)
	assert.Error(t, err)
}
