package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cinder.dev/node/util"
)

const SchemaVersionV1 uint32 = 1

// Manifest is the crash-safe commit point for a chain directory.
type Manifest struct {
	SchemaVersion uint32 `json:"schema_version"`
	Chain         string `json:"chain"`
	GenesisHash   string `json:"genesis_hash"`

	TipHash   string `json:"tip_hash"`
	TipHeight int32  `json:"tip_height"`
	TipWork   string `json:"tip_work"`
}

func manifestPath(chainDir string) string {
	return filepath.Join(chainDir, "MANIFEST.json")
}

func readManifest(chainDir string) (*Manifest, error) {
	b, err := os.ReadFile(manifestPath(chainDir))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest json: %w", err)
	}
	return &m, nil
}

func writeManifestAtomic(chainDir string, m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest: nil")
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest json: %w", err)
	}
	b = append(b, '\n')
	return util.AtomicWriteFile(manifestPath(chainDir), b, 0o600)
}
