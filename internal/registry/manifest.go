package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ManifestSchemaVersion identifies the manifest document shape.
const ManifestSchemaVersion = 1

// Manifest is the small derived document recording the artifact's checksum
// and generation time. It is rebuilt every run and never hand-edited.
type Manifest struct {
	SchemaVersion int    `json:"schema_version"`
	GeneratedAt   string `json:"generated_at"`
	Entries       int    `json:"entries"`
	RegistryPath  string `json:"registry_path"`
	SHA256        string `json:"sha256"`
}

// Checksum returns the hex sha256 of the canonical artifact bytes.
func Checksum(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

// NewManifest builds a manifest for the given artifact bytes.
func NewManifest(artifact []byte, registryPath string, entryCount int, generatedAt time.Time) *Manifest {
	return &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		GeneratedAt:   generatedAt.UTC().Format(time.RFC3339),
		Entries:       entryCount,
		RegistryPath:  registryPath,
		SHA256:        Checksum(artifact),
	}
}

// Encode returns the canonical manifest bytes.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeManifest parses previously written manifest bytes.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
