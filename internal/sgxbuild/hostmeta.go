package sgxbuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ManifestName is the per-directory manifest read by LoadManifests.
const ManifestName = "sgxbuild.toml"

// Block is one raw declared configuration block plus the directory that declared it.
// Raw is nil when the layer declares nothing.
type Block struct {
	Raw    []byte
	Origin string
}

// Partial decodes and canonicalizes the block.
func (b Block) Partial() (*PartialConfig, error) {
	return ParsePartial(b.Raw, b.Origin)
}

type hostMetadata struct {
	WorkspaceRoot string                     `json:"workspace_root"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	Packages      []hostPackage              `json:"packages"`
}

type hostPackage struct {
	Name         string                     `json:"name"`
	ManifestPath string                     `json:"manifest_path"`
	Metadata     map[string]json.RawMessage `json:"metadata"`
}

// LoadHostMetadata reads the JSON metadata document the host build system
// writes for the workspace and picks the blocks for pkgName.
func LoadHostMetadata(path, pkgName string) (workspace, pkg Block, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Block{}, Block{}, fmt.Errorf("%w: reading host metadata: %v", ErrParse, err)
	}
	return ParseHostMetadata(data, filepath.Dir(path), pkgName)
}

// ParseHostMetadata is LoadHostMetadata on bytes. Relative paths inside the
// document are resolved against base.
func ParseHostMetadata(data []byte, base, pkgName string) (workspace, pkg Block, err error) {
	var meta hostMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Block{}, Block{}, fmt.Errorf("%w: host metadata: %v", ErrParse, err)
	}
	if meta.WorkspaceRoot == "" {
		return Block{}, Block{}, fmt.Errorf("%w: host metadata has no workspace_root", ErrParse)
	}
	root, err := Canonicalize(meta.WorkspaceRoot, base)
	if err != nil {
		return Block{}, Block{}, fmt.Errorf("workspace root: %w", err)
	}
	workspace = Block{Raw: meta.Metadata[MetadataKey], Origin: root}

	for _, p := range meta.Packages {
		if p.Name != pkgName {
			continue
		}
		manifest, err := Canonicalize(p.ManifestPath, root)
		if err != nil {
			return Block{}, Block{}, fmt.Errorf("package %s manifest: %w", pkgName, err)
		}
		pkg = Block{Raw: p.Metadata[MetadataKey], Origin: filepath.Dir(manifest)}
		return workspace, pkg, nil
	}
	return Block{}, Block{}, fmt.Errorf("%w: package %q not found in host metadata", ErrMissingConfiguration, pkgName)
}

// LoadManifests reads sgxbuild.toml from the workspace and package directories.
// A missing manifest is an absent layer, not an error.
func LoadManifests(workspaceDir, packageDir string) (workspace, pkg Block, err error) {
	if workspace, err = loadManifestBlock(workspaceDir); err != nil {
		return Block{}, Block{}, err
	}
	if pkg, err = loadManifestBlock(packageDir); err != nil {
		return Block{}, Block{}, err
	}
	return workspace, pkg, nil
}

func loadManifestBlock(dir string) (Block, error) {
	origin, err := Canonicalize(dir, ".")
	if err != nil {
		return Block{}, err
	}
	block := Block{Origin: origin}

	data, err := os.ReadFile(filepath.Join(origin, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		debugf("No %s in %s\n", ManifestName, origin)
		return block, nil
	}
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	block.Raw, err = manifestSection(data)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %s: %v", ErrParse, filepath.Join(origin, ManifestName), err)
	}
	return block, nil
}

// manifestSection extracts the [sgx] table and re-encodes it as JSON so both
// sources feed the same decoder.
func manifestSection(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	section, ok := doc[MetadataKey]
	if !ok {
		return nil, nil
	}
	if _, isTable := section.(map[string]any); !isTable {
		return nil, fmt.Errorf("[%s] must be a table", MetadataKey)
	}
	return json.Marshal(section)
}
