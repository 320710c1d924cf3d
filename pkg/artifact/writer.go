// Package artifact writes the playbooks and inventories generated for plan
// leaves to disk.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/playtree/pkg/engine"
)

const (
	dirPerm  = 0750
	filePerm = 0640
)

// FileWriter stores artifacts as <dir>/<name>.json and <dir>/<name>.yml.
// It implements engine.ArtifactWriter.
type FileWriter struct {
	playbookDir  string
	inventoryDir string
}

// NewFileWriter creates a writer for the given output directories.
func NewFileWriter(playbookDir, inventoryDir string) (*FileWriter, error) {
	for _, dir := range []string{playbookDir, inventoryDir} {
		if err := checkDir(dir); err != nil {
			return nil, err
		}
	}
	if filepath.Clean(playbookDir) == filepath.Clean(inventoryDir) {
		return nil, fmt.Errorf("playbook and inventory directories must differ: %s", playbookDir)
	}
	return &FileWriter{
		playbookDir:  playbookDir,
		inventoryDir: inventoryDir,
	}, nil
}

// checkDir refuses directories whose removal would be destructive beyond
// the generated output.
func checkDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory is empty")
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == string(filepath.Separator) || clean == ".." {
		return fmt.Errorf("refusing to use %q as an output directory", dir)
	}
	return nil
}

// PlaybookDir returns the playbook output directory.
func (w *FileWriter) PlaybookDir() string {
	return w.playbookDir
}

// InventoryDir returns the inventory output directory.
func (w *FileWriter) InventoryDir() string {
	return w.inventoryDir
}

// Reset deletes both output directories and creates them empty.
func (w *FileWriter) Reset() error {
	for _, dir := range []string{w.playbookDir, w.inventoryDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Write encodes doc as indented JSON, derives the YAML rendering from that
// JSON and writes both files.
func (w *FileWriter) Write(kind engine.ArtifactKind, name string, doc interface{}) (string, string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", "", fmt.Errorf("invalid artifact name %q", name)
	}

	var dir string
	switch kind {
	case engine.ArtifactPlaybook:
		dir = w.playbookDir
	case engine.ArtifactInventory:
		dir = w.inventoryDir
	default:
		return "", "", fmt.Errorf("unknown artifact kind: %s", kind)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode %s %s: %w", kind, name, err)
	}
	text, err := JSONToYAML(data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render %s %s: %w", kind, name, err)
	}

	jsonPath := filepath.Join(dir, name+".json")
	textPath := filepath.Join(dir, name+".yml")
	if err := os.WriteFile(jsonPath, append(data, '\n'), filePerm); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(textPath, text, filePerm); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", textPath, err)
	}
	return jsonPath, textPath, nil
}
