package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pitabwire/formflow/model"
)

// BuildManifest computes a manifest entry for every template from its source
// checksum and the file's modification time. Duplicate form ids are an error.
func BuildManifest(templates []model.FormTemplate) (model.Manifest, error) {
	m := make(model.Manifest, len(templates))
	for _, t := range templates {
		if t.FormID == "" {
			return nil, fmt.Errorf("manifest: template %s has no formId", t.SourceFile)
		}
		if _, dup := m[t.FormID]; dup {
			return nil, fmt.Errorf("manifest: duplicate formId %q in %s", t.FormID, t.SourceFile)
		}
		entry := model.ManifestEntry{MD5: t.Checksum}
		if t.SourceFile != "" {
			info, err := os.Stat(t.SourceFile)
			if err != nil {
				return nil, fmt.Errorf("manifest: %w", err)
			}
			entry.LastModified = info.ModTime().UTC().Truncate(time.Millisecond)
		}
		m[t.FormID] = entry
	}
	return m, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// WriteManifest writes m as indented JSON with keys in sorted order.
func WriteManifest(path string, m model.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// ManifestDiff lists the form ids that changed between two manifests.
type ManifestDiff struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// Empty reports whether nothing changed.
func (d ManifestDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// DiffManifest compares two manifests by md5.
func DiffManifest(prev, next model.Manifest) ManifestDiff {
	var d ManifestDiff
	for _, id := range next.IDs() {
		old, ok := prev[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case old.MD5 != next[id].MD5:
			d.Updated = append(d.Updated, id)
		}
	}
	for _, id := range prev.IDs() {
		if _, ok := next[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}
