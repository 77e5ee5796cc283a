// Package definition loads form templates and flow definitions, builds the
// template manifest, validates ids and references, and serves everything from
// a registry with atomic snapshot swap.
package definition

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/formflow/model"
)

// ManifestFileName is skipped when scanning template directories.
const ManifestFileName = "manifest.json"

// Loader scans directories for JSON or YAML definition files, parses them and
// computes md5 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadTemplates recursively scans directories for template files.
func (l *Loader) LoadTemplates(directories ...string) ([]model.FormTemplate, error) {
	var out []model.FormTemplate
	err := walkDefinitions(directories, func(path string) error {
		tmpl, err := l.LoadTemplateFile(path)
		if err != nil {
			return err
		}
		out = append(out, tmpl)
		return nil
	})
	return out, err
}

// LoadTemplateFile loads a single template file.
func (l *Loader) LoadTemplateFile(path string) (model.FormTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FormTemplate{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var tmpl model.FormTemplate
	if err := decode(path, data, &tmpl); err != nil {
		return model.FormTemplate{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	tmpl.Checksum = Checksum(data)
	tmpl.SourceFile = path
	return tmpl, nil
}

// LoadFlows recursively scans directories for flow definition files.
func (l *Loader) LoadFlows(directories ...string) ([]model.FlowDefinition, error) {
	var out []model.FlowDefinition
	err := walkDefinitions(directories, func(path string) error {
		flow, err := l.LoadFlowFile(path)
		if err != nil {
			return err
		}
		out = append(out, flow)
		return nil
	})
	return out, err
}

// LoadFlowFile loads a single flow file. A flow without a name is named after
// its file.
func (l *Loader) LoadFlowFile(path string) (model.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FlowDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var flow model.FlowDefinition
	if err := decode(path, data, &flow); err != nil {
		return model.FlowDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if flow.Name == "" {
		flow.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	flow.Checksum = Checksum(data)
	flow.SourceFile = path
	return flow, nil
}

// Checksum returns the lowercase hex md5 of data.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func walkDefinitions(directories []string, fn func(path string) error) error {
	for _, dir := range directories {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Name() == ManifestFileName {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json", ".yaml", ".yml":
				return fn(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}
	return nil
}

// decode parses JSON directly and normalises YAML through JSON so both
// formats share one set of decoding rules.
func decode(path string, data []byte, v any) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		normalised, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		data = normalised
	}
	return json.Unmarshal(data, v)
}
