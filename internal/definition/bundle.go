package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pitabwire/formflow/model"
)

// Sources names where definitions live on disk.
type Sources struct {
	TemplateDirs []string
	FlowDirs     []string
	// ManifestPath is optional. When empty or missing the manifest is built
	// from the loaded templates.
	ManifestPath string
}

// Bundle is everything loaded from Sources, before validation.
type Bundle struct {
	Templates     []model.FormTemplate
	Flows         []model.FlowDefinition
	Manifest      model.Manifest
	ManifestBuilt bool
}

// Load reads templates, flows and the manifest.
func (l *Loader) Load(src Sources) (*Bundle, error) {
	templates, err := l.LoadTemplates(src.TemplateDirs...)
	if err != nil {
		return nil, err
	}
	flows, err := l.LoadFlows(src.FlowDirs...)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Templates: templates, Flows: flows}
	if src.ManifestPath != "" {
		b.Manifest, err = LoadManifest(src.ManifestPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if b.Manifest == nil {
		b.Manifest, err = BuildManifest(templates)
		if err != nil {
			return nil, err
		}
		b.ManifestBuilt = true
	}
	return b, nil
}

// Validate runs every check over the bundle: template structure and id
// uniqueness, manifest consistency and flow references.
func (v *Validator) Validate(b *Bundle) []VError {
	errs := v.ValidateTemplates(b.Templates)
	if !b.ManifestBuilt {
		errs = append(errs, v.ValidateManifest(b.Manifest, b.Templates)...)
	}

	byID := make(map[string]model.FormTemplate, len(b.Templates))
	for _, t := range b.Templates {
		byID[t.FormID] = t
	}
	names := make(map[string]bool)
	for i, f := range b.Flows {
		prefix := fmt.Sprintf("flows[%d]", i)
		if f.SourceFile != "" {
			prefix = f.SourceFile
		}
		if names[f.Name] {
			errs = append(errs, VError{Path: prefix + ".name", Code: CodeDuplicateID, Message: fmt.Sprintf("flow %q is defined more than once", f.Name)})
		}
		names[f.Name] = true
		errs = append(errs, v.ValidateFlow(prefix, f, b.Manifest, byID)...)
	}
	return errs
}

// SplitChecksumErrors separates manifest md5 mismatches from every other
// validation error, so callers can downgrade stale checksums to warnings.
func SplitChecksumErrors(errs []VError) (checksums, rest []VError) {
	for _, e := range errs {
		if strings.HasPrefix(e.Path, "manifest.") && strings.HasSuffix(e.Path, ".md5") {
			checksums = append(checksums, e)
			continue
		}
		rest = append(rest, e)
	}
	return checksums, rest
}

// Registry builds a registry from the bundle.
func (b *Bundle) Registry() *Registry {
	return NewRegistry(b.Templates, b.Flows, b.Manifest)
}

// LoadRegistry loads and validates definitions and returns a registry. Any
// validation error is returned as a REFERENTIAL_INTEGRITY envelope.
func LoadRegistry(src Sources) (*Registry, error) {
	b, err := NewLoader().Load(src)
	if err != nil {
		return nil, err
	}
	if err := AsError(NewValidator().Validate(b)); err != nil {
		return nil, err
	}
	return b.Registry(), nil
}
