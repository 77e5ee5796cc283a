package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/formflow/model"
)

// snapshot is an immutable collection of all definitions indexed by id.
type snapshot struct {
	templates map[string]model.FormTemplate
	flows     map[string]model.FlowDefinition
	manifest  model.Manifest
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(templates []model.FormTemplate, flows []model.FlowDefinition, manifest model.Manifest) *Registry {
	r := &Registry{}
	r.Replace(templates, flows, manifest)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot.
func (r *Registry) Replace(templates []model.FormTemplate, flows []model.FlowDefinition, manifest model.Manifest) {
	s := &snapshot{
		templates: make(map[string]model.FormTemplate, len(templates)),
		flows:     make(map[string]model.FlowDefinition, len(flows)),
		manifest:  make(model.Manifest, len(manifest)),
	}

	var checksumParts []string
	for _, t := range templates {
		s.templates[t.FormID] = t
		checksumParts = append(checksumParts, t.Checksum)
	}
	for _, f := range flows {
		s.flows[f.Name] = f
		checksumParts = append(checksumParts, f.Checksum)
	}
	for id, e := range manifest {
		s.manifest[id] = e
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetTemplate returns the template with the given form id.
func (r *Registry) GetTemplate(formID string) (model.FormTemplate, bool) {
	t, ok := r.current().templates[formID]
	return t, ok
}

// GetFlow returns the flow with the given name.
func (r *Registry) GetFlow(name string) (model.FlowDefinition, bool) {
	f, ok := r.current().flows[name]
	return f, ok
}

// ManifestEntry returns the manifest entry of a form id.
func (r *Registry) ManifestEntry(formID string) (model.ManifestEntry, bool) {
	e, ok := r.current().manifest[formID]
	return e, ok
}

// Manifest returns a copy of the manifest.
func (r *Registry) Manifest() model.Manifest {
	s := r.current()
	out := make(model.Manifest, len(s.manifest))
	for id, e := range s.manifest {
		out[id] = e
	}
	return out
}

// AllTemplates returns all templates sorted by form id.
func (r *Registry) AllTemplates() []model.FormTemplate {
	s := r.current()
	out := make([]model.FormTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FormID < out[j].FormID })
	return out
}

// AllFlows returns all flows sorted by name.
func (r *Registry) AllFlows() []model.FlowDefinition {
	s := r.current()
	out := make([]model.FlowDefinition, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of loaded templates and flows.
func (r *Registry) Count() int {
	s := r.current()
	return len(s.templates) + len(s.flows)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
