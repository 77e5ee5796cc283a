package definition

import (
	"strings"
	"testing"

	"github.com/pitabwire/formflow/model"
)

func TestLoader_LoadTemplateFile_json(t *testing.T) {
	l := NewLoader()
	tmpl, err := l.LoadTemplateFile("testdata/templates/entry.json")
	if err != nil {
		t.Fatalf("LoadTemplateFile() error = %v", err)
	}

	if tmpl.FormID != "entry" {
		t.Errorf("FormID = %q, want entry", tmpl.FormID)
	}
	if len(tmpl.Sections) != 1 || len(tmpl.Sections[0].Fields) != 3 {
		t.Fatalf("sections/fields = %d/%d, want 1/3", len(tmpl.Sections), len(tmpl.Sections[0].Fields))
	}
	pt, _ := tmpl.Field("productType")
	if pt.Options[0].Value.Kind() != model.KindNumber {
		t.Errorf("option kind = %s, want number", pt.Options[0].Value.Kind())
	}
	if tmpl.Checksum != "aa58ad66124398fdaee8fff9e3092cd8" {
		t.Errorf("Checksum = %q, want md5 of file", tmpl.Checksum)
	}
	if tmpl.SourceFile != "testdata/templates/entry.json" {
		t.Errorf("SourceFile = %q", tmpl.SourceFile)
	}
}

func TestLoader_LoadTemplateFile_yaml(t *testing.T) {
	tmpl, err := NewLoader().LoadTemplateFile("testdata/templates/door-info.yaml")
	if err != nil {
		t.Fatalf("LoadTemplateFile() error = %v", err)
	}
	depth, ok := tmpl.Field("frameDepth")
	if !ok {
		t.Fatal("frameDepth not found")
	}
	if depth.Conditional == nil || len(depth.Conditional.Conditions) != 1 {
		t.Fatalf("Conditional = %+v, want one condition", depth.Conditional)
	}
	if n, ok := depth.Conditional.Conditions[0].Value.Num(); !ok || n != 1 {
		t.Errorf("condition value = %v, want number 1", depth.Conditional.Conditions[0].Value)
	}
	if depth.Max == nil || *depth.Max != 12 {
		t.Errorf("Max = %v, want 12", depth.Max)
	}
}

func TestLoader_LoadFlowFile(t *testing.T) {
	flow, err := NewLoader().LoadFlowFile("testdata/flows/door.json")
	if err != nil {
		t.Fatalf("LoadFlowFile() error = %v", err)
	}
	if flow.Name != "door" {
		t.Errorf("Name = %q, want door", flow.Name)
	}
	if len(flow.MainFlow.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(flow.MainFlow.Steps))
	}
	if flow.MainFlow.Steps[0].ContextVariables["salesOrderNumber"] != "salesOrderNumber" {
		t.Errorf("step 1 contextVariables = %v", flow.MainFlow.Steps[0].ContextVariables)
	}
	if flow.MainFlow.Steps[1].Condition == nil || flow.MainFlow.Steps[1].Condition.Expression != "productType == 1" {
		t.Errorf("step 2 condition = %+v", flow.MainFlow.Steps[1].Condition)
	}
	if flow.Metadata.CompletionCriteria.CompletionStep != "action:finalize" {
		t.Errorf("CompletionStep = %q", flow.Metadata.CompletionCriteria.CompletionStep)
	}
}

func TestLoader_LoadTemplates_directory(t *testing.T) {
	tmpls, err := NewLoader().LoadTemplates("testdata/templates")
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	if len(tmpls) != 2 {
		t.Errorf("templates = %d, want 2", len(tmpls))
	}
}

func TestLoader_errors(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadTemplateFile("testdata/nonexistent.json"); err == nil {
		t.Error("LoadTemplateFile() with missing file should return error")
	}
	if _, err := l.LoadTemplateFile("testdata/invalid/bad.json"); err == nil {
		t.Error("LoadTemplateFile() with invalid JSON should return error")
	}
	if _, err := l.LoadTemplates("testdata/invalid"); err == nil {
		t.Error("LoadTemplates() over invalid directory should return error")
	}
}

func TestLoader_Load_buildsManifestWhenMissing(t *testing.T) {
	b, err := NewLoader().Load(Sources{
		TemplateDirs: []string{"testdata/templates"},
		FlowDirs:     []string{"testdata/flows"},
		ManifestPath: "testdata/does-not-exist.json",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !b.ManifestBuilt {
		t.Error("ManifestBuilt = false, want true")
	}
	if b.Manifest["entry"].MD5 != "aa58ad66124398fdaee8fff9e3092cd8" {
		t.Errorf("manifest entry md5 = %q", b.Manifest["entry"].MD5)
	}
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(Sources{
		TemplateDirs: []string{"testdata/templates"},
		FlowDirs:     []string{"testdata/flows"},
		ManifestPath: "testdata/manifest.json",
	})
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	if _, ok := reg.GetFlow("door"); !ok {
		t.Error("flow door not registered")
	}
	if _, ok := reg.GetTemplate("door-info"); !ok {
		t.Error("template door-info not registered")
	}
}

func TestLoadRegistry_staleManifest(t *testing.T) {
	_, err := LoadRegistry(Sources{
		TemplateDirs: []string{"testdata/templates"},
		FlowDirs:     []string{"testdata/flows"},
		ManifestPath: "testdata/stale-manifest.json",
	})
	if !model.HasCode(err, model.ErrReferentialIntegrity) {
		t.Fatalf("error = %v, want REFERENTIAL_INTEGRITY", err)
	}
}

func TestSplitChecksumErrors(t *testing.T) {
	b, err := NewLoader().Load(Sources{
		TemplateDirs: []string{"testdata/templates"},
		FlowDirs:     []string{"testdata/flows"},
		ManifestPath: "testdata/stale-manifest.json",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checksums, rest := SplitChecksumErrors(NewValidator().Validate(b))
	if len(checksums) != 1 || checksums[0].Path != "manifest.entry.md5" {
		t.Errorf("checksums = %v, want the entry md5 mismatch only", checksums)
	}
	for _, e := range rest {
		if strings.HasSuffix(e.Path, ".md5") {
			t.Errorf("rest contains checksum error %v", e)
		}
	}
	if len(rest) == 0 {
		t.Error("rest is empty, want the missing and orphaned manifest entries")
	}
}
