package definition

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/formflow/model"
)

func TestBuildManifest(t *testing.T) {
	tmpls, err := NewLoader().LoadTemplates("testdata/templates")
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	m, err := BuildManifest(tmpls)
	if err != nil {
		t.Fatalf("BuildManifest() error = %v", err)
	}
	if got := m.IDs(); !reflect.DeepEqual(got, []string{"door-info", "entry"}) {
		t.Errorf("IDs() = %v, want [door-info entry]", got)
	}
	for id, e := range m {
		if len(e.MD5) != 32 || strings.ToLower(e.MD5) != e.MD5 {
			t.Errorf("%s md5 = %q, want 32 lowercase hex chars", id, e.MD5)
		}
		if e.LastModified.IsZero() {
			t.Errorf("%s lastModified is zero", id)
		}
	}
}

func TestBuildManifest_duplicate(t *testing.T) {
	_, err := BuildManifest([]model.FormTemplate{{FormID: "a"}, {FormID: "a"}})
	if err == nil {
		t.Fatal("BuildManifest() with duplicate formId should return error")
	}
}

func TestWriteManifest_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ManifestFileName)
	stamp := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	m := model.Manifest{
		"zeta":  {LastModified: stamp, MD5: "aa58ad66124398fdaee8fff9e3092cd8"},
		"alpha": {LastModified: stamp, MD5: "9fe3594a5625ac06a24cf131730f2d81"},
	}
	if err := WriteManifest(path, m); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Index(string(data), "alpha") > strings.Index(string(data), "zeta") {
		t.Error("manifest keys are not written in sorted order")
	}

	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if !got["zeta"].LastModified.Equal(stamp) || got["zeta"].MD5 != m["zeta"].MD5 {
		t.Errorf("zeta = %+v, want %+v", got["zeta"], m["zeta"])
	}
}

func TestDiffManifest(t *testing.T) {
	prev := model.Manifest{
		"entry":     {MD5: "1"},
		"door-info": {MD5: "2"},
		"legacy":    {MD5: "3"},
	}
	next := model.Manifest{
		"entry":       {MD5: "1"},
		"door-info":   {MD5: "changed"},
		"window-info": {MD5: "4"},
	}
	d := DiffManifest(prev, next)
	if !reflect.DeepEqual(d.Added, []string{"window-info"}) {
		t.Errorf("Added = %v", d.Added)
	}
	if !reflect.DeepEqual(d.Updated, []string{"door-info"}) {
		t.Errorf("Updated = %v", d.Updated)
	}
	if !reflect.DeepEqual(d.Removed, []string{"legacy"}) {
		t.Errorf("Removed = %v", d.Removed)
	}
	if DiffManifest(prev, prev).Empty() != true {
		t.Error("diff of identical manifests is not empty")
	}
}
