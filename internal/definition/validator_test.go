package definition

import (
	"strings"
	"testing"

	"github.com/pitabwire/formflow/model"
)

func validTemplate(formID, prefix string) model.FormTemplate {
	return model.FormTemplate{
		FormID:   formID,
		ItemType: "door",
		Title:    "Door",
		Sections: []model.FormSection{{
			ID: prefix + "-section",
			Fields: []model.FormField{
				{
					ID: prefix + "-hasFrame", Type: model.FieldTypeRadio, Required: true,
					Options: []model.FieldOption{{Value: model.Number(1), Label: "Yes"}, {Value: model.Number(0), Label: "No"}},
				},
				{
					ID: prefix + "-depth", Type: model.FieldTypeNumber,
					Conditional: &model.ConditionalRule{Conditions: []model.Condition{
						{FieldID: prefix + "-hasFrame", Operator: model.OpEquals, Value: model.Number(1)},
					}},
				},
			},
		}},
		SubmitButton: model.SubmitButton{Text: "Save", Action: "submit"},
	}
}

func validFlow() model.FlowDefinition {
	return model.FlowDefinition{
		Name: "door",
		MainFlow: model.MainFlow{Steps: []model.FlowStep{
			{Order: 1, FormType: model.FormTypeDataCollection, FormTemplate: "entry"},
			{Order: 2, FormType: model.FormTypeDataCollection, FormTemplate: "door-info",
				ContextVariables: model.ContextVariables{"frame": "door-hasFrame"}},
			{Order: 3, FormType: model.FormTypeAction, ID: "action:finalize"},
		}},
		Metadata: model.FlowMetadata{
			EntryForm:          "entry",
			CompletionCriteria: model.CompletionCriteria{CompletionStep: "action:finalize"},
		},
	}
}

func testManifest() model.Manifest {
	return model.Manifest{"entry": {MD5: "a"}, "door-info": {MD5: "b"}}
}

func hasError(errs []VError, code, pathContains string) bool {
	for _, e := range errs {
		if e.Code == code && strings.Contains(e.Path, pathContains) {
			return true
		}
	}
	return false
}

// --- Templates ---

func TestValidateTemplates_valid(t *testing.T) {
	errs := NewValidator().ValidateTemplates([]model.FormTemplate{
		validTemplate("entry", "entry"),
		validTemplate("door-info", "door"),
	})
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestValidateTemplates_idCollisions(t *testing.T) {
	a := validTemplate("door-info", "door")
	b := validTemplate("door-info", "door")
	b.SourceFile = "templates/copy.json"

	errs := NewValidator().ValidateTemplates([]model.FormTemplate{a, b})

	var forms, sections, fields int
	for _, e := range errs {
		if e.Code != CodeDuplicateID {
			continue
		}
		switch {
		case strings.Contains(e.Message, "form id"):
			forms++
		case strings.Contains(e.Message, "section id"):
			sections++
		case strings.Contains(e.Message, "field id"):
			fields++
		}
	}
	if forms != 1 || sections != 1 || fields != 2 {
		t.Errorf("collisions form/section/field = %d/%d/%d, want 1/1/2: %v", forms, sections, fields, errs)
	}
	if !hasError(errs, CodeDuplicateID, "templates/copy.json") {
		t.Errorf("collision path should name the second file: %v", errs)
	}
}

func TestValidateTemplates_fieldRules(t *testing.T) {
	tmpl := validTemplate("door-info", "door")
	fields := tmpl.Sections[0].Fields
	fields[0].Options = append(fields[0].Options, model.FieldOption{Value: model.String("maybe")})
	fields[1].Conditional.Conditions[0].Value = model.String("1")
	fields = append(fields,
		model.FormField{ID: "door-kind", Type: model.FieldTypeSelect},
		model.FormField{ID: "door-color", Type: "colour"},
		model.FormField{ID: "door-tag", Type: model.FieldTypeInput, Validation: &model.FieldValidation{Pattern: "("}},
		model.FormField{ID: "door-x", Type: model.FieldTypeText, Conditional: &model.ConditionalRule{
			Logic:      "XOR",
			Conditions: []model.Condition{{FieldID: "nowhere", Operator: "like"}},
		}},
	)
	tmpl.Sections[0].Fields = fields

	errs := NewValidator().ValidateTemplates([]model.FormTemplate{tmpl})

	checks := []struct{ code, path string }{
		{CodeInvalidOption, "fields[0].options[2].value"},
		{CodeInvalidOption, "fields[1].conditional.conditions[0].value"},
		{CodeRequired, "fields[2].options"},
		{CodeInvalidEnum, "fields[3].type"},
		{CodeInvalidPattern, "fields[4].validation.pattern"},
		{CodeInvalidEnum, "fields[5].conditional.logic"},
		{CodeInvalidEnum, "fields[5].conditional.conditions[0].operator"},
		{CodeRefNotFound, "fields[5].conditional.conditions[0].fieldId"},
	}
	for _, c := range checks {
		if !hasError(errs, c.code, c.path) {
			t.Errorf("missing %s at %s in %v", c.code, c.path, errs)
		}
	}
}

func TestValidateTemplates_requiredKeys(t *testing.T) {
	errs := NewValidator().ValidateTemplates([]model.FormTemplate{{}})
	for _, p := range []string{".formId", ".itemType", ".title", ".sections", ".submitButton.text"} {
		if !hasError(errs, CodeRequired, p) {
			t.Errorf("missing REQUIRED for %s", p)
		}
	}
}

// --- Flows ---

func templatesByID() map[string]model.FormTemplate {
	return map[string]model.FormTemplate{
		"entry":     validTemplate("entry", "entry"),
		"door-info": validTemplate("door-info", "door"),
	}
}

func TestValidateFlow_valid(t *testing.T) {
	errs := NewValidator().ValidateFlow("flow", validFlow(), testManifest(), templatesByID())
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestValidateFlow_unresolvedTemplate(t *testing.T) {
	flow := validFlow()
	flow.MainFlow.Steps[1].FormTemplate = "window-info"

	errs := NewValidator().ValidateFlow("flow", flow, testManifest(), nil)
	if !hasError(errs, CodeRefNotFound, "steps[1].formTemplate") {
		t.Errorf("errors = %v, want REF_NOT_FOUND for steps[1].formTemplate", errs)
	}
}

func TestValidateFlow_structure(t *testing.T) {
	flow := validFlow()
	flow.MainFlow.Steps = append(flow.MainFlow.Steps,
		model.FlowStep{Order: 3, FormType: model.FormTypeAction, ID: "action:notify"},
		model.FlowStep{Order: 4, FormType: model.FormTypeAction, FormTemplate: "entry", ID: "action:x"},
		model.FlowStep{Order: 5, FormType: "wizard"},
		model.FlowStep{Order: 6, FormType: model.FormTypeDataCollection},
		model.FlowStep{Order: 7, FormType: model.FormTypeAction, ID: "action:y",
			Condition: &model.StepCondition{Expression: "a ==", Parent: &model.StepCondition{Expression: "(b"}}},
	)
	flow.Metadata.EntryForm = "start"
	flow.Metadata.CompletionCriteria.CompletionStep = "finish"
	flow.Metadata.CompletionCriteria.RequiredSteps = []string{"entry", "ghost"}
	flow.MainFlow.Steps[1].ContextVariables = model.ContextVariables{"w": "door-width"}

	errs := NewValidator().ValidateFlow("flow", flow, testManifest(), templatesByID())

	checks := []struct{ code, path string }{
		{CodeDuplicateID, "steps[3].order"},
		{CodeInvalidEnum, "steps[4].formTemplate"},
		{CodeInvalidEnum, "steps[5].formType"},
		{CodeRequired, "steps[6].formTemplate"},
		{CodeInvalidExpression, "steps[7].condition.expression"},
		{CodeInvalidExpression, "steps[7].condition.parent.expression"},
		{CodeRefNotFound, "metadata.entryForm"},
		{CodeRefNotFound, "completionCriteria.completionStep"},
		{CodeRefNotFound, "requiredSteps[1]"},
		{CodeRefNotFound, "contextVariables.w"},
	}
	for _, c := range checks {
		if !hasError(errs, c.code, c.path) {
			t.Errorf("missing %s at %s in %v", c.code, c.path, errs)
		}
	}
}

func TestValidateFlow_entryStep(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*model.FlowDefinition)
		code   string
		path   string
	}{
		{"action entry", func(f *model.FlowDefinition) { f.Metadata.EntryForm = "action:finalize" }, CodeInvalidEntry, "metadata.entryForm"},
		{"later data-collection entry", func(f *model.FlowDefinition) { f.Metadata.EntryForm = "door-info" }, CodeInvalidEntry, "metadata.entryForm"},
		{"revision-only entry", func(f *model.FlowDefinition) { f.MainFlow.Steps[0].RevisionOnly = true; f.Metadata.EntryForm = "entry" }, CodeInvalidEntry, "metadata.entryForm"},
		{"no data-collection step", func(f *model.FlowDefinition) {
			f.MainFlow.Steps = []model.FlowStep{{Order: 1, FormType: model.FormTypeAction, ID: "action:finalize"}}
			f.Metadata.EntryForm = ""
		}, CodeRequired, "mainFlow.steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := validFlow()
			tt.modify(&flow)
			errs := NewValidator().ValidateFlow("flow", flow, testManifest(), templatesByID())
			if !hasError(errs, tt.code, tt.path) {
				t.Errorf("errors = %v, want %s at %s", errs, tt.code, tt.path)
			}
		})
	}
}

func TestValidateFlow_entryDefaultsToFirstStep(t *testing.T) {
	flow := validFlow()
	flow.Metadata.EntryForm = ""
	flow.MainFlow.Steps[0].RevisionOnly = true

	errs := NewValidator().ValidateFlow("flow", flow, testManifest(), templatesByID())
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Error("AsError(nil) != nil")
	}
	err := AsError([]VError{{Path: "flow.x", Code: CodeRefNotFound, Message: "missing"}})
	if !model.HasCode(err, model.ErrReferentialIntegrity) {
		t.Errorf("AsError() = %v, want REFERENTIAL_INTEGRITY", err)
	}
}
