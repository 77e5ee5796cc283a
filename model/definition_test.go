package model

import (
	"encoding/json"
	"testing"
)

func TestFlowStep_StepID(t *testing.T) {
	tests := []struct {
		name string
		step FlowStep
		want string
	}{
		{"explicit id", FlowStep{ID: "finalize", FormType: FormTypeAction, Order: 3}, "finalize"},
		{"data collection", FlowStep{FormType: FormTypeDataCollection, FormTemplate: "door-info", Order: 2}, "door-info"},
		{"action", FlowStep{FormType: FormTypeAction, Order: 3}, "action:3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.StepID(); got != tt.want {
				t.Errorf("StepID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextVariables_UnmarshalJSON(t *testing.T) {
	var step FlowStep
	if err := json.Unmarshal([]byte(`{"order":1,"contextVariables":["doorWidth","doorHeight"]}`), &step); err != nil {
		t.Fatalf("Unmarshal list: %v", err)
	}
	if step.ContextVariables["doorWidth"] != "doorWidth" {
		t.Errorf("list form: doorWidth = %q, want doorWidth", step.ContextVariables["doorWidth"])
	}

	step = FlowStep{}
	if err := json.Unmarshal([]byte(`{"order":1,"contextVariables":{"width":"door-width"}}`), &step); err != nil {
		t.Fatalf("Unmarshal object: %v", err)
	}
	if step.ContextVariables["width"] != "door-width" {
		t.Errorf("object form: width = %q, want door-width", step.ContextVariables["width"])
	}

	if err := json.Unmarshal([]byte(`{"order":1,"contextVariables":7}`), &step); err == nil {
		t.Error("expected error for numeric contextVariables")
	}
}

func TestFlowDefinition_defaults(t *testing.T) {
	flow := &FlowDefinition{
		Name: "door",
		MainFlow: MainFlow{Steps: []FlowStep{
			{Order: 3, FormType: FormTypeAction, ID: "action:finalize"},
			{Order: 1, FormType: FormTypeDataCollection, FormTemplate: "entry"},
			{Order: 2, FormType: FormTypeDataCollection, FormTemplate: "door-info"},
		}},
	}

	if got := flow.EntryStepID(); got != "entry" {
		t.Errorf("EntryStepID() = %q, want entry", got)
	}
	if got := flow.CompletionStepID(); got != "action:finalize" {
		t.Errorf("CompletionStepID() = %q, want action:finalize", got)
	}
	steps := flow.SortedSteps()
	if steps[0].Order != 1 || steps[2].Order != 3 {
		t.Errorf("SortedSteps() orders = %d..%d, want 1..3", steps[0].Order, steps[2].Order)
	}
	if flow.MainFlow.Steps[0].Order != 3 {
		t.Error("SortedSteps() mutated the definition")
	}
}

func TestFlowDefinition_entrySkipsRevisionOnly(t *testing.T) {
	flow := &FlowDefinition{
		MainFlow: MainFlow{Steps: []FlowStep{
			{Order: 1, FormType: FormTypeDataCollection, FormTemplate: "inspection", RevisionOnly: true},
			{Order: 2, FormType: FormTypeDataCollection, FormTemplate: "entry"},
		}},
	}
	if got := flow.EntryStepID(); got != "entry" {
		t.Errorf("EntryStepID() = %q, want entry", got)
	}
}

func TestFormTemplate_Field(t *testing.T) {
	tmpl := &FormTemplate{
		FormID: "door-info",
		Sections: []FormSection{
			{ID: "frame", Fields: []FormField{{ID: "hasFrame", Type: FieldTypeRadio}}},
			{ID: "size", Fields: []FormField{{ID: "width", Type: FieldTypeNumber}}},
		},
	}
	if _, ok := tmpl.Field("width"); !ok {
		t.Error("Field(width) not found")
	}
	if _, ok := tmpl.Field("nope"); ok {
		t.Error("Field(nope) found")
	}
	if n := len(tmpl.Fields()); n != 2 {
		t.Errorf("len(Fields()) = %d, want 2", n)
	}
}
