package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Field types.
const (
	FieldTypeText     = "text"
	FieldTypeInput    = "input"
	FieldTypeTextarea = "textarea"
	FieldTypeNumber   = "number"
	FieldTypeInteger  = "integer"
	FieldTypeFloat    = "float"
	FieldTypeSlider   = "slider"
	FieldTypeRadio    = "radio"
	FieldTypeSelect   = "select"
	FieldTypeCheckbox = "checkbox"
	FieldTypeSwitch   = "switch"
	FieldTypeDate     = "date"
	FieldTypeTable    = "table"
)

// Conditional operators.
const (
	OpEquals             = "equals"
	OpNotEquals          = "notEquals"
	OpOneOf              = "oneOf"
	OpIn                 = "in"
	OpGreaterThan        = "greaterThan"
	OpGreaterThanOrEqual = "greaterThanOrEqual"
	OpLessThan           = "lessThan"
	OpLessThanOrEqual    = "lessThanOrEqual"
)

// Conditional logic combinators.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Flow step form types.
const (
	FormTypeDataCollection = "data-collection"
	FormTypeAction         = "action"
)

// IsNumericFieldType reports whether values of the field type are numbers.
func IsNumericFieldType(t string) bool {
	switch t {
	case FieldTypeNumber, FieldTypeInteger, FieldTypeFloat, FieldTypeSlider,
		FieldTypeRadio, FieldTypeSelect:
		return true
	}
	return false
}

// IsOptionFieldType reports whether the field type requires an options list.
func IsOptionFieldType(t string) bool {
	return t == FieldTypeRadio || t == FieldTypeSelect
}

// --- Templates ---

// FormTemplate is the static schema of one form.
type FormTemplate struct {
	FormID       string        `json:"formId"`
	ItemType     string        `json:"itemType"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Version      string        `json:"version,omitempty"`
	Sections     []FormSection `json:"sections"`
	SubmitButton SubmitButton  `json:"submitButton"`

	// Checksum is the md5 of the source file, computed at load time.
	Checksum string `json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `json:"-"`
}

// Fields returns every field of the template in section order.
func (t *FormTemplate) Fields() []FormField {
	var out []FormField
	for _, s := range t.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

// Field looks up a field by id.
func (t *FormTemplate) Field(id string) (FormField, bool) {
	for _, s := range t.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return FormField{}, false
}

// FormSection is an ordered group of fields.
type FormSection struct {
	ID          string      `json:"id"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Fields      []FormField `json:"fields"`
}

// FormField describes one input of a form.
type FormField struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Label        string           `json:"label"`
	Type         string           `json:"type"`
	Required     bool             `json:"required,omitempty"`
	Placeholder  string           `json:"placeholder,omitempty"`
	HelpText     string           `json:"helpText,omitempty"`
	Options      []FieldOption    `json:"options,omitempty"`
	DefaultValue *Value           `json:"defaultValue,omitempty"`
	Min          *float64         `json:"min,omitempty"`
	Max          *float64         `json:"max,omitempty"`
	Step         *float64         `json:"step,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	Conditional  *ConditionalRule `json:"conditional,omitempty"`
}

// FieldOption is one choice of a radio or select field.
type FieldOption struct {
	Value Value  `json:"value"`
	Label string `json:"label"`
}

// FieldValidation carries additional per-field constraints.
type FieldValidation struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ConditionalRule decides a field's visibility.
type ConditionalRule struct {
	Conditions []Condition `json:"conditions"`
	Logic      string      `json:"logic,omitempty"`
}

// Condition compares one field of the snapshot against a literal.
type Condition struct {
	FieldID  string `json:"fieldId"`
	Operator string `json:"operator"`
	Value    Value  `json:"value"`
}

// SubmitButton describes the form's submit control.
type SubmitButton struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// --- Flows ---

// FlowDefinition is an ordered sequence of steps.
type FlowDefinition struct {
	Name     string       `json:"name"`
	Version  string       `json:"version,omitempty"`
	MainFlow MainFlow     `json:"mainFlow"`
	Metadata FlowMetadata `json:"metadata"`

	Checksum   string `json:"-"`
	SourceFile string `json:"-"`
}

// MainFlow holds the flow's steps.
type MainFlow struct {
	Steps []FlowStep `json:"steps"`
}

// FlowMetadata names the entry form and completion rules.
type FlowMetadata struct {
	EntryForm          string             `json:"entryForm,omitempty"`
	CompletionCriteria CompletionCriteria `json:"completionCriteria"`
}

// CompletionCriteria flags the step that completes the flow.
type CompletionCriteria struct {
	CompletionStep string   `json:"completionStep,omitempty"`
	RequiredSteps  []string `json:"requiredSteps,omitempty"`
	OutputFormat   string   `json:"outputFormat,omitempty"`
}

// FlowStep is one node of a flow.
type FlowStep struct {
	ID               string           `json:"id,omitempty"`
	Order            int              `json:"order"`
	FormType         string           `json:"formType"`
	FormTemplate     string           `json:"formTemplate,omitempty"`
	Label            string           `json:"label,omitempty"`
	Description      string           `json:"description,omitempty"`
	Purpose          string           `json:"purpose,omitempty"`
	ContextVariables ContextVariables `json:"contextVariables,omitempty"`
	Condition        *StepCondition   `json:"condition,omitempty"`
	RevisionOnly     bool             `json:"revisionOnly,omitempty"`
	Handles          *StepHandles     `json:"handles,omitempty"`
}

// StepID returns the identifier used for submissions and tabs.
func (s FlowStep) StepID() string {
	if s.ID != "" {
		return s.ID
	}
	if s.FormType == FormTypeAction || s.FormTemplate == "" {
		return fmt.Sprintf("action:%d", s.Order)
	}
	return s.FormTemplate
}

// IsAction reports whether the step carries no template.
func (s FlowStep) IsAction() bool {
	return s.FormType == FormTypeAction
}

// StepCondition skips a step when its expression evaluates false.
type StepCondition struct {
	Expression string         `json:"expression"`
	Variables  []string       `json:"variables,omitempty"`
	Parent     *StepCondition `json:"parent,omitempty"`
}

// StepHandles records graph-editor connection points.
type StepHandles struct {
	Target bool `json:"target"`
	Source bool `json:"source"`
}

// ContextVariables maps flow-variable name to source field id. It decodes
// from either a list of field ids or an object.
type ContextVariables map[string]string

// UnmarshalJSON accepts ["a","b"] and {"var":"field"}.
func (cv *ContextVariables) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		out := make(ContextVariables, len(list))
		for _, name := range list {
			out[name] = name
		}
		*cv = out
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("contextVariables: expected list or object: %w", err)
	}
	*cv = m
	return nil
}

// Names returns the variable names in sorted order.
func (cv ContextVariables) Names() []string {
	names := make([]string, 0, len(cv))
	for k := range cv {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SortedSteps returns the flow's steps ordered by ascending order.
func (f *FlowDefinition) SortedSteps() []FlowStep {
	steps := make([]FlowStep, len(f.MainFlow.Steps))
	copy(steps, f.MainFlow.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// Step looks up a step by its StepID.
func (f *FlowDefinition) Step(stepID string) (FlowStep, bool) {
	for _, s := range f.MainFlow.Steps {
		if s.StepID() == stepID {
			return s, true
		}
	}
	return FlowStep{}, false
}

// EntryStepID resolves the entry step: the configured entryForm, or the
// lowest-order data-collection step that is not revision-only.
func (f *FlowDefinition) EntryStepID() string {
	if f.Metadata.EntryForm != "" {
		return f.Metadata.EntryForm
	}
	for _, s := range f.SortedSteps() {
		if !s.IsAction() && !s.RevisionOnly {
			return s.StepID()
		}
	}
	return ""
}

// CompletionStepID resolves the completion step: the configured one, or the
// highest-order step.
func (f *FlowDefinition) CompletionStepID() string {
	if f.Metadata.CompletionCriteria.CompletionStep != "" {
		return f.Metadata.CompletionCriteria.CompletionStep
	}
	steps := f.SortedSteps()
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1].StepID()
}

// --- Manifest ---

// ManifestEntry records a template's content hash and modification time.
type ManifestEntry struct {
	LastModified time.Time `json:"lastModified"`
	MD5          string    `json:"md5"`
}

// Manifest maps formId to its entry.
type Manifest map[string]ManifestEntry

// IDs returns the manifest's form ids in sorted order.
func (m Manifest) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
