package definition

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pitabwire/formflow/internal/condition"
	"github.com/pitabwire/formflow/model"
)

// Validation error codes.
const (
	CodeRequired          = "REQUIRED"
	CodeDuplicateID       = "DUPLICATE_ID"
	CodeRefNotFound       = "REF_NOT_FOUND"
	CodeInvalidEnum       = "INVALID_ENUM"
	CodeInvalidOption     = "INVALID_OPTION"
	CodeInvalidExpression = "INVALID_EXPRESSION"
	CodeInvalidPattern    = "INVALID_PATTERN"
	CodeInvalidEntry      = "INVALID_ENTRY"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// AsError converts validation errors into a REFERENTIAL_INTEGRITY envelope, or
// nil when errs is empty.
func AsError(errs []VError) error {
	if len(errs) == 0 {
		return nil
	}
	details := make([]model.FieldError, len(errs))
	for i, e := range errs {
		details[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return model.NewReferentialIntegrityError(
		fmt.Sprintf("%d definition error(s), first: %s", len(errs), errs[0].Error()), details)
}

// Arena is a registry of ids that must be unique across every template:
// form ids, section ids and field ids. Each id remembers where it was first
// declared so collisions can name both locations.
type Arena struct {
	forms    map[string]string
	sections map[string]string
	fields   map[string]string
}

// NewArena creates an empty Arena.
func NewArena() *Arena {
	return &Arena{
		forms:    make(map[string]string),
		sections: make(map[string]string),
		fields:   make(map[string]string),
	}
}

// Add claims every id declared by tmpl and reports collisions.
func (a *Arena) Add(prefix string, tmpl model.FormTemplate) []VError {
	var errs []VError
	claim := func(kind string, ids map[string]string, id, path string) {
		if id == "" {
			return
		}
		if owner, taken := ids[id]; taken {
			errs = append(errs, VError{
				Path:    path,
				Code:    CodeDuplicateID,
				Message: fmt.Sprintf("%s id %q already declared at %s", kind, id, owner),
			})
			return
		}
		ids[id] = path
	}

	claim("form", a.forms, tmpl.FormID, location(prefix, tmpl))
	for i, s := range tmpl.Sections {
		sp := fmt.Sprintf("%s.sections[%d]", location(prefix, tmpl), i)
		claim("section", a.sections, s.ID, sp)
		for j, f := range s.Fields {
			claim("field", a.fields, f.ID, fmt.Sprintf("%s.fields[%d]", sp, j))
		}
	}
	return errs
}

func location(prefix string, tmpl model.FormTemplate) string {
	if tmpl.SourceFile != "" {
		return tmpl.SourceFile
	}
	return prefix
}

// Validator validates templates structurally and flows referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var validFieldTypes = map[string]bool{
	model.FieldTypeText: true, model.FieldTypeInput: true, model.FieldTypeTextarea: true,
	model.FieldTypeNumber: true, model.FieldTypeInteger: true, model.FieldTypeFloat: true,
	model.FieldTypeSlider: true, model.FieldTypeRadio: true, model.FieldTypeSelect: true,
	model.FieldTypeCheckbox: true, model.FieldTypeSwitch: true, model.FieldTypeDate: true,
	model.FieldTypeTable: true,
}

// ValidateTemplates checks every template and enforces global id uniqueness.
func (v *Validator) ValidateTemplates(templates []model.FormTemplate) []VError {
	var errs []VError
	arena := NewArena()
	for i, t := range templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		errs = append(errs, arena.Add(prefix, t)...)
		errs = append(errs, v.validateTemplate(location(prefix, t), t)...)
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, t model.FormTemplate) []VError {
	var errs []VError

	if t.FormID == "" {
		errs = append(errs, VError{Path: prefix + ".formId", Code: CodeRequired, Message: "formId is required"})
	}
	if t.ItemType == "" {
		errs = append(errs, VError{Path: prefix + ".itemType", Code: CodeRequired, Message: "itemType is required"})
	}
	if t.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: CodeRequired, Message: "title is required"})
	}
	if len(t.Sections) == 0 {
		errs = append(errs, VError{Path: prefix + ".sections", Code: CodeRequired, Message: "at least one section is required"})
	}
	if t.SubmitButton.Text == "" {
		errs = append(errs, VError{Path: prefix + ".submitButton.text", Code: CodeRequired, Message: "submitButton.text is required"})
	}

	fieldTypes := make(map[string]string)
	for _, f := range t.Fields() {
		fieldTypes[f.ID] = f.Type
	}

	for i, s := range t.Sections {
		sp := fmt.Sprintf("%s.sections[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: CodeRequired, Message: "section id is required"})
		}
		for j, f := range s.Fields {
			errs = append(errs, v.validateField(fmt.Sprintf("%s.fields[%d]", sp, j), f, fieldTypes)...)
		}
	}
	return errs
}

func (v *Validator) validateField(prefix string, f model.FormField, fieldTypes map[string]string) []VError {
	var errs []VError

	if f.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: CodeRequired, Message: "field id is required"})
	}
	if f.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: CodeRequired, Message: "field type is required"})
	} else if !validFieldTypes[f.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: CodeInvalidEnum, Message: fmt.Sprintf("invalid field type %q", f.Type)})
	}

	if model.IsOptionFieldType(f.Type) {
		if len(f.Options) == 0 {
			errs = append(errs, VError{Path: prefix + ".options", Code: CodeRequired, Message: f.Type + " fields require options"})
		}
		for k, o := range f.Options {
			if o.Value.Kind() != model.KindNumber {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.options[%d].value", prefix, k),
					Code:    CodeInvalidOption,
					Message: fmt.Sprintf("%s option value %s must be numeric", f.Type, o.Value),
				})
			}
		}
	}

	if f.Validation != nil && f.Validation.Pattern != "" {
		if _, err := regexp.Compile(f.Validation.Pattern); err != nil {
			errs = append(errs, VError{Path: prefix + ".validation.pattern", Code: CodeInvalidPattern, Message: err.Error()})
		}
	}

	if f.Conditional != nil {
		cp := prefix + ".conditional"
		if f.Conditional.Logic != "" && !strings.EqualFold(f.Conditional.Logic, model.LogicAnd) &&
			!strings.EqualFold(f.Conditional.Logic, model.LogicOr) {
			errs = append(errs, VError{Path: cp + ".logic", Code: CodeInvalidEnum, Message: fmt.Sprintf("invalid logic %q", f.Conditional.Logic)})
		}
		for k, c := range f.Conditional.Conditions {
			ccp := fmt.Sprintf("%s.conditions[%d]", cp, k)
			if !condition.KnownOperator(c.Operator) {
				errs = append(errs, VError{Path: ccp + ".operator", Code: CodeInvalidEnum, Message: fmt.Sprintf("invalid operator %q", c.Operator)})
			}
			refType, ok := fieldTypes[c.FieldID]
			if !ok {
				errs = append(errs, VError{Path: ccp + ".fieldId", Code: CodeRefNotFound, Message: fmt.Sprintf("field %q not found in template", c.FieldID)})
				continue
			}
			if model.IsNumericFieldType(refType) && c.Operator != model.OpOneOf && c.Operator != model.OpIn &&
				c.Value.Kind() != model.KindNumber {
				errs = append(errs, VError{
					Path:    ccp + ".value",
					Code:    CodeInvalidOption,
					Message: fmt.Sprintf("field %q is numeric, compare value %s must be numeric", c.FieldID, c.Value),
				})
			}
		}
	}
	return errs
}

var validFormTypes = map[string]bool{
	model.FormTypeDataCollection: true, model.FormTypeAction: true,
}

// ValidateFlow checks a flow's structure and resolves every template reference
// against the manifest. templates may be nil to skip contextVariables checks.
func (v *Validator) ValidateFlow(prefix string, flow model.FlowDefinition, manifest model.Manifest, templates map[string]model.FormTemplate) []VError {
	var errs []VError

	if flow.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: CodeRequired, Message: "name is required"})
	}
	if len(flow.MainFlow.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".mainFlow.steps", Code: CodeRequired, Message: "at least one step is required"})
	}

	orders := make(map[int]bool)
	stepIDs := make(map[string]bool)
	for i, s := range flow.MainFlow.Steps {
		sp := fmt.Sprintf("%s.mainFlow.steps[%d]", prefix, i)

		if orders[s.Order] {
			errs = append(errs, VError{Path: sp + ".order", Code: CodeDuplicateID, Message: fmt.Sprintf("order %d is used by more than one step", s.Order)})
		}
		orders[s.Order] = true

		id := s.StepID()
		if stepIDs[id] {
			errs = append(errs, VError{Path: sp + ".id", Code: CodeDuplicateID, Message: fmt.Sprintf("step id %q is used by more than one step", id)})
		}
		stepIDs[id] = true

		switch {
		case s.FormType == "":
			errs = append(errs, VError{Path: sp + ".formType", Code: CodeRequired, Message: "formType is required"})
		case !validFormTypes[s.FormType]:
			errs = append(errs, VError{Path: sp + ".formType", Code: CodeInvalidEnum, Message: fmt.Sprintf("invalid formType %q", s.FormType)})
		case s.FormType == model.FormTypeDataCollection:
			errs = append(errs, v.validateStepTemplate(sp, s, manifest, templates)...)
		case s.FormTemplate != "":
			errs = append(errs, VError{Path: sp + ".formTemplate", Code: CodeInvalidEnum, Message: "action steps carry no formTemplate"})
		}

		for c, depth := s.Condition, 0; c != nil; c, depth = c.Parent, depth+1 {
			if strings.TrimSpace(c.Expression) == "" {
				continue
			}
			if _, err := condition.Compile(c.Expression); err != nil {
				errs = append(errs, VError{
					Path:    sp + ".condition" + strings.Repeat(".parent", depth) + ".expression",
					Code:    CodeInvalidExpression,
					Message: err.Error(),
				})
			}
		}
	}

	errs = append(errs, validateEntry(prefix, flow, stepIDs)...)
	cc := flow.Metadata.CompletionCriteria
	if cc.CompletionStep != "" && !stepIDs[cc.CompletionStep] {
		errs = append(errs, VError{Path: prefix + ".metadata.completionCriteria.completionStep", Code: CodeRefNotFound, Message: fmt.Sprintf("completion step %q not found in steps", cc.CompletionStep)})
	}
	for i, id := range cc.RequiredSteps {
		if !stepIDs[id] {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.metadata.completionCriteria.requiredSteps[%d]", prefix, i), Code: CodeRefNotFound, Message: fmt.Sprintf("required step %q not found in steps", id)})
		}
	}
	return errs
}

// validateEntry checks that the flow starts at its lowest-order data-collection
// step that every session includes.
func validateEntry(prefix string, flow model.FlowDefinition, stepIDs map[string]bool) []VError {
	if len(flow.MainFlow.Steps) == 0 {
		return nil
	}
	path := prefix + ".metadata.entryForm"
	entry := flow.Metadata.EntryForm
	if entry != "" && !stepIDs[entry] {
		return []VError{{Path: path, Code: CodeRefNotFound, Message: fmt.Sprintf("entryForm %q not found in steps", entry)}}
	}

	first := ""
	for _, s := range flow.SortedSteps() {
		if !s.IsAction() && !s.RevisionOnly {
			first = s.StepID()
			break
		}
	}
	if first == "" {
		return []VError{{Path: prefix + ".mainFlow.steps", Code: CodeRequired, Message: "at least one data-collection step outside revisions is required"}}
	}
	if entry == "" {
		return nil
	}

	step, _ := flow.Step(entry)
	switch {
	case step.IsAction():
		return []VError{{Path: path, Code: CodeInvalidEntry, Message: fmt.Sprintf("entryForm %q is an action step", entry)}}
	case step.RevisionOnly:
		return []VError{{Path: path, Code: CodeInvalidEntry, Message: fmt.Sprintf("entryForm %q is only included in revisions", entry)}}
	case entry != first:
		return []VError{{Path: path, Code: CodeInvalidEntry, Message: fmt.Sprintf("entryForm %q is not the first data-collection step %q", entry, first)}}
	}
	return nil
}

func (v *Validator) validateStepTemplate(sp string, s model.FlowStep, manifest model.Manifest, templates map[string]model.FormTemplate) []VError {
	if s.FormTemplate == "" {
		return []VError{{Path: sp + ".formTemplate", Code: CodeRequired, Message: "data-collection steps require formTemplate"}}
	}
	if _, ok := manifest[s.FormTemplate]; !ok {
		return []VError{{Path: sp + ".formTemplate", Code: CodeRefNotFound, Message: fmt.Sprintf("template %q not found in manifest", s.FormTemplate)}}
	}
	if templates == nil {
		return nil
	}
	tmpl, ok := templates[s.FormTemplate]
	if !ok {
		return []VError{{Path: sp + ".formTemplate", Code: CodeRefNotFound, Message: fmt.Sprintf("template %q is in the manifest but was not loaded", s.FormTemplate)}}
	}
	var errs []VError
	for _, name := range s.ContextVariables.Names() {
		src := s.ContextVariables[name]
		if _, ok := tmpl.Field(src); !ok {
			errs = append(errs, VError{
				Path:    sp + ".contextVariables." + name,
				Code:    CodeRefNotFound,
				Message: fmt.Sprintf("source field %q not found in template %q", src, s.FormTemplate),
			})
		}
	}
	return errs
}

// ValidateManifest reports manifest entries whose md5 does not match the
// loaded template and loaded templates missing from the manifest.
func (v *Validator) ValidateManifest(manifest model.Manifest, templates []model.FormTemplate) []VError {
	var errs []VError
	seen := make(map[string]bool)
	for _, t := range templates {
		seen[t.FormID] = true
		entry, ok := manifest[t.FormID]
		if !ok {
			errs = append(errs, VError{Path: "manifest." + t.FormID, Code: CodeRefNotFound, Message: fmt.Sprintf("template %q is missing from the manifest", t.FormID)})
			continue
		}
		if t.Checksum != "" && entry.MD5 != t.Checksum {
			errs = append(errs, VError{Path: "manifest." + t.FormID + ".md5", Code: CodeInvalidOption, Message: fmt.Sprintf("md5 %s does not match template content %s", entry.MD5, t.Checksum)})
		}
	}
	var orphaned []string
	for id := range manifest {
		if !seen[id] {
			orphaned = append(orphaned, id)
		}
	}
	sort.Strings(orphaned)
	for _, id := range orphaned {
		errs = append(errs, VError{Path: "manifest." + id, Code: CodeRefNotFound, Message: fmt.Sprintf("manifest entry %q has no template", id)})
	}
	return errs
}
