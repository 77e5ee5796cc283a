// Package form converts raw submitted form data into typed values and checks
// it against a template.
package form

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/formflow/internal/condition"
	"github.com/pitabwire/formflow/model"
)

// Result is an accepted submission.
type Result struct {
	// Values holds the typed values of the visible fields only.
	Values model.Values
	// Hidden lists fields that were present in the input but hidden, and so
	// dropped from the payload.
	Hidden []string
}

// Validate coerces raw into typed values and validates every visible field of
// tmpl. It returns a VALIDATION_ERROR envelope listing every offending field
// id in template order, or the accepted Result.
func Validate(tmpl *model.FormTemplate, raw map[string]any) (*Result, error) {
	fields := tmpl.Fields()
	known := make(map[string]int, len(fields))
	for i, f := range fields {
		known[f.ID] = i
	}

	var details []model.FieldError

	var unknown []string
	for id := range raw {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		details = append(details, model.FieldError{
			Field:   id,
			Code:    model.FieldUnknown,
			Message: fmt.Sprintf("field %q is not part of form %q", id, tmpl.FormID),
		})
	}

	snapshot := make(model.Values, len(raw))
	coerceErrs := make(map[string]error)
	for _, f := range fields {
		rv, ok := raw[f.ID]
		if !ok {
			continue
		}
		v, err := Coerce(f, rv)
		if err != nil {
			coerceErrs[f.ID] = err
			continue
		}
		snapshot[f.ID] = v
	}

	result := &Result{Values: make(model.Values)}
	for _, f := range fields {
		if !condition.Visible(f, snapshot) {
			if _, present := raw[f.ID]; present {
				result.Hidden = append(result.Hidden, f.ID)
			}
			continue
		}
		if err, bad := coerceErrs[f.ID]; bad {
			details = append(details, model.FieldError{Field: f.ID, Code: model.FieldInvalidType, Message: err.Error()})
			continue
		}
		v := snapshot.Get(f.ID)
		if v.IsEmpty() {
			if f.Required {
				details = append(details, model.FieldError{
					Field:   f.ID,
					Code:    model.FieldRequired,
					Message: fmt.Sprintf("%s is required", labelOf(f)),
				})
			}
			continue
		}
		if fe := checkConstraints(f, v); fe != nil {
			details = append(details, *fe)
			continue
		}
		result.Values[f.ID] = v
	}

	if len(details) > 0 {
		return nil, model.NewValidationError(details).WithContext("form_id", tmpl.FormID)
	}
	return result, nil
}

// Coerce converts a raw JSON value into the typed value for field's type.
// Empty strings for non-text fields are treated as no answer.
func Coerce(field model.FormField, raw any) (model.Value, error) {
	if raw == nil {
		return model.Null(), nil
	}
	if v, ok := raw.(model.Value); ok {
		raw = v.Interface()
	}

	switch field.Type {
	case model.FieldTypeText, model.FieldTypeInput, model.FieldTypeTextarea:
		s, ok := raw.(string)
		if !ok {
			return model.Null(), fmt.Errorf("expected text, got %T", raw)
		}
		return model.String(s), nil

	case model.FieldTypeDate:
		s, ok := raw.(string)
		if !ok {
			return model.Null(), fmt.Errorf("expected date string, got %T", raw)
		}
		if s == "" {
			return model.Null(), nil
		}
		if !isDate(s) {
			return model.Null(), fmt.Errorf("%q is not a date", s)
		}
		return model.String(s), nil

	case model.FieldTypeNumber, model.FieldTypeFloat, model.FieldTypeSlider,
		model.FieldTypeRadio, model.FieldTypeSelect:
		return coerceNumber(raw)

	case model.FieldTypeInteger:
		v, err := coerceNumber(raw)
		if err != nil || v.IsNull() {
			return v, err
		}
		if n, _ := v.Num(); n != math.Trunc(n) {
			return model.Null(), fmt.Errorf("%v is not a whole number", n)
		}
		return v, nil

	case model.FieldTypeSwitch:
		return coerceBool(raw)

	case model.FieldTypeCheckbox:
		if len(field.Options) == 0 {
			return coerceBool(raw)
		}
		return coerceChoices(field, raw)

	case model.FieldTypeTable:
		return model.FromAny(raw), nil
	}

	return model.FromAny(raw), nil
}

func coerceNumber(raw any) (model.Value, error) {
	switch t := raw.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return model.Null(), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !finite(f) {
			return model.Null(), fmt.Errorf("%q is not a number", t)
		}
		return model.Number(f), nil
	case bool, []any, map[string]any:
		return model.Null(), fmt.Errorf("expected number, got %T", raw)
	}
	v := model.FromAny(raw)
	if v.Kind() != model.KindNumber {
		return model.Null(), fmt.Errorf("expected number, got %T", raw)
	}
	if f, _ := v.Num(); !finite(f) {
		return model.Null(), fmt.Errorf("%v is not a finite number", f)
	}
	return v, nil
}

// finite rejects NaN and the infinities, which cannot be stored as JSON.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func coerceBool(raw any) (model.Value, error) {
	switch t := raw.(type) {
	case bool:
		return model.Bool(t), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "":
			return model.Null(), nil
		case "true", "on", "yes":
			return model.Bool(true), nil
		case "false", "off", "no":
			return model.Bool(false), nil
		}
	}
	return model.Null(), fmt.Errorf("expected boolean, got %v", raw)
}

// coerceChoices handles multi-choice checkboxes: a list of option values. A
// scalar is accepted as a one-element list.
func coerceChoices(field model.FormField, raw any) (model.Value, error) {
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	numeric := len(field.Options) > 0 && field.Options[0].Value.Kind() == model.KindNumber
	out := make([]model.Value, 0, len(items))
	for _, item := range items {
		if numeric {
			v, err := coerceNumber(item)
			if err != nil {
				return model.Null(), err
			}
			if !v.IsNull() {
				out = append(out, v)
			}
			continue
		}
		out = append(out, model.FromAny(item))
	}
	return model.List(out...), nil
}

func checkConstraints(f model.FormField, v model.Value) *model.FieldError {
	if len(f.Options) > 0 {
		choices := []model.Value{v}
		if v.Kind() == model.KindList {
			choices = v.Items()
		}
		for _, c := range choices {
			if !hasOption(f.Options, c) {
				return &model.FieldError{
					Field:   f.ID,
					Code:    model.FieldInvalidOption,
					Message: fmt.Sprintf("%s is not an option of %s", c, labelOf(f)),
				}
			}
		}
	}

	if n, ok := v.Num(); ok {
		lo, hi := f.Min, f.Max
		if f.Validation != nil {
			if f.Validation.Min != nil {
				lo = f.Validation.Min
			}
			if f.Validation.Max != nil {
				hi = f.Validation.Max
			}
		}
		if (lo != nil && n < *lo) || (hi != nil && n > *hi) {
			return &model.FieldError{Field: f.ID, Code: model.FieldRange, Message: rangeMessage(f, lo, hi)}
		}
	}

	if s, ok := v.Str(); ok && f.Validation != nil && f.Validation.Pattern != "" {
		re, err := regexp.Compile(f.Validation.Pattern)
		if err == nil && !re.MatchString(s) {
			msg := f.Validation.Message
			if msg == "" {
				msg = fmt.Sprintf("%s has an invalid format", labelOf(f))
			}
			return &model.FieldError{Field: f.ID, Code: model.FieldPattern, Message: msg}
		}
	}
	return nil
}

func hasOption(options []model.FieldOption, v model.Value) bool {
	for _, o := range options {
		if o.Value.Equal(v) {
			return true
		}
	}
	return false
}

func rangeMessage(f model.FormField, lo, hi *float64) string {
	if f.Validation != nil && f.Validation.Message != "" {
		return f.Validation.Message
	}
	switch {
	case lo != nil && hi != nil:
		return fmt.Sprintf("%s must be between %g and %g", labelOf(f), *lo, *hi)
	case lo != nil:
		return fmt.Sprintf("%s must be at least %g", labelOf(f), *lo)
	default:
		return fmt.Sprintf("%s must be at most %g", labelOf(f), *hi)
	}
}

func labelOf(f model.FormField) string {
	if f.Label != "" {
		return f.Label
	}
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

func isDate(s string) bool {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
