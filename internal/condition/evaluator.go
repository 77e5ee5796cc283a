// Package condition decides field visibility and step eligibility. Every
// function here is pure: results depend only on the definition and the typed
// value snapshot passed in.
package condition

import (
	"strings"

	"github.com/pitabwire/formflow/model"
)

// Visible reports whether field is shown for the given snapshot. A field
// without a conditional rule is always visible.
func Visible(field model.FormField, snapshot model.Values) bool {
	return EvaluateRule(field.Conditional, snapshot)
}

// EvaluateRule evaluates a conditional rule. A nil rule or one without
// conditions holds. OR requires at least one condition to hold, any other
// logic value is treated as AND.
func EvaluateRule(rule *model.ConditionalRule, snapshot model.Values) bool {
	if rule == nil || len(rule.Conditions) == 0 {
		return true
	}
	if strings.EqualFold(rule.Logic, model.LogicOr) {
		for _, c := range rule.Conditions {
			if Evaluate(c, snapshot) {
				return true
			}
		}
		return false
	}
	for _, c := range rule.Conditions {
		if !Evaluate(c, snapshot) {
			return false
		}
	}
	return true
}

// Evaluate applies one condition to the snapshot. A missing or null value
// satisfies only notEquals. Values of different kinds never compare equal and
// never order.
func Evaluate(c model.Condition, snapshot model.Values) bool {
	actual := snapshot.Get(c.FieldID)
	if actual.IsNull() {
		return c.Operator == model.OpNotEquals
	}

	switch c.Operator {
	case model.OpEquals:
		return matches(actual, c.Value)
	case model.OpNotEquals:
		return !matches(actual, c.Value)
	case model.OpOneOf, model.OpIn:
		for _, candidate := range c.Value.Items() {
			if matches(actual, candidate) {
				return true
			}
		}
		return false
	case model.OpGreaterThan:
		return compareNumbers(actual, c.Value, func(a, b float64) bool { return a > b })
	case model.OpGreaterThanOrEqual:
		return compareNumbers(actual, c.Value, func(a, b float64) bool { return a >= b })
	case model.OpLessThan:
		return compareNumbers(actual, c.Value, func(a, b float64) bool { return a < b })
	case model.OpLessThanOrEqual:
		return compareNumbers(actual, c.Value, func(a, b float64) bool { return a <= b })
	}
	return false
}

// matches compares a snapshot value with a literal. A list value (multi-choice
// checkbox) matches when it contains the literal.
func matches(actual, expected model.Value) bool {
	if actual.Kind() == model.KindList && expected.Kind() != model.KindList {
		for _, item := range actual.Items() {
			if item.Equal(expected) {
				return true
			}
		}
		return false
	}
	return actual.Equal(expected)
}

func compareNumbers(actual, expected model.Value, cmp func(a, b float64) bool) bool {
	a, ok := actual.Num()
	if !ok {
		return false
	}
	b, ok := expected.Num()
	if !ok {
		return false
	}
	return cmp(a, b)
}

// VisibleFields returns the set of visible field ids of a template.
func VisibleFields(tmpl *model.FormTemplate, snapshot model.Values) map[string]bool {
	out := make(map[string]bool)
	for _, f := range tmpl.Fields() {
		if Visible(f, snapshot) {
			out[f.ID] = true
		}
	}
	return out
}

// KnownOperator reports whether op is supported by Evaluate.
func KnownOperator(op string) bool {
	switch op {
	case model.OpEquals, model.OpNotEquals, model.OpOneOf, model.OpIn,
		model.OpGreaterThan, model.OpGreaterThanOrEqual,
		model.OpLessThan, model.OpLessThanOrEqual:
		return true
	}
	return false
}
