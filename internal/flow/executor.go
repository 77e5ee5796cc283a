// Package flow walks a session through the ordered steps of a flow definition.
// The Executor is a pure state machine: it takes a FlowState and returns a new
// one, and never persists anything itself.
package flow

import (
	"fmt"
	"math"
	"time"

	"github.com/pitabwire/formflow/internal/condition"
	"github.com/pitabwire/formflow/internal/definition"
	"github.com/pitabwire/formflow/internal/form"
	"github.com/pitabwire/formflow/model"
)

// StepResult describes the outcome of an accepted submission.
type StepResult struct {
	// Submission is the record to persist. It has no id yet.
	Submission model.FormSubmission
	// Actions lists action steps completed while advancing.
	Actions []model.ActionStatus
	// Completed is true when this submission completed the flow.
	Completed bool
	// Revision is true when a completed tab was re-submitted.
	Revision bool
	// Hidden lists submitted fields dropped because they were not visible.
	Hidden []string
}

// Executor applies flow transitions against the definitions in a registry.
type Executor struct {
	registry *definition.Registry
	now      func() time.Time
}

// NewExecutor creates a new Executor.
func NewExecutor(registry *definition.Registry) *Executor {
	return &Executor{
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start builds the initial state of a session: the entry step is active and
// every other data-collection step is pending. Revision-only steps are only
// included when revision is true.
func (e *Executor) Start(flowID, sessionID string, meta model.SessionMetadata, revision bool) (*model.FlowState, error) {
	flow, ok := e.registry.GetFlow(flowID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("flow %q not found", flowID))
	}

	now := e.now()
	state := &model.FlowState{
		SessionID:  sessionID,
		FlowID:     flowID,
		Status:     model.FlowStatusActive,
		Variables:  seedVariables(meta),
		Values:     make(model.Values),
		IsRevision: revision,
		Metadata:   meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, s := range flow.SortedSteps() {
		if s.IsAction() || !included(s, revision) {
			continue
		}
		state.Tabs = append(state.Tabs, model.Tab{
			StepID: s.StepID(),
			FormID: s.FormTemplate,
			Label:  e.tabLabel(s),
			Order:  s.Order,
			Status: model.TabStatusPending,
		})
	}

	entry := flow.EntryStepID()
	idx := tabIndex(state.Tabs, entry)
	if idx < 0 {
		return nil, model.NewReferentialIntegrityError(
			fmt.Sprintf("flow %q has no data-collection entry step %q", flowID, entry), nil)
	}
	state.Tabs[idx].Status = model.TabStatusActive
	state.CurrentStepID = entry
	state.ViewStepID = entry
	return state, nil
}

// Submit validates raw against the template of stepID and returns the next
// state. The active step advances the flow; a completed step is accepted as a
// revision. A revision leaves completed tabs untouched but re-checks the
// condition of the active step, which is skipped if it no longer holds. Any
// other step is stale. On error the input state is returned unchanged.
func (e *Executor) Submit(state *model.FlowState, stepID string, raw map[string]any) (*model.FlowState, *StepResult, error) {
	flow, ok := e.registry.GetFlow(state.FlowID)
	if !ok {
		return state, nil, model.NewNotFoundError(fmt.Sprintf("flow %q not found", state.FlowID))
	}

	tab, ok := state.Tab(stepID)
	if !ok {
		if _, exists := flow.Step(stepID); !exists {
			return state, nil, model.NewNotFoundError(fmt.Sprintf("step %q not found in flow %q", stepID, flow.Name))
		}
		return state, nil, model.NewStaleStepError(stepID, state.CurrentStepID)
	}

	var revision bool
	switch {
	case tab.Status == model.TabStatusActive && tab.StepID == state.CurrentStepID:
	case tab.Status == model.TabStatusCompleted:
		revision = true
	default:
		return state, nil, model.NewStaleStepError(tab.StepID, state.CurrentStepID)
	}

	step, _ := flow.Step(tab.StepID)
	tmpl, ok := e.registry.GetTemplate(step.FormTemplate)
	if !ok {
		return state, nil, model.NewReferentialIntegrityError(
			fmt.Sprintf("template %q of step %q is not loaded", step.FormTemplate, tab.StepID), nil)
	}

	res, err := form.Validate(&tmpl, raw)
	if err != nil {
		return state, nil, err
	}

	next := state.Clone()
	now := e.now()
	next.UpdatedAt = now
	if next.Values == nil {
		next.Values = make(model.Values)
	}
	if next.Variables == nil {
		next.Variables = make(model.Values)
	}
	for _, f := range tmpl.Fields() {
		delete(next.Values, f.ID)
	}
	for id, v := range res.Values {
		next.Values[id] = v
	}
	for _, name := range step.ContextVariables.Names() {
		if v, ok := res.Values[step.ContextVariables[name]]; ok {
			next.Variables[name] = v
		} else {
			delete(next.Variables, name)
		}
	}

	result := &StepResult{Revision: revision, Hidden: res.Hidden}
	wasCompleted := state.Completed()
	if revision {
		// A revision hands the view back to the step in progress.
		next.ViewStepID = next.CurrentStepID
		result.Actions = e.recheckCurrent(&flow, next)
	} else {
		next.Tabs[tabIndex(next.Tabs, tab.StepID)].Status = model.TabStatusCompleted
		result.Actions = e.advance(&flow, next, step)
	}
	result.Completed = !wasCompleted && next.Completed()

	version := tmpl.Version
	if version == "" {
		version = model.DefaultFormVersion
	}
	result.Submission = model.FormSubmission{
		SessionID: state.SessionID,
		ProjectID: state.Metadata.ProjectID,
		ItemID:    state.Metadata.ItemID,
		StepID:    tab.StepID,
		FormID:    tmpl.FormID,
		FormData:  res.Values.Export(),
		Metadata: model.SubmissionMetadata{
			SubmittedAt:      now,
			FormVersion:      version,
			UserID:           state.Metadata.UserID,
			SalesOrderNumber: state.Metadata.SalesOrderNumber,
			ItemNumber:       state.Metadata.ItemNumber,
			ProductType:      state.Metadata.ProductType,
			IsRevision:       revision || state.IsRevision,
		},
	}
	return next, result, nil
}

// advance moves past the just-completed step. Steps whose condition is false
// are skipped, action steps are completed on the way, and the first eligible
// data-collection step becomes active. Reaching the completion step, or
// running out of steps, completes the flow.
func (e *Executor) advance(flow *model.FlowDefinition, st *model.FlowState, done model.FlowStep) []model.ActionStatus {
	completion := flow.CompletionStepID()
	if done.StepID() == completion {
		finish(st)
		return nil
	}

	var actions []model.ActionStatus
	for _, s := range flow.SortedSteps() {
		if s.Order <= done.Order || !included(s, st.IsRevision) {
			continue
		}
		id := s.StepID()
		if !condition.StepEligible(s.Condition, st.Values.Merge(st.Variables)) {
			if i := tabIndex(st.Tabs, id); i >= 0 {
				st.Tabs[i].Status = model.TabStatusSkipped
			}
			continue
		}
		if s.IsAction() {
			a := model.ActionStatus{StepID: id, Order: s.Order, Status: model.TabStatusCompleted}
			actions = append(actions, a)
			st.Actions = append(st.Actions, a)
			if id == completion {
				finish(st)
				return actions
			}
			continue
		}
		i := tabIndex(st.Tabs, id)
		if i < 0 {
			continue
		}
		st.Tabs[i].Status = model.TabStatusActive
		st.CurrentStepID = id
		st.ViewStepID = id
		return actions
	}
	finish(st)
	return actions
}

// recheckCurrent skips the active step when a revision made its condition
// false and advances past it.
func (e *Executor) recheckCurrent(flow *model.FlowDefinition, st *model.FlowState) []model.ActionStatus {
	if st.Completed() || st.CurrentStepID == "" {
		return nil
	}
	current, ok := flow.Step(st.CurrentStepID)
	if !ok || condition.StepEligible(current.Condition, st.Values.Merge(st.Variables)) {
		return nil
	}
	st.Tabs[tabIndex(st.Tabs, current.StepID())].Status = model.TabStatusSkipped
	return e.advance(flow, st, current)
}

func finish(st *model.FlowState) {
	st.Status = model.FlowStatusCompleted
	st.CurrentStepID = ""
	st.ViewStepID = ""
}

// Navigate opens a completed tab for viewing or revision. Statuses and the
// current step are unchanged.
func (e *Executor) Navigate(state *model.FlowState, formID string) (*model.FlowState, error) {
	tab, ok := state.Tab(formID)
	if !ok {
		return state, model.NewNotFoundError(fmt.Sprintf("tab %q not found", formID))
	}
	if tab.Status != model.TabStatusCompleted {
		return state, model.NewTabNotNavigableError(formID, tab.Status)
	}
	next := state.Clone()
	next.ViewStepID = tab.StepID
	next.UpdatedAt = e.now()
	return next, nil
}

// Prefill returns initial values for the form of a tab. A field takes its
// previously submitted value, then a flow variable of the same name, then its
// template default.
func (e *Executor) Prefill(state *model.FlowState, formID string) (model.Values, error) {
	tab, ok := state.Tab(formID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("tab %q not found", formID))
	}
	tmpl, ok := e.registry.GetTemplate(tab.FormID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("template %q not found", tab.FormID))
	}

	out := make(model.Values)
	for _, f := range tmpl.Fields() {
		switch {
		case state.Values.Has(f.ID):
			out[f.ID] = state.Values[f.ID]
		case state.Variables.Has(f.ID):
			out[f.ID] = state.Variables[f.ID]
		case f.DefaultValue != nil && !f.DefaultValue.IsNull():
			out[f.ID] = *f.DefaultValue
		}
	}
	return out, nil
}

// Progress counts completed tabs against every tab that was not skipped.
func Progress(state *model.FlowState) model.Progress {
	var p model.Progress
	for _, t := range state.Tabs {
		switch t.Status {
		case model.TabStatusSkipped:
			continue
		case model.TabStatusCompleted:
			p.Completed++
		}
		p.Total++
	}
	if p.Total > 0 {
		p.Percentage = math.Round(float64(p.Completed)/float64(p.Total)*10000) / 100
	}
	return p
}

func (e *Executor) tabLabel(s model.FlowStep) string {
	if s.Label != "" {
		return s.Label
	}
	if tmpl, ok := e.registry.GetTemplate(s.FormTemplate); ok && tmpl.Title != "" {
		return tmpl.Title
	}
	return s.FormTemplate
}

func included(s model.FlowStep, revision bool) bool {
	return !s.RevisionOnly || revision
}

func tabIndex(tabs []model.Tab, stepID string) int {
	for i, t := range tabs {
		if t.StepID == stepID {
			return i
		}
	}
	return -1
}

// seedVariables exposes the session identifiers to step conditions.
func seedVariables(meta model.SessionMetadata) model.Values {
	vars := make(model.Values)
	for name, v := range map[string]string{
		"salesOrderNumber": meta.SalesOrderNumber,
		"itemNumber":       meta.ItemNumber,
		"productType":      meta.ProductType,
		"projectId":        meta.ProjectID,
		"itemId":           meta.ItemID,
	} {
		if v != "" {
			vars[name] = model.String(v)
		}
	}
	return vars
}
