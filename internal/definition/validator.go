package definition

import (
	"fmt"
	"regexp"

	"github.com/casefold/grantflow/model"
)

// VError describes a single validation error in a workflow document.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks workflow documents structurally and referentially. It
// enforces authoring-time invariants: a URL-safe workflow code, at least two
// stages overall, unique codes per level, a completing status option on every
// task, and transition targets that resolve within the workflow.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var urlSafeCode = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks all workflow documents.
func (v *Validator) Validate(defs []model.WorkflowDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("workflows[%d]", i)
		if seen[def.Code] {
			errs = append(errs, VError{Path: prefix + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate workflow code %q", def.Code)})
		}
		seen[def.Code] = true
		errs = append(errs, v.validateWorkflow(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, def model.WorkflowDefinition) []VError {
	var errs []VError

	if def.Code == "" {
		errs = append(errs, VError{Path: prefix + ".code", Code: "REQUIRED", Message: "code is required"})
	} else if !urlSafeCode.MatchString(def.Code) {
		errs = append(errs, VError{Path: prefix + ".code", Code: "INVALID_FORMAT", Message: fmt.Sprintf("code %q is not URL-safe", def.Code)})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(def.Phases) == 0 {
		errs = append(errs, VError{Path: prefix + ".phases", Code: "REQUIRED", Message: "at least one phase is required"})
	}
	if def.StageCount() < 2 {
		errs = append(errs, VError{Path: prefix + ".phases", Code: "TOO_FEW_STAGES", Message: "a workflow needs at least two stages"})
	}

	stageCodes := make(map[string]bool)
	phaseCodes := make(map[string]bool)
	for i, ph := range def.Phases {
		pp := fmt.Sprintf("%s.phases[%d]", prefix, i)
		if ph.Code == "" {
			errs = append(errs, VError{Path: pp + ".code", Code: "REQUIRED", Message: "phase code is required"})
		}
		if phaseCodes[ph.Code] {
			errs = append(errs, VError{Path: pp + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate phase code %q", ph.Code)})
		}
		phaseCodes[ph.Code] = true

		for j, st := range ph.Stages {
			sp := fmt.Sprintf("%s.stages[%d]", pp, j)
			if st.Code == "" {
				errs = append(errs, VError{Path: sp + ".code", Code: "REQUIRED", Message: "stage code is required"})
			}
			if stageCodes[st.Code] {
				errs = append(errs, VError{Path: sp + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate stage code %q", st.Code)})
			}
			stageCodes[st.Code] = true
			errs = append(errs, v.validateStage(sp, st, def)...)
		}
	}

	return errs
}

func (v *Validator) validateStage(prefix string, st model.Stage, def model.WorkflowDefinition) []VError {
	var errs []VError

	statusCodes := make(map[string]bool)
	for i, status := range st.Statuses {
		sp := fmt.Sprintf("%s.statuses[%d]", prefix, i)
		if status.Code == "" {
			errs = append(errs, VError{Path: sp + ".code", Code: "REQUIRED", Message: "status code is required"})
		}
		if statusCodes[status.Code] {
			errs = append(errs, VError{Path: sp + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate status code %q", status.Code)})
		}
		statusCodes[status.Code] = true

		for j, tr := range status.Transitions {
			tp := fmt.Sprintf("%s.transitions[%d]", sp, j)
			pos, err := model.ParsePosition(tr.TargetPosition)
			if err != nil {
				errs = append(errs, VError{Path: tp + ".target_position", Code: "INVALID_FORMAT", Message: err.Error()})
				continue
			}
			if _, ok := def.FindStatus(pos); !ok {
				errs = append(errs, VError{
					Path:    tp + ".target_position",
					Code:    "UNRESOLVED_TARGET",
					Message: fmt.Sprintf("target %q does not resolve within workflow %q", tr.TargetPosition, def.Code),
				})
			}
			if tr.Action != nil {
				if tr.Action.Code == "" {
					errs = append(errs, VError{Path: tp + ".action.code", Code: "REQUIRED", Message: "action code is required"})
				}
				errs = append(errs, validateRequiredRoles(tp+".action.required_roles", tr.Action.RequiredRoles)...)
			}
		}
	}

	for i, a := range st.Actions {
		ap := fmt.Sprintf("%s.actions[%d]", prefix, i)
		if a.Code == "" {
			errs = append(errs, VError{Path: ap + ".code", Code: "REQUIRED", Message: "action code is required"})
		}
		errs = append(errs, validateRequiredRoles(ap+".required_roles", a.RequiredRoles)...)
	}

	groupCodes := make(map[string]bool)
	for i, tg := range st.TaskGroups {
		gp := fmt.Sprintf("%s.task_groups[%d]", prefix, i)
		if tg.Code == "" {
			errs = append(errs, VError{Path: gp + ".code", Code: "REQUIRED", Message: "task group code is required"})
		}
		if groupCodes[tg.Code] {
			errs = append(errs, VError{Path: gp + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate task group code %q", tg.Code)})
		}
		groupCodes[tg.Code] = true

		taskCodes := make(map[string]bool)
		for j, task := range tg.Tasks {
			tp := fmt.Sprintf("%s.tasks[%d]", gp, j)
			if task.Code == "" {
				errs = append(errs, VError{Path: tp + ".code", Code: "REQUIRED", Message: "task code is required"})
			}
			if taskCodes[task.Code] {
				errs = append(errs, VError{Path: tp + ".code", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate task code %q", task.Code)})
			}
			taskCodes[task.Code] = true

			// Explicit option sets must contain a completing option; tasks
			// with no options get the defaults, which always have one.
			if len(task.StatusOptions) > 0 && !task.HasCompletingOption() {
				errs = append(errs, VError{
					Path:    tp + ".status_options",
					Code:    "NO_COMPLETING_OPTION",
					Message: fmt.Sprintf("task %q has no status option with completes=true", task.Code),
				})
			}

			errs = append(errs, validateRequiredRoles(tp+".required_roles", task.RequiredRoles)...)
		}
	}

	return errs
}

// validateRequiredRoles rejects a role requirement with a missing list. The
// access evaluator distinguishes nil (authoring defect) from empty (no
// constraint), so a document omitting all_of or any_of would fail every
// firing of that action at runtime; catch it at load time instead.
func validateRequiredRoles(path string, rr *model.RequiredRoles) []VError {
	if rr == nil {
		return nil
	}
	var errs []VError
	if rr.AllOf == nil {
		errs = append(errs, VError{
			Path:    path + ".all_of",
			Code:    "NIL_ROLE_LIST",
			Message: "all_of must be present; use [] for no constraint",
		})
	}
	if rr.AnyOf == nil {
		errs = append(errs, VError{
			Path:    path + ".any_of",
			Code:    "NIL_ROLE_LIST",
			Message: "any_of must be present; use [] for no constraint",
		})
	}
	return errs
}
