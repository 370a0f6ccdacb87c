package model

import "fmt"

// Default task status codes. A task authored without explicit status options
// receives these three, with TaskStatusComplete as the sole completing
// option. This subsumes both the two-value (pending/complete) and
// three-value (pending/in_progress/complete) vocabularies found in older
// workflow documents.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusComplete   = "complete"
)

// TaskGroup is a named collection of tasks within a stage.
type TaskGroup struct {
	Code  string `yaml:"code"  json:"code"`
	Name  string `yaml:"name"  json:"name"`
	Tasks []Task `yaml:"tasks" json:"tasks"`
}

// Task is a checklist item a caseworker must resolve before the enclosing
// stage can be left through a task-gated transition.
type Task struct {
	Code          string         `yaml:"code"           json:"code"`
	Name          string         `yaml:"name"           json:"name"`
	Description   string         `yaml:"description"    json:"description,omitempty"`
	Mandatory     bool           `yaml:"mandatory"      json:"mandatory"`
	StatusOptions []StatusOption `yaml:"status_options" json:"status_options,omitempty"`
	RequiredRoles *RequiredRoles `yaml:"required_roles" json:"required_roles,omitempty"`
	Comment       *CommentPolicy `yaml:"comment"        json:"comment,omitempty"`
}

// StatusOption is one legal live status for a task. Completes marks the
// option as satisfying the stage gatekeeper.
type StatusOption struct {
	Code      string `yaml:"code"      json:"code"`
	Name      string `yaml:"name"      json:"name"`
	Completes bool   `yaml:"completes" json:"completes"`
	Theme     string `yaml:"theme"     json:"theme,omitempty"`
}

// DefaultStatusOptions returns the built-in option set applied to tasks
// authored without one.
func DefaultStatusOptions() []StatusOption {
	return []StatusOption{
		{Code: TaskStatusPending, Name: "Pending", Theme: ThemeNeutral},
		{Code: TaskStatusInProgress, Name: "In progress", Theme: ThemeInfo},
		{Code: TaskStatusComplete, Name: "Complete", Completes: true, Theme: ThemeInfo},
	}
}

// NewTask constructs a task, defaulting the status option set when none is
// authored and enforcing the completing-option invariant: without at least
// one option flagged Completes, the task could never reach a state the
// gatekeeper treats as done.
func NewTask(code, name string, opts []StatusOption) (Task, error) {
	if code == "" {
		return Task{}, NewBadRequestError("task code is required")
	}
	if len(opts) == 0 {
		opts = DefaultStatusOptions()
	}
	t := Task{Code: code, Name: name, StatusOptions: opts}
	if !t.HasCompletingOption() {
		return Task{}, NewBadRequestError(
			fmt.Sprintf("task %q has no status option with completes=true", code),
		)
	}
	return t, nil
}

// HasCompletingOption reports whether any status option completes the task.
func (t Task) HasCompletingOption() bool {
	for _, o := range t.StatusOptions {
		if o.Completes {
			return true
		}
	}
	return false
}

// EffectiveOptions returns the task's status options, falling back to the
// default set when the document authored none.
func (t Task) EffectiveOptions() []StatusOption {
	if len(t.StatusOptions) == 0 {
		return DefaultStatusOptions()
	}
	return t.StatusOptions
}

// ValidStatus reports whether code is a member of the task's closed status
// set.
func (t Task) ValidStatus(code string) bool {
	for _, o := range t.EffectiveOptions() {
		if o.Code == code {
			return true
		}
	}
	return false
}

// StatusCompletes reports whether code is a completing status for the task.
func (t Task) StatusCompletes(code string) bool {
	for _, o := range t.EffectiveOptions() {
		if o.Code == code {
			return o.Completes
		}
	}
	return false
}
