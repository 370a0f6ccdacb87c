package model

import "time"

// Coarse case lifecycle states.
const (
	CaseStatusNew        = "new"
	CaseStatusInProgress = "in_progress"
	CaseStatusCompleted  = "completed"
)

// Timeline event types.
const (
	EventCaseCreated       = "case_created"
	EventCaseAssigned      = "case_assigned"
	EventCaseCompleted     = "case_completed"
	EventTaskStatusUpdated = "task_status_updated"
	EventStageCompleted    = "stage_completed"
	EventPositionChanged   = "position_changed"
)

// CaseInstance is one grant application moving through a workflow. It owns an
// independent deep copy of the workflow's stage/task tree, taken at creation
// time, so later edits to the workflow template never retroactively alter a
// case in flight.
type CaseInstance struct {
	ID           string             `json:"id"`
	WorkflowCode string             `json:"workflow_code"`
	CaseRef      string             `json:"case_ref"`
	Status       string             `json:"status"`
	Position     Position           `json:"position"`
	Stages       []CaseStage        `json:"stages"`
	AssignedUser string             `json:"assigned_user,omitempty"`
	Outcomes     map[string]Outcome `json:"outcomes,omitempty"`
	Payload      map[string]any     `json:"payload,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Version      int                `json:"version"`
}

// CaseStage is a case's live copy of one workflow stage.
type CaseStage struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	TaskGroups []CaseTaskGroup `json:"task_groups,omitempty"`
}

// CaseTaskGroup is a case's live copy of one task group.
type CaseTaskGroup struct {
	Code  string     `json:"code"`
	Name  string     `json:"name"`
	Tasks []CaseTask `json:"tasks"`
}

// CaseTask carries a template task plus the case's live status bookkeeping.
type CaseTask struct {
	Task
	Status     string     `json:"status"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	UpdatedBy  string     `json:"updated_by,omitempty"`
	CommentRef string     `json:"comment_ref,omitempty"`
}

// IsComplete reports whether the task's live status is a completing option.
func (t CaseTask) IsComplete() bool {
	return t.StatusCompletes(t.Status)
}

// Outcome is the audit record left on a stage when it is exited through a
// transition.
type Outcome struct {
	ActionCode string    `json:"action_code"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	CommentRef string    `json:"comment_ref,omitempty"`
}

// TimelineEvent is one entry in a case's append-only audit log.
type TimelineEvent struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"case_id"`
	Type       string         `json:"type"`
	StageCode  string         `json:"stage_code,omitempty"`
	ActorID    string         `json:"actor_id"`
	Data       map[string]any `json:"data,omitempty"`
	CommentRef string         `json:"comment_ref,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CaseSummary is a lightweight representation of a case used in list views.
type CaseSummary struct {
	ID           string    `json:"id"`
	WorkflowCode string    `json:"workflow_code"`
	CaseRef      string    `json:"case_ref"`
	Status       string    `json:"status"`
	Position     string    `json:"position"`
	AssignedUser string    `json:"assigned_user,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusChanged is the notification payload produced when a case changes
// position. Delivery belongs to the notification collaborator; this type
// only guarantees payload correctness.
type StatusChanged struct {
	CaseID       string    `json:"case_id"`
	CaseRef      string    `json:"case_ref"`
	WorkflowCode string    `json:"workflow_code"`
	FromPosition string    `json:"from_position"`
	ToPosition   string    `json:"to_position"`
	ActionCode   string    `json:"action_code,omitempty"`
	ActorID      string    `json:"actor_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// CloneStages takes the case's independent deep copy of a workflow's
// stage/task-group/task tree. Every task starts in its first non-completing
// status option (falling back to the first option), which for the default
// vocabulary is pending.
func CloneStages(w WorkflowDefinition) []CaseStage {
	stages := make([]CaseStage, 0, w.StageCount())
	for _, ph := range w.Phases {
		for _, st := range ph.Stages {
			cs := CaseStage{Code: st.Code, Name: st.Name}
			for _, tg := range st.TaskGroups {
				ctg := CaseTaskGroup{Code: tg.Code, Name: tg.Name}
				for _, t := range tg.Tasks {
					task := t
					task.StatusOptions = append([]StatusOption(nil), t.EffectiveOptions()...)
					ctg.Tasks = append(ctg.Tasks, CaseTask{
						Task:   task,
						Status: initialTaskStatus(task),
					})
				}
				cs.TaskGroups = append(cs.TaskGroups, ctg)
			}
			stages = append(stages, cs)
		}
	}
	return stages
}

func initialTaskStatus(t Task) string {
	opts := t.EffectiveOptions()
	for _, o := range opts {
		if !o.Completes {
			return o.Code
		}
	}
	return opts[0].Code
}

// FindStage returns a pointer into the case's live stage tree.
func (c *CaseInstance) FindStage(code string) *CaseStage {
	for i := range c.Stages {
		if c.Stages[i].Code == code {
			return &c.Stages[i]
		}
	}
	return nil
}

// FindTask returns a pointer into the live task tree, or nil when the stage,
// group, or task does not exist.
func (c *CaseInstance) FindTask(stageCode, groupCode, taskCode string) *CaseTask {
	st := c.FindStage(stageCode)
	if st == nil {
		return nil
	}
	for i := range st.TaskGroups {
		if st.TaskGroups[i].Code != groupCode {
			continue
		}
		for j := range st.TaskGroups[i].Tasks {
			if st.TaskGroups[i].Tasks[j].Code == taskCode {
				return &st.TaskGroups[i].Tasks[j]
			}
		}
	}
	return nil
}

// Summary converts the case to its list-view form.
func (c *CaseInstance) Summary() CaseSummary {
	return CaseSummary{
		ID:           c.ID,
		WorkflowCode: c.WorkflowCode,
		CaseRef:      c.CaseRef,
		Status:       c.Status,
		Position:     c.Position.String(),
		AssignedUser: c.AssignedUser,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
