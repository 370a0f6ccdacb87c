package model

// Status display themes. Advisory classification for rendering only; the
// engine never branches on a theme.
const (
	ThemeNeutral = "NEUTRAL"
	ThemeInfo    = "INFO"
	ThemeWarn    = "WARN"
	ThemeError   = "ERROR"
)

// WorkflowDefinition is the root structure of a workflow document. It is the
// immutable graph of phases, stages, statuses, and transitions a case moves
// through. Definitions are authored once and never mutated in place; a new
// version is a new document with its own code.
type WorkflowDefinition struct {
	Code   string  `yaml:"code"   json:"code"`
	Name   string  `yaml:"name"   json:"name"`
	Phases []Phase `yaml:"phases" json:"phases"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// Phase is an ordered grouping of stages.
type Phase struct {
	Code   string  `yaml:"code"   json:"code"`
	Name   string  `yaml:"name"   json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// Stage is a unit of caseworker activity. Its statuses form a local
// sub-graph; the first status is the stage's entry state.
type Stage struct {
	Code        string      `yaml:"code"        json:"code"`
	Name        string      `yaml:"name"        json:"name"`
	Description string      `yaml:"description" json:"description,omitempty"`
	Statuses    []Status    `yaml:"statuses"    json:"statuses,omitempty"`
	TaskGroups  []TaskGroup `yaml:"task_groups" json:"task_groups,omitempty"`
	Actions     []Action    `yaml:"actions"     json:"actions,omitempty"`
}

// Status is a node in a stage's sub-graph. A status with no transitions is
// terminal.
type Status struct {
	Code        string       `yaml:"code"        json:"code"`
	Name        string       `yaml:"name"        json:"name"`
	Theme       string       `yaml:"theme"       json:"theme,omitempty"`
	Description string       `yaml:"description" json:"description,omitempty"`
	Interactive bool         `yaml:"interactive" json:"interactive"`
	Transitions []Transition `yaml:"transitions" json:"transitions,omitempty"`
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(s.Transitions) == 0
}

// Transition is a permitted move from one status to a target position,
// optionally gated by task completion and an action.
type Transition struct {
	TargetPosition string  `yaml:"target_position" json:"target_position"`
	CheckTasks     bool    `yaml:"check_tasks"     json:"check_tasks"`
	Action         *Action `yaml:"action"          json:"action,omitempty"`
}

// Action is a named operation a user performs to fire a transition. Its
// CheckTasks flag gates independently of the transition's own flag.
type Action struct {
	Code          string         `yaml:"code"           json:"code"`
	Name          string         `yaml:"name"           json:"name"`
	CheckTasks    bool           `yaml:"check_tasks"    json:"check_tasks"`
	RequiredRoles *RequiredRoles `yaml:"required_roles" json:"required_roles,omitempty"`
	Comment       *CommentPolicy `yaml:"comment"        json:"comment,omitempty"`
}

// CommentPolicy describes whether and how an action or task collects a
// comment reference. The comment text itself lives with the comment
// collaborator; this subsystem only checks presence.
type CommentPolicy struct {
	Label     string `yaml:"label"      json:"label"`
	HelpText  string `yaml:"help_text"  json:"help_text,omitempty"`
	Mandatory bool   `yaml:"mandatory"  json:"mandatory"`
}

// FindStage walks phases looking for the stage with the given code.
func (w WorkflowDefinition) FindStage(stageCode string) (Stage, bool) {
	for _, ph := range w.Phases {
		for _, st := range ph.Stages {
			if st.Code == stageCode {
				return st, true
			}
		}
	}
	return Stage{}, false
}

// FindStatus resolves a full position to its status node. Absence is a
// distinct outcome from a malformed address: callers parse first, then look
// up.
func (w WorkflowDefinition) FindStatus(pos Position) (Status, bool) {
	for _, ph := range w.Phases {
		if ph.Code != pos.Phase {
			continue
		}
		for _, st := range ph.Stages {
			if st.Code != pos.Stage {
				continue
			}
			for _, status := range st.Statuses {
				if status.Code == pos.Status {
					return status, true
				}
			}
		}
	}
	return Status{}, false
}

// StageCount returns the total number of stages across all phases.
func (w WorkflowDefinition) StageCount() int {
	n := 0
	for _, ph := range w.Phases {
		n += len(ph.Stages)
	}
	return n
}

// StageCodes returns all stage codes in declaration order, flattened across
// phases. Stage-only workflows advance through this sequence.
func (w WorkflowDefinition) StageCodes() []string {
	codes := make([]string, 0, w.StageCount())
	for _, ph := range w.Phases {
		for _, st := range ph.Stages {
			codes = append(codes, st.Code)
		}
	}
	return codes
}

// InitialPosition returns the workflow's entry position: the first status of
// the first stage of the first phase. Stage-only workflows (no statuses
// authored) get a stage-only position.
func (w WorkflowDefinition) InitialPosition() (Position, bool) {
	if len(w.Phases) == 0 || len(w.Phases[0].Stages) == 0 {
		return Position{}, false
	}
	ph := w.Phases[0]
	st := ph.Stages[0]
	if len(st.Statuses) == 0 {
		return StagePosition(st.Code), true
	}
	return Position{Phase: ph.Code, Stage: st.Code, Status: st.Statuses[0].Code}, true
}
