package casework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casefold/grantflow/internal/access"
	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/internal/notify"
	"github.com/casefold/grantflow/internal/observability"
	"github.com/casefold/grantflow/model"
)

// Engine manages the lifecycle of cases: creation from a workflow template,
// task status updates, and position transitions. All gating decisions are
// driven by the workflow document; the engine itself carries no per-workflow
// logic.
type Engine struct {
	registry  *definition.Registry
	store     CaseStore
	publisher notify.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	clock     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's clock. Role-window checks and audit
// timestamps read this clock, never the ambient one, so tests stay
// deterministic.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics wires case lifecycle instruments. A nil or absent Metrics
// leaves the engine silent.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a new case engine.
func NewEngine(
	registry *definition.Registry,
	store CaseStore,
	publisher notify.Publisher,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry:  registry,
		store:     store,
		publisher: publisher,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateCaseRequest carries everything needed to open a case against a
// workflow.
type CreateCaseRequest struct {
	WorkflowCode string         `json:"workflow_code"`
	CaseRef      string         `json:"case_ref"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// TransitionRequest identifies the move a caseworker is asking for. Either
// the action code or the raw target position selects the candidate
// transition among those enumerated on the current status.
type TransitionRequest struct {
	ActionCode     string `json:"action_code,omitempty"`
	TargetPosition string `json:"target_position,omitempty"`
	CommentRef     string `json:"comment_ref,omitempty"`
}

// CreateCase opens a new case at the workflow's initial position with an
// independent copy of the workflow's task tree.
func (e *Engine) CreateCase(ctx context.Context, req CreateCaseRequest) (model.CaseInstance, error) {
	if req.CaseRef == "" {
		return model.CaseInstance{}, model.NewBadRequestError("case_ref is required")
	}

	wf, ok := e.registry.GetWorkflow(req.WorkflowCode)
	if !ok {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", req.WorkflowCode),
		)
	}

	pos, ok := wf.InitialPosition()
	if !ok {
		return model.CaseInstance{}, model.NewBadImplementationError(
			fmt.Sprintf("workflow %q has no initial position", wf.Code),
		)
	}

	now := e.clock()
	c := model.CaseInstance{
		ID:           uuid.New().String(),
		WorkflowCode: wf.Code,
		CaseRef:      req.CaseRef,
		Status:       model.CaseStatusNew,
		Position:     pos,
		Stages:       model.CloneStages(wf),
		Payload:      req.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}

	created := e.newEvent(c.ID, model.EventCaseCreated, pos.Stage, "system", map[string]any{
		"workflow_code": wf.Code,
		"case_ref":      req.CaseRef,
	}, "")
	if err := e.store.Create(ctx, c, created); err != nil {
		return model.CaseInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordCaseCreation(wf.Code)
	}
	e.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("case_ref", c.CaseRef),
		zap.String("workflow_code", wf.Code),
		zap.String("position", pos.String()),
	)
	return c, nil
}

// Get returns a case by ID.
func (e *Engine) Get(ctx context.Context, caseID string) (model.CaseInstance, error) {
	return e.store.Get(ctx, caseID)
}

// Timeline returns a case's audit log, oldest first.
func (e *Engine) Timeline(ctx context.Context, caseID string) ([]model.TimelineEvent, error) {
	return e.store.GetEvents(ctx, caseID)
}

// List returns case summaries matching the filters plus the unpaginated
// total.
func (e *Engine) List(ctx context.Context, filters CaseFilters) ([]model.CaseSummary, int, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}

	cases, total, err := e.store.Find(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.CaseSummary, 0, len(cases))
	for i := range cases {
		summaries = append(summaries, cases[i].Summary())
	}
	return summaries, total, nil
}

// AssignUser sets the case's assigned user and records the handover.
func (e *Engine) AssignUser(ctx context.Context, caseID, userID string, principal *model.Principal) (model.CaseInstance, error) {
	c, err := e.store.Get(ctx, caseID)
	if err != nil {
		return model.CaseInstance{}, err
	}

	c.AssignedUser = userID
	c.UpdatedAt = e.clock()
	event := e.newEvent(c.ID, model.EventCaseAssigned, c.Position.Stage, actorID(principal), map[string]any{
		"assigned_user": userID,
	}, "")
	if err := e.store.Update(ctx, c, event); err != nil {
		return model.CaseInstance{}, err
	}
	return e.store.Get(ctx, caseID)
}

// SetTaskStatus updates one task's live status. The new status must belong
// to the task's closed status set, and a task carrying required roles is
// authorised before any mutation. Whether the enclosing stage is now clear
// is not evaluated here; the next transition attempt pulls that check.
func (e *Engine) SetTaskStatus(
	ctx context.Context,
	caseID, stageCode, groupCode, taskCode, newStatus, commentRef string,
	principal *model.Principal,
) (model.CaseInstance, error) {
	c, err := e.store.Get(ctx, caseID)
	if err != nil {
		return model.CaseInstance{}, err
	}

	task := c.FindTask(stageCode, groupCode, taskCode)
	if task == nil {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("task %s/%s/%s not found on case %q", stageCode, groupCode, taskCode, caseID),
		)
	}

	if !task.ValidStatus(newStatus) {
		return model.CaseInstance{}, model.NewBadRequestError(
			fmt.Sprintf("status %q is not valid for task %q", newStatus, taskCode),
		)
	}

	now := e.clock()
	if task.RequiredRoles != nil {
		if err := access.Authorise(principal, access.FromRoles(*task.RequiredRoles), now); err != nil {
			if e.metrics != nil && model.IsForbidden(err) {
				e.metrics.RecordAccessDenial("task_status_update")
			}
			return model.CaseInstance{}, err
		}
	}

	if task.Comment != nil && task.Comment.Mandatory && commentRef == "" {
		return model.CaseInstance{}, model.NewBadRequestError(
			fmt.Sprintf("task %q requires a comment", taskCode),
		)
	}

	task.Status = newStatus
	task.UpdatedAt = &now
	task.UpdatedBy = actorID(principal)
	task.CommentRef = commentRef
	c.UpdatedAt = now
	if c.Status == model.CaseStatusNew {
		c.Status = model.CaseStatusInProgress
	}

	event := e.newEvent(c.ID, model.EventTaskStatusUpdated, stageCode, actorID(principal), map[string]any{
		"task_group": groupCode,
		"task":       taskCode,
		"status":     newStatus,
	}, commentRef)
	if err := e.store.Update(ctx, c, event); err != nil {
		return model.CaseInstance{}, err
	}
	if e.metrics != nil {
		e.metrics.RecordTaskStatusUpdate(c.WorkflowCode, newStatus)
	}
	return e.store.Get(ctx, caseID)
}

// AttemptTransition validates and commits a move to a transition's target
// position. Validation steps run in a fixed order, each short-circuiting,
// and none of them mutates the case; the single version-conditioned store
// update at the end is the only write.
func (e *Engine) AttemptTransition(
	ctx context.Context,
	caseID string,
	req TransitionRequest,
	principal *model.Principal,
) (model.CaseInstance, error) {
	started := time.Now()

	// 1. Resolve case, workflow, and current status.
	c, err := e.store.Get(ctx, caseID)
	if err != nil {
		return model.CaseInstance{}, err
	}

	wf, ok := e.registry.GetWorkflow(c.WorkflowCode)
	if !ok {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", c.WorkflowCode),
		)
	}

	if c.Position.IsStageOnly() {
		return model.CaseInstance{}, model.NewBadRequestError(
			fmt.Sprintf("case %q uses a stage-only workflow; advance the stage instead", caseID),
		)
	}

	status, ok := wf.FindStatus(c.Position)
	if !ok {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("position %q not found in workflow %q", c.Position, c.WorkflowCode),
		)
	}

	// 2. Locate the candidate transition on the current status.
	transition := findTransition(status, req)
	if transition == nil {
		return model.CaseInstance{}, model.NewBadRequestError(
			fmt.Sprintf("no such transition from current position %q", c.Position),
		)
	}

	// 3. Task-completion gate. The transition's flag and the action's flag
	// gate independently.
	checkTasks := transition.CheckTasks
	if transition.Action != nil && transition.Action.CheckTasks {
		checkTasks = true
	}
	if checkTasks {
		stage := c.FindStage(c.Position.Stage)
		if stage == nil || !AllTasksComplete(*stage) {
			if e.metrics != nil {
				e.metrics.RecordCaseTransitionBlocked(wf.Code, "tasks_incomplete")
			}
			return model.CaseInstance{}, model.NewBadRequestError("All tasks must be complete.")
		}
	}

	// 4. Action authorisation.
	now := e.clock()
	if transition.Action != nil && transition.Action.RequiredRoles != nil {
		if err := access.Authorise(principal, access.FromRoles(*transition.Action.RequiredRoles), now); err != nil {
			if e.metrics != nil && model.IsForbidden(err) {
				e.metrics.RecordCaseTransitionBlocked(wf.Code, "forbidden")
				e.metrics.RecordAccessDenial("transition")
			}
			return model.CaseInstance{}, err
		}
	}

	// 5. Mandatory comment.
	if transition.Action != nil && transition.Action.Comment != nil &&
		transition.Action.Comment.Mandatory && req.CommentRef == "" {
		if e.metrics != nil {
			e.metrics.RecordCaseTransitionBlocked(wf.Code, "comment_required")
		}
		return model.CaseInstance{}, model.NewBadRequestError("comment required")
	}

	// 6. Commit.
	target, err := model.ParsePosition(transition.TargetPosition)
	if err != nil {
		// Authoring-time validation makes this unreachable for loaded
		// workflows; surface it as a definition defect, not a user error.
		return model.CaseInstance{}, model.NewBadImplementationError(
			fmt.Sprintf("workflow %q has malformed target %q", wf.Code, transition.TargetPosition),
		)
	}

	from := c.Position
	c.Position = target
	c.UpdatedAt = now
	if c.Status == model.CaseStatusNew {
		c.Status = model.CaseStatusInProgress
	}

	actionCode := ""
	if transition.Action != nil {
		actionCode = transition.Action.Code
	}
	if c.Outcomes == nil {
		c.Outcomes = make(map[string]model.Outcome)
	}
	c.Outcomes[from.Stage] = model.Outcome{
		ActionCode: actionCode,
		CreatedBy:  actorID(principal),
		CreatedAt:  now,
		CommentRef: req.CommentRef,
	}

	events := make([]model.TimelineEvent, 0, 2)
	eventType := model.EventPositionChanged
	if target.Stage != from.Stage {
		eventType = model.EventStageCompleted
	}
	events = append(events, e.newEvent(c.ID, eventType, from.Stage, actorID(principal), map[string]any{
		"from": from.String(),
		"to":   target.String(),
	}, req.CommentRef))

	if targetStatus, ok := wf.FindStatus(target); ok && targetStatus.IsTerminal() {
		c.Status = model.CaseStatusCompleted
		events = append(events, e.newEvent(c.ID, model.EventCaseCompleted, target.Stage, "system", nil, ""))
	}

	if err := e.store.Update(ctx, c, events...); err != nil {
		return model.CaseInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordCaseTransition(wf.Code, actionCode, time.Since(started))
		if c.Status == model.CaseStatusCompleted {
			e.metrics.RecordCaseCompletion(wf.Code)
		}
	}

	// 7. Produce the downstream notification payload. Delivery is best
	// effort; a publish failure never rolls back the committed transition.
	e.publishStatusChanged(ctx, c, from, target, actionCode, actorID(principal), now)

	e.logger.Info("case transitioned",
		zap.String("case_id", c.ID),
		zap.String("from", from.String()),
		zap.String("to", target.String()),
		zap.String("action", actionCode),
	)
	return e.store.Get(ctx, caseID)
}

// AdvanceStage moves a stage-only case to the next stage in declaration
// order, gated directly by the task gatekeeper. Completing the final stage
// completes the case.
func (e *Engine) AdvanceStage(ctx context.Context, caseID string, principal *model.Principal) (model.CaseInstance, error) {
	started := time.Now()

	c, err := e.store.Get(ctx, caseID)
	if err != nil {
		return model.CaseInstance{}, err
	}

	wf, ok := e.registry.GetWorkflow(c.WorkflowCode)
	if !ok {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", c.WorkflowCode),
		)
	}

	if !c.Position.IsStageOnly() {
		return model.CaseInstance{}, model.NewBadRequestError(
			fmt.Sprintf("case %q uses a position-addressed workflow; request a transition instead", caseID),
		)
	}

	stage := c.FindStage(c.Position.Stage)
	if stage == nil {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found on case %q", c.Position.Stage, caseID),
		)
	}
	if !AllTasksComplete(*stage) {
		if e.metrics != nil {
			e.metrics.RecordCaseTransitionBlocked(wf.Code, "tasks_incomplete")
		}
		return model.CaseInstance{}, model.NewBadRequestError("All tasks must be complete.")
	}

	now := e.clock()
	from := c.Position
	codes := wf.StageCodes()
	next := nextStage(codes, c.Position.Stage)

	if c.Outcomes == nil {
		c.Outcomes = make(map[string]model.Outcome)
	}
	c.Outcomes[from.Stage] = model.Outcome{
		ActionCode: "advance",
		CreatedBy:  actorID(principal),
		CreatedAt:  now,
	}

	events := []model.TimelineEvent{
		e.newEvent(c.ID, model.EventStageCompleted, from.Stage, actorID(principal), map[string]any{
			"from": from.String(),
		}, ""),
	}

	if next == "" {
		c.Status = model.CaseStatusCompleted
		events = append(events, e.newEvent(c.ID, model.EventCaseCompleted, from.Stage, "system", nil, ""))
	} else {
		c.Position = model.StagePosition(next)
		if c.Status == model.CaseStatusNew {
			c.Status = model.CaseStatusInProgress
		}
	}
	c.UpdatedAt = now

	if err := e.store.Update(ctx, c, events...); err != nil {
		return model.CaseInstance{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordCaseTransition(wf.Code, "advance", time.Since(started))
		if c.Status == model.CaseStatusCompleted {
			e.metrics.RecordCaseCompletion(wf.Code)
		}
	}

	e.publishStatusChanged(ctx, c, from, c.Position, "advance", actorID(principal), now)
	return e.store.Get(ctx, caseID)
}

func (e *Engine) publishStatusChanged(
	ctx context.Context,
	c model.CaseInstance,
	from, to model.Position,
	actionCode, actor string,
	now time.Time,
) {
	if e.publisher == nil {
		return
	}
	payload := model.StatusChanged{
		CaseID:       c.ID,
		CaseRef:      c.CaseRef,
		WorkflowCode: c.WorkflowCode,
		FromPosition: from.String(),
		ToPosition:   to.String(),
		ActionCode:   actionCode,
		ActorID:      actor,
		OccurredAt:   now,
	}
	if err := e.publisher.PublishStatusChanged(ctx, payload); err != nil {
		if e.metrics != nil {
			e.metrics.RecordNotificationFailure()
		}
		e.logger.Warn("status-changed publish failed",
			zap.String("case_id", c.ID),
			zap.Error(err),
		)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordNotificationPublished(e.publisher.Channel())
	}
}

func (e *Engine) newEvent(caseID, eventType, stageCode, actor string, data map[string]any, commentRef string) model.TimelineEvent {
	return model.TimelineEvent{
		ID:         uuid.New().String(),
		CaseID:     caseID,
		Type:       eventType,
		StageCode:  stageCode,
		ActorID:    actor,
		Data:       data,
		CommentRef: commentRef,
		CreatedAt:  e.clock(),
	}
}

// findTransition selects the candidate transition: by action code when the
// request names one, otherwise by exact target position.
func findTransition(status model.Status, req TransitionRequest) *model.Transition {
	for i := range status.Transitions {
		t := &status.Transitions[i]
		if req.ActionCode != "" {
			if t.Action != nil && t.Action.Code == req.ActionCode {
				return t
			}
			continue
		}
		if req.TargetPosition != "" && t.TargetPosition == req.TargetPosition {
			return t
		}
	}
	return nil
}

func nextStage(codes []string, current string) string {
	for i, code := range codes {
		if code == current && i+1 < len(codes) {
			return codes[i+1]
		}
	}
	return ""
}

func actorID(p *model.Principal) string {
	if p == nil {
		return "anonymous"
	}
	return p.ID
}
