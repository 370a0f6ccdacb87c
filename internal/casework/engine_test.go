package casework

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/internal/notify"
	"github.com/casefold/grantflow/internal/observability"
	"github.com/casefold/grantflow/model"
)

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

// grantWorkflow builds a two-stage assessment workflow. The review stage has
// one task gating the approve transition; approving requires the assessor
// role and a comment, rejecting requires neither. The decision stage's
// statuses are terminal.
func grantWorkflow() model.WorkflowDefinition {
	task, _ := model.NewTask("eligibility", "Eligibility check", nil)
	return model.WorkflowDefinition{
		Code: "grants",
		Name: "Grant assessment",
		Phases: []model.Phase{
			{
				Code: "assessment",
				Name: "Assessment",
				Stages: []model.Stage{
					{
						Code: "review",
						Name: "Review",
						Statuses: []model.Status{
							{
								Code: "open",
								Name: "Open",
								Transitions: []model.Transition{
									{
										TargetPosition: "assessment:decision:approved",
										CheckTasks:     true,
										Action: &model.Action{
											Code: "approve",
											Name: "Approve",
											RequiredRoles: &model.RequiredRoles{
												AllOf: []string{"assessor"},
												AnyOf: []string{},
											},
											Comment: &model.CommentPolicy{Label: "Reason", Mandatory: true},
										},
									},
									{
										TargetPosition: "assessment:decision:rejected",
										Action:         &model.Action{Code: "reject", Name: "Reject"},
									},
								},
							},
						},
						TaskGroups: []model.TaskGroup{
							{Code: "checks", Name: "Checks", Tasks: []model.Task{task}},
						},
					},
					{
						Code: "decision",
						Name: "Decision",
						Statuses: []model.Status{
							{Code: "approved", Name: "Approved"},
							{Code: "rejected", Name: "Rejected"},
						},
					},
				},
			},
		},
		Checksum: "test",
	}
}

// stagedWorkflow builds a stage-only workflow: no statuses, cases advance
// stage by stage.
func stagedWorkflow() model.WorkflowDefinition {
	task, _ := model.NewTask("upload", "Upload documents", nil)
	return model.WorkflowDefinition{
		Code: "intake",
		Name: "Intake",
		Phases: []model.Phase{
			{
				Code: "main",
				Stages: []model.Stage{
					{
						Code: "collect",
						Name: "Collect",
						TaskGroups: []model.TaskGroup{
							{Code: "docs", Tasks: []model.Task{task}},
						},
					},
					{Code: "verify", Name: "Verify"},
				},
			},
		},
		Checksum: "test",
	}
}

func assessor() *model.Principal {
	start := fixedNow.Add(-24 * time.Hour)
	end := fixedNow.Add(24 * time.Hour)
	return &model.Principal{
		ID:       "alex",
		Name:     "Alex",
		IDPRoles: []string{"caseworker"},
		AppRoles: []model.RoleWindow{{Name: "assessor", StartDate: &start, EndDate: &end}},
	}
}

func newTestEngine(t *testing.T, defs ...model.WorkflowDefinition) (*Engine, *MemoryCaseStore, *notify.MemoryPublisher) {
	t.Helper()
	if len(defs) == 0 {
		defs = []model.WorkflowDefinition{grantWorkflow()}
	}
	store := NewMemoryCaseStore()
	publisher := notify.NewMemoryPublisher()
	engine := NewEngine(
		definition.NewRegistry(defs),
		store,
		publisher,
		zap.NewNop(),
		WithClock(func() time.Time { return fixedNow }),
	)
	return engine, store, publisher
}

func wantCode(t *testing.T, err error, code string) *model.ErrorEnvelope {
	t.Helper()
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) {
		t.Fatalf("expected *model.ErrorEnvelope, got %v", err)
	}
	if envelope.Code != code {
		t.Fatalf("error code = %q (%s), want %q", envelope.Code, envelope.Message, code)
	}
	return envelope
}

func TestEngine_CreateCase(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	c, err := engine.CreateCase(context.Background(), CreateCaseRequest{
		WorkflowCode: "grants",
		CaseRef:      "APP-1001",
	})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	if c.Status != model.CaseStatusNew {
		t.Errorf("Status = %q, want %q", c.Status, model.CaseStatusNew)
	}
	if got := c.Position.String(); got != "assessment:review:open" {
		t.Errorf("Position = %q, want assessment:review:open", got)
	}

	task := c.FindTask("review", "checks", "eligibility")
	if task == nil {
		t.Fatal("cloned task tree missing eligibility task")
	}
	if task.Status != model.TaskStatusPending {
		t.Errorf("initial task status = %q, want pending", task.Status)
	}

	events, err := engine.Timeline(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventCaseCreated {
		t.Errorf("expected one case_created event, got %+v", events)
	}
}

func TestEngine_CreateCase_Errors(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "nonexistent", CaseRef: "APP-1"})
	wantCode(t, err, model.ErrNotFound)

	_, err = engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants"})
	wantCode(t, err, model.ErrBadRequest)
}

// A case whose gating task is complete transitions through a role-gated,
// comment-gated action: the position moves, the departed stage records an
// outcome, the timeline gains a stage_completed entry, and a status-changed
// payload goes out.
func TestEngine_AttemptTransition_HappyPath(t *testing.T) {
	engine, _, publisher := newTestEngine(t)
	ctx := context.Background()

	c, err := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1001"})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	_, err = engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		model.TaskStatusComplete, "", assessor())
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	got, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve",
		CommentRef: "comment-77",
	}, assessor())
	if err != nil {
		t.Fatalf("AttemptTransition: %v", err)
	}

	if pos := got.Position.String(); pos != "assessment:decision:approved" {
		t.Errorf("Position = %q, want assessment:decision:approved", pos)
	}
	if got.Status != model.CaseStatusCompleted {
		t.Errorf("Status = %q, want %q (target status is terminal)", got.Status, model.CaseStatusCompleted)
	}

	outcome, ok := got.Outcomes["review"]
	if !ok {
		t.Fatal("departed stage should record an outcome")
	}
	if outcome.ActionCode != "approve" || outcome.CreatedBy != "alex" || outcome.CommentRef != "comment-77" {
		t.Errorf("outcome = %+v", outcome)
	}
	if !outcome.CreatedAt.Equal(fixedNow) {
		t.Errorf("outcome CreatedAt = %v, want engine clock %v", outcome.CreatedAt, fixedNow)
	}

	events, _ := engine.Timeline(ctx, c.ID)
	var sawStageCompleted, sawCaseCompleted bool
	for _, evt := range events {
		switch evt.Type {
		case model.EventStageCompleted:
			sawStageCompleted = true
		case model.EventCaseCompleted:
			sawCaseCompleted = true
		}
	}
	if !sawStageCompleted || !sawCaseCompleted {
		t.Errorf("timeline missing stage_completed/case_completed, got %+v", events)
	}

	published := publisher.Published()
	if len(published) != 1 {
		t.Fatalf("published %d payloads, want 1", len(published))
	}
	p := published[0]
	if p.FromPosition != "assessment:review:open" || p.ToPosition != "assessment:decision:approved" {
		t.Errorf("payload positions = %q -> %q", p.FromPosition, p.ToPosition)
	}
	if p.ActionCode != "approve" || p.ActorID != "alex" || p.CaseRef != "APP-1001" {
		t.Errorf("payload = %+v", p)
	}
}

// A task-gated transition against an incomplete stage fails closed and
// nothing is written.
func TestEngine_AttemptTransition_TasksIncomplete(t *testing.T) {
	engine, _, publisher := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1001"})

	_, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve",
		CommentRef: "comment-77",
	}, assessor())
	envelope := wantCode(t, err, model.ErrBadRequest)
	if envelope.Message != "All tasks must be complete." {
		t.Errorf("message = %q", envelope.Message)
	}

	got, _ := engine.Get(ctx, c.ID)
	if pos := got.Position.String(); pos != "assessment:review:open" {
		t.Errorf("blocked transition must not move the case, position = %q", pos)
	}
	if len(got.Outcomes) != 0 {
		t.Error("blocked transition must not record an outcome")
	}
	if len(publisher.Published()) != 0 {
		t.Error("blocked transition must not publish")
	}

	// The reject transition carries no task gate and stays available.
	got, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "reject"}, assessor())
	if err != nil {
		t.Fatalf("ungated transition: %v", err)
	}
	if pos := got.Position.String(); pos != "assessment:decision:rejected" {
		t.Errorf("Position = %q, want assessment:decision:rejected", pos)
	}
}

// Role gating on the action: no grant and an expired grant both deny, an
// active window passes.
func TestEngine_AttemptTransition_RoleGate(t *testing.T) {
	ctx := context.Background()

	completeTasks := func(t *testing.T, engine *Engine, caseID string) {
		t.Helper()
		_, err := engine.SetTaskStatus(ctx, caseID, "review", "checks", "eligibility",
			model.TaskStatusComplete, "", assessor())
		if err != nil {
			t.Fatalf("SetTaskStatus: %v", err)
		}
	}

	t.Run("no grant", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
		completeTasks(t, engine, c.ID)

		outsider := &model.Principal{ID: "sam", IDPRoles: []string{"caseworker"}}
		_, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
			ActionCode: "approve", CommentRef: "comment-1",
		}, outsider)
		envelope := wantCode(t, err, model.ErrForbidden)
		if !strings.Contains(envelope.Message, "sam") {
			t.Errorf("denial should name the principal, got %q", envelope.Message)
		}
	})

	t.Run("expired grant", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
		completeTasks(t, engine, c.ID)

		start := fixedNow.Add(-48 * time.Hour)
		end := fixedNow.Add(-24 * time.Hour)
		lapsed := &model.Principal{
			ID:       "sam",
			AppRoles: []model.RoleWindow{{Name: "assessor", StartDate: &start, EndDate: &end}},
		}
		_, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
			ActionCode: "approve", CommentRef: "comment-1",
		}, lapsed)
		wantCode(t, err, model.ErrForbidden)
	})

	t.Run("active grant", func(t *testing.T) {
		engine, _, _ := newTestEngine(t)
		c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
		completeTasks(t, engine, c.ID)

		if _, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
			ActionCode: "approve", CommentRef: "comment-1",
		}, assessor()); err != nil {
			t.Fatalf("AttemptTransition: %v", err)
		}
	})
}

func TestEngine_AttemptTransition_MandatoryComment(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
	_, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		model.TaskStatusComplete, "", assessor())
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	_, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "approve"}, assessor())
	envelope := wantCode(t, err, model.ErrBadRequest)
	if envelope.Message != "comment required" {
		t.Errorf("message = %q", envelope.Message)
	}
}

func TestEngine_AttemptTransition_UnknownMoves(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AttemptTransition(ctx, "missing", TransitionRequest{ActionCode: "approve"}, assessor())
	wantCode(t, err, model.ErrNotFound)

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	_, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "escalate"}, assessor())
	envelope := wantCode(t, err, model.ErrBadRequest)
	if !strings.Contains(envelope.Message, "no such transition from current position") {
		t.Errorf("message = %q", envelope.Message)
	}

	// Selecting by raw target position works for transitions with no action.
	got, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		TargetPosition: "assessment:decision:rejected",
	}, assessor())
	if err != nil {
		t.Fatalf("transition by target position: %v", err)
	}
	if pos := got.Position.String(); pos != "assessment:decision:rejected" {
		t.Errorf("Position = %q", pos)
	}
}

// Two callers load the case at the same version and race their transitions;
// exactly one commit wins and exactly one notification goes out.
func TestEngine_AttemptTransition_ConcurrentWriters(t *testing.T) {
	engine, store, publisher := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	// Simulate the race at the store layer: a stale write conditioned on the
	// version the loser loaded.
	loser, _ := store.Get(ctx, c.ID)

	if _, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "reject"}, assessor()); err != nil {
		t.Fatalf("winning transition: %v", err)
	}

	loser.Position = model.Position{Phase: "assessment", Stage: "decision", Status: "approved"}
	err := store.Update(ctx, loser)
	wantCode(t, err, model.ErrConflict)

	got, _ := engine.Get(ctx, c.ID)
	if pos := got.Position.String(); pos != "assessment:decision:rejected" {
		t.Errorf("winner's position must stand, got %q", pos)
	}
	if len(publisher.Published()) != 1 {
		t.Errorf("published %d payloads, want 1", len(publisher.Published()))
	}
}

func TestEngine_SetTaskStatus(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	got, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		model.TaskStatusInProgress, "", assessor())
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	task := got.FindTask("review", "checks", "eligibility")
	if task.Status != model.TaskStatusInProgress {
		t.Errorf("task status = %q", task.Status)
	}
	if task.UpdatedBy != "alex" {
		t.Errorf("UpdatedBy = %q, want alex", task.UpdatedBy)
	}
	if task.UpdatedAt == nil || !task.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want engine clock %v", task.UpdatedAt, fixedNow)
	}
	if got.Status != model.CaseStatusInProgress {
		t.Errorf("first task touch should move the case to in_progress, got %q", got.Status)
	}

	events, _ := engine.Timeline(ctx, c.ID)
	last := events[len(events)-1]
	if last.Type != model.EventTaskStatusUpdated {
		t.Errorf("last event type = %q", last.Type)
	}
}

func TestEngine_SetTaskStatus_Errors(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	_, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "nonexistent",
		model.TaskStatusComplete, "", assessor())
	wantCode(t, err, model.ErrNotFound)

	_, err = engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		"done", "", assessor())
	wantCode(t, err, model.ErrBadRequest)
}

func TestEngine_SetTaskStatus_RoleGate(t *testing.T) {
	task, _ := model.NewTask("signoff", "Sign off", nil)
	task.RequiredRoles = &model.RequiredRoles{AllOf: []string{"assessor"}, AnyOf: []string{}}

	wf := grantWorkflow()
	wf.Phases[0].Stages[0].TaskGroups[0].Tasks = append(
		wf.Phases[0].Stages[0].TaskGroups[0].Tasks, task,
	)

	engine, _, _ := newTestEngine(t, wf)
	ctx := context.Background()
	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	outsider := &model.Principal{ID: "sam"}
	_, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "signoff",
		model.TaskStatusComplete, "", outsider)
	wantCode(t, err, model.ErrForbidden)

	if _, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "signoff",
		model.TaskStatusComplete, "", assessor()); err != nil {
		t.Fatalf("SetTaskStatus with active grant: %v", err)
	}
}

// A malformed requirement on an action (nil role lists) surfaces as
// BAD_IMPLEMENTATION, never as a denial.
func TestEngine_AttemptTransition_MalformedRequirement(t *testing.T) {
	wf := grantWorkflow()
	wf.Phases[0].Stages[0].Statuses[0].Transitions[1].Action.RequiredRoles = &model.RequiredRoles{}

	engine, _, _ := newTestEngine(t, wf)
	ctx := context.Background()
	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	_, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "reject"}, assessor())
	wantCode(t, err, model.ErrBadImplementation)
}

func TestEngine_AdvanceStage(t *testing.T) {
	engine, _, publisher := newTestEngine(t, stagedWorkflow())
	ctx := context.Background()

	c, err := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "intake", CaseRef: "APP-1"})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if pos := c.Position.String(); pos != "collect" {
		t.Fatalf("initial position = %q, want collect", pos)
	}

	_, err = engine.AdvanceStage(ctx, c.ID, assessor())
	envelope := wantCode(t, err, model.ErrBadRequest)
	if envelope.Message != "All tasks must be complete." {
		t.Errorf("message = %q", envelope.Message)
	}

	_, err = engine.SetTaskStatus(ctx, c.ID, "collect", "docs", "upload",
		model.TaskStatusComplete, "", assessor())
	if err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	got, err := engine.AdvanceStage(ctx, c.ID, assessor())
	if err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if pos := got.Position.String(); pos != "verify" {
		t.Errorf("Position = %q, want verify", pos)
	}
	if _, ok := got.Outcomes["collect"]; !ok {
		t.Error("departed stage should record an outcome")
	}

	// Final stage has no tasks; advancing completes the case.
	got, err = engine.AdvanceStage(ctx, c.ID, assessor())
	if err != nil {
		t.Fatalf("final AdvanceStage: %v", err)
	}
	if got.Status != model.CaseStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(publisher.Published()) != 2 {
		t.Errorf("published %d payloads, want 2", len(publisher.Published()))
	}
}

func TestEngine_ModelMismatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, grantWorkflow(), stagedWorkflow())
	ctx := context.Background()

	positioned, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
	staged, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "intake", CaseRef: "APP-2"})

	_, err := engine.AdvanceStage(ctx, positioned.ID, assessor())
	wantCode(t, err, model.ErrBadRequest)

	_, err = engine.AttemptTransition(ctx, staged.ID, TransitionRequest{ActionCode: "approve"}, assessor())
	wantCode(t, err, model.ErrBadRequest)
}

func TestEngine_AssignUser(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	got, err := engine.AssignUser(ctx, c.ID, "jordan", assessor())
	if err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	if got.AssignedUser != "jordan" {
		t.Errorf("AssignedUser = %q", got.AssignedUser)
	}

	events, _ := engine.Timeline(ctx, c.ID)
	last := events[len(events)-1]
	if last.Type != model.EventCaseAssigned || last.ActorID != "alex" {
		t.Errorf("last event = %+v", last)
	}
}

func TestEngine_List(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, ref := range []string{"APP-1", "APP-2", "APP-3"} {
		if _, err := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: ref}); err != nil {
			t.Fatalf("CreateCase %s: %v", ref, err)
		}
	}

	summaries, total, err := engine.List(ctx, CaseFilters{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want 2", len(summaries))
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

// A case parked on a terminal status enumerates no transitions, so repeated
// attempts to move it fail identically and leave the record untouched.
func TestEngine_AttemptTransition_TerminalStatus(t *testing.T) {
	engine, _, publisher := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	got, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "reject"}, assessor())
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != model.CaseStatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}

	for i := 0; i < 2; i++ {
		_, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{ActionCode: "approve"}, assessor())
		envelope := wantCode(t, err, model.ErrBadRequest)
		if !strings.Contains(envelope.Message, "no such transition from current position") {
			t.Errorf("attempt %d message = %q", i+1, envelope.Message)
		}
	}

	// Selecting by target position fails the same way.
	_, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		TargetPosition: "assessment:decision:approved",
	}, assessor())
	wantCode(t, err, model.ErrBadRequest)

	after, _ := engine.Get(ctx, c.ID)
	if pos := after.Position.String(); pos != "assessment:decision:rejected" {
		t.Errorf("position = %q, want assessment:decision:rejected", pos)
	}
	if after.Status != model.CaseStatusCompleted {
		t.Errorf("Status = %q, want completed", after.Status)
	}
	if n := len(publisher.Published()); n != 1 {
		t.Errorf("published %d payloads, want 1", n)
	}
}

// Every mutation stamps the case's updated_at from the engine clock, not the
// ambient one.
func TestEngine_MutationsStampUpdatedAtFromClock(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})

	if _, err := engine.AssignUser(ctx, c.ID, "jordan", assessor()); err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	got, _ := store.Get(ctx, c.ID)
	if !got.UpdatedAt.Equal(fixedNow) {
		t.Errorf("after AssignUser UpdatedAt = %v, want %v", got.UpdatedAt, fixedNow)
	}

	if _, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		model.TaskStatusComplete, "", assessor()); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	got, _ = store.Get(ctx, c.ID)
	if !got.UpdatedAt.Equal(fixedNow) {
		t.Errorf("after SetTaskStatus UpdatedAt = %v, want %v", got.UpdatedAt, fixedNow)
	}

	if _, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve", CommentRef: "comment-1",
	}, assessor()); err != nil {
		t.Fatalf("AttemptTransition: %v", err)
	}
	got, _ = store.Get(ctx, c.ID)
	if !got.UpdatedAt.Equal(fixedNow) {
		t.Errorf("after AttemptTransition UpdatedAt = %v, want %v", got.UpdatedAt, fixedNow)
	}
}

// The engine's lifecycle instruments move as cases are created, gated,
// transitioned, and completed.
func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)

	store := NewMemoryCaseStore()
	publisher := notify.NewMemoryPublisher()
	engine := NewEngine(
		definition.NewRegistry([]model.WorkflowDefinition{grantWorkflow()}),
		store,
		publisher,
		zap.NewNop(),
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(metrics),
	)
	ctx := context.Background()

	c, err := engine.CreateCase(ctx, CreateCaseRequest{WorkflowCode: "grants", CaseRef: "APP-1"})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if got := testutil.ToFloat64(metrics.CaseCreationsTotal.WithLabelValues("grants")); got != 1 {
		t.Errorf("case creations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CaseOpenInstances.WithLabelValues("grants")); got != 1 {
		t.Errorf("open instances = %v, want 1", got)
	}

	// Task gate blocks the approve attempt.
	_, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve", CommentRef: "comment-1",
	}, assessor())
	wantCode(t, err, model.ErrBadRequest)
	if got := testutil.ToFloat64(metrics.CaseTransitionsBlocked.WithLabelValues("grants", "tasks_incomplete")); got != 1 {
		t.Errorf("blocked(tasks_incomplete) = %v, want 1", got)
	}

	if _, err := engine.SetTaskStatus(ctx, c.ID, "review", "checks", "eligibility",
		model.TaskStatusComplete, "", assessor()); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TaskStatusUpdatesTotal.WithLabelValues("grants", model.TaskStatusComplete)); got != 1 {
		t.Errorf("task updates = %v, want 1", got)
	}

	// Role gate denies an outsider.
	outsider := &model.Principal{ID: "sam"}
	_, err = engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve", CommentRef: "comment-1",
	}, outsider)
	wantCode(t, err, model.ErrForbidden)
	if got := testutil.ToFloat64(metrics.AccessDenialsTotal.WithLabelValues("transition")); got != 1 {
		t.Errorf("access denials = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CaseTransitionsBlocked.WithLabelValues("grants", "forbidden")); got != 1 {
		t.Errorf("blocked(forbidden) = %v, want 1", got)
	}

	if _, err := engine.AttemptTransition(ctx, c.ID, TransitionRequest{
		ActionCode: "approve", CommentRef: "comment-1",
	}, assessor()); err != nil {
		t.Fatalf("AttemptTransition: %v", err)
	}
	if got := testutil.ToFloat64(metrics.CaseTransitionsTotal.WithLabelValues("grants", "approve")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CaseCompletionsTotal.WithLabelValues("grants")); got != 1 {
		t.Errorf("completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CaseOpenInstances.WithLabelValues("grants")); got != 0 {
		t.Errorf("open instances after completion = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.NotificationsPublishedTotal.WithLabelValues("memory")); got != 1 {
		t.Errorf("notifications published = %v, want 1", got)
	}
}
