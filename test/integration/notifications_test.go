package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/casefold/grantflow/model"
)

func TestNotifications_publishedOverRedis(t *testing.T) {
	h := NewTestHarness(t, WithRedisNotifications("grantflow:test-events"))
	token := h.GenerateToken(assessorClaims())

	msgs := h.SubscribeNotifications()

	c := h.createCase(t, token, "grants", "GR-2026-050")
	h.completeReviewTasks(t, token, c.ID)

	resp := h.POST("/cases/"+c.ID+"/transitions", map[string]any{
		"action_code": "approve",
		"comment_ref": "note-88",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transition: status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	select {
	case msg := <-msgs:
		var payload model.StatusChanged
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			t.Fatalf("unmarshal notification: %v", err)
		}
		if payload.CaseID != c.ID {
			t.Errorf("case_id = %q, want %q", payload.CaseID, c.ID)
		}
		if payload.CaseRef != "GR-2026-050" {
			t.Errorf("case_ref = %q, want GR-2026-050", payload.CaseRef)
		}
		if payload.ToPosition != "assessment:decision:approved" {
			t.Errorf("to_position = %q", payload.ToPosition)
		}
		if payload.ActionCode != "approve" {
			t.Errorf("action_code = %q, want approve", payload.ActionCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redis notification")
	}
}

func TestNotifications_taskUpdatesDoNotPublish(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(caseworkerClaims())

	c := h.createCase(t, token, "grants", "GR-2026-051")
	h.completeReviewTasks(t, token, c.ID)

	if got := len(h.MemoryPublisher.Published()); got != 0 {
		t.Errorf("published after task updates = %d, want 0", got)
	}
}
