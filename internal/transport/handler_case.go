package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/casefold/grantflow/internal/casework"
	"github.com/casefold/grantflow/model"
)

func handleCaseCreate(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req casework.CreateCaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		c, err := engine.CreateCase(r.Context(), req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func handleCaseGet(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := engine.Get(r.Context(), chi.URLParam(r, "caseId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseList(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 20)

		filters := casework.CaseFilters{
			WorkflowCode: r.URL.Query().Get("workflow_code"),
			Status:       r.URL.Query().Get("status"),
			AssignedUser: r.URL.Query().Get("assigned_user"),
			Limit:        pageSize,
			Offset:       (page - 1) * pageSize,
		}

		summaries, totalCount, err := engine.List(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": totalCount,
			"page":        page,
			"page_size":   pageSize,
		})
	}
}

func handleCaseTimeline(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := engine.Timeline(r.Context(), chi.URLParam(r, "caseId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleCaseAssign(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.UserID == "" {
			WriteError(w, model.NewValidationError([]model.FieldError{
				{Field: "user_id", Code: "required", Message: "user_id is required"},
			}))
			return
		}

		c, err := engine.AssignUser(
			r.Context(),
			chi.URLParam(r, "caseId"),
			body.UserID,
			model.PrincipalFrom(r.Context()),
		)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleTaskStatusUpdate(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status     string `json:"status"`
			CommentRef string `json:"comment_ref,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Status == "" {
			WriteError(w, model.NewValidationError([]model.FieldError{
				{Field: "status", Code: "required", Message: "status is required"},
			}))
			return
		}

		c, err := engine.SetTaskStatus(
			r.Context(),
			chi.URLParam(r, "caseId"),
			chi.URLParam(r, "stageCode"),
			chi.URLParam(r, "groupCode"),
			chi.URLParam(r, "taskCode"),
			body.Status,
			body.CommentRef,
			model.PrincipalFrom(r.Context()),
		)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseTransition(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req casework.TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if req.ActionCode == "" && req.TargetPosition == "" {
			WriteError(w, model.NewValidationError([]model.FieldError{
				{Field: "action_code", Code: "required", Message: "action_code or target_position is required"},
			}))
			return
		}

		c, err := engine.AttemptTransition(
			r.Context(),
			chi.URLParam(r, "caseId"),
			req,
			model.PrincipalFrom(r.Context()),
		)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseAdvance(engine *casework.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := engine.AdvanceStage(
			r.Context(),
			chi.URLParam(r, "caseId"),
			model.PrincipalFrom(r.Context()),
		)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

// queryInt extracts an integer query param with a default.
func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
