package transport

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casefold/grantflow/internal/definition"
	"github.com/casefold/grantflow/model"
)

// workflowSummary is the list-view projection of a definition. The full
// phase tree is only returned by the single-workflow endpoint.
type workflowSummary struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	PhaseCount int    `json:"phase_count"`
	Checksum   string `json:"checksum"`
}

func handleWorkflowList(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs := registry.AllWorkflows()
		summaries := make([]workflowSummary, 0, len(defs))
		for _, def := range defs {
			summaries = append(summaries, workflowSummary{
				Code:       def.Code,
				Name:       def.Name,
				PhaseCount: len(def.Phases),
				Checksum:   def.Checksum,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": summaries})
	}
}

func handleWorkflowGet(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		def, ok := registry.GetWorkflow(code)
		if !ok {
			WriteError(w, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", code)))
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}

// handleWorkflowCreate authors a new workflow definition. Existing codes are
// rejected with a conflict; a new version must arrive under a new code.
func handleWorkflowCreate(registry *definition.Registry) http.HandlerFunc {
	validator := definition.NewValidator()
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, model.NewBadRequestError("failed to read request body"))
			return
		}

		var def model.WorkflowDefinition
		if err := json.Unmarshal(body, &def); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		def.Checksum = fmt.Sprintf("%x", sha256.Sum256(body))

		if verrs := validator.Validate([]model.WorkflowDefinition{def}); len(verrs) > 0 {
			details := make([]model.FieldError, 0, len(verrs))
			for _, ve := range verrs {
				details = append(details, model.FieldError{Field: ve.Path, Code: ve.Code, Message: ve.Message})
			}
			WriteError(w, model.NewValidationError(details))
			return
		}

		if err := registry.Add(def); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, def)
	}
}
