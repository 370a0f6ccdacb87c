package casework

import (
	"context"

	"github.com/casefold/grantflow/model"
)

// CaseStore persists case instances and their timelines.
//
// Update is the subsystem's serialization point: it must apply the case
// mutation and the accompanying timeline events atomically, conditioned on
// the case version it was loaded at. Two writers racing on the same case
// cannot both succeed; the loser gets CONFLICT and must re-read.
type CaseStore interface {
	// Create persists a new case and its seed timeline events.
	Create(ctx context.Context, c model.CaseInstance, events ...model.TimelineEvent) error

	// Get retrieves a case by ID. Returns NOT_FOUND if it does not exist.
	Get(ctx context.Context, caseID string) (model.CaseInstance, error)

	// Update persists an updated case together with timeline events, with
	// optimistic locking on the Version field. Returns CONFLICT when the
	// stored version no longer matches.
	Update(ctx context.Context, c model.CaseInstance, events ...model.TimelineEvent) error

	// GetEvents retrieves a case's timeline, oldest first.
	GetEvents(ctx context.Context, caseID string) ([]model.TimelineEvent, error)

	// Find returns the requested page of cases matching the filters, newest
	// first, plus the total match count before Limit/Offset were applied.
	Find(ctx context.Context, filters CaseFilters) ([]model.CaseInstance, int, error)
}

// CaseFilters are optional filters for listing cases.
type CaseFilters struct {
	WorkflowCode string
	Status       string
	AssignedUser string
	Limit        int
	Offset       int
}
