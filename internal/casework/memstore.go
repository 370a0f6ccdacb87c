package casework

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/casefold/grantflow/model"
)

// MemoryCaseStore is an in-memory CaseStore for tests and single-instance
// deployments. The mutex makes each Update (mutation plus timeline append)
// a single atomic section.
type MemoryCaseStore struct {
	mu     sync.RWMutex
	cases  map[string]model.CaseInstance
	events map[string][]model.TimelineEvent
}

// NewMemoryCaseStore creates a new in-memory case store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{
		cases:  make(map[string]model.CaseInstance),
		events: make(map[string][]model.TimelineEvent),
	}
}

// Create persists a new case and its seed timeline events.
func (s *MemoryCaseStore) Create(_ context.Context, c model.CaseInstance, events ...model.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("case %q already exists", c.ID))
	}

	s.cases[c.ID] = copyCase(c)
	s.events[c.ID] = append(s.events[c.ID], events...)
	return nil
}

// Get retrieves a case by ID.
func (s *MemoryCaseStore) Get(_ context.Context, caseID string) (model.CaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cases[caseID]
	if !exists {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	return copyCase(c), nil
}

// Update persists an updated case with optimistic locking and appends the
// given timeline events in the same critical section.
func (s *MemoryCaseStore) Update(_ context.Context, c model.CaseInstance, events ...model.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.cases[c.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("case %q not found", c.ID))
	}

	if existing.Version != c.Version {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d, got %d)", c.ID, c.Version, existing.Version),
		)
	}

	c.Version++
	s.cases[c.ID] = copyCase(c)
	s.events[c.ID] = append(s.events[c.ID], events...)
	return nil
}

// GetEvents retrieves all timeline events for a case, oldest first.
func (s *MemoryCaseStore) GetEvents(_ context.Context, caseID string) ([]model.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.cases[caseID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}

	events := s.events[caseID]
	result := make([]model.TimelineEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Find returns the requested page of matching cases, newest first, plus the
// total match count.
func (s *MemoryCaseStore) Find(_ context.Context, filters CaseFilters) ([]model.CaseInstance, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CaseInstance
	for _, c := range s.cases {
		if filters.WorkflowCode != "" && c.WorkflowCode != filters.WorkflowCode {
			continue
		}
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		if filters.AssignedUser != "" && c.AssignedUser != filters.AssignedUser {
			continue
		}
		result = append(result, copyCase(c))
	}
	total := len(result)

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.CaseInstance{}, total, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, total, nil
}

// Len returns the number of stored cases. For testing.
func (s *MemoryCaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}

// copyCase deep-copies the case's stage tree so store contents never alias
// caller-held instances.
func copyCase(c model.CaseInstance) model.CaseInstance {
	out := c
	out.Stages = make([]model.CaseStage, len(c.Stages))
	for i, st := range c.Stages {
		cs := st
		cs.TaskGroups = make([]model.CaseTaskGroup, len(st.TaskGroups))
		for j, tg := range st.TaskGroups {
			ctg := tg
			ctg.Tasks = append([]model.CaseTask(nil), tg.Tasks...)
			cs.TaskGroups[j] = ctg
		}
		out.Stages[i] = cs
	}
	if c.Outcomes != nil {
		out.Outcomes = make(map[string]model.Outcome, len(c.Outcomes))
		for k, v := range c.Outcomes {
			out.Outcomes[k] = v
		}
	}
	return out
}
