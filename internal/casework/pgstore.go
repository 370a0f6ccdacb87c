package casework

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casefold/grantflow/model"
)

// PgCaseStore is a PostgreSQL-backed CaseStore using pgx/v5. The stage tree,
// outcomes, and payload live in JSONB columns; the case row carries the
// version column the optimistic lock conditions on. Case mutation and
// timeline inserts share one transaction so a version conflict rolls back
// both.
type PgCaseStore struct {
	pool *pgxpool.Pool
}

// NewPgCaseStore creates a new PostgreSQL case store.
func NewPgCaseStore(pool *pgxpool.Pool) *PgCaseStore {
	return &PgCaseStore{pool: pool}
}

// HealthCheck pings the database. Used by the readiness endpoint.
func (s *PgCaseStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new case and its seed timeline events in one transaction.
func (s *PgCaseStore) Create(ctx context.Context, c model.CaseInstance, events ...model.TimelineEvent) error {
	stagesJSON, outcomesJSON, payloadJSON, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO cases (
			id, workflow_code, case_ref, status, position,
			stages, assigned_user, outcomes, payload, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)`,
		c.ID, c.WorkflowCode, c.CaseRef, c.Status, c.Position.String(),
		stagesJSON, c.AssignedUser, outcomesJSON, payloadJSON, c.Version,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get retrieves a case by ID.
func (s *PgCaseStore) Get(ctx context.Context, caseID string) (model.CaseInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_code, case_ref, status, position,
		       stages, assigned_user, outcomes, payload, version,
		       created_at, updated_at
		FROM cases
		WHERE id = $1`,
		caseID,
	)
	c, err := scanCase(row)
	if err == pgx.ErrNoRows {
		return model.CaseInstance{}, model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	if err != nil {
		return model.CaseInstance{}, fmt.Errorf("query case: %w", err)
	}
	return c, nil
}

// Update persists an updated case together with timeline events, conditioned
// on the version the caller loaded. Zero rows affected means another writer
// got there first; the event inserts roll back with it.
func (s *PgCaseStore) Update(ctx context.Context, c model.CaseInstance, events ...model.TimelineEvent) error {
	stagesJSON, outcomesJSON, payloadJSON, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE cases SET
			status = $1,
			position = $2,
			stages = $3,
			assigned_user = $4,
			outcomes = $5,
			payload = $6,
			version = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10`,
		c.Status, c.Position.String(), stagesJSON, c.AssignedUser,
		outcomesJSON, payloadJSON, c.Version+1,
		c.UpdatedAt,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("case %q version conflict (expected %d)", c.ID, c.Version),
		)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetEvents retrieves a case's timeline, oldest first.
func (s *PgCaseStore) GetEvents(ctx context.Context, caseID string) ([]model.TimelineEvent, error) {
	// Distinguish an empty timeline from a missing case.
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, type, stage_code, actor_id, data, comment_ref, created_at
		FROM case_events
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query case events: %w", err)
	}
	defer rows.Close()

	var events []model.TimelineEvent
	for rows.Next() {
		var evt model.TimelineEvent
		var dataJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.CaseID, &evt.Type, &evt.StageCode,
			&evt.ActorID, &dataJSON, &evt.CommentRef, &evt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan case event: %w", err)
		}
		if dataJSON != nil {
			_ = json.Unmarshal(dataJSON, &evt.Data)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Find returns the requested page of matching cases, newest first, plus the
// total match count from a separate COUNT over the same predicate.
func (s *PgCaseStore) Find(ctx context.Context, filters CaseFilters) ([]model.CaseInstance, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filters.WorkflowCode != "" {
		where += fmt.Sprintf(" AND workflow_code = $%d", argIdx)
		args = append(args, filters.WorkflowCode)
		argIdx++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.AssignedUser != "" {
		where += fmt.Sprintf(" AND assigned_user = $%d", argIdx)
		args = append(args, filters.AssignedUser)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM cases"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	query := `SELECT id, workflow_code, case_ref, status, position,
	                 stages, assigned_user, outcomes, payload, version,
	                 created_at, updated_at
	          FROM cases` + where + " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []model.CaseInstance
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, total, rows.Err()
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []model.TimelineEvent) error {
	for _, evt := range events {
		dataJSON, err := json.Marshal(evt.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO case_events (
				id, case_id, type, stage_code, actor_id, data, comment_ref, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			evt.ID, evt.CaseID, evt.Type, evt.StageCode,
			evt.ActorID, dataJSON, evt.CommentRef, evt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert case event: %w", err)
		}
	}
	return nil
}

func marshalCaseJSON(c model.CaseInstance) (stages, outcomes, payload []byte, err error) {
	stages, err = json.Marshal(c.Stages)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal stages: %w", err)
	}
	outcomes, err = json.Marshal(c.Outcomes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal outcomes: %w", err)
	}
	payload, err = json.Marshal(c.Payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	return stages, outcomes, payload, nil
}

func scanCase(row pgx.Row) (model.CaseInstance, error) {
	var c model.CaseInstance
	var position string
	var stagesJSON, outcomesJSON, payloadJSON []byte

	err := row.Scan(
		&c.ID, &c.WorkflowCode, &c.CaseRef, &c.Status, &position,
		&stagesJSON, &c.AssignedUser, &outcomesJSON, &payloadJSON, &c.Version,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.CaseInstance{}, err
	}

	if pos, perr := model.ParsePosition(position); perr == nil {
		c.Position = pos
	} else {
		c.Position = model.StagePosition(position)
	}
	if stagesJSON != nil {
		if err := json.Unmarshal(stagesJSON, &c.Stages); err != nil {
			return model.CaseInstance{}, fmt.Errorf("unmarshal stages: %w", err)
		}
	}
	if outcomesJSON != nil {
		_ = json.Unmarshal(outcomesJSON, &c.Outcomes)
	}
	if payloadJSON != nil {
		_ = json.Unmarshal(payloadJSON, &c.Payload)
	}
	return c, nil
}
