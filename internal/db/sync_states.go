package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"

	apperrors "github.com/Kamar-Folarin/mobile-sync/internal/errors"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

func nullableName(name string) interface{} {
	if name == "" {
		return nil
	}
	return name
}

// CreateSyncState persists a new sync and assigns its id
func (s *SQLStore) CreateSyncState(ctx context.Context, state *models.SyncState) error {
	if state == nil {
		return fmt.Errorf("sync state cannot be nil")
	}

	if state.Name != "" {
		existing, err := s.GetSyncStateByName(ctx, state.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicateName(state.Name, nil)
		}
	}
	return s.insertSyncState(ctx, state)
}

func duplicateName(name string, cause error) error {
	return apperrors.NewValidationError(fmt.Sprintf("sync with name %q already exists", name), cause)
}

// isUniqueViolation reports whether err is a unique constraint failure on either driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// insertSyncState inserts the row. A concurrent create of the same name that
// won the race surfaces as the same validation error as the lookup above.
func (s *SQLStore) insertSyncState(ctx context.Context, state *models.SyncState) error {
	return s.InTx(ctx, func(tx EntryStore) error {
		ops := tx.(*entryOps)
		now := nowMillis()

		var id int64
		err := ops.q.QueryRowContext(ctx, ops.rebind(`
			INSERT INTO sync_states (name, sync_type, soup_name, status, state_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			nullableName(state.Name),
			string(state.Type),
			state.SoupName,
			string(state.Status),
			"{}",
			now,
			now,
		).Scan(&id)
		if isUniqueViolation(err) {
			return duplicateName(state.Name, err)
		} else if err != nil {
			return fmt.Errorf("failed to insert sync state: %w", err)
		}

		state.ID = id
		return ops.UpdateSyncState(ctx, state)
	})
}

// UpdateSyncState writes the full state of an existing sync
func (o *entryOps) UpdateSyncState(ctx context.Context, state *models.SyncState) error {
	if state == nil {
		return fmt.Errorf("sync state cannot be nil")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	result, err := o.q.ExecContext(ctx, o.rebind(`
		UPDATE sync_states
		SET status = ?,
			state_json = ?,
			updated_at = ?
		WHERE id = ?`),
		string(state.Status),
		string(stateJSON),
		nowMillis(),
		state.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("sync %d does not exist", state.ID), nil)
	}

	return nil
}

func scanSyncState(row rowScanner) (*models.SyncState, error) {
	var (
		id        int64
		stateJSON []byte
	)
	if err := row.Scan(&id, &stateJSON); err != nil {
		return nil, err
	}

	var state models.SyncState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync state %d: %w", id, err)
	}
	state.ID = id
	return &state, nil
}

// GetSyncState returns the sync with the given id, or nil when there is none
func (s *SQLStore) GetSyncState(ctx context.Context, id int64) (*models.SyncState, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, state_json FROM sync_states WHERE id = ?`), id)
	state, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// GetSyncStateByName returns the sync with the given name, or nil when there is none
func (s *SQLStore) GetSyncStateByName(ctx context.Context, name string) (*models.SyncState, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, state_json FROM sync_states WHERE name = ?`), name)
	state, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync state by name: %w", err)
	}
	return state, nil
}

// ListSyncStates returns every sync ordered by id
func (s *SQLStore) ListSyncStates(ctx context.Context) ([]*models.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, state_json FROM sync_states ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []*models.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state row: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync state rows: %w", err)
	}

	return states, nil
}
