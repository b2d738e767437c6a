package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

const entryColumns = `entry_id, soup_name, record_id, sync_id, local_state, server_modified,
	fields, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		e                    models.Entry
		state                string
		fieldsJSON           []byte
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&e.EntryID,
		&e.SoupName,
		&e.RecordID,
		&e.SyncID,
		&state,
		&e.ServerModified,
		&fieldsJSON,
		&e.LastError,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	e.State = models.LocalState(state)
	e.CreatedAt = time.UnixMilli(createdAt)
	e.UpdatedAt = time.UnixMilli(updatedAt)
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields of %s/%s: %w", e.SoupName, e.RecordID, err)
		}
	}
	return &e, nil
}

// GetEntry returns the entry for a record id, or nil when the soup does not hold it
func (o *entryOps) GetEntry(ctx context.Context, soup, recordID string) (*models.Entry, error) {
	row := o.q.QueryRowContext(ctx, o.rebind(`
		SELECT `+entryColumns+`
		FROM soup_entries
		WHERE soup_name = ? AND record_id = ?`), soup, recordID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

func (o *entryOps) where(soup string, filter EntryFilter) (string, []interface{}) {
	clauses := []string{"soup_name = ?"}
	args := []interface{}{soup}

	if len(filter.States) > 0 {
		clauses = append(clauses, "local_state IN ("+placeholders(len(filter.States))+")")
		for _, s := range filter.States {
			args = append(args, string(s))
		}
	}
	if len(filter.RecordIDs) > 0 {
		clauses = append(clauses, "record_id IN ("+placeholders(len(filter.RecordIDs))+")")
		for _, id := range filter.RecordIDs {
			args = append(args, id)
		}
	}
	if filter.SyncID != 0 {
		clauses = append(clauses, "sync_id = ?")
		args = append(args, filter.SyncID)
	}
	return strings.Join(clauses, " AND "), args
}

// QueryEntries returns matching entries in local creation order
func (o *entryOps) QueryEntries(ctx context.Context, soup string, filter EntryFilter) ([]*models.Entry, error) {
	where, args := o.where(soup, filter)
	query := `SELECT ` + entryColumns + ` FROM soup_entries WHERE ` + where + ` ORDER BY entry_id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := o.q.QueryContext(ctx, o.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}

	return entries, nil
}

// CountEntries counts matching entries
func (o *entryOps) CountEntries(ctx context.Context, soup string, filter EntryFilter) (int, error) {
	where, args := o.where(soup, filter)
	var total int
	err := o.q.QueryRowContext(ctx, o.rebind(`SELECT COUNT(*) FROM soup_entries WHERE `+where), args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return total, nil
}

// SaveEntry updates the entry by its entry id, or upserts it by record id when new.
// The upsert overwrites whatever state the row is in; down-syncs use SaveRemoteEntry.
func (o *entryOps) SaveEntry(ctx context.Context, entry *models.Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}
	if entry.SoupName == "" || entry.RecordID == "" {
		return fmt.Errorf("entry needs a soup name and a record id")
	}
	if entry.State == "" {
		entry.State = models.StateClean
	}
	if !entry.State.Valid() {
		return fmt.Errorf("invalid local state %q", entry.State)
	}

	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal entry fields: %w", err)
	}

	now := nowMillis()
	if entry.EntryID != 0 {
		result, err := o.q.ExecContext(ctx, o.rebind(`
			UPDATE soup_entries
			SET record_id = ?,
				sync_id = ?,
				local_state = ?,
				server_modified = ?,
				fields = ?,
				last_error = ?,
				updated_at = ?
			WHERE entry_id = ?`),
			entry.RecordID,
			entry.SyncID,
			string(entry.State),
			entry.ServerModified,
			string(fieldsJSON),
			entry.LastError,
			now,
			entry.EntryID,
		)
		if err != nil {
			return fmt.Errorf("failed to update entry %s: %w", entry.RecordID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("no entry found with id %d", entry.EntryID)
		}
		entry.UpdatedAt = time.UnixMilli(now)
		return nil
	}

	_, err = o.upsert(ctx, entry, fieldsJSON, now, false)
	return err
}

// SaveRemoteEntry stores a record fetched from the backend. An existing entry
// is only overwritten while it is CLEAN, so a local edit committed after the
// caller read the entry is never lost. It reports whether the entry was written.
func (o *entryOps) SaveRemoteEntry(ctx context.Context, entry *models.Entry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("entry cannot be nil")
	}
	if entry.SoupName == "" || entry.RecordID == "" {
		return false, fmt.Errorf("entry needs a soup name and a record id")
	}
	if entry.State == "" {
		entry.State = models.StateClean
	}
	if entry.State != models.StateClean {
		return false, fmt.Errorf("remote entry %s must be %s, got %s", entry.RecordID, models.StateClean, entry.State)
	}

	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return false, fmt.Errorf("failed to marshal entry fields: %w", err)
	}
	return o.upsert(ctx, entry, fieldsJSON, nowMillis(), true)
}

func (o *entryOps) upsert(ctx context.Context, entry *models.Entry, fieldsJSON []byte, now int64, cleanOnly bool) (bool, error) {
	query := `
		INSERT INTO soup_entries (soup_name, record_id, sync_id, local_state, server_modified,
			fields, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (soup_name, record_id) DO UPDATE SET
			sync_id = EXCLUDED.sync_id,
			local_state = EXCLUDED.local_state,
			server_modified = EXCLUDED.server_modified,
			fields = EXCLUDED.fields,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`
	if cleanOnly {
		query += `
		WHERE soup_entries.local_state = '` + string(models.StateClean) + `'`
	}
	query += `
		RETURNING entry_id, created_at`

	var createdAt int64
	err := o.q.QueryRowContext(ctx, o.rebind(query),
		entry.SoupName,
		entry.RecordID,
		entry.SyncID,
		string(entry.State),
		entry.ServerModified,
		string(fieldsJSON),
		entry.LastError,
		now,
		now,
	).Scan(&entry.EntryID, &createdAt)
	if err == sql.ErrNoRows && cleanOnly {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to upsert entry %s: %w", entry.RecordID, err)
	}

	entry.CreatedAt = time.UnixMilli(createdAt)
	entry.UpdatedAt = time.UnixMilli(now)
	return true, nil
}

// DeleteEntries removes entries by entry id and reports how many were removed
func (o *entryOps) DeleteEntries(ctx context.Context, soup string, entryIDs []int64) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	args := []interface{}{soup}
	for _, id := range entryIDs {
		args = append(args, id)
	}

	result, err := o.q.ExecContext(ctx, o.rebind(`
		DELETE FROM soup_entries
		WHERE soup_name = ? AND entry_id IN (`+placeholders(len(entryIDs))+`)`), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
