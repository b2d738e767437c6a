package db

import (
	"context"
	"fmt"

	apperrors "github.com/Kamar-Folarin/mobile-sync/internal/errors"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// CreateLocal caches a record created on the device under a fresh local id
func (s *SQLStore) CreateLocal(ctx context.Context, soup string, fields models.Record) (*models.Entry, error) {
	entry := &models.Entry{
		SoupName:       soup,
		RecordID:       models.NewLocalID(),
		State:          models.StateLocallyCreated,
		ServerModified: models.NoTimeStamp,
		Fields:         fields.Clone(),
	}
	if entry.Fields == nil {
		entry.Fields = models.Record{}
	}
	if err := s.SaveEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create local record: %w", err)
	}
	return entry, nil
}

// UpdateLocal merges fields into a cached record and marks it for the next up-sync
func (s *SQLStore) UpdateLocal(ctx context.Context, soup, recordID string, fields models.Record) (*models.Entry, error) {
	var updated *models.Entry
	err := s.InTx(ctx, func(tx EntryStore) error {
		entry, err := tx.GetEntry(ctx, soup, recordID)
		if err != nil {
			return err
		}
		if entry == nil {
			return apperrors.NewResourceNotFoundError("record", recordID)
		}
		if entry.State.IsDeleted() {
			return apperrors.NewValidationError(fmt.Sprintf("record %s is deleted locally", recordID), nil)
		}

		if entry.Fields == nil {
			entry.Fields = models.Record{}
		}
		for k, v := range fields {
			entry.Fields[k] = v
		}
		if entry.State == models.StateClean {
			entry.State = models.StateLocallyUpdated
		}

		if err := tx.SaveEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteLocal marks a cached record for remote deletion. A record that never
// reached the server is removed outright.
func (s *SQLStore) DeleteLocal(ctx context.Context, soup, recordID string) error {
	return s.InTx(ctx, func(tx EntryStore) error {
		entry, err := tx.GetEntry(ctx, soup, recordID)
		if err != nil {
			return err
		}
		if entry == nil {
			return apperrors.NewResourceNotFoundError("record", recordID)
		}

		switch entry.State {
		case models.StateLocallyCreated:
			_, err := tx.DeleteEntries(ctx, soup, []int64{entry.EntryID})
			return err
		case models.StateLocallyUpdated:
			entry.State = models.StateLocallyDeletedAndUpdated
		case models.StateClean:
			entry.State = models.StateLocallyDeleted
		default:
			return nil
		}
		return tx.SaveEntry(ctx, entry)
	})
}
