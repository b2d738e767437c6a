package models

import "time"

// LocalState tags a cached record with its pending outbound change
type LocalState string

const (
	StateClean                    LocalState = "CLEAN"
	StateLocallyCreated           LocalState = "LOCALLY_CREATED"
	StateLocallyUpdated           LocalState = "LOCALLY_UPDATED"
	StateLocallyDeleted           LocalState = "LOCALLY_DELETED"
	StateLocallyDeletedAndUpdated LocalState = "LOCALLY_DELETED_AND_UPDATED"
)

// DirtyStates lists every tag the next up-sync picks up
var DirtyStates = []LocalState{
	StateLocallyCreated,
	StateLocallyUpdated,
	StateLocallyDeleted,
	StateLocallyDeletedAndUpdated,
}

// Valid reports whether the tag is known
func (s LocalState) Valid() bool {
	return s == StateClean || s.IsDirty()
}

// IsDirty reports whether the record has a pending change
func (s LocalState) IsDirty() bool {
	for _, d := range DirtyStates {
		if s == d {
			return true
		}
	}
	return false
}

// IsDeleted reports whether the pending change is a delete
func (s LocalState) IsDeleted() bool {
	return s == StateLocallyDeleted || s == StateLocallyDeletedAndUpdated
}

// Entry is a record cached in a soup together with its sync bookkeeping
type Entry struct {
	EntryID        int64      `json:"entryId"`
	SoupName       string     `json:"soupName"`
	RecordID       string     `json:"recordId"`
	SyncID         int64      `json:"syncId,omitempty"`
	State          LocalState `json:"localState"`
	ServerModified int64      `json:"serverModified"`
	Fields         Record     `json:"fields"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsDirty reports whether the entry has a pending outbound change
func (e *Entry) IsDirty() bool {
	return e.State.IsDirty()
}
