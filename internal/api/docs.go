package api

import (
	"encoding/json"
	"time"

	_ "github.com/Kamar-Folarin/mobile-sync/docs"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// SyncState is the documented shape of a sync and its latest run
// @Description Durable state of one named sync
// @swagger:model SyncState
type SyncState struct {
	// ID of the sync
	ID int64 `json:"id" example:"1"`
	// Unique name of the sync
	Name string `json:"name,omitempty" example:"accounts-down"`
	// Direction of the sync
	Type string `json:"type" example:"syncDown" enums:"syncDown,syncUp"`
	// Target describing the remote side
	Target json.RawMessage `json:"target" swaggertype:"object"`
	// Options supplied at creation
	Options json.RawMessage `json:"options" swaggertype:"object"`
	// Local collection the records are stored in
	SoupName string `json:"soupName" example:"accounts"`
	// Status of the latest run
	Status string `json:"status" example:"DONE" enums:"NEW,RUNNING,STOPPED,DONE,FAILED,CANCELLED"`
	// Progress of the latest run in percent
	Progress int `json:"progress" example:"100"`
	// Number of records the latest run covers, -1 before the first count
	TotalSize int `json:"totalSize" example:"10"`
	// Highest remote modification time seen, in epoch milliseconds
	MaxTimeStamp int64 `json:"maxTimeStamp" example:"1710930600000"`
	// When the latest run started
	StartTime *time.Time `json:"startTime,omitempty"`
	// When the latest run ended
	EndTime *time.Time `json:"endTime,omitempty"`
	// Error of a failed run
	Error string `json:"error,omitempty" example:"failed to fetch page 2: connection refused"`
	// Records left untouched because the remote copy changed
	Conflicts []string `json:"conflicts,omitempty"`
	// Records that failed to sync
	Failures []models.RecordFailure `json:"failures,omitempty"`
}

// CreateSyncRequest registers a new sync. The body uses the definitions file format.
// @Description Sync definition
// @swagger:model CreateSyncRequest
type CreateSyncRequest struct {
	SyncType string          `json:"syncType" binding:"required" example:"syncDown" enums:"syncDown,syncUp"`
	SyncName string          `json:"syncName" binding:"required" example:"accounts-down"`
	SoupName string          `json:"soupName" binding:"required" example:"accounts"`
	Target   json.RawMessage `json:"target" binding:"required" swaggertype:"object"`
	Options  json.RawMessage `json:"options" binding:"required" swaggertype:"object"`
}

// SyncListResponse lists every registered sync
// @Description All registered syncs
// @swagger:model SyncListResponse
type SyncListResponse struct {
	Syncs []*models.SyncState `json:"syncs"`
	Total int                 `json:"total" example:"2"`
}

// StopResponse reports whether a run was asked to stop
// @swagger:model StopResponse
type StopResponse struct {
	SyncID  int64 `json:"syncId" example:"1"`
	Stopped bool  `json:"stopped" example:"true"`
}

// CleanGhostsResponse reports how many ghost records were removed
// @swagger:model CleanGhostsResponse
type CleanGhostsResponse struct {
	SyncID  int64 `json:"syncId" example:"1"`
	Removed int   `json:"removed" example:"1"`
}

// ErrorResponse represents an API error
// @Description Error response from the API
// @swagger:model ErrorResponse
type ErrorResponse struct {
	// Error code
	Error string `json:"error" example:"NOT_FOUND"`
	// Error message
	Details string `json:"details,omitempty" example:"sync 7 does not exist"`
}
