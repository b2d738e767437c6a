package remote

import (
	"context"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// Source executes queries and record operations against the backend
type Source interface {
	// Count returns the number of records the spec matches
	Count(ctx context.Context, spec QuerySpec) (int, error)
	// Query returns one page of matching records ordered by modification time then id
	Query(ctx context.Context, spec QuerySpec) (*Page, error)
	Retrieve(ctx context.Context, objectType, id string, fields []string) (models.Record, error)
	Create(ctx context.Context, objectType string, fields models.Record) (models.Record, error)
	// Update returns the updated record, or nil when the backend sends no body
	Update(ctx context.Context, objectType, id string, fields models.Record) (models.Record, error)
	Delete(ctx context.Context, objectType, id string) error
	// Exists reports which of the given ids still exist remotely
	Exists(ctx context.Context, objectType string, ids []string) (map[string]bool, error)
}

// QuerySpec describes one page request
type QuerySpec struct {
	ObjectType string
	Query      string
	Fields     []string
	IDs        []string
	IDField    string
	ModField   string
	// Since filters to records modified strictly after it; NoTimeStamp disables it
	Since    int64
	Cursor   string
	PageSize int
}

// Page is one page of query results
type Page struct {
	Records      []models.Record
	NextCursor   string
	TotalSize    int
	MaxTimeStamp int64
}

// Done reports whether this is the last page
func (p *Page) Done() bool {
	return p.NextCursor == ""
}

// MaxTimeStamp returns the highest modification time among records, or NoTimeStamp
func MaxTimeStamp(records []models.Record, modField string) int64 {
	max := models.NoTimeStamp
	for _, r := range records {
		if ts, ok := r.ModifiedAt(modField); ok && ts > max {
			max = ts
		}
	}
	return max
}
