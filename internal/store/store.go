package store

import "context"

// LeadStore is the lead persistence collaborator consumed by the
// leadValidator runner in editor mode. All implementations must be safe
// for concurrent use. The default collection is "leads".
type LeadStore interface {
	CreateLead(ctx context.Context, lead map[string]any, collection string) (string, error)
	GetLead(ctx context.Context, id string, collection string) (map[string]any, error)
	UpdateLead(ctx context.Context, id string, updates map[string]any, collection string) (bool, error)
	ListLeads(ctx context.Context, collection string, limit int) ([]map[string]any, error)
	DeleteLead(ctx context.Context, id string, collection string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DefaultCollection is used when a caller passes an empty collection name.
const DefaultCollection = "leads"

func collectionOrDefault(c string) string {
	if c == "" {
		return DefaultCollection
	}
	return c
}
