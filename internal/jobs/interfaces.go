package jobs

import (
	"context"
	"io"
	"time"
)

// Gateway is the backend job API.
type Gateway interface {
	CreateJob(ctx context.Context, req CreateRequest) (Job, error)
	GetJob(ctx context.Context, jobID int64) (Job, error)
	JobErrors(ctx context.Context, jobID int64) ([]JobError, error)
}

// ConfigStore reads and replaces crawler configurations.
type ConfigStore interface {
	GetConfig(ctx context.Context, code string) (Configuration, error)
	UpdateConfig(ctx context.Context, code string, cfg Configuration) (Configuration, error)
}

// BlobStore writes run reports and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
