package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// UpsertJob writes the latest snapshot of job. Rows that already hold a
	// terminal status are left untouched.
	UpsertJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, int, error)
}

type JobFilter struct {
	Status models.JobStatus
	Kind   string
	Room   string
	Page   int
	Limit  int
}
