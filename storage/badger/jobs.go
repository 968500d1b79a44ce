package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{
		backend: backend,
	}
}

// SaveJob inserts or replaces a job.
func (r *JobRepository) SaveJob(ctx context.Context, job *core.IngestionJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", core.ErrValidation)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeJobKey(job.ID), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetJob retrieves a job by id.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	var job *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		found, err := getValue(tx, makeJobKey(id), func(val []byte) error {
			var err error
			job, err = storage.UnmarshalJob(val)
			return err
		})
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return job, err
}

// ListJobs returns jobs newest first.
func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]*core.IngestionJob, error) {
	var jobs []*core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefixOf(jobRecordPrefix), true, func(_, val []byte) error {
			job, err := storage.UnmarshalJob(val)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
			if limit > 0 && len(jobs) >= limit {
				return errStopScan
			}
			return nil
		})
	}, false)
	if errors.Is(err, errStopScan) {
		err = nil
	}
	return jobs, err
}

// CountJobs counts jobs by status.
func (r *JobRepository) CountJobs(ctx context.Context) (map[core.JobStatus]int, error) {
	counts := make(map[core.JobStatus]int)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefixOf(jobRecordPrefix), false, func(_, val []byte) error {
			job, err := storage.UnmarshalJob(val)
			if err != nil {
				return err
			}
			counts[job.Status]++
			return nil
		})
	}, false)
	return counts, err
}
