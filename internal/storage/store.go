// Package storage is the pgx-backed document store client: job status
// documents and persisted stats aggregates. Schema lives in migrations/.
package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/slicerd/internal/stats"
	"github.com/you/slicerd/internal/status"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// UpdateSlicing overwrites the job's slicing sub-document and gcode_file
// reference. The rows-affected count is the caller's cancellation signal:
// zero rows means the record was deleted externally.
func (s *Store) UpdateSlicing(ctx context.Context, jobOID string, doc status.Doc, gcodeFile string) (int64, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.Wrap(err, "encode slicing doc")
	}
	tag, err := s.db.Exec(ctx, `update print_jobs
	    set slicing = $2,
	        gcode_file = $3,
	        updated_at = now()
	  where id = $1`, jobOID, payload, gcodeFile)
	if err != nil {
		return 0, errors.Wrapf(err, "update print_jobs %s", jobOID)
	}
	return tag.RowsAffected(), nil
}

// IncrementStats upserts one aggregate bucket row. Bucket is hours since
// epoch, with bucket zero reserved for the lifetime totals.
func (s *Store) IncrementStats(ctx context.Context, bucket int64, d stats.Delta) error {
	_, err := s.db.Exec(ctx, `insert into slicing_stats(
bucket, slicing_succeeded, slicing_failed, slicing_canceled, slicing_seconds
) values ($1,$2,$3,$4,$5)
on conflict (bucket) do update set
    slicing_succeeded = slicing_stats.slicing_succeeded + excluded.slicing_succeeded,
    slicing_failed    = slicing_stats.slicing_failed    + excluded.slicing_failed,
    slicing_canceled  = slicing_stats.slicing_canceled  + excluded.slicing_canceled,
    slicing_seconds   = slicing_stats.slicing_seconds   + excluded.slicing_seconds`,
		bucket, d.Succeeded, d.Failed, d.Canceled, d.Seconds,
	)
	return errors.Wrapf(err, "increment slicing_stats bucket %d", bucket)
}
