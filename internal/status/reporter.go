// Package status is the single writer of job-visible progress. Every state
// transition overwrites the job's persisted status document; submitters
// observe outcomes only through that document.
package status

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/you/slicerd/internal/domain"
)

// GCodePending is written to the job's gcode_file field until the sliced
// result has actually been delivered.
const GCodePending = "pending"

// Doc is the slicing sub-document persisted for each state transition.
type Doc struct {
	Status       int    `json:"status"`
	JobID        string `json:"jobID"`
	Progress     string `json:"progress"`
	Detail       string `json:"detail"`
	DownloadTime int64  `json:"downloadTime"`
	SlicingTime  int64  `json:"slicingTime"`
	UploadTime   int64  `json:"uploadTime"`
}

// JobStore persists one status document, addressed by the job record id.
// It returns the number of rows updated; zero means the record no longer
// exists.
type JobStore interface {
	UpdateSlicing(ctx context.Context, jobOID string, doc Doc, gcodeFile string) (int64, error)
}

type Reporter struct {
	store JobStore
	log   *zap.Logger
}

func NewReporter(store JobStore, log *zap.Logger) *Reporter {
	return &Reporter{store: store, log: log}
}

// Set overwrites the job's status document for the given state. Write
// failures are best-effort and swallowed after logging, with one exception:
// a zero-row update means the job was deleted externally, and that always
// surfaces as domain.ErrCanceled. A swallowed failure on Done is still
// success, the G-code is already uploaded.
func (r *Reporter) Set(ctx context.Context, req *domain.SlicingRequest, state State, cause error) error {
	label, detail := state.Caption()
	if cause != nil && state == Errored {
		detail = fmt.Sprintf("%s: %v", detail, cause)
	}

	doc := Doc{
		Status:       int(state),
		JobID:        req.JobID,
		Progress:     label,
		Detail:       detail,
		DownloadTime: req.Download.ElapsedMS,
		SlicingTime:  req.Slice.ElapsedMS,
		UploadTime:   req.Upload.ElapsedMS,
	}
	gcode := GCodePending
	if state == Done {
		gcode = req.GCode.Key
	}

	rows, err := r.store.UpdateSlicing(ctx, req.JobOID, doc, gcode)
	if err != nil {
		r.log.Warn("status write failed",
			zap.String("job_id", req.JobID),
			zap.Stringer("state", state),
			zap.Error(err))
		return nil
	}
	if rows == 0 {
		return domain.ErrCanceled
	}
	return nil
}
