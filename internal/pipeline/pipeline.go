// Package pipeline drives one slicing job end-to-end: claim, download,
// slice, upload, completion. It owns error classification — which failures
// retry, which drop the message, which mean the job was canceled — and it
// owns cleanup.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/you/slicerd/internal/domain"
	"github.com/you/slicerd/internal/queue"
	"github.com/you/slicerd/internal/status"
)

// Queue is the slice of the queue manager the pipeline needs.
type Queue interface {
	ClaimNext(ctx context.Context) (*queue.Message, error)
	Track(msg *queue.Message)
	Remove(ctx context.Context, handle string) error
	Requeue(ctx context.Context, handle string) error
	AdjustInFlight(delta int64) int64
}

// Reporter writes job-visible progress. Only domain.ErrCanceled ever comes
// back from Set.
type Reporter interface {
	Set(ctx context.Context, req *domain.SlicingRequest, state status.State, cause error) error
}

// ObjectStore moves bytes between object storage and local files.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, localPath string) error
	Upload(ctx context.Context, bucket, key, localPath string) error
}

// Slicer runs the external engine over local files.
type Slicer interface {
	Slice(ctx context.Context, configPath, stlPath, gcodePath string) error
}

// Workspace derives resource coordinates and cleans up local copies.
type Workspace interface {
	Resource(rawURL string) (domain.Resource, error)
	Cleanup(resources ...domain.Resource) error
}

// Recorder counts terminal dispositions.
type Recorder interface {
	RecordSuccess(sliced time.Duration)
	RecordFailure()
	RecordSlicerFailure()
	RecordCanceled()
}

// Options tune the claim loop.
type Options struct {
	PollInterval  time.Duration
	MaxConcurrent int64
}

type Processor struct {
	queue    Queue
	reporter Reporter
	store    ObjectStore
	slicer   Slicer
	ws       Workspace
	stats    Recorder
	log      *zap.Logger
	opts     Options
}

func New(q Queue, rep Reporter, store ObjectStore, sl Slicer, ws Workspace, rec Recorder, log *zap.Logger, opts Options) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Processor{
		queue:    q,
		reporter: rep,
		store:    store,
		slicer:   sl,
		ws:       ws,
		stats:    rec,
		log:      log,
		opts:     opts,
	}
}

// Run claims and processes messages until ctx is done, then waits for
// in-flight jobs to finish. The semaphore is the enforced concurrency
// bound: no claim is attempted while MaxConcurrent jobs are running.
func (p *Processor) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(p.opts.MaxConcurrent)
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		msg, err := p.queue.ClaimNext(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			p.log.Error("claim failed", zap.Error(err))
			if !sleep(ctx, p.opts.PollInterval) {
				break
			}
			continue
		}
		if msg == nil {
			sem.Release(1)
			if !sleep(ctx, p.opts.PollInterval) {
				break
			}
			continue
		}
		go func(m *queue.Message) {
			defer sem.Release(1)
			p.Process(ctx, m)
		}(msg)
	}
	// Drain: once all permits are reacquired every job goroutine is done.
	_ = sem.Acquire(context.Background(), p.opts.MaxConcurrent)
	return ctx.Err()
}

// Process runs one claimed message to a terminal disposition.
func (p *Processor) Process(ctx context.Context, msg *queue.Message) {
	req, err := p.buildRequest(msg)
	if err != nil {
		p.reject(ctx, msg, req, err)
		return
	}

	log := p.log.With(zap.String("job_id", req.JobID), zap.String("handle", msg.Handle))

	p.queue.Track(msg)
	p.queue.AdjustInFlight(1)
	defer p.queue.AdjustInFlight(-1)

	runErr := p.run(ctx, req)

	// Local copies go before the queue disposition in every branch.
	if cerr := p.ws.Cleanup(req.STL, req.Config, req.GCode); cerr != nil {
		log.Warn("workspace cleanup incomplete", zap.Error(cerr))
	}

	p.finish(ctx, log, req, runErr)
}

// reject handles producer defects: incomplete messages and unparsable
// resource URLs. The message is removed permanently — redelivering a
// malformed message can never succeed.
func (p *Processor) reject(ctx context.Context, msg *queue.Message, req *domain.SlicingRequest, cause error) {
	p.log.Warn("rejecting malformed slicing request",
		zap.String("handle", msg.Handle),
		zap.Error(cause))
	if req != nil && req.JobOID != "" {
		_ = p.reporter.Set(ctx, req, status.Errored, cause)
	}
	if err := p.queue.Remove(ctx, msg.Handle); err != nil {
		p.log.Error("remove of malformed message failed", zap.String("handle", msg.Handle), zap.Error(err))
	}
	p.stats.RecordFailure()
}

// buildRequest deep-copies the raw message into a fresh request with zeroed
// duration triples and derives the three resource descriptors. All of this
// happens before any external call.
func (p *Processor) buildRequest(msg *queue.Message) (*domain.SlicingRequest, error) {
	var raw domain.RawMessage
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		return nil, &domain.ValidationError{Reason: "malformed message body: " + err.Error()}
	}

	req := &domain.SlicingRequest{
		JobID:  raw.JobID,
		JobOID: raw.JobOID,
		Handle: msg.Handle,
	}
	if missing := raw.MissingFields(); len(missing) > 0 {
		return req, &domain.ValidationError{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}

	var err error
	if req.STL, err = p.ws.Resource(raw.STLFile); err != nil {
		return req, &domain.ValidationError{Reason: err.Error()}
	}
	if req.Config, err = p.ws.Resource(raw.ConfigFile); err != nil {
		return req, &domain.ValidationError{Reason: err.Error()}
	}
	if req.GCode, err = p.ws.Resource(raw.GCodeFile); err != nil {
		return req, &domain.ValidationError{Reason: err.Error()}
	}
	return req, nil
}

// run advances the job through the forward states. Any returned error goes
// through finish for classification; state-write failures other than
// cancellation never surface here.
func (p *Processor) run(ctx context.Context, req *domain.SlicingRequest) error {
	if err := p.reporter.Set(ctx, req, status.Preparing, nil); err != nil {
		return err
	}
	req.Download.Begin()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.store.Download(gctx, req.STL.Bucket, req.STL.Key, req.STL.LocalPath)
	})
	g.Go(func() error {
		return p.store.Download(gctx, req.Config.Bucket, req.Config.Key, req.Config.LocalPath)
	})
	err := g.Wait()
	req.Download.End()
	if err != nil {
		return errors.Wrap(err, "download inputs")
	}

	if err := p.reporter.Set(ctx, req, status.Running, nil); err != nil {
		return err
	}
	req.Slice.Begin()
	err = p.slicer.Slice(ctx, req.Config.LocalPath, req.STL.LocalPath, req.GCode.LocalPath)
	req.Slice.End()
	if err != nil {
		return err
	}

	if err := p.reporter.Set(ctx, req, status.Postprocessing, nil); err != nil {
		return err
	}
	req.Upload.Begin()
	err = p.store.Upload(ctx, req.GCode.Bucket, req.GCode.Key, req.GCode.LocalPath)
	req.Upload.End()
	if err != nil {
		return errors.Wrap(err, "upload gcode")
	}

	return p.reporter.Set(ctx, req, status.Done, nil)
}

// finish applies the terminal disposition. Exactly one of remove/requeue
// happens per claimed message, and exactly one counter is incremented.
func (p *Processor) finish(ctx context.Context, log *zap.Logger, req *domain.SlicingRequest, runErr error) {
	switch {
	case runErr == nil:
		p.remove(ctx, log, req.Handle)
		p.stats.RecordSuccess(req.Slice.Elapsed())
		log.Info("slicing completed",
			zap.Int64("download_ms", req.Download.ElapsedMS),
			zap.Int64("slice_ms", req.Slice.ElapsedMS),
			zap.Int64("upload_ms", req.Upload.ElapsedMS))

	case errors.Is(runErr, domain.ErrCanceled):
		// The record is gone; there is nothing left to report to.
		p.remove(ctx, log, req.Handle)
		p.stats.RecordCanceled()
		log.Info("job canceled externally")

	case domain.IsSlicerFailure(runErr):
		_ = p.reporter.Set(ctx, req, status.Failed, runErr)
		p.remove(ctx, log, req.Handle)
		p.stats.RecordSlicerFailure()
		log.Warn("slicer rejected model", zap.Error(runErr))

	default:
		_ = p.reporter.Set(ctx, req, status.Errored, runErr)
		if err := p.queue.Requeue(ctx, req.Handle); err != nil {
			log.Error("requeue failed, lease expiry will redeliver", zap.Error(err))
		}
		p.stats.RecordFailure()
		log.Warn("transient failure, message requeued", zap.Error(runErr))
	}
}

func (p *Processor) remove(ctx context.Context, log *zap.Logger, handle string) {
	if err := p.queue.Remove(ctx, handle); err != nil {
		log.Error("remove failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
