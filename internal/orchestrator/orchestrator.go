// Package orchestrator drives one generation request end to end: admission,
// workspace lifecycle, inference, encoding, and the job ledger.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/media"
	"server/internal/store"
)

// Engine is the slice of the model adapter the orchestrator drives.
type Engine interface {
	Synthesize(ctx context.Context, avatarPath, audioPath, workDir string) (string, error)
}

// Options is the operator-facing admission contract: at most MaxInflight
// inference calls run at once, at most QueueDepth requests wait behind them,
// and no request waits longer than QueueWait for a slot.
type Options struct {
	MaxInflight    int
	QueueDepth     int
	QueueWait      time.Duration
	RequestTimeout time.Duration
	JobRetention   time.Duration
}

// Orchestrator owns the job state machine. Jobs move
// pending → running → succeeded|failed; failed jobs are never retried here
// because inference failures are rarely transient.
type Orchestrator struct {
	engine  Engine
	store   *store.Store
	muxer   *store.Muxer
	jobs    *store.JobRepo
	log     infra.Logger
	sem     *semaphore.Weighted
	waiters atomic.Int64
	opts    Options
}

// New wires the orchestrator's collaborators.
func New(engine Engine, st *store.Store, muxer *store.Muxer, jobs *store.JobRepo, log infra.Logger, opts Options) *Orchestrator {
	if opts.MaxInflight < 1 {
		opts.MaxInflight = 1
	}
	return &Orchestrator{
		engine: engine,
		store:  st,
		muxer:  muxer,
		jobs:   jobs,
		log:    log,
		sem:    semaphore.NewWeighted(int64(opts.MaxInflight)),
		opts:   opts,
	}
}

// Synthesize runs one request through the full pipeline and hands back a
// result whose Release frees the workspace. On any error the workspace is
// already gone; no partial temp files outlive the call.
func (o *Orchestrator) Synthesize(ctx context.Context, req *domain.GenerationRequest) (*domain.SynthesisResult, error) {
	if len(req.Audio) == 0 {
		return nil, domain.E(domain.KindValidation, "empty audio payload")
	}
	format := media.DetectFormat(req.Audio)
	if format == media.FormatUnknown {
		return nil, domain.E(domain.KindValidation, "unrecognized audio format")
	}

	avatar, err := o.store.ResolveAvatar(req.AvatarName)
	if err != nil {
		return nil, err
	}

	job := &domain.GenerationJob{
		ID:          req.ID,
		Status:      domain.JobStatusPending,
		AvatarName:  avatar.Name,
		AudioFormat: string(format),
		AudioBytes:  int64(len(req.Audio)),
		CreatedAt:   req.CreatedAt,
	}
	o.record(func(ctx context.Context) error { return o.jobs.Create(ctx, job) })

	if err := o.admit(ctx); err != nil {
		return nil, o.fail(req.ID, err)
	}
	defer o.sem.Release(1)

	o.record(func(ctx context.Context) error { return o.jobs.MarkRunning(ctx, req.ID) })

	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	ws, err := o.store.Allocate(req.ID)
	if err != nil {
		return nil, o.fail(req.ID, err)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			ws.Release()
		}
	}()

	audioPath, err := ws.WriteInputAudio(req.Audio)
	if err != nil {
		return nil, o.fail(req.ID, err)
	}

	started := time.Now()
	framesVideo, err := o.engine.Synthesize(ctx, avatar.Path, audioPath, ws.Dir)
	if err != nil {
		return nil, o.fail(req.ID, classifyRunError(err))
	}

	outPath, err := o.muxer.FinalizeOutput(ctx, ws, framesVideo, audioPath)
	if err != nil {
		return nil, o.fail(req.ID, classifyRunError(err))
	}

	res := &domain.SynthesisResult{
		JobID:     req.ID,
		VideoPath: outPath,
		Release:   ws.Release,
	}
	if info, err := os.Stat(outPath); err == nil {
		res.SizeBytes = info.Size()
	}
	if vi, err := o.muxer.Probe(ctx, outPath); err == nil {
		res.Duration = vi.Duration
		res.Width = vi.Width
		res.Height = vi.Height
		res.FrameCount = vi.FrameCount
	} else if d, derr := media.WAVDuration(req.Audio); derr == nil {
		// Metadata is best effort; fall back to the audio play time.
		res.Duration = d
		o.log.Warn().Err(err).Str("job_id", req.ID).Msg("probe failed, using audio duration")
	}

	o.record(func(ctx context.Context) error { return o.jobs.MarkSucceeded(ctx, req.ID, res) })
	o.log.Info().
		Str("job_id", req.ID).
		Dur("elapsed", time.Since(started)).
		Int64("output_bytes", res.SizeBytes).
		Msg("synthesis succeeded")

	handedOff = true
	return res, nil
}

// admit acquires an inference slot under the bounded-queue policy.
func (o *Orchestrator) admit(ctx context.Context) error {
	if o.sem.TryAcquire(1) {
		return nil
	}
	if o.waiters.Load() >= int64(o.opts.QueueDepth) {
		return domain.WrapE(domain.KindBusy, domain.ErrBusy, "generation queue is full")
	}
	o.waiters.Add(1)
	defer o.waiters.Add(-1)

	waitCtx := ctx
	if o.opts.QueueWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.opts.QueueWait)
		defer cancel()
	}

	if err := o.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			// Caller disconnected while queued.
			return ctx.Err()
		}
		return domain.WrapE(domain.KindBusy, domain.ErrBusy, "timed out waiting for an inference slot")
	}
	return nil
}

// fail records the terminal transition and passes the error through.
func (o *Orchestrator) fail(jobID string, err error) error {
	kind := domain.KindOf(err)
	msg := domain.MessageOf(err)
	o.record(func(ctx context.Context) error { return o.jobs.MarkFailed(ctx, jobID, kind, msg) })
	o.log.Warn().Str("job_id", jobID).Str("kind", string(kind)).Msg(msg)
	return err
}

// record runs a ledger write on a detached context so a canceled request
// still gets its terminal state persisted.
func (o *Orchestrator) record(write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := write(ctx); err != nil {
		o.log.Warn().Err(err).Msg("job ledger write failed")
	}
}

// classifyRunError turns context termination into caller-facing kinds.
func classifyRunError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapE(domain.KindInference, err, "synthesis timed out")
	case errors.Is(err, context.Canceled):
		return domain.WrapE(domain.KindInternal, err, "synthesis canceled")
	}
	return err
}

// RunJanitor periodically purges old finished job records and sweeps orphaned
// workspaces until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-o.opts.JobRetention)
			if purged, err := o.jobs.PurgeOlderThan(ctx, cutoff); err != nil {
				o.log.Warn().Err(err).Msg("job purge failed")
			} else if purged > 0 {
				o.log.Info().Int64("purged", purged).Msg("old job records purged")
			}
			o.store.SweepOrphans(cutoff.Unix())
		}
	}
}
