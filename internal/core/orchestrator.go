package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder receives pipeline observations. Implemented by the HTTP
// server; may be nil.
type MetricsRecorder interface {
	RecordJob(platform Platform)
	RecordTrack(platform Platform, status string)
	RecordStage(stage string, d time.Duration)
	SetActiveWorkers(n int)
	RecordDeliveredBytes(n int64)
}

// Orchestrator turns submitted links into per-track pipelines running under
// a bounded worker pool, isolates per-track failures from their batch, and
// records every outcome in the history store.
type Orchestrator struct {
	config     *Config
	classifier LinkClassifier
	resolvers  ResolverRegistry
	selector   QualitySelector
	fetcher    AssetFetcher
	writer     MetadataWriter
	sink       Sink
	relay      Sink
	history    HistoryStore
	delivered  DeliveredIndex
	creds      CredentialSource
	notifier   Notifier
	metrics    MetricsRecorder
	logger     *zap.Logger

	rootCtx context.Context

	// sem bounds the number of track pipelines past queued across all jobs.
	sem chan struct{}

	jobsMutex sync.RWMutex
	jobs      map[string]*jobHandle

	active int64
	actMu  sync.Mutex
}

type jobHandle struct {
	job    *DownloadJob
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Deps bundles the collaborators the orchestrator drives.
type Deps struct {
	Classifier LinkClassifier
	Resolvers  ResolverRegistry
	Selector   QualitySelector
	Fetcher    AssetFetcher
	Writer     MetadataWriter
	Sink       Sink
	Relay      Sink
	History    HistoryStore
	Delivered  DeliveredIndex
	Creds      CredentialSource
	Notifier   Notifier
	Metrics    MetricsRecorder
}

func NewOrchestrator(config *Config, deps Deps, logger *zap.Logger) *Orchestrator {
	workers := config.App.Workers
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		config:     config,
		classifier: deps.Classifier,
		resolvers:  deps.Resolvers,
		selector:   deps.Selector,
		fetcher:    deps.Fetcher,
		writer:     deps.Writer,
		sink:       deps.Sink,
		relay:      deps.Relay,
		history:    deps.History,
		delivered:  deps.Delivered,
		creds:      deps.Creds,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     logger,
		rootCtx:    context.Background(),
		sem:        make(chan struct{}, workers),
		jobs:       make(map[string]*jobHandle),
	}
}

// Start binds the orchestrator to the process lifetime context. Jobs spawned
// by Submit derive from it.
func (o *Orchestrator) Start(ctx context.Context) {
	o.rootCtx = ctx
}

// Submit validates a link synchronously and schedules its batch for
// asynchronous execution, returning the job ID.
func (o *Orchestrator) Submit(link string) (string, error) {
	desc, err := o.classifier.Classify(link)
	if err != nil {
		return "", err
	}

	job := &DownloadJob{
		ID:        uuid.NewString(),
		Link:      desc,
		SourceURL: link,
		State:     BatchQueued,
		CreatedAt: time.Now(),
	}
	if err := o.history.CreateJob(job); err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(o.rootCtx)
	handle := &jobHandle{job: job, cancel: cancel}

	o.jobsMutex.Lock()
	o.jobs[job.ID] = handle
	o.jobsMutex.Unlock()

	o.logger.Info("Job submitted",
		zap.String("jobID", job.ID),
		zap.String("platform", string(desc.Platform)),
		zap.String("kind", string(desc.Kind)))
	if o.metrics != nil {
		o.metrics.RecordJob(desc.Platform)
	}

	go o.runJob(jobCtx, handle)

	return job.ID, nil
}

// Cancel removes queued tracks of a job from the pool and requests abort of
// in-flight transfers. Completed tracks are untouched.
func (o *Orchestrator) Cancel(jobID string) error {
	o.jobsMutex.RLock()
	handle, ok := o.jobs[jobID]
	o.jobsMutex.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	handle.cancel()
	o.logger.Info("Job cancellation requested", zap.String("jobID", jobID))
	return nil
}

// Status returns the current batch and per-track states. Running jobs are
// served from memory, finished ones from the history store.
func (o *Orchestrator) Status(jobID string) (*DownloadJob, error) {
	o.jobsMutex.RLock()
	handle, ok := o.jobs[jobID]
	o.jobsMutex.RUnlock()
	if ok {
		return handle.snapshot(), nil
	}
	return o.history.GetJob(jobID)
}

// History lists finished and running job summaries, newest first.
func (o *Orchestrator) History(limit, offset int) ([]*DownloadJob, error) {
	return o.history.ListJobs(limit, offset)
}

func (o *Orchestrator) runJob(ctx context.Context, handle *jobHandle) {
	job := handle.job
	defer o.finishJob(ctx, handle)

	// One consistent credential snapshot for the job's full lifetime.
	creds := o.creds.Snapshot()

	resolver, ok := o.resolvers.For(job.Link.Platform)
	if !ok {
		o.failWholeJob(handle, &UnsupportedLinkError{Link: job.SourceURL})
		return
	}

	var refs []TrackRef
	var title string
	err := o.withRetry(ctx, func() error {
		var expandErr error
		refs, title, expandErr = resolver.Expand(ctx, job.Link, creds)
		return expandErr
	})
	if err != nil {
		o.failWholeJob(handle, err)
		return
	}

	handle.mu.Lock()
	job.Title = title
	job.State = BatchRunning
	for i, ref := range refs {
		job.Tracks = append(job.Tracks, &TrackJob{
			Index:     i,
			Ref:       ref,
			State:     TrackQueued,
			UpdatedAt: time.Now(),
		})
	}
	tracks := job.Tracks
	handle.mu.Unlock()

	for _, t := range tracks {
		o.recordTrack(job.ID, handle, t)
	}

	var wg sync.WaitGroup
	for _, t := range tracks {
		wg.Add(1)
		go func(t *TrackJob) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				// Not yet started: drop from the queue.
				o.failTrack(handle, t, ctx.Err())
				return
			case o.sem <- struct{}{}:
			}
			defer func() { <-o.sem }()
			o.trackActive(1)
			defer o.trackActive(-1)
			o.runTrack(ctx, handle, resolver, t, creds)
		}(t)
	}
	wg.Wait()
}

func (o *Orchestrator) runTrack(ctx context.Context, handle *jobHandle, resolver Resolver, t *TrackJob, creds CredentialContext) {
	job := handle.job
	logger := o.logger.With(zap.String("jobID", job.ID), zap.Int("track", t.Index))

	if ctx.Err() != nil {
		o.failTrack(handle, t, ctx.Err())
		return
	}

	// Stage: resolving.
	o.setState(handle, t, TrackResolving)
	var meta *TrackMetadata
	var quals []QualityDescriptor
	err := o.timedStage("resolve", func() error {
		return o.withRetry(ctx, func() error {
			var rerr error
			meta, quals, rerr = resolver.ResolveTrack(ctx, t.Ref, creds)
			return rerr
		})
	})
	if err != nil {
		o.failTrack(handle, t, err)
		return
	}
	handle.mu.Lock()
	t.Meta = meta
	handle.mu.Unlock()

	// Stage: negotiating.
	o.setState(handle, t, TrackNegotiating)
	ceiling := o.config.Preference().CeilingFor(t.Ref.Platform)
	chosen, err := o.selector.Select(quals, ceiling, creds.Entitled(t.Ref.Platform))
	if err != nil {
		o.failTrack(handle, t, err)
		return
	}
	handle.mu.Lock()
	t.Chosen = &chosen
	handle.mu.Unlock()

	relPath := RenderPath(o.config.App.DirTemplate, o.config.App.FilenameTemplate, meta, chosen.Container)
	dedupKey := deliveredKey(t.Ref.Platform, t.Ref.ID, relPath)
	if o.delivered != nil && o.delivered.Has(dedupKey) {
		logger.Info("Track already delivered, skipping", zap.String("path", relPath))
		handle.mu.Lock()
		t.Warnings = append(t.Warnings, "already delivered")
		t.Output = relPath
		t.RelPath = relPath
		handle.mu.Unlock()
		o.setState(handle, t, TrackDone)
		o.recordOutcome(handle, t, "done")
		return
	}

	// Stage: fetching.
	o.setState(handle, t, TrackFetching)
	workPath := filepath.Join(o.config.App.WorkDir, job.ID,
		fmt.Sprintf("%03d-%s.%s", t.Index+1, SanitizeFilename(t.Ref.ID), chosen.Container))
	size, err := o.fetchWithRecovery(ctx, resolver, t, handle, chosen, creds, quals, workPath)
	if err != nil {
		// A failed transfer can leave a partial file behind.
		os.Remove(workPath)
		o.failTrack(handle, t, err)
		return
	}
	defer os.Remove(workPath)
	chosen = *t.Chosen // may have been re-negotiated one tier down
	relPath = RenderPath(o.config.App.DirTemplate, o.config.App.FilenameTemplate, meta, chosen.Container)
	dedupKey = deliveredKey(t.Ref.Platform, t.Ref.ID, relPath)

	// Stage: tagging.
	o.setState(handle, t, TrackTagging)
	var warnings []string
	err = o.timedStage("tag", func() error {
		var terr error
		warnings, terr = o.writer.Embed(ctx, workPath, meta, chosen.Container)
		return terr
	})
	if err != nil {
		o.failTrack(handle, t, err)
		return
	}
	if len(warnings) > 0 {
		handle.mu.Lock()
		t.Warnings = append(t.Warnings, warnings...)
		handle.mu.Unlock()
	}

	// Stage: delivering.
	o.setState(handle, t, TrackDelivering)
	sink := o.pickSink(size)
	res, err := sink.Deliver(ctx, workPath, relPath)
	if err != nil {
		o.failTrack(handle, t, &DeliveryError{Sink: sink.Name(), Cause: err.Error()})
		return
	}
	if o.delivered != nil {
		o.delivered.Add(dedupKey)
	}
	if o.metrics != nil {
		o.metrics.RecordDeliveredBytes(res.Size)
	}

	handle.mu.Lock()
	t.Output = res.Path
	t.RelPath = relPath
	handle.mu.Unlock()
	o.setState(handle, t, TrackDone)
	o.recordOutcome(handle, t, "done")

	logger.Info("Track delivered",
		zap.String("title", meta.Title),
		zap.String("quality", chosen.Label),
		zap.String("path", res.Path),
		zap.Int64("bytes", res.Size))
}

// fetchWithRecovery runs the fetch stage with its two in-state recovery
// paths: one credential refresh after AuthExpired, one tier-down
// re-negotiation after QualityUnavailable.
func (o *Orchestrator) fetchWithRecovery(ctx context.Context, resolver Resolver, t *TrackJob, handle *jobHandle,
	chosen QualityDescriptor, creds CredentialContext, quals []QualityDescriptor, workPath string) (int64, error) {

	size, err := o.timedFetch(ctx, resolver, t.Ref, chosen, creds, workPath)
	if err == nil {
		return size, nil
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		return 0, err
	}

	switch fe.Kind {
	case FetchAuthExpired:
		if rerr := o.creds.Refresh(ctx); rerr != nil {
			return 0, err
		}
		refreshed := o.creds.Snapshot()
		return o.timedFetch(ctx, resolver, t.Ref, chosen, refreshed, workPath)

	case FetchQualityUnavailable:
		lower, serr := o.selector.SelectBelow(quals, chosen, creds.Entitled(t.Ref.Platform))
		if serr != nil {
			return 0, err
		}
		o.logger.Warn("Advertised quality unavailable, degrading",
			zap.String("from", chosen.Label), zap.String("to", lower.Label))
		handle.mu.Lock()
		t.Chosen = &lower
		t.Warnings = append(t.Warnings, fmt.Sprintf("degraded quality %s -> %s", chosen.Label, lower.Label))
		handle.mu.Unlock()
		return o.timedFetch(ctx, resolver, t.Ref, lower, creds, workPath)
	}

	return 0, err
}

func (o *Orchestrator) timedFetch(ctx context.Context, resolver Resolver, ref TrackRef, q QualityDescriptor, creds CredentialContext, workPath string) (int64, error) {
	var size int64
	err := o.timedStage("fetch", func() error {
		var ferr error
		size, ferr = o.fetcher.Fetch(ctx, resolver, ref, q, creds, workPath)
		return ferr
	})
	return size, err
}

func (o *Orchestrator) pickSink(size int64) Sink {
	if o.relay != nil && o.config.App.RelayThresholdMB > 0 &&
		size > int64(o.config.App.RelayThresholdMB)*1024*1024 {
		return o.relay
	}
	return o.sink
}

func (o *Orchestrator) setState(handle *jobHandle, t *TrackJob, next TrackState) {
	handle.mu.Lock()
	if !t.State.CanAdvanceTo(next) {
		handle.mu.Unlock()
		return
	}
	t.State = next
	t.UpdatedAt = time.Now()
	handle.mu.Unlock()
	o.recordTrack(handle.job.ID, handle, t)
}

func (o *Orchestrator) failTrack(handle *jobHandle, t *TrackJob, err error) {
	handle.mu.Lock()
	if t.State.Terminal() {
		handle.mu.Unlock()
		return
	}
	t.State = TrackFailed
	t.ErrKind = ErrorKind(err)
	t.ErrMsg = err.Error()
	t.UpdatedAt = time.Now()
	handle.mu.Unlock()

	o.logger.Warn("Track failed",
		zap.String("jobID", handle.job.ID),
		zap.Int("track", t.Index),
		zap.String("kind", t.ErrKind),
		zap.Error(err))

	o.recordTrack(handle.job.ID, handle, t)
	o.recordOutcome(handle, t, "failed")
}

func (o *Orchestrator) failWholeJob(handle *jobHandle, err error) {
	handle.mu.Lock()
	for _, t := range handle.job.Tracks {
		if !t.State.Terminal() {
			t.State = TrackFailed
			t.ErrKind = ErrorKind(err)
			t.ErrMsg = err.Error()
			t.UpdatedAt = time.Now()
		}
	}
	if len(handle.job.Tracks) == 0 {
		handle.job.State = BatchFailed
	}
	handle.mu.Unlock()

	o.logger.Error("Job failed before track pipelines started",
		zap.String("jobID", handle.job.ID),
		zap.Error(err))
}

func (o *Orchestrator) finishJob(ctx context.Context, handle *jobHandle) {
	job := handle.job

	handle.mu.Lock()
	derived := DeriveBatchState(job.Tracks)
	if len(job.Tracks) == 0 {
		derived = BatchFailed
	}
	job.State = derived
	job.CompletedAt = time.Now()
	handle.mu.Unlock()

	if err := o.history.FinishJob(job); err != nil {
		o.logger.Error("Failed to record job completion", zap.String("jobID", job.ID), zap.Error(err))
	}

	o.jobsMutex.Lock()
	delete(o.jobs, job.ID)
	o.jobsMutex.Unlock()

	summary := job.Summarize()
	o.logger.Info("Job finished",
		zap.String("jobID", job.ID),
		zap.String("state", string(job.State)),
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed))

	if o.notifier != nil {
		o.notifier.NotifyBatch(ctx, summary)
	}
}

func (o *Orchestrator) recordTrack(jobID string, handle *jobHandle, t *TrackJob) {
	handle.mu.Lock()
	snapshot := *t
	handle.mu.Unlock()
	if err := o.history.UpdateTrack(jobID, &snapshot); err != nil {
		o.logger.Error("Failed to record track state", zap.String("jobID", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) recordOutcome(handle *jobHandle, t *TrackJob, status string) {
	if o.metrics != nil {
		o.metrics.RecordTrack(t.Ref.Platform, status)
	}
}

// withRetry retries transient errors within a stage, bounded by the
// configured count, with exponential backoff. Non-transient errors return
// immediately.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	retries := o.config.App.MaxRetries
	if retries < 1 {
		retries = 1
	}
	delay := time.Duration(o.config.App.RetryDelaySecs) * time.Second
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = fn(); err == nil || !Transient(err) {
			return err
		}
	}
	return err
}

func (o *Orchestrator) timedStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	if o.metrics != nil {
		o.metrics.RecordStage(stage, time.Since(start))
	}
	return err
}

func (o *Orchestrator) trackActive(delta int64) {
	o.actMu.Lock()
	o.active += delta
	n := o.active
	o.actMu.Unlock()
	if o.metrics != nil {
		o.metrics.SetActiveWorkers(int(n))
	}
}

func (h *jobHandle) snapshot() *DownloadJob {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h.job
	cp.Tracks = make([]*TrackJob, len(h.job.Tracks))
	for i, t := range h.job.Tracks {
		tc := *t
		cp.Tracks[i] = &tc
	}
	cp.State = DeriveBatchState(cp.Tracks)
	return &cp
}

func deliveredKey(p Platform, trackID, relPath string) string {
	return string(p) + "|" + trackID + "|" + relPath
}
