package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/storage"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/worker"
)

var (
	log            = logger.Get("DownloadServ")
	ErrJobNotFound = errors.New("no job found with the provided ID")
)

// Config controls the orchestrators concurrency, timeouts and retention.
type Config struct {
	// Parallelism is the number of workers claiming jobs concurrently.
	Parallelism int `yaml:"parallelism" env:"DOWNLOAD_PARALLELISM" env-default:"3"`

	// AttemptTimeoutMinutes bounds each individual backend attempt.
	AttemptTimeoutMinutes int `yaml:"attempt_timeout_minutes" env:"DOWNLOAD_ATTEMPT_TIMEOUT" env-default:"30"`

	// MaxURLLength rejects oversized submissions before any record exists.
	MaxURLLength int `yaml:"max_url_length" env:"DOWNLOAD_MAX_URL_LENGTH" env-default:"2048"`

	// RetentionHours controls how long terminal records are kept.
	RetentionHours int `yaml:"retention_hours" env:"DOWNLOAD_RETENTION_HOURS" env-default:"24"`

	// CleanupIntervalMinutes is the cadence of the retention sweeper.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" env:"DOWNLOAD_CLEANUP_INTERVAL" env-default:"60"`
}

func (config Config) attemptTimeout() time.Duration {
	if config.AttemptTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}

	return time.Duration(config.AttemptTimeoutMinutes) * time.Minute
}

// CandidateSelector yields the ordered backend chain for a source URL.
type CandidateSelector interface {
	Candidates(sourceURL string) []extractor.Extractor
}

// ArtifactResolver persists a media stream and reports where it ended up.
type ArtifactResolver interface {
	Store(ctx context.Context, stream io.Reader, name string, size int64) (*storage.Artifact, error)
}

// service accepts download submissions and executes them asynchronously on
// a worker pool: claim the oldest Starting job, walk the backend fallback
// chain, hand the winning stream to storage, finalize the record.
type service struct {
	store    *Store
	selector CandidateSelector
	resolver ArtifactResolver
	eventBus event.EventDispatcher
	pool     *worker.WorkerPool
	config   Config

	runCtx context.Context
}

func New(config Config, selector CandidateSelector, resolver ArtifactResolver, eventBus event.EventDispatcher, store *Store) *service {
	return &service{
		store:    store,
		selector: selector,
		resolver: resolver,
		eventBus: eventBus,
		pool:     worker.NewWorkerPool(),
		config:   config,
	}
}

// Run starts the worker pool and the retention sweeper, blocking until the
// provided context is cancelled. On shutdown, in-flight jobs are moved to
// Failed so no record is ever left dangling in a non-terminal state.
func (service *service) Run(ctx context.Context) error {
	service.runCtx = ctx

	for i := 0; i < service.config.Parallelism; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		service.pool.PushWorker(worker.NewWorker(label, service.claimAndProcess))
	}
	service.pool.Start()

	cleanupInterval := time.Duration(service.config.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(service.config.RetentionHours) * time.Hour)
			if removed := service.store.DeleteTerminalOlderThan(cutoff); removed > 0 {
				log.Emit(logger.REMOVE, "Retention sweep removed %d terminal job(s)\n", removed)
			}
		case <-ctx.Done():
			service.pool.Close()
			service.failInFlightJobs()
			return nil
		}
	}
}

// Submit validates and accepts a new download. Validation happens before
// any job record exists; an accepted job is immediately visible with status
// Starting and the call never waits on backend latency.
func (service *service) Submit(sourceURL string, opts extractor.Options, requesterAddr string) (uuid.UUID, error) {
	if err := validateSubmission(sourceURL, opts, service.config.MaxURLLength); err != nil {
		return uuid.Nil, err
	}

	now := time.Now()
	job := &Job{
		ID:            uuid.New(),
		SourceURL:     sourceURL,
		Options:       opts,
		Status:        Starting,
		RequesterAddr: requesterAddr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	service.store.Save(job)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, job.ID)
	service.pool.WakeupWorkers()

	log.Emit(logger.NEW, "Accepted download %s for URL %s\n", job.ID, sourceURL)
	return job.ID, nil
}

func (service *service) Job(id uuid.UUID) (Job, error) {
	job, ok := service.store.Job(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}

	return job, nil
}

func (service *service) AllJobs() []Job {
	return service.store.AllJobs()
}

// CancelJob requests cancellation of a job. The request is advisory: the
// owning worker observes it at its next checkpoint. Cancelling a terminal
// job is a no-op error.
func (service *service) CancelJob(id uuid.UUID) error {
	if _, ok := service.store.Job(id); !ok {
		return ErrJobNotFound
	}
	if !service.store.RequestCancel(id) {
		return errors.New("job is already in a terminal state")
	}

	log.Emit(logger.INFO, "Cancellation requested for job %s\n", id)
	return nil
}

// Probe synchronously fetches metadata for a URL through the same fallback
// chain used for downloads. No job record is involved.
func (service *service) Probe(ctx context.Context, sourceURL string) (*extractor.MediaInfo, error) {
	if err := validateSubmission(sourceURL, extractor.Options{}, service.config.MaxURLLength); err != nil {
		return nil, err
	}

	var failures []*extractor.Failure
	for _, candidate := range service.selector.Candidates(sourceURL) {
		info, err := candidate.Probe(ctx, sourceURL)
		if err == nil {
			return info, nil
		}

		failure := asFailure(candidate.Name(), err)
		failures = append(failures, failure)
		log.Emit(logger.WARNING, "Probe via %s failed: %v\n", candidate.Name(), failure)
	}

	return nil, aggregateFailures(failures)
}

// claimAndProcess is the worker task: claim the oldest Starting job and run
// it to a terminal state. Reports false when no job was claimable so the
// worker goes back to sleep.
func (service *service) claimAndProcess(w worker.Worker) (bool, error) {
	job, ok := service.store.ClaimStarting()
	if !ok {
		return false, nil
	}

	log.Emit(logger.INFO, "Worker %s claimed job %s (URL %s)\n", w.Label(), job.ID, job.SourceURL)
	service.eventBus.Dispatch(event.DOWNLOAD_UPDATE, job.ID)
	service.processJob(job)

	return true, nil
}

// processJob walks the fallback chain for a claimed job. Backend failures
// advance the chain; a storage failure after successful extraction is
// terminal and does not re-enter the chain.
func (service *service) processJob(job Job) {
	if service.cancelledCheckpoint(job.ID) {
		return
	}

	var failures []*extractor.Failure
	for _, candidate := range service.selector.Candidates(job.SourceURL) {
		if service.cancelledCheckpoint(job.ID) {
			return
		}

		artifact, failure, storageFault := service.attempt(candidate, job)
		if storageFault != nil {
			service.failJob(job.ID, fmt.Sprintf("storage hand-off failed: %s", storageFault.Message))
			return
		}
		if failure != nil {
			failures = append(failures, failure)
			log.Emit(logger.WARNING, "Backend %s failed for job %s: %v\n", candidate.Name(), job.ID, failure)
			continue
		}

		service.completeJob(job.ID, artifact)
		return
	}

	service.failJob(job.ID, aggregateFailures(failures).Error())
}

// attempt runs a single backend attempt under its own deadline. Exactly one
// of the three returns is non-zero.
func (service *service) attempt(candidate extractor.Extractor, job Job) (*storage.Artifact, *extractor.Failure, *storage.Failure) {
	ctx, cancel := context.WithTimeout(service.baseContext(), service.config.attemptTimeout())
	defer cancel()

	descriptors, err := candidate.Attempt(ctx, job.SourceURL, job.Options)
	if err != nil {
		return nil, asFailure(candidate.Name(), err), nil
	}
	if len(descriptors) == 0 {
		return nil, extractor.NewFailure(extractor.FailureExtraction, candidate.Name(), "backend offered no media", nil), nil
	}

	descriptor := extractor.ChooseDescriptor(descriptors, job.Options.Quality)
	log.Emit(logger.DEBUG, "Job %s: backend %s offered %d descriptor(s), chose quality %s\n",
		job.ID, candidate.Name(), len(descriptors), descriptor.Quality)

	stream, err := descriptor.Open(ctx, service.progressFn(job.ID))
	if err != nil {
		return nil, asFailure(candidate.Name(), err), nil
	}
	defer stream.Close()

	artifact, err := service.resolver.Store(ctx, stream, descriptor.Filename, descriptor.Size)
	if err != nil {
		var storageFailure *storage.Failure
		if errors.As(err, &storageFailure) {
			return nil, nil, storageFailure
		}

		return nil, nil, &storage.Failure{Message: err.Error()}
	}

	return artifact, nil, nil
}

// progressFn produces the per-job progress callback. Updates are clamped to
// 0..100 and monotonic; regressions reported by a backend are discarded.
// Events are throttled to whole-percent increments.
func (service *service) progressFn(id uuid.UUID) extractor.ProgressFn {
	return func(percent float64) {
		if percent < 0 {
			percent = 0
		} else if percent > 100 {
			percent = 100
		}

		advanced := false
		service.store.Update(id, func(job *Job) {
			if percent > job.Progress {
				advanced = percent-job.Progress >= 1
				job.Progress = percent
			}
		})

		if advanced {
			service.eventBus.Dispatch(event.DOWNLOAD_PROGRESS, id)
		}
	}
}

// cancelledCheckpoint terminalizes the job when cancellation was requested,
// reporting whether processing should stop.
func (service *service) cancelledCheckpoint(id uuid.UUID) bool {
	job, ok := service.store.Job(id)
	if !ok || job.Status.Terminal() {
		return true
	}
	if !job.CancelRequested {
		return false
	}

	service.failJob(id, "cancelled")
	return true
}

func (service *service) completeJob(id uuid.UUID, artifact *storage.Artifact) {
	service.store.Update(id, func(job *Job) {
		job.Status = Completed
		job.Progress = 100
		job.ResultName = artifact.Name
		job.ResultLocation = artifact.Location
		job.AccessURL = artifact.AccessURL
		job.StorageKind = artifact.Kind
		job.ByteSize = artifact.Size
		job.ErrorMessage = ""
	})

	service.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, id)
	log.Emit(logger.SUCCESS, "Job %s completed (%s, %d bytes)\n", id, artifact.Kind, artifact.Size)
}

func (service *service) failJob(id uuid.UUID, message string) {
	service.store.Update(id, func(job *Job) {
		job.Status = Failed
		job.ErrorMessage = message
	})

	service.eventBus.Dispatch(event.DOWNLOAD_COMPLETE, id)
	log.Emit(logger.ERROR, "Job %s failed: %s\n", id, message)
}

// failInFlightJobs moves every non-terminal job to Failed during shutdown.
func (service *service) failInFlightJobs() {
	for _, job := range service.store.AllJobs() {
		if !job.Status.Terminal() {
			service.failJob(job.ID, "server shutdown")
		}
	}
}

func (service *service) baseContext() context.Context {
	if service.runCtx != nil {
		return service.runCtx
	}

	return context.Background()
}

// asFailure normalizes any backend error to a *Failure so aggregation can
// rank it by specificity.
func asFailure(backend string, err error) *extractor.Failure {
	var failure *extractor.Failure
	if errors.As(err, &failure) {
		return failure
	}

	return extractor.NewFailure(extractor.FailureExtraction, backend, err.Error(), err)
}

// aggregateFailures reduces an exhausted fallback chain to the single error
// recorded on the job: the most specific failure wins, with later attempts
// winning ties.
func aggregateFailures(failures []*extractor.Failure) error {
	if len(failures) == 0 {
		return errors.New("no download backend available for this URL")
	}

	chosen := failures[0]
	for _, failure := range failures[1:] {
		if !chosen.Kind.MoreSpecificThan(failure.Kind) {
			chosen = failure
		}
	}

	return chosen
}
