package download

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/pkg/logger"
)

// Mirror receives a durable echo of every accepted job mutation. Mirroring
// is strictly best-effort: a mirror fault is logged by the store and never
// affects the in-memory record.
type Mirror interface {
	SaveJob(ctx context.Context, job Job) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the concurrent-safe, insertion-ordered home of all job records.
// It is the single source of truth for job state; every read hands out a
// value snapshot and every write happens under the store lock via Update.
type Store struct {
	mutex  sync.Mutex
	jobs   map[uuid.UUID]*Job
	order  []uuid.UUID
	seqs   map[uuid.UUID]uint64
	mirror Mirror

	// mirrorMutex serializes mirror writes; mirrored tracks the highest
	// mutation sequence already written per job so a delayed upsert can
	// never clobber a newer row.
	mirrorMutex sync.Mutex
	mirrored    map[uuid.UUID]uint64

	log logger.Logger
}

// NewStore constructs a job store. The mirror may be nil, in which case
// records live in memory only.
func NewStore(mirror Mirror) *Store {
	return &Store{
		jobs:     make(map[uuid.UUID]*Job),
		seqs:     make(map[uuid.UUID]uint64),
		mirrored: make(map[uuid.UUID]uint64),
		mirror:   mirror,
		log:      logger.Get("JobStore"),
	}
}

// Save registers a brand new job record. The record is mirrored after the
// lock is released.
func (store *Store) Save(job *Job) {
	store.mutex.Lock()
	if _, exists := store.jobs[job.ID]; exists {
		store.mutex.Unlock()
		store.log.Emit(logger.WARNING, "Refusing to overwrite existing job %s\n", job.ID)
		return
	}

	clone := *job
	store.jobs[job.ID] = &clone
	store.order = append(store.order, job.ID)
	store.seqs[job.ID] = 1
	snapshot := clone
	store.mutex.Unlock()

	store.mirrorJob(snapshot, 1)
}

// Job returns a snapshot of the record with the given ID.
func (store *Store) Job(id uuid.UUID) (Job, bool) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	job, ok := store.jobs[id]
	if !ok {
		return Job{}, false
	}

	return *job, true
}

// AllJobs returns snapshots of every record in insertion order.
func (store *Store) AllJobs() []Job {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	jobs := make([]Job, 0, len(store.order))
	for _, id := range store.order {
		jobs = append(jobs, *store.jobs[id])
	}

	return jobs
}

// Update atomically mutates the record with the given ID. The mutator runs
// under the store lock against a copy of the live record, so read-modify-write
// races between workers, progress callbacks and the API are impossible.
// Terminal records are frozen: the mutator is not invoked for them and the
// unchanged snapshot is returned. A mutation attempting a status change the
// state machine forbids (see JobStatus.CanTransition) is discarded wholesale.
func (store *Store) Update(id uuid.UUID, mutate func(*Job)) (Job, bool) {
	store.mutex.Lock()
	job, ok := store.jobs[id]
	if !ok {
		store.mutex.Unlock()
		return Job{}, false
	}

	if job.Status.Terminal() {
		snapshot := *job
		store.mutex.Unlock()
		return snapshot, true
	}

	updated := *job
	mutate(&updated)
	if updated.Status != job.Status && !job.Status.CanTransition(updated.Status) {
		snapshot := *job
		store.mutex.Unlock()
		store.log.Emit(logger.WARNING, "Discarding illegal %s -> %s transition for job %s\n", snapshot.Status, updated.Status, id)
		return snapshot, true
	}

	updated.UpdatedAt = time.Now()
	*job = updated
	store.seqs[id]++
	seq := store.seqs[id]
	snapshot := updated
	store.mutex.Unlock()

	store.mirrorJob(snapshot, seq)
	return snapshot, true
}

// ClaimStarting atomically claims the oldest unclaimed job for a worker,
// transitioning it from Starting to Downloading. Returns false when no
// claimable job exists.
func (store *Store) ClaimStarting() (Job, bool) {
	store.mutex.Lock()
	for _, id := range store.order {
		job := store.jobs[id]
		if job.Status != Starting {
			continue
		}

		job.Status = Downloading
		job.UpdatedAt = time.Now()
		store.seqs[id]++
		seq := store.seqs[id]
		snapshot := *job
		store.mutex.Unlock()

		store.mirrorJob(snapshot, seq)
		return snapshot, true
	}

	store.mutex.Unlock()
	return Job{}, false
}

// RequestCancel flags the job for cancellation. Cancellation is advisory;
// the owning worker observes the flag at its next checkpoint. Returns false
// for unknown or already-terminal jobs.
func (store *Store) RequestCancel(id uuid.UUID) bool {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	job, ok := store.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}

	job.CancelRequested = true
	return true
}

// DeleteTerminalOlderThan removes terminal records last touched before the
// cutoff, returning how many were removed. Mirrored rows are swept with the
// same cutoff.
func (store *Store) DeleteTerminalOlderThan(cutoff time.Time) int {
	store.mutex.Lock()
	removed := make([]uuid.UUID, 0)
	retained := store.order[:0]
	for _, id := range store.order {
		job := store.jobs[id]
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(store.jobs, id)
			delete(store.seqs, id)
			removed = append(removed, id)
			continue
		}

		retained = append(retained, id)
	}
	store.order = retained
	store.mutex.Unlock()

	if len(removed) > 0 && store.mirror != nil {
		// Taking the mirror mutex lets any queued upserts land before
		// the sweep, and prevents new ones interleaving with it.
		store.mirrorMutex.Lock()
		if _, err := store.mirror.DeleteOlderThan(context.Background(), cutoff); err != nil {
			store.log.Emit(logger.ERROR, "Mirror sweep failed: %v\n", err)
		}
		for _, id := range removed {
			delete(store.mirrored, id)
		}
		store.mirrorMutex.Unlock()
	}

	return len(removed)
}

// mirrorJob writes the snapshot through to the durable mirror. Writes are
// serialized, and a snapshot older than one already written for the same job
// is discarded: a progress tick that stalls in a slow database round-trip
// must not overwrite the terminal row the worker mirrored in the meantime.
func (store *Store) mirrorJob(snapshot Job, seq uint64) {
	if store.mirror == nil {
		return
	}

	store.mirrorMutex.Lock()
	defer store.mirrorMutex.Unlock()

	if seq <= store.mirrored[snapshot.ID] {
		store.log.Emit(logger.DEBUG, "Skipping stale mirror write for job %s (seq %d)\n", snapshot.ID, seq)
		return
	}

	if err := store.mirror.SaveJob(context.Background(), snapshot); err != nil {
		store.log.Emit(logger.ERROR, "Failed to mirror job %s: %v\n", snapshot.ID, err)
		return
	}

	store.mirrored[snapshot.ID] = seq
}
