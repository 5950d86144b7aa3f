package download_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(status download.JobStatus) *download.Job {
	now := time.Now()
	return &download.Job{
		ID:        uuid.New(),
		SourceURL: "https://example.com/media.mp4",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func Test_Store_SnapshotsAndInsertionOrder(t *testing.T) {
	store := download.NewStore(nil)

	first := newJob(download.Starting)
	second := newJob(download.Starting)
	third := newJob(download.Starting)
	store.Save(first)
	store.Save(second)
	store.Save(third)

	jobs := store.AllJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
	assert.Equal(t, third.ID, jobs[2].ID)

	// Mutating a returned snapshot must not leak back in to the store.
	jobs[0].Status = download.Failed
	stored, ok := store.Job(first.ID)
	require.True(t, ok)
	assert.Equal(t, download.Starting, stored.Status)
}

func Test_Store_UpdateIsAtomicAndTerminalWins(t *testing.T) {
	store := download.NewStore(nil)
	job := newJob(download.Downloading)
	store.Save(job)

	// Race progress ticks against a terminal transition. Whatever the
	// interleaving, the record must end terminal with no lost update.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(percent float64) {
			defer wg.Done()
			store.Update(job.ID, func(j *download.Job) {
				if percent > j.Progress {
					j.Progress = percent
				}
			})
		}(float64(i * 2))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Update(job.ID, func(j *download.Job) {
			j.Status = download.Failed
			j.ErrorMessage = "no backend could serve this URL"
		})
	}()
	wg.Wait()

	final, ok := store.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, download.Failed, final.Status)
	assert.Equal(t, "no backend could serve this URL", final.ErrorMessage)

	// Terminal records are frozen; further mutation attempts are ignored.
	frozen, ok := store.Update(job.ID, func(j *download.Job) { j.Progress = 99.9 })
	require.True(t, ok)
	assert.Equal(t, final.Progress, frozen.Progress)
	assert.Equal(t, download.Failed, frozen.Status)
}

func Test_Store_ClaimStarting(t *testing.T) {
	store := download.NewStore(nil)
	first := newJob(download.Starting)
	second := newJob(download.Starting)
	store.Save(first)
	store.Save(second)

	claimed, ok := store.ClaimStarting()
	require.True(t, ok)
	assert.Equal(t, first.ID, claimed.ID, "oldest submission must be claimed first")
	assert.Equal(t, download.Downloading, claimed.Status)

	claimed, ok = store.ClaimStarting()
	require.True(t, ok)
	assert.Equal(t, second.ID, claimed.ID)

	_, ok = store.ClaimStarting()
	assert.False(t, ok, "no claimable jobs remain")
}

func Test_Store_RequestCancel(t *testing.T) {
	store := download.NewStore(nil)
	active := newJob(download.Downloading)
	terminal := newJob(download.Completed)
	store.Save(active)
	store.Save(terminal)

	assert.True(t, store.RequestCancel(active.ID))
	job, _ := store.Job(active.ID)
	assert.True(t, job.CancelRequested)

	assert.False(t, store.RequestCancel(terminal.ID))
	assert.False(t, store.RequestCancel(uuid.New()))
}

func Test_Store_DeleteTerminalOlderThan(t *testing.T) {
	store := download.NewStore(nil)
	oldTerminal := newJob(download.Completed)
	freshTerminal := newJob(download.Failed)
	active := newJob(download.Downloading)
	store.Save(oldTerminal)
	store.Save(freshTerminal)
	store.Save(active)

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()

	removed := store.DeleteTerminalOlderThan(cutoff)
	assert.Equal(t, 2, removed, "both terminal records predate the cutoff")

	_, ok := store.Job(oldTerminal.ID)
	assert.False(t, ok)
	_, ok = store.Job(freshTerminal.ID)
	assert.False(t, ok)
	_, ok = store.Job(active.ID)
	assert.True(t, ok, "active records are never swept")

	jobs := store.AllJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, active.ID, jobs[0].ID)
}

type recordingMirror struct {
	mutex sync.Mutex
	saved []download.Job
	err   error
}

func (mirror *recordingMirror) SaveJob(_ context.Context, job download.Job) error {
	mirror.mutex.Lock()
	defer mirror.mutex.Unlock()
	mirror.saved = append(mirror.saved, job)
	return mirror.err
}

func (mirror *recordingMirror) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, mirror.err
}

func (mirror *recordingMirror) count() int {
	mirror.mutex.Lock()
	defer mirror.mutex.Unlock()
	return len(mirror.saved)
}

func Test_Store_MirrorsAcceptedMutations(t *testing.T) {
	mirror := &recordingMirror{}
	store := download.NewStore(mirror)

	job := newJob(download.Starting)
	store.Save(job)
	store.Update(job.ID, func(j *download.Job) { j.Status = download.Downloading })

	assert.Equal(t, 2, mirror.count())
	assert.Equal(t, download.Downloading, mirror.saved[1].Status)
}

func Test_Store_MirrorFaultNeverBreaksRecord(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("database unreachable")}
	store := download.NewStore(mirror)

	job := newJob(download.Starting)
	store.Save(job)
	snapshot, ok := store.Update(job.ID, func(j *download.Job) { j.Status = download.Downloading })

	require.True(t, ok)
	assert.Equal(t, download.Downloading, snapshot.Status)

	stored, ok := store.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, download.Downloading, stored.Status)
}

func Test_Store_UpdateDiscardsIllegalTransition(t *testing.T) {
	store := download.NewStore(nil)
	job := newJob(download.Starting)
	store.Save(job)

	// A job can only complete from Downloading; an attempt to jump
	// straight from Starting must be discarded wholesale.
	snapshot, ok := store.Update(job.ID, func(j *download.Job) {
		j.Status = download.Completed
		j.Progress = 100
	})
	require.True(t, ok)
	assert.Equal(t, download.Starting, snapshot.Status)
	assert.Zero(t, snapshot.Progress, "a discarded mutation must not partially apply")

	stored, _ := store.Job(job.ID)
	assert.Equal(t, download.Starting, stored.Status)

	// The legal path is unaffected.
	store.Update(job.ID, func(j *download.Job) { j.Status = download.Downloading })
	final, _ := store.Update(job.ID, func(j *download.Job) { j.Status = download.Completed })
	assert.Equal(t, download.Completed, final.Status)
}

// gatedMirror stalls the upsert of any non-terminal progress snapshot until
// released, simulating a slow database round-trip.
type gatedMirror struct {
	recordingMirror
	entered chan struct{}
	release chan struct{}
}

func (mirror *gatedMirror) SaveJob(ctx context.Context, job download.Job) error {
	if job.Status == download.Downloading && job.Progress > 0 {
		mirror.entered <- struct{}{}
		<-mirror.release
	}

	return mirror.recordingMirror.SaveJob(ctx, job)
}

func Test_Store_MirrorNeverRegressesToStaleSnapshot(t *testing.T) {
	mirror := &gatedMirror{entered: make(chan struct{}, 1), release: make(chan struct{})}
	store := download.NewStore(mirror)

	job := newJob(download.Downloading)
	store.Save(job)

	// A progress tick stalls mid round-trip while the worker completes
	// the job. The terminal row must be what ultimately survives.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Update(job.ID, func(j *download.Job) { j.Progress = 87 })
	}()
	<-mirror.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Update(job.ID, func(j *download.Job) {
			j.Status = download.Completed
			j.Progress = 100
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(mirror.release)
	wg.Wait()

	require.NotZero(t, mirror.count())
	last := mirror.saved[mirror.count()-1]
	assert.Equal(t, download.Completed, last.Status, "the stale progress upsert must not land after the terminal row")
	assert.Equal(t, float64(100), last.Progress)
}
