package download

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sequenceMirror struct {
	saved []Job
}

func (mirror *sequenceMirror) SaveJob(_ context.Context, job Job) error {
	mirror.saved = append(mirror.saved, job)
	return nil
}

func (mirror *sequenceMirror) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func Test_MirrorJob_DiscardsStaleSequences(t *testing.T) {
	mirror := &sequenceMirror{}
	store := NewStore(mirror)

	job := Job{ID: uuid.New(), Status: Downloading, Progress: 50}
	store.mirrorJob(job, 2)

	// A write that was generated earlier but delayed in flight arrives
	// after a newer one; it must be dropped rather than applied.
	stale := job
	stale.Progress = 10
	store.mirrorJob(stale, 1)

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, float64(50), mirror.saved[0].Progress)

	newer := job
	newer.Status = Completed
	newer.Progress = 100
	store.mirrorJob(newer, 3)

	require.Len(t, mirror.saved, 2)
	assert.Equal(t, Completed, mirror.saved[1].Status)
}
