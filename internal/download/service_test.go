package download_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor is a scriptable backend adapter: it can fail with a fixed
// failure, block until a gate opens, or offer a fixed descriptor list.
type fakeExtractor struct {
	name        string
	failure     *extractor.Failure
	descriptors []extractor.MediaDescriptor
	gate        chan struct{}
	calls       atomic.Int32
}

func (fake *fakeExtractor) Name() string { return fake.name }

func (fake *fakeExtractor) Attempt(ctx context.Context, _ string, _ extractor.Options) ([]extractor.MediaDescriptor, error) {
	fake.calls.Add(1)

	if fake.gate != nil {
		select {
		case <-fake.gate:
		case <-ctx.Done():
			return nil, extractor.NewFailure(extractor.FailureTimeout, fake.name, "attempt deadline exceeded", ctx.Err())
		}
	}

	if fake.failure != nil {
		return nil, fake.failure
	}

	return fake.descriptors, nil
}

func (fake *fakeExtractor) Probe(ctx context.Context, sourceURL string) (*extractor.MediaInfo, error) {
	if fake.failure != nil {
		return nil, fake.failure
	}

	return &extractor.MediaInfo{SourceURL: sourceURL, Title: "probe result", Backend: fake.name}, nil
}

type staticSelector struct{ chain []extractor.Extractor }

func (selector staticSelector) Candidates(string) []extractor.Extractor { return selector.chain }

// capturingResolver drains stored streams in to memory, optionally failing
// every hand-off with a fixed error.
type capturingResolver struct {
	mutex   sync.Mutex
	stored  []string
	failure error
}

func (resolver *capturingResolver) Store(_ context.Context, stream io.Reader, name string, _ int64) (*storage.Artifact, error) {
	content, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	if resolver.failure != nil {
		return nil, resolver.failure
	}

	resolver.mutex.Lock()
	resolver.stored = append(resolver.stored, string(content))
	resolver.mutex.Unlock()

	return &storage.Artifact{
		Kind:      storage.KindObjectStore,
		Name:      name,
		Location:  "objects/" + name,
		AccessURL: "https://object-store.test/objects/" + name + "?signature=abc",
		Size:      int64(len(content)),
	}, nil
}

func staticDescriptor(quality string, filename string, content string) extractor.MediaDescriptor {
	return extractor.MediaDescriptor{
		Quality:   quality,
		Extension: "mp4",
		Kind:      extractor.MediaKindVideo,
		Size:      int64(len(content)),
		Filename:  filename,
		Open: func(_ context.Context, onProgress extractor.ProgressFn) (io.ReadCloser, error) {
			if onProgress != nil {
				onProgress(25)
				onProgress(75)
			}

			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func testConfig(parallelism int) download.Config {
	return download.Config{
		Parallelism:            parallelism,
		AttemptTimeoutMinutes:  1,
		MaxURLLength:           2048,
		RetentionHours:         24,
		CleanupIntervalMinutes: 60,
	}
}

func Test_Submit_RejectsInvalidSubmissions(t *testing.T) {
	service := download.New(testConfig(0), staticSelector{}, &capturingResolver{}, event.New(), download.NewStore(nil))

	tests := []struct {
		summary string
		url     string
		opts    extractor.Options
	}{
		{"empty URL", "", extractor.Options{}},
		{"whitespace URL", "   ", extractor.Options{}},
		{"unsupported scheme", "ftp://example.com/file.mp4", extractor.Options{}},
		{"missing host", "https://", extractor.Options{}},
		{"oversized URL", "https://example.com/" + strings.Repeat("a", 3000), extractor.Options{}},
		{"unknown quality flag", "https://example.com/v", extractor.Options{Quality: "ultra"}},
		{"malformed resolution", "https://example.com/v", extractor.Options{Quality: "72p"}},
		{"unknown format flag", "https://example.com/v", extractor.Options{Format: "avi"}},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			_, err := service.Submit(test.url, test.opts, "10.0.0.1")

			var validationErr *download.ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	assert.Empty(t, service.AllJobs(), "no record may exist for a rejected submission")
}

func Test_Submit_ReturnsBeforeBackendIsTouched(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeExtractor{
		name:        "slow",
		gate:        gate,
		descriptors: []extractor.MediaDescriptor{staticDescriptor("1080p", "clip.mp4", "media bytes")},
	}
	resolver := &capturingResolver{}
	service := download.New(testConfig(1), staticSelector{chain: []extractor.Extractor{backend}}, resolver, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = service.Run(ctx) }()

	started := time.Now()
	id, err := service.Submit("https://example.com/watch?v=abc", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 100*time.Millisecond, "submission must not wait on the backend")

	job, err := service.Job(id)
	require.NoError(t, err)
	assert.False(t, job.Status.Terminal())

	close(gate)
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		job, err := service.Job(id)
		assert.NoError(c, err)
		assert.Equal(c, download.Completed, job.Status)
	}, 2*time.Second, 10*time.Millisecond)

	job, err = service.Job(id)
	require.NoError(t, err)
	assert.Equal(t, float64(100), job.Progress)
	assert.Equal(t, storage.KindObjectStore, job.StorageKind)
	assert.Contains(t, job.AccessURL, "signature=")
	assert.Empty(t, job.ErrorMessage, "a completed job carries no error")
}

func Test_FallbackChain_LaterBackendServes(t *testing.T) {
	first := &fakeExtractor{name: "a", failure: extractor.NewFailure(extractor.FailureNetwork, "a", "connection refused", nil)}
	second := &fakeExtractor{name: "b", failure: extractor.NewFailure(extractor.FailureBlocked, "b", "403 from origin", nil)}
	third := &fakeExtractor{
		name:        "c",
		descriptors: []extractor.MediaDescriptor{staticDescriptor("720p", "clip.mp4", "the real bytes")},
	}
	resolver := &capturingResolver{}
	service := download.New(testConfig(1), staticSelector{chain: []extractor.Extractor{first, second, third}}, resolver, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = service.Run(ctx) }()

	id, err := service.Submit("https://example.com/watch?v=abc", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		job, err := service.Job(id)
		assert.NoError(c, err)
		assert.Equal(c, download.Completed, job.Status)
	}, 2*time.Second, 10*time.Millisecond)

	job, err := service.Job(id)
	require.NoError(t, err)
	assert.Empty(t, job.ErrorMessage, "intermediate attempt failures must not surface on a completed job")
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, second.calls.Load())
	assert.Equal(t, []string{"the real bytes"}, resolver.stored)
}

func Test_FallbackChain_Exhausted_MostSpecificFailureWins(t *testing.T) {
	chain := []extractor.Extractor{
		&fakeExtractor{name: "a", failure: extractor.NewFailure(extractor.FailureTimeout, "a", "deadline", nil)},
		&fakeExtractor{name: "b", failure: extractor.NewFailure(extractor.FailureExtraction, "b", "no formats found", nil)},
		&fakeExtractor{name: "c", failure: extractor.NewFailure(extractor.FailureNetwork, "c", "no such host", nil)},
	}
	service := download.New(testConfig(1), staticSelector{chain: chain}, &capturingResolver{}, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = service.Run(ctx) }()

	id, err := service.Submit("https://example.com/watch?v=abc", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		job, err := service.Job(id)
		assert.NoError(c, err)
		assert.Equal(c, download.Failed, job.Status)
	}, 2*time.Second, 10*time.Millisecond)

	job, err := service.Job(id)
	require.NoError(t, err)
	assert.Contains(t, job.ErrorMessage, "extraction failure in backend b")
	assert.Empty(t, job.AccessURL, "a failed job carries no result")
}

func Test_StorageFault_IsTerminalAndSkipsRemainingBackends(t *testing.T) {
	first := &fakeExtractor{
		name:        "a",
		descriptors: []extractor.MediaDescriptor{staticDescriptor("720p", "clip.mp4", "bytes")},
	}
	second := &fakeExtractor{name: "b", descriptors: []extractor.MediaDescriptor{staticDescriptor("480p", "clip.mp4", "bytes")}}
	resolver := &capturingResolver{failure: &storage.Failure{Message: "object store upload failed"}}
	service := download.New(testConfig(1), staticSelector{chain: []extractor.Extractor{first, second}}, resolver, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = service.Run(ctx) }()

	id, err := service.Submit("https://example.com/watch?v=abc", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		job, err := service.Job(id)
		assert.NoError(c, err)
		assert.Equal(c, download.Failed, job.Status)
	}, 2*time.Second, 10*time.Millisecond)

	job, err := service.Job(id)
	require.NoError(t, err)
	assert.Contains(t, job.ErrorMessage, "storage hand-off failed")
	assert.EqualValues(t, 0, second.calls.Load(), "storage faults must not re-enter the fallback chain")
}

func Test_CancelJob_ObservedAtWorkerCheckpoint(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeExtractor{
		name:        "gated",
		gate:        gate,
		descriptors: []extractor.MediaDescriptor{staticDescriptor("720p", "clip.mp4", "bytes")},
	}
	service := download.New(testConfig(1), staticSelector{chain: []extractor.Extractor{backend}}, &capturingResolver{}, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = service.Run(ctx) }()

	// Occupy the single worker, then queue and cancel a second job.
	firstID, err := service.Submit("https://example.com/first", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)
	secondID, err := service.Submit("https://example.com/second", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, service.CancelJob(secondID))

	close(gate)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		first, err := service.Job(firstID)
		assert.NoError(c, err)
		assert.Equal(c, download.Completed, first.Status)

		second, err := service.Job(secondID)
		assert.NoError(c, err)
		assert.Equal(c, download.Failed, second.Status)
	}, 2*time.Second, 10*time.Millisecond)

	second, err := service.Job(secondID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", second.ErrorMessage)
}

func Test_CancelJob_Errors(t *testing.T) {
	store := download.NewStore(nil)
	terminal := newJob(download.Completed)
	store.Save(terminal)
	service := download.New(testConfig(0), staticSelector{}, &capturingResolver{}, event.New(), store)

	assert.ErrorIs(t, service.CancelJob(uuid.New()), download.ErrJobNotFound)
	assert.Error(t, service.CancelJob(terminal.ID), "terminal jobs cannot be cancelled")
}

func Test_Shutdown_TerminalizesUnclaimedJobs(t *testing.T) {
	service := download.New(testConfig(0), staticSelector{}, &capturingResolver{}, event.New(), download.NewStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = service.Run(ctx)
		close(done)
	}()

	id, err := service.Submit("https://example.com/watch?v=abc", extractor.Options{}, "10.0.0.1")
	require.NoError(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not shut down in time")
	}

	job, err := service.Job(id)
	require.NoError(t, err)
	assert.Equal(t, download.Failed, job.Status)
	assert.Equal(t, "server shutdown", job.ErrorMessage)
}

func Test_Probe_FallsThroughChain(t *testing.T) {
	first := &fakeExtractor{name: "a", failure: extractor.NewFailure(extractor.FailureNetwork, "a", "unreachable", nil)}
	second := &fakeExtractor{name: "b"}
	service := download.New(testConfig(0), staticSelector{chain: []extractor.Extractor{first, second}}, &capturingResolver{}, event.New(), download.NewStore(nil))

	info, err := service.Probe(context.Background(), "https://example.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "b", info.Backend)
	assert.Empty(t, service.AllJobs(), "probing must not create a job record")
}

func Test_Probe_ExhaustedChainAggregates(t *testing.T) {
	chain := []extractor.Extractor{
		&fakeExtractor{name: "a", failure: extractor.NewFailure(extractor.FailureNetwork, "a", "unreachable", nil)},
		&fakeExtractor{name: "b", failure: extractor.NewFailure(extractor.FailureExtraction, "b", "no media", nil)},
	}
	service := download.New(testConfig(0), staticSelector{chain: chain}, &capturingResolver{}, event.New(), download.NewStore(nil))

	_, err := service.Probe(context.Background(), "https://example.com/watch?v=abc")

	var failure *extractor.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, extractor.FailureExtraction, failure.Kind)
}
