// Package extractor contains the backend adapters Iris uses to turn a source
// URL in to downloadable media, along with the selector that decides which
// adapters to try (and in what order) for a given URL.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// ProgressFn receives percentage-complete updates (0..100) while a
// descriptors media stream is being produced or consumed. Implementations
// must be safe to call from the goroutine performing the download.
type ProgressFn func(percent float64)

// Options carries the user-provided download preferences through to the
// adapters. All fields are optional; adapters interpret zero values as
// "best available".
type Options struct {
	Quality   string
	Format    string
	AudioOnly bool
}

// MediaDescriptor describes one concrete rendition of the media behind a
// source URL. Descriptors are cheap: producing one must not move any media
// bytes. The bytes only start flowing once Open is called.
type MediaDescriptor struct {
	// URL is the resolved media URL, where one exists. Informational only;
	// consumers must go through Open to obtain the bytes.
	URL string

	// Quality is the adapters label for this rendition (e.g. "1080p", "best").
	Quality string

	Extension string
	Kind      MediaKind

	// Size is the size of the media in bytes, or -1 when not known upfront.
	Size int64

	// Filename is the suggested name for the stored artefact.
	Filename string

	// Open produces the media stream for this descriptor. The provided
	// ProgressFn may be nil. The returned reader must be closed by the
	// caller; closing it releases any temporary resources the adapter
	// created while producing the stream.
	Open func(ctx context.Context, onProgress ProgressFn) (io.ReadCloser, error)
}

// FormatInfo is a single row of a probe result's format table.
type FormatInfo struct {
	ID        string `json:"id"`
	Quality   string `json:"quality"`
	Extension string `json:"extension"`
	Filesize  int64  `json:"filesize"`
}

// MediaInfo is the metadata-only result of probing a source URL, used by the
// synchronous media-info endpoint. No Job Record is involved.
type MediaInfo struct {
	SourceURL string       `json:"source_url"`
	Title     string       `json:"title"`
	Uploader  string       `json:"uploader,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	Backend   string       `json:"backend"`
	Formats   []FormatInfo `json:"formats"`
}

// Extractor is a single backend adapter. Attempt and Probe return *Failure
// errors exclusively; an adapter never panics and never surfaces an
// untyped error to its caller.
type Extractor interface {
	Name() string

	// Attempt resolves the source URL to one or more media descriptors
	// without transferring any media bytes.
	Attempt(ctx context.Context, sourceURL string, opts Options) ([]MediaDescriptor, error)

	// Probe fetches display metadata for the source URL.
	Probe(ctx context.Context, sourceURL string) (*MediaInfo, error)
}

type FailureKind int

const (
	FailureUnsupported FailureKind = iota
	FailureTimeout
	FailureNetwork
	FailureBlocked
	FailureExtraction
)

func (kind FailureKind) String() string {
	switch kind {
	case FailureUnsupported:
		return "unsupported"
	case FailureTimeout:
		return "timeout"
	case FailureNetwork:
		return "network"
	case FailureBlocked:
		return "blocked"
	case FailureExtraction:
		return "extraction"
	}

	return "unknown"
}

// MoreSpecificThan reports whether this failure kind tells the user more
// about what went wrong than 'other' does. Used when aggregating the
// failures of an exhausted fallback chain in to a single job error.
func (kind FailureKind) MoreSpecificThan(other FailureKind) bool {
	return kind > other
}

// Failure is the error type for every adapter fault. The Backend and Kind
// allow the orchestrator to log, aggregate and classify attempts without
// parsing message strings.
type Failure struct {
	Kind    FailureKind
	Backend string
	Message string
	cause   error
}

func (failure *Failure) Error() string {
	return fmt.Sprintf("%s failure in backend %s: %s", failure.Kind, failure.Backend, failure.Message)
}

func (failure *Failure) Unwrap() error { return failure.cause }

func NewFailure(kind FailureKind, backend string, message string, cause error) *Failure {
	return &Failure{Kind: kind, Backend: backend, Message: message, cause: cause}
}

// classifyError wraps an arbitrary adapter error in to a Failure, inferring
// the kind from the error chain and (as a last resort) the message text that
// the underlying tools produce.
func classifyError(backend string, err error) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(FailureTimeout, backend, "attempt deadline exceeded", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewFailure(FailureTimeout, backend, "network timeout", err)
		}

		return NewFailure(FailureNetwork, backend, err.Error(), err)
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unsupported url"), strings.Contains(message, "is not a valid url"):
		return NewFailure(FailureUnsupported, backend, err.Error(), err)
	case strings.Contains(message, "403"),
		strings.Contains(message, "sign in"),
		strings.Contains(message, "login required"),
		strings.Contains(message, "private video"),
		strings.Contains(message, "rate limit"):
		return NewFailure(FailureBlocked, backend, err.Error(), err)
	case strings.Contains(message, "connection refused"),
		strings.Contains(message, "no such host"),
		strings.Contains(message, "connection reset"):
		return NewFailure(FailureNetwork, backend, err.Error(), err)
	}

	return NewFailure(FailureExtraction, backend, err.Error(), err)
}
