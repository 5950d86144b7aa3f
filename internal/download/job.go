// Package download contains the job orchestrator at the heart of Iris: the
// in-memory job store, the job state machine, and the service that accepts
// submissions and drives them through the extraction fallback chain to
// storage.
package download

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/extractor"
	"github.com/hbomb79/Iris/internal/storage"
)

type JobStatus int

const (
	// Starting is the status of an accepted job that no worker has
	// claimed yet.
	Starting JobStatus = iota

	// Downloading indicates a worker owns the job and is moving through
	// the fallback chain.
	Downloading

	Completed
	Failed
)

func (status JobStatus) String() string {
	switch status {
	case Starting:
		return "starting"
	case Downloading:
		return "downloading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}

	return "unknown"
}

func (status JobStatus) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", status.String())), nil
}

// Terminal reports whether this status is final. Terminal job records are
// frozen; no further mutation is accepted.
func (status JobStatus) Terminal() bool {
	return status == Completed || status == Failed
}

// CanTransition reports whether the job state machine permits moving from
// this status to the next one. The store consults this on every mutation,
// discarding updates that attempt an illegal transition.
func (status JobStatus) CanTransition(next JobStatus) bool {
	switch status {
	case Starting:
		return next == Downloading || next == Failed
	case Downloading:
		return next == Completed || next == Failed
	}

	return false
}

// Job is the record Iris keeps for every accepted download. All fields are
// owned by the store; consumers only ever see value copies.
type Job struct {
	ID        uuid.UUID         `json:"id"`
	SourceURL string            `json:"source_url"`
	Options   extractor.Options `json:"-"`

	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`

	// Result fields are populated only when Status is Completed.
	ResultName     string       `json:"result_name,omitempty"`
	ResultLocation string       `json:"result_location,omitempty"`
	AccessURL      string       `json:"access_url,omitempty"`
	StorageKind    storage.Kind `json:"storage_kind,omitempty"`
	ByteSize       int64        `json:"byte_size,omitempty"`

	// ErrorMessage is populated only when Status is Failed.
	ErrorMessage string `json:"error,omitempty"`

	RequesterAddr   string `json:"-"`
	CancelRequested bool   `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationError describes a rejected submission. No job record exists for
// a submission that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", err.Field, err.Reason)
}

var qualityPattern = regexp.MustCompile(`^\d{3,4}p$`)

var allowedFormats = map[string]struct{}{
	"mp4": {}, "webm": {}, "mkv": {}, "m4a": {}, "mp3": {},
}

// validateSubmission checks a submission before any record is created.
func validateSubmission(sourceURL string, opts extractor.Options, maxURLLength int) error {
	if strings.TrimSpace(sourceURL) == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	if maxURLLength > 0 && len(sourceURL) > maxURLLength {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("exceeds maximum length of %d", maxURLLength)}
	}

	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: "is not a parseable URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "must use http or https"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "has no host"}
	}

	quality := strings.ToLower(strings.TrimSpace(opts.Quality))
	if quality != "" && quality != "best" && quality != "worst" && !qualityPattern.MatchString(quality) {
		return &ValidationError{Field: "quality", Reason: "must be 'best', 'worst' or a resolution such as '720p'"}
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != "" {
		if _, ok := allowedFormats[format]; !ok {
			return &ValidationError{Field: "format", Reason: "must be one of mp4, webm, mkv, m4a, mp3"}
		}
	}

	return nil
}
