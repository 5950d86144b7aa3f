// Package storage resolves completed media streams to their final home:
// the configured object store (with a presigned access URL) or the local
// download directory.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/hbomb79/Iris/pkg/logger"
)

type Kind string

const (
	KindLocal       Kind = "local"
	KindObjectStore Kind = "object-store"
)

// Artifact describes where a stored media stream ended up.
type Artifact struct {
	Kind Kind

	// Name is the human-facing filename of the artefact.
	Name string

	// Location is the canonical position of the artefact: an object key
	// for the object store, an absolute path for local storage.
	Location string

	// AccessURL is a time-limited URL for fetching the artefact. Empty
	// for local artefacts, which are streamed by the API instead.
	AccessURL string

	Size int64
}

// Failure indicates the storage hand-off could not complete. A job whose
// media was extracted but whose artefact hit a Failure is failed outright;
// the fallback chain is never re-entered for storage faults.
type Failure struct {
	Message string
	cause   error
}

func (failure *Failure) Error() string {
	return fmt.Sprintf("storage failure: %s", failure.Message)
}

func (failure *Failure) Unwrap() error { return failure.cause }

// Resolver chooses a backend for each artefact per the configured policy:
// object store when available, local directory as the (optional) fallback.
type Resolver struct {
	object             *ObjectStore
	local              *LocalStore
	allowLocalFallback bool

	log logger.Logger
}

// NewResolver builds a resolver. Either backend may be nil; at least one
// must be provided for Store to ever succeed.
func NewResolver(object *ObjectStore, local *LocalStore, allowLocalFallback bool) *Resolver {
	return &Resolver{
		object:             object,
		local:              local,
		allowLocalFallback: allowLocalFallback,
		log:                logger.Get("Storage"),
	}
}

// Store persists the stream and reports the resulting artifact. The size
// may be -1 when unknown upfront.
func (resolver *Resolver) Store(ctx context.Context, stream io.Reader, name string, size int64) (*Artifact, error) {
	if resolver.object != nil {
		artifact, err := resolver.object.Store(ctx, stream, name, size)
		if err == nil {
			return artifact, nil
		}

		if !resolver.allowLocalFallback || resolver.local == nil {
			return nil, &Failure{Message: "object store upload failed", cause: err}
		}

		// The failed upload may have consumed part of the stream; the
		// local fallback is only possible when the stream can be rewound.
		seeker, ok := stream.(io.Seeker)
		if !ok {
			return nil, &Failure{Message: "object store upload failed and stream cannot be replayed", cause: err}
		}
		if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr != nil {
			return nil, &Failure{Message: "object store upload failed and stream cannot be replayed", cause: err}
		}

		resolver.log.Emit(logger.WARNING, "Object store upload for %s failed (%v), falling back to local storage\n", name, err)
	}

	if resolver.local == nil {
		return nil, &Failure{Message: "no storage backend available"}
	}

	artifact, err := resolver.local.Store(ctx, stream, name)
	if err != nil {
		return nil, &Failure{Message: "local storage write failed", cause: err}
	}

	return artifact, nil
}
