package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

// LocalStore writes artefacts to the configured download directory. Local
// artefacts have no access URL; the API streams them on demand.
type LocalStore struct {
	dir string
	log logger.Logger
}

// NewLocalStore constructs a local store rooted at dir, creating it if
// needed. An empty dir resolves to ~/iris-downloads.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("unable to determine home directory for default download dir: %w", err)
		}

		dir = filepath.Join(home, "iris-downloads")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create download dir %s: %w", dir, err)
	}

	return &LocalStore{dir: dir, log: logger.Get("LocalStore")}, nil
}

func (store *LocalStore) Store(ctx context.Context, stream io.Reader, name string) (*Artifact, error) {
	target := filepath.Join(store.dir, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(store.dir, uuid.NewString()[:8]+"_"+name)
	}

	file, err := os.Create(target)
	if err != nil {
		return nil, err
	}

	written, err := io.Copy(file, contextReader{ctx: ctx, inner: stream})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return nil, err
	}

	store.log.Emit(logger.SUCCESS, "Stored %s (%d bytes) at %s\n", name, written, target)
	return &Artifact{
		Kind:     KindLocal,
		Name:     name,
		Location: target,
		Size:     written,
	}, nil
}

// contextReader aborts a long-running copy when the surrounding context is
// cancelled, since file writes have no deadline of their own.
type contextReader struct {
	ctx   context.Context
	inner io.Reader
}

func (reader contextReader) Read(buffer []byte) (int, error) {
	if err := reader.ctx.Err(); err != nil {
		return 0, err
	}

	return reader.inner.Read(buffer)
}
