package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectInfo is a single entry of the object store listing exposed by the
// artifacts admin surface.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectBackend abstracts the object store client so the resolver and the
// admin surface can be exercised without a live MinIO deployment.
type ObjectBackend interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, stream io.Reader, size int64, contentType string) (int64, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// ObjectStore stores artefacts in a bucket and hands out presigned access
// URLs with the configured expiry.
type ObjectStore struct {
	backend       ObjectBackend
	presignExpiry time.Duration

	log logger.Logger
}

func NewObjectStore(backend ObjectBackend, presignExpiry time.Duration) *ObjectStore {
	return &ObjectStore{
		backend:       backend,
		presignExpiry: presignExpiry,
		log:           logger.Get("ObjectStore"),
	}
}

// Connect ensures the configured bucket exists.
func (store *ObjectStore) Connect(ctx context.Context) error {
	if err := store.backend.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("object store unavailable: %w", err)
	}

	return nil
}

// Store uploads the stream under a collision-free key and presigns an
// access URL for it.
func (store *ObjectStore) Store(ctx context.Context, stream io.Reader, name string, size int64) (*Artifact, error) {
	key := fmt.Sprintf("%s_%s", uuid.NewString()[:8], name)

	written, err := store.backend.Put(ctx, key, stream, size, ContentTypeFor(name))
	if err != nil {
		return nil, err
	}

	accessURL, err := store.backend.PresignGet(ctx, key, store.presignExpiry)
	if err != nil {
		return nil, err
	}

	store.log.Emit(logger.SUCCESS, "Stored %s (%d bytes) as object %s\n", name, written, key)
	return &Artifact{
		Kind:      KindObjectStore,
		Name:      name,
		Location:  key,
		AccessURL: accessURL,
		Size:      written,
	}, nil
}

// PresignGet re-signs an access URL for an existing object, used when a
// jobs original presigned URL has expired.
func (store *ObjectStore) PresignGet(ctx context.Context, key string) (string, error) {
	return store.backend.PresignGet(ctx, key, store.presignExpiry)
}

func (store *ObjectStore) List(ctx context.Context) ([]ObjectInfo, error) {
	return store.backend.List(ctx)
}

func (store *ObjectStore) Remove(ctx context.Context, key string) error {
	return store.backend.Remove(ctx, key)
}

// MinioConfig configures the MinIO-backed object store.
type MinioConfig struct {
	Enabled       bool   `yaml:"enabled" env:"MINIO_ENABLED" env-default:"false"`
	Endpoint      string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey     string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket        string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"iris-media"`
	UseSSL        bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	PresignExpiry int    `yaml:"presign_expiry_seconds" env:"MINIO_PRESIGN_EXPIRY" env-default:"43200"`
}

type minioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend constructs the production ObjectBackend from config.
func NewMinioBackend(config MinioConfig) (ObjectBackend, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct MinIO client: %w", err)
	}

	return &minioBackend{client: client, bucket: config.Bucket}, nil
}

func (backend *minioBackend) EnsureBucket(ctx context.Context) error {
	exists, err := backend.client.BucketExists(ctx, backend.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return backend.client.MakeBucket(ctx, backend.bucket, minio.MakeBucketOptions{})
}

func (backend *minioBackend) Put(ctx context.Context, key string, stream io.Reader, size int64, contentType string) (int64, error) {
	info, err := backend.client.PutObject(ctx, backend.bucket, key, stream, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, err
	}

	return info.Size, nil
}

func (backend *minioBackend) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presigned, err := backend.client.PresignedGetObject(ctx, backend.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}

	return presigned.String(), nil
}

func (backend *minioBackend) List(ctx context.Context) ([]ObjectInfo, error) {
	objects := make([]ObjectInfo, 0)
	for object := range backend.client.ListObjects(ctx, backend.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, object.Err
		}

		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}

	return objects, nil
}

func (backend *minioBackend) Remove(ctx context.Context, key string) error {
	return backend.client.RemoveObject(ctx, backend.bucket, key, minio.RemoveObjectOptions{})
}

// contentTypes maps media file extensions to the content type used when
// uploading artefacts.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".flv":  "video/x-flv",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
}

func ContentTypeFor(name string) string {
	if contentType, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return contentType
	}

	return "application/octet-stream"
}
