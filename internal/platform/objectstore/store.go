package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
)

var ErrObjectNotFound = errors.New("object not found")

// Store reads and writes whole objects in the configured bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

func NewStore(cfg Config) (*Store, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, cfg: cfg}, nil
}

func (s *Store) Config() Config { return s.cfg }

func (s *Store) EnsureBucket(ctx context.Context) error {
	return EnsureBucket(ctx, s.client, s.cfg)
}

func (s *Store) Check(ctx context.Context) error {
	return CheckBucket(ctx, s.client, s.cfg)
}

// Get returns the object stored under key, relative to the prefix.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	full := s.cfg.Key(key)
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, full, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapNotFound(full, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapNotFound(full, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	full := s.cfg.Key(key)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, full, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", full, err)
	}
	return nil
}

func mapNotFound(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return fmt.Errorf("get object %s: %w", key, err)
}
