package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// ErrObjectNotExist is returned by Download when the object is missing.
var ErrObjectNotExist = storage.ErrObjectNotExist

// GCSClient wraps one bucket of Google Cloud Storage. It backs the
// pre-rendered audio caches: objects are raw mu-law byte sequences with a
// long max-age so repeated cold starts hit the CDN, not the synthesizer.
type GCSClient struct {
	client     *storage.Client
	bucketName string
}

func NewGCSClient(ctx context.Context, bucketName string) (*GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %v", err)
	}

	return &GCSClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Upload writes an object with audio content type and a one-year cache
// control header, and returns its public URL.
func (g *GCSClient) Upload(ctx context.Context, objectPath string, content io.Reader) (string, error) {
	obj := g.client.Bucket(g.bucketName).Object(objectPath)

	writer := obj.NewWriter(ctx)
	writer.ContentType = "audio/basic"
	writer.CacheControl = "public, max-age=31536000"
	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to copy content: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucketName, objectPath), nil
}

// Download reads a full object. Missing objects return ErrObjectNotExist.
func (g *GCSClient) Download(ctx context.Context, objectPath string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotExist
		}
		return nil, fmt.Errorf("failed to open object %s: %v", objectPath, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %v", objectPath, err)
	}
	return data, nil
}

// Delete removes an object; a missing object is not an error.
func (g *GCSClient) Delete(ctx context.Context, objectPath string) error {
	if err := g.client.Bucket(g.bucketName).Object(objectPath).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

func (g *GCSClient) Close() error {
	return g.client.Close()
}
