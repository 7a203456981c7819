package gcp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Archiver keeps a copy of every rendered document in a GCS bucket. Objects
// are content-addressed, so re-rendering identical bytes is a no-op.
type Archiver struct {
	bucket     *storage.BucketHandle
	bucketName string
}

// NewArchiver returns an Archiver writing into bucketName.
func NewArchiver(client *storage.Client, bucketName string) *Archiver {
	return &Archiver{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
	}
}

// Archive writes content under prefix/<sha256>.pdf only if that object does
// not exist yet, and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, prefix string, content []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s.pdf", prefix, ContentHash(content))
	uri := fmt.Sprintf("gs://%s/%s", a.bucketName, objectName)

	writer := a.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: archive object already exists.", "gcsObject", objectName)
			return uri, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: archive object already exists.", "gcsObject", objectName)
			return uri, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return uri, nil
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
