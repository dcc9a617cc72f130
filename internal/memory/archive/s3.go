// Package archive provides cold storage for episodes evicted from the
// in-memory ring, writing them as JSON objects to an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/clawrt/agentd/internal/memory/store"
)

// ObjectPutter is the slice of the S3 API the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes evicted episodes under
// <prefix>/<year>/<month>/<episode-id>.json.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver creates an archiver targeting the given bucket.
func NewS3Archiver(client ObjectPutter, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Archive uploads one episode. Implements store.EpisodeArchiver.
func (a *S3Archiver) Archive(ctx context.Context, ep *store.Episode) error {
	body, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to encode episode %s: %w", ep.ID, err)
	}
	key := a.objectKey(ep)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive episode %s: %w", ep.ID, err)
	}
	a.logger.Debug("archived episode", "episode_id", ep.ID, "key", key)
	return nil
}

func (a *S3Archiver) objectKey(ep *store.Episode) string {
	ts := ep.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if a.prefix != "" {
		return fmt.Sprintf("%s/%04d/%02d/%s.json", a.prefix, ts.Year(), int(ts.Month()), ep.ID)
	}
	return fmt.Sprintf("%04d/%02d/%s.json", ts.Year(), int(ts.Month()), ep.ID)
}
