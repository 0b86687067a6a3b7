package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/AltairaLabs/DubKit/logger"
)

// presignExpiry is how long S3 result URLs stay valid. Listeners may fetch
// a finished mix long after the job expires from the queue, so the window is
// deliberately wide.
const presignExpiry = 7 * 24 * time.Hour

// S3Store uploads to an S3 bucket and returns presigned GET URLs.
type S3Store struct {
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Store creates the store using the ambient AWS credential chain.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		bucket:  bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Name returns the backend identifier.
func (s *S3Store) Name() string { return "s3" }

// Upload puts the file under key and returns a presigned GET URL.
func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", uploadError(key, err)
	}
	defer func() { _ = f.Close() }()

	contentType := "audio/wav"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return "", uploadError(key, fmt.Errorf("put object: %w", err))
	}

	presigned, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", uploadError(key, fmt.Errorf("presign get: %w", err))
	}

	logger.Debug("Uploaded mix to S3", "bucket", s.bucket, "key", key)
	return presigned.URL, nil
}
