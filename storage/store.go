// Package storage uploads final mixes to a blob store and hands back a URL
// the caller can fetch them from.
//
// Three backends exist: a local content-addressed file store for development
// and tests, S3 with presigned GET URLs, and Azure Blob Storage with SAS
// URLs. The backend is selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/DubKit/config"
	"github.com/AltairaLabs/DubKit/types"
)

// Store uploads local files and returns publicly fetchable URLs.
// Implementations are safe for concurrent use.
type Store interface {
	// Name returns the backend identifier.
	Name() string

	// Upload copies the file at localPath to the store under key and returns
	// a URL granting read access. Failures are UploadError.
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// New builds the Store selected by the configuration.
func New(ctx context.Context, spec config.StorageSpec) (Store, error) {
	switch spec.Backend {
	case "local", "":
		return NewLocalStore(spec.LocalDir)
	case "s3":
		return NewS3Store(ctx, spec.Bucket)
	case "azure":
		return NewAzureStore(spec.AzureAccount, spec.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", spec.Backend)
	}
}

// uploadError wraps err as the taxonomy's upload failure for key.
func uploadError(key string, err error) error {
	return &types.UploadError{Key: key, Err: err}
}
