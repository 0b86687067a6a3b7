package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/AltairaLabs/DubKit/logger"
)

// sasExpiry matches the S3 presign window.
const sasExpiry = 7 * 24 * time.Hour

// connectionStringEnv, when set, selects shared-key auth. Shared key is what
// allows the store to mint SAS URLs; the identity path returns plain blob
// URLs instead.
const connectionStringEnv = "AZURE_STORAGE_CONNECTION_STRING"

// AzureStore uploads to an Azure Blob Storage container.
type AzureStore struct {
	container string
	client    *azblob.Client
	sharedKey bool
}

// NewAzureStore creates the store. A connection string in the environment
// wins; otherwise the account name plus the default Azure credential chain
// (managed identity, workload identity, az login) is used.
func NewAzureStore(account, container string) (*AzureStore, error) {
	if container == "" {
		return nil, fmt.Errorf("azure container is required")
	}

	if connStr := os.Getenv(connectionStringEnv); connStr != "" {
		client, err := azblob.NewClientFromConnectionString(connStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure client: %w", err)
		}
		return &AzureStore{container: container, client: client, sharedKey: true}, nil
	}

	if account == "" {
		return nil, fmt.Errorf("azure account is required without a connection string")
	}
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}
	return &AzureStore{container: container, client: client}, nil
}

// Name returns the backend identifier.
func (s *AzureStore) Name() string { return "azure" }

// Upload puts the file under key and returns a read URL: a SAS URL under
// shared-key auth, the plain blob URL otherwise.
func (s *AzureStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", uploadError(key, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := s.client.UploadFile(ctx, s.container, key, f, nil); err != nil {
		return "", uploadError(key, fmt.Errorf("upload blob: %w", err))
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	if !s.sharedKey {
		logger.Debug("Returning plain blob URL, SAS needs shared-key auth",
			"container", s.container, "key", key)
		return blobClient.URL(), nil
	}

	sasURL, err := blobClient.GetSASURL(
		sas.BlobPermissions{Read: true}, time.Now().Add(sasExpiry), nil)
	if err != nil {
		return "", uploadError(key, fmt.Errorf("mint SAS URL: %w", err))
	}

	logger.Debug("Uploaded mix to Azure", "container", s.container, "key", key)
	return sasURL, nil
}
