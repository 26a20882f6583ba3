package artifact

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/paperpolish/polish-int/internal/core"
)

type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// AzureSink uploads artifacts to a blob container.
type AzureSink struct {
	client    blobUploader
	container string
	prefix    string
}

// NewAzureSink creates a sink from a storage account connection string.
func NewAzureSink(dest Destination, connectionString string, httpClient *http.Client) (*AzureSink, error) {
	if dest.Kind != KindAzure || dest.Bucket == "" {
		return nil, fmt.Errorf("not an Azure Blob destination: %s", dest)
	}
	if connectionString == "" {
		return nil, fmt.Errorf("azblob destination requires export.azure_connection_string or POLISH_AZURE_CONNECTION_STRING")
	}

	opts := &azblob.ClientOptions{}
	if httpClient != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: httpClient}
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureSink{client: client, container: dest.Bucket, prefix: dest.Prefix}, nil
}

// Write uploads the artifact as a block blob.
func (s *AzureSink) Write(ctx context.Context, a *core.Artifact) (string, error) {
	name := objectKey(s.prefix, a.Filename)
	_, err := s.client.UploadBuffer(ctx, s.container, name, []byte(a.Content), &azblob.UploadBufferOptions{
		Metadata: map[string]*string{"session_id": to.Ptr(a.SessionID)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload azblob://%s/%s: %w", s.container, name, err)
	}
	return "azblob://" + s.container + "/" + name, nil
}
