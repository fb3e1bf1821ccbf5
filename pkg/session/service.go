// Package session composes the inference service, model provisioning and the
// chat session behind a single Facade.
package session

import (
	"context"
	"time"

	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
)

// ProgressStream is a finite download progress sequence; Recv returns io.EOF
// after the last element.
type ProgressStream interface {
	Recv(ctx context.Context) (foundry.DownloadProgress, error)
	Close() error
}

// Service is the control surface of the local inference service.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ListCachedModels(ctx context.Context) ([]foundry.ModelDescriptor, error)
	ListCatalogModels(ctx context.Context) ([]foundry.ModelDescriptor, error)
	Download(ctx context.Context, modelID string) (ProgressStream, error)
	Load(ctx context.Context, modelID string, timeout time.Duration) (foundry.ActiveModel, error)
	Close() error
}

// clientService adapts *foundry.Client to Service.
type clientService struct {
	*foundry.Client
}

// FromClient exposes a foundry client as a Service.
func FromClient(c *foundry.Client) Service {
	return clientService{Client: c}
}

func (s clientService) Download(ctx context.Context, modelID string) (ProgressStream, error) {
	stream, err := s.Client.Download(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
