// Package storage defines the remote-access capability the audit
// pipeline consumes, plus an S3-backed implementation. The orchestrator
// and its workers only ever see these interfaces; tests substitute
// in-memory fakes.
package storage

import (
	"context"
	"time"

	"github.com/blobaudit/blobaudit/internal/models"
)

// Client lists containers and their objects.
type Client interface {
	ListContainers(ctx context.Context) ([]models.ContainerInfo, error)
	ListBlobs(ctx context.Context, container string) ([]models.BlobInfo, error)
}

// Identity is the account scope a credential resolves to.
type Identity struct {
	AccountID string
	Principal string
}

// CredentialAPI exposes the freshness and renewal operations for one
// credential handle. A handle must not be shared across workers.
type CredentialAPI interface {
	// Validity returns the credential's remaining lifetime. Handles
	// that cannot expire report a large positive duration.
	Validity(ctx context.Context) (time.Duration, error)

	// Renew forces a refresh and returns the identity the renewed
	// credential resolves to, so the caller can verify the scope did
	// not change.
	Renew(ctx context.Context) (Identity, error)
}

// Factory builds an independent Client and CredentialAPI pair. Each
// worker calls the factory at spawn time so no handle instance ever
// crosses a goroutine boundary.
type Factory func(ctx context.Context) (Client, CredentialAPI, error)
