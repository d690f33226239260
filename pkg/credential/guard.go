// Package credential keeps a worker's credential handle fresh. Each
// worker owns an independent Guard over its own handle; renewing one
// never touches another worker's credentials.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blobaudit/blobaudit/pkg/storage"
)

// ErrRenewalFailed marks a renewal that could not be verified. The
// caller must not proceed with the operation that needed the fresh
// credential.
var ErrRenewalFailed = errors.New("credential renewal failed")

// DefaultThreshold is the remaining validity below which the guard
// renews proactively.
const DefaultThreshold = 5 * time.Minute

// Guard checks and renews a single credential handle.
type Guard struct {
	api       storage.CredentialAPI
	accountID string // expected scope after renewal
	threshold time.Duration
	logger    *zap.Logger
}

// NewGuard builds a guard for one handle. accountID is the scope a
// renewed credential must still resolve to; empty skips the check.
func NewGuard(api storage.CredentialAPI, accountID string, threshold time.Duration, logger *zap.Logger) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{api: api, accountID: accountID, threshold: threshold, logger: logger}
}

// EnsureFresh renews the credential when its remaining validity is at or
// below the threshold. Renewal is verified by confirming the renewed
// credential still resolves to the expected account; a changed scope is
// a renewal failure.
func (g *Guard) EnsureFresh(ctx context.Context) error {
	remaining, err := g.api.Validity(ctx)
	if err != nil {
		return fmt.Errorf("%w: checking validity: %w", ErrRenewalFailed, err)
	}

	if remaining > g.threshold {
		return nil
	}

	g.logger.Debug("renewing credential",
		zap.Duration("remaining", remaining),
		zap.Duration("threshold", g.threshold))

	identity, err := g.api.Renew(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenewalFailed, err)
	}

	if g.accountID != "" && identity.AccountID != g.accountID {
		return fmt.Errorf("%w: renewed credential resolves to account %q, expected %q",
			ErrRenewalFailed, identity.AccountID, g.accountID)
	}

	g.logger.Debug("credential renewed", zap.String("principal", identity.Principal))
	return nil
}
