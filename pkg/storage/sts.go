package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// neverExpires is reported for static credentials that carry no expiry.
const neverExpires = 24 * time.Hour

// STSCredentialAPI implements CredentialAPI over an aws.Config's
// credential cache, using STS GetCallerIdentity to resolve the account
// scope after a renewal.
type STSCredentialAPI struct {
	provider aws.CredentialsProvider
	sts      *sts.Client
}

// NewSTSCredentialAPI wraps the config's credential provider.
func NewSTSCredentialAPI(cfg aws.Config) *STSCredentialAPI {
	return &STSCredentialAPI{
		provider: cfg.Credentials,
		sts:      sts.NewFromConfig(cfg),
	}
}

// Validity returns the remaining lifetime of the cached credential.
func (c *STSCredentialAPI) Validity(ctx context.Context) (time.Duration, error) {
	creds, err := c.provider.Retrieve(ctx)
	if err != nil {
		return 0, fmt.Errorf("error retrieving credentials: %w", err)
	}
	if !creds.CanExpire {
		return neverExpires, nil
	}
	return time.Until(creds.Expires), nil
}

// Renew drops the cached credential, forces a fresh retrieval, and
// returns the identity the new credential resolves to.
func (c *STSCredentialAPI) Renew(ctx context.Context) (Identity, error) {
	if cache, ok := c.provider.(interface{ Invalidate() }); ok {
		cache.Invalidate()
	}

	if _, err := c.provider.Retrieve(ctx); err != nil {
		return Identity{}, fmt.Errorf("error refreshing credentials: %w", err)
	}

	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("error resolving caller identity: %w", err)
	}

	identity := Identity{}
	if out.Account != nil {
		identity.AccountID = *out.Account
	}
	if out.Arn != nil {
		identity.Principal = *out.Arn
	}
	return identity, nil
}
