package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blobaudit/blobaudit/internal/models"
)

// S3Client implements Client against S3-compatible object storage.
// Buckets play the role of containers.
type S3Client struct {
	client *s3.Client
	region string
	prefix string // optional bucket-name prefix filter
}

// S3Options select the account surface to audit.
type S3Options struct {
	Region string
	// Prefix restricts the audit to buckets whose name starts with it.
	// Empty means every bucket the credential can list.
	Prefix string
}

// NewS3Client creates a new S3Client with its own credential handle.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, *STSCredentialAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // path-style addressing is more reliable
	})

	return &S3Client{
		client: client,
		region: opts.Region,
		prefix: opts.Prefix,
	}, NewSTSCredentialAPI(cfg), nil
}

// NewS3Factory returns a Factory so every worker constructs its own
// client from the same stable inputs.
func NewS3Factory(opts S3Options) Factory {
	return func(ctx context.Context) (Client, CredentialAPI, error) {
		client, creds, err := NewS3Client(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return client, creds, nil
	}
}

// ListContainers returns every bucket visible to the credential,
// filtered by the configured name prefix.
func (c *S3Client) ListContainers(ctx context.Context) ([]models.ContainerInfo, error) {
	result, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("error listing buckets: %w", err)
	}

	var containers []models.ContainerInfo
	for _, bucket := range result.Buckets {
		if bucket.Name == nil {
			continue
		}
		if c.prefix != "" && !strings.HasPrefix(*bucket.Name, c.prefix) {
			continue
		}
		containers = append(containers, models.ContainerInfo{Name: *bucket.Name})
	}
	return containers, nil
}

// ListBlobs returns size and last-modified metadata for every object in
// the container, following continuation tokens to the end.
func (c *S3Client) ListBlobs(ctx context.Context, container string) ([]models.BlobInfo, error) {
	var blobs []models.BlobInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects in %s: %w", container, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil {
				continue
			}
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			blobs = append(blobs, models.BlobInfo{
				Key:          *obj.Key,
				Size:         size,
				LastModified: *obj.LastModified,
			})
		}
	}
	return blobs, nil
}
