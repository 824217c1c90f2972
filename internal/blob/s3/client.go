// Package s3blob archives position records that leave the live store to S3
// or an S3-compatible service (MinIO, R2, iDrive e2).
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects the archive bucket and how to reach it. An empty
// Endpoint means AWS itself.
type ClientConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks https for an Endpoint given without a scheme.
	UseSSL bool
	// ForcePathStyle puts the bucket in the path; most non-AWS providers
	// need it.
	ForcePathStyle bool
}

// Client is an S3 client bound to the archive bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client with static credentials. It does not contact the
// service; use CheckBucket for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var missing []string
	if cfg.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if cfg.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return nil, errors.New("s3blob: missing " + strings.Join(missing, " and "))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// CheckBucket verifies the bucket is reachable with the configured
// credentials.
func (c *Client) CheckBucket(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// endpointURL adds a scheme to a bare host[:port].
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
