// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Archive writes payout reports to a Cloudflare R2 bucket through the S3 API.
type R2Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewR2Archive(ctx context.Context, accountID, accessKeyID, accessKeySecret, bucket, prefix string) (*R2Archive, error) {
	if accountID == "" || bucket == "" {
		return nil, fmt.Errorf("r2 account id and bucket are required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID))
	})
	return &R2Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Put uploads body under prefix/key and returns the full object key.
func (a *R2Archive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	fullKey := key
	if a.prefix != "" {
		fullKey = path.Join(a.prefix, key)
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fullKey, nil
}
