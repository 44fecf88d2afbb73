// Package storage archives rendered payment receipts to S3.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReceiptStore writes receipt documents under receipts/<invoice-id>.html in
// a single bucket. It satisfies the billing package's archiver interface.
type ReceiptStore struct {
	client *s3.Client
	bucket string
}

// NewReceiptStore loads the default AWS credential chain for the given
// region and returns a store bound to bucket.
func NewReceiptStore(ctx context.Context, bucket, region string) (*ReceiptStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ReceiptStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (s *ReceiptStore) Archive(ctx context.Context, invoiceID string, receipt []byte) error {
	key := fmt.Sprintf("receipts/%s.html", invoiceID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(receipt),
		ContentType: aws.String("text/html"),
	})
	if err != nil {
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	return nil
}
