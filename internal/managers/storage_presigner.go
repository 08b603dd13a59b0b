package managers

import (
	"context"
	"fmt"
	"strings"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3ObjectPresigner mints presigned URLs against S3-compatible storage. One
// session is configured per PresignURLs call, serving every item in the
// batch, so callers control how often credentials are set up by how they
// group items.
type S3ObjectPresigner struct{}

func NewS3ObjectPresigner() domain.ObjectPresigner {
	return &S3ObjectPresigner{}
}

func (p *S3ObjectPresigner) PresignURLs(ctx context.Context, location domain.StorageLocation, items []domain.PresignItem) (map[string]string, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(location.Region),
		Endpoint:         aws.String(location.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(location.AccessKeyID, location.SecretAccessKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage session: %w", err)
	}

	client := s3.New(sess)

	urls := make(map[string]string, len(items))
	for _, item := range items {
		key := objectStorageKey(location.Prefix, item.ObjectKey)

		url, err := presignRequest(client, location.Bucket, key, item)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s %s: %w", item.Method, key, err)
		}

		urls[item.Key] = url
	}

	return urls, nil
}

func presignRequest(client *s3.S3, bucket, key string, item domain.PresignItem) (string, error) {
	switch item.Method {
	case domain.SignedURLMethodGet:
		req, _ := client.GetObjectRequest(&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return req.Presign(item.Expiry)
	case domain.SignedURLMethodPut:
		req, _ := client.PutObjectRequest(&s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return req.Presign(item.Expiry)
	case domain.SignedURLMethodDelete:
		req, _ := client.DeleteObjectRequest(&s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return req.Presign(item.Expiry)
	default:
		return "", fmt.Errorf("unsupported method: %s", item.Method)
	}
}

func objectStorageKey(prefix, objectKey string) string {
	if prefix == "" {
		return objectKey
	}
	return strings.TrimSuffix(prefix, "/") + "/" + objectKey
}
