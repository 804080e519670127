package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/inmodash/inmodash-backend/app/models"
)

// ObjectPutter is the part of the S3 API the archive needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client uploads webhook payloads to an S3 bucket
type Client struct {
	api    ObjectPutter
	bucket string
}

// NewClient creates an S3 archive client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("webhook archive is disabled")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Webhook payloads are archived to bucket: %s", cfg.BucketName)
	return NewClientWithAPI(s3Client, cfg.BucketName), nil
}

// NewClientWithAPI builds a client on an existing S3 API implementation
func NewClientWithAPI(api ObjectPutter, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// ArchiveWebhookEvent uploads the raw payload of an inbox row and returns the object key
func (c *Client) ArchiveWebhookEvent(ctx context.Context, ev *models.BillingWebhookEvent) (string, error) {
	if ev == nil || ev.ID == 0 {
		return "", fmt.Errorf("webhook event is required")
	}
	key := WebhookObjectKey(ev.ID, ev.CreatedAt)

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(ev.PayloadJSON),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(ev.PayloadJSON))),
		Metadata: map[string]string{
			"provider":          ev.Provider,
			"provider-event-id": ev.ProviderEventID,
			"event-type":        ev.EventType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload webhook event %d: %w", ev.ID, err)
	}

	log.Debugf("[Archive] Uploaded webhook event %d to s3://%s/%s", ev.ID, c.bucket, key)
	return key, nil
}
