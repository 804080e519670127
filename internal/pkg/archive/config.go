package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/inmodash/inmodash-backend/internal/pkg/env"
)

// Config holds the S3 settings for the webhook payload archive
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
}

// LoadConfig loads archive configuration from environment variables.
// Archiving stays off while ARCHIVE_S3_BUCKET is empty.
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("ARCHIVE_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("ARCHIVE_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("ARCHIVE_S3_ENDPOINT_URL", ""),
	}

	if config.IsEnabled() && (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID and ARCHIVE_S3_SECRET_ACCESS_KEY must be set together")
	}
	return config, nil
}

// IsEnabled returns true if a bucket is configured
func (c *Config) IsEnabled() bool {
	return c != nil && c.BucketName != ""
}

// WebhookObjectKey generates the object key for an archived webhook payload.
// Format: webhooks/YYYY/MM/DD/<id>.json
func WebhookObjectKey(webhookEventID uint, receivedAt time.Time) string {
	t := receivedAt.UTC()
	return fmt.Sprintf("webhooks/%04d/%02d/%02d/%d.json", t.Year(), int(t.Month()), t.Day(), webhookEventID)
}
