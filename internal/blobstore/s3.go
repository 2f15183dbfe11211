package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/webpods-org/webpods/core/logger"
)

// S3Configuration configures S3Driver, adapted from the teacher's
// kss.S3Configuration (AWSBucketName/AWSRegion/AccessID/AccessKey/KeyPrefix),
// dropping the SQS-notification fields WebPods has no use for.
type S3Configuration struct {
	Bucket    string
	Region    string
	AccessID  string
	AccessKey string
	KeyPrefix string

	// PresignExpiry is how long a GetFileURL redirect target stays valid.
	PresignExpiry time.Duration
}

// S3Driver offloads blobs to an S3-compatible bucket. Adapted from the
// teacher's kss.S3 driver: same aws-sdk-go-v2 config/credentials setup,
// generalized from presigned-URL-for-client-upload to direct
// StoreFile/GetFileURL because the Record Store, not an external
// client, owns the upload (spec §4.3 step 6 runs inside the append
// transaction).
type S3Driver struct {
	client        *s3.Client
	uploader      *manager.Uploader
	presignClient *s3.PresignClient
	bucket        string
	keyPrefix     string
	presignExpiry time.Duration
}

// NewS3Driver creates an S3Driver from cfg.
func NewS3Driver(cfg S3Configuration) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 blobstore: Bucket must not be empty")
	}

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessID, cfg.AccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), options...)
	if err != nil {
		return nil, fmt.Errorf("s3 blobstore: load aws config: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	client := s3.NewFromConfig(awsCfg)
	logger.Default().Infoln("s3 blobstore enabled, bucket:", cfg.Bucket, "prefix:", cfg.KeyPrefix)

	return &S3Driver{
		client:        client,
		uploader:      manager.NewUploader(client),
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		keyPrefix:     cfg.KeyPrefix,
		presignExpiry: expiry,
	}, nil
}

func (d *S3Driver) key(locator string) string {
	return path.Join(d.keyPrefix, locator)
}

// StoreFile implements Driver.
func (d *S3Driver) StoreFile(ctx context.Context, pod, streamPath, _, contentHash string, data []byte, ext string) (string, error) {
	locator := locatorFor(pod, streamPath, contentHash, ext)
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(locator)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("s3 blobstore: upload: %w", err)
	}
	return locator, nil
}

// GetFileURL implements Driver with a presigned GET URL.
func (d *S3Driver) GetFileURL(ctx context.Context, locator string) (string, error) {
	if strings.Contains(locator, "..") {
		return "", fmt.Errorf("s3 blobstore: invalid locator %q", locator)
	}
	resp, err := d.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(locator)),
	}, s3.WithPresignExpires(d.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("s3 blobstore: presign: %w", err)
	}
	return resp.URL, nil
}

// Delete implements Driver.
func (d *S3Driver) Delete(ctx context.Context, locator string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(locator)),
	})
	if err != nil {
		return fmt.Errorf("s3 blobstore: delete: %w", err)
	}
	return nil
}
