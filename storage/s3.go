package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/keystream/interfaces"
)

// S3Backend stores attachments as JSON objects in Amazon S3 or a compatible
// service. Attachments are private; the backend always needs write access.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 attachment store. When accessKey and secretKey
// are empty the SDK's default credential chain is used.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", accessKey, bucketName, prefix, region)
	}
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Load fetches the attachment object for sessionID.
func (b *S3Backend) Load(ctx context.Context, sessionID string) (*interfaces.Attachment, error) {
	start := time.Now()
	key := b.getObjectKey(sessionID)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrAttachmentNotFound
		}

		b.log.Error("Failed to get attachment from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}

	b.log.Debug("Loaded attachment from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))

	return decodeAttachment(data, sessionID)
}

// Save uploads the attachment as a private JSON object.
func (b *S3Backend) Save(ctx context.Context, attachment *interfaces.Attachment) error {
	start := time.Now()
	data, err := encodeAttachment(attachment)
	if err != nil {
		return err
	}

	key := b.getObjectKey(attachment.SessionID)
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		b.log.Error("Failed to put attachment to S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored attachment in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Delete removes the attachment object. S3 treats deleting a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, sessionID string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.getObjectKey(sessionID)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks that the bucket is reachable with the configured credentials.
func (b *S3Backend) Available(ctx context.Context) bool {
	start := time.Now()
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) getObjectKey(sessionID string) string {
	name := attachmentKey(sessionID) + ".json"
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
