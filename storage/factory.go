package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/keystream/interfaces"
)

// AttachmentStoreFactory creates attachment stores from location URIs.
type AttachmentStoreFactory struct {
	log *slog.Logger
}

// NewAttachmentStoreFactory creates a new factory instance.
func NewAttachmentStoreFactory(logger *slog.Logger) *AttachmentStoreFactory {
	return &AttachmentStoreFactory{
		log: logger,
	}
}

// AttachmentStoreFor creates an attachment store from a location URI.
//
// Supported schemes:
//   - memory:// - in-process store
//   - file:// - local filesystem
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//
// An empty URI selects the memory store.
func (sf *AttachmentStoreFactory) AttachmentStoreFor(locationURI string) (interfaces.AttachmentStore, error) {
	if locationURI == "" {
		return NewMemoryBackend(), nil
	}

	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return sf.createFileBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	case "vault":
		return sf.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createS3Backend creates an S3 or S3-compatible attachment store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000
func (sf *AttachmentStoreFactory) createS3Backend(u *url.URL) (interfaces.AttachmentStore, error) {
	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
		sf.log.Debug("Using embedded S3 credentials")
	}

	sf.log.Debug("Creating S3 attachment store", slog.String("bucket", bucketName), slog.String("prefix", prefix))
	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createFileBackend creates a file system attachment store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *AttachmentStoreFactory) createFileBackend(u *url.URL) (interfaces.AttachmentStore, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}

	sf.log.Debug("Creating file attachment store", slog.String("path", path))
	return NewFileBackend(path, sf.log)
}

// createVaultBackend creates a Vault attachment store.
// URI format: vault://host:8200/mount/path?tls=false
// The first path segment is the KV v2 mount, the rest is the data path.
func (sf *AttachmentStoreFactory) createVaultBackend(u *url.URL) (interfaces.AttachmentStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in Vault URI", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	mountPath := segments[0]
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := ""
	if len(segments) == 2 {
		dataPath = segments[1]
	}

	sf.log.Debug("Creating Vault attachment store", slog.String("address", address), slog.String("mount", mountPath))
	return NewVaultBackend(address, mountPath, dataPath, sf.log)
}
