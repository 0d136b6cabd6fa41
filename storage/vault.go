package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/keystream/interfaces"
)

// VaultBackend stores attachments in a HashiCorp Vault KV v2 mount. The
// client picks up VAULT_TOKEN and the other standard VAULT_* variables.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault attachment store.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "keystream")
//   - log: Structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Load reads the attachment from the KV v2 data path.
func (b *VaultBackend) Load(ctx context.Context, sessionID string) (*interfaces.Attachment, error) {
	path := b.secretPath("data", sessionID)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read attachment from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrAttachmentNotFound
	}

	// KV v2 wraps the payload in a "data" map; a deleted version has nil data.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrAttachmentNotFound
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}

	return decodeAttachment([]byte(content), sessionID)
}

// Save writes a new version of the attachment.
func (b *VaultBackend) Save(ctx context.Context, attachment *interfaces.Attachment) error {
	start := time.Now()
	content, err := encodeAttachment(attachment)
	if err != nil {
		return err
	}

	path := b.secretPath("data", attachment.SessionID)
	_, err = b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(content),
		},
	})
	if err != nil {
		b.log.Error("Failed to write attachment to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored attachment in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Delete removes the attachment and all its versions.
func (b *VaultBackend) Delete(ctx context.Context, sessionID string) error {
	path := b.secretPath("metadata", sessionID)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

// secretPath builds a KV v2 path; kind is "data" or "metadata".
func (b *VaultBackend) secretPath(kind, sessionID string) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/%s/%s", b.mountPath, kind, attachmentKey(sessionID))
	}
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, kind, b.dataPath, attachmentKey(sessionID))
}
