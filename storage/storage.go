package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ruteri/keystream/interfaces"
)

// attachmentKey maps a caller supplied session id to a storage-safe name.
func attachmentKey(sessionID string) string {
	hash := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(hash[:])
}

func encodeAttachment(a *interfaces.Attachment) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment: %w", err)
	}
	return data, nil
}

func decodeAttachment(data []byte, sessionID string) (*interfaces.Attachment, error) {
	var a interfaces.Attachment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	if a.SessionID != sessionID {
		return nil, fmt.Errorf("attachment belongs to session %q, not %q", a.SessionID, sessionID)
	}
	return &a, nil
}
