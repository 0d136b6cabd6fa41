package storage

import (
	"context"

	"github.com/ruteri/keystream/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockAttachmentStore mocks the AttachmentStore interface
type MockAttachmentStore struct {
	mock.Mock
}

// Load mocks the Load method
func (m *MockAttachmentStore) Load(ctx context.Context, sessionID string) (*interfaces.Attachment, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Attachment), args.Error(1)
}

// Save mocks the Save method
func (m *MockAttachmentStore) Save(ctx context.Context, attachment *interfaces.Attachment) error {
	args := m.Called(ctx, attachment)
	return args.Error(0)
}

// Delete mocks the Delete method
func (m *MockAttachmentStore) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// Available mocks the Available method
func (m *MockAttachmentStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// Name mocks the Name method
func (m *MockAttachmentStore) Name() string {
	args := m.Called()
	return args.String(0)
}

// LocationURI mocks the LocationURI method
func (m *MockAttachmentStore) LocationURI() string {
	args := m.Called()
	return args.String(0)
}
