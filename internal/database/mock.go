package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUser(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByAddress(ctx context.Context, address string) (User, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) ListUsers(ctx context.Context) ([]User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) UpdateUserField(ctx context.Context, id int, field UserField, value string) (User, error) {
	args := m.Called(ctx, id, field, value)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) RenameUser(ctx context.Context, id int, newName, details string) (LogEntry, error) {
	args := m.Called(ctx, id, newName, details)
	return args.Get(0).(LogEntry), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (int, error) {
	args := m.Called(ctx, params)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) SoftDeleteMessage(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) PurgeDeletedMessages(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRepository) ToggleReaction(ctx context.Context, messageId, userId int, reactionType string) (bool, error) {
	args := m.Called(ctx, messageId, userId, reactionType)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) FeedSnapshot(ctx context.Context) (Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(Snapshot), args.Error(1)
}
func (m *MockRepository) ListAccessRequests(ctx context.Context) ([]AccessRequest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]AccessRequest), args.Error(1)
}
func (m *MockRepository) GetAccessRequestByAddress(ctx context.Context, address string) (AccessRequest, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(AccessRequest), args.Error(1)
}
func (m *MockRepository) CreateAccessRequest(ctx context.Context, name, address string) (AccessRequest, error) {
	args := m.Called(ctx, name, address)
	return args.Get(0).(AccessRequest), args.Error(1)
}
func (m *MockRepository) ApproveAccessRequest(ctx context.Context, params ApproveAccessParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) RejectAccessRequest(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
