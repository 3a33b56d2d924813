package database

import "context"

type Repository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUser(ctx context.Context, id int) (User, error)
	GetUserByAddress(ctx context.Context, address string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserField(ctx context.Context, id int, field UserField, value string) (User, error)
	RenameUser(ctx context.Context, id int, newName, details string) (LogEntry, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (int, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	SoftDeleteMessage(ctx context.Context, id int) error
	PurgeDeletedMessages(ctx context.Context) ([]string, error)

	ToggleReaction(ctx context.Context, messageId, userId int, reactionType string) (bool, error)

	FeedSnapshot(ctx context.Context) (Snapshot, error)

	ListAccessRequests(ctx context.Context) ([]AccessRequest, error)
	GetAccessRequestByAddress(ctx context.Context, address string) (AccessRequest, error)
	CreateAccessRequest(ctx context.Context, name, address string) (AccessRequest, error)
	ApproveAccessRequest(ctx context.Context, params ApproveAccessParams) (User, error)
	RejectAccessRequest(ctx context.Context, id int) error
}
