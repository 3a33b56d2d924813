package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	userColumns    = "id, name, image, bg_color, address, is_admin, created_at, updated_at"
	messageColumns = "id, user_id, content, image_key, created_at, deleted_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Name,
		&u.Image,
		&u.BgColor,
		&u.Address,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m         Message
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&m.Id,
		&m.UserId,
		&m.Content,
		&m.ImageKey,
		&m.CreatedAt,
		&deletedAt,
	)
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return m, err
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *PgRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	return createUser(ctx, db.conn, params)
}

func createUser(ctx context.Context, q queryer, params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	row := q.QueryRowContext(ctx,
		"INSERT INTO users (name, image, bg_color, address, is_admin, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING "+userColumns,
		params.Name,
		params.Image,
		params.BgColor,
		params.Address,
		params.IsAdmin,
		now,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", mapError(err))
	}
	return u, nil
}

func (db *PgRepository) GetUser(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", mapError(err))
	}
	return u, nil
}

func (db *PgRepository) GetUserByAddress(ctx context.Context, address string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE address = $1 LIMIT 1",
		address,
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("get user by address: %w", mapError(err))
	}
	return u, nil
}

func (db *PgRepository) ListUsers(ctx context.Context) ([]User, error) {
	return listUsers(ctx, db.conn)
}

func listUsers(ctx context.Context, q queryer) ([]User, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}

func (db *PgRepository) UpdateUserField(ctx context.Context, id int, field UserField, value string) (User, error) {
	return updateUserField(ctx, db.conn, id, field, value)
}

func updateUserField(ctx context.Context, q queryer, id int, field UserField, value string) (User, error) {
	if !field.valid() {
		return User{}, fmt.Errorf("update user: unknown field %q", field)
	}

	// field is one of a closed set of column names, never user input.
	row := q.QueryRowContext(ctx,
		"UPDATE users SET "+string(field)+" = $2, updated_at = $3 WHERE id = $1 RETURNING "+userColumns,
		id,
		value,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("update user %s: %w", field, mapError(err))
	}
	return u, nil
}

// RenameUser updates the user's name and records the change in the log in
// a single transaction.
func (db *PgRepository) RenameUser(ctx context.Context, id int, newName, details string) (LogEntry, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return LogEntry{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = updateUserField(ctx, tx, id, UserFieldName, newName); err != nil {
		return LogEntry{}, err
	}

	var entry LogEntry
	entry, err = appendLog(ctx, tx, id, ActionNameChange, details)
	if err != nil {
		return LogEntry{}, err
	}

	if err = tx.Commit(); err != nil {
		return LogEntry{}, err
	}
	return entry, nil
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (int, error) {
	var id int
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (user_id, content, image_key, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		params.UserId,
		params.Content,
		params.ImageKey,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create message: %w", mapError(err))
	}
	return id, nil
}

func (db *PgRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	m, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", mapError(err))
	}
	return m, nil
}

// SoftDeleteMessage marks a live message deleted and clears its body. It
// returns ErrNotFound when the message is absent or already deleted.
func (db *PgRepository) SoftDeleteMessage(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET deleted_at = $2, content = '' WHERE id = $1 AND deleted_at IS NULL",
		id,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("soft delete message %d: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeDeletedMessages permanently removes soft-deleted messages and returns
// the blob keys of the images they referenced.
func (db *PgRepository) PurgeDeletedMessages(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"DELETE FROM messages WHERE deleted_at IS NOT NULL RETURNING image_key",
	)
	if err != nil {
		return nil, fmt.Errorf("purge deleted messages: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan image key: %w", err)
		}
		if key != "" {
			keys = append(keys, key)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return keys, nil
}

// ToggleReaction inserts the (message, user, type) triple or, when the
// unique constraint reports it already exists, deletes it. It returns true
// when the reaction was added.
func (db *PgRepository) ToggleReaction(ctx context.Context, messageId, userId int, reactionType string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO reactions (message_id, user_id, type, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (message_id, user_id, type) DO NOTHING",
		messageId,
		userId,
		reactionType,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	_, err = db.conn.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND type = $3",
		messageId,
		userId,
		reactionType,
	)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	return false, nil
}

func appendLog(ctx context.Context, q queryer, userId int, action, details string) (LogEntry, error) {
	var entry LogEntry
	err := q.QueryRowContext(ctx,
		"INSERT INTO logs (user_id, action, details, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, user_id, action, details, created_at",
		userId,
		action,
		details,
		time.Now().UTC(),
	).Scan(
		&entry.Id,
		&entry.UserId,
		&entry.Action,
		&entry.Details,
		&entry.CreatedAt,
	)
	if err != nil {
		return LogEntry{}, fmt.Errorf("append log: %w", mapError(err))
	}
	return entry, nil
}

// FeedSnapshot reads users, messages, reactions and logs inside one
// read-only repeatable-read transaction so that all four lists reflect the
// same point in time without blocking writers.
func (db *PgRepository) FeedSnapshot(ctx context.Context) (Snapshot, error) {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var snap Snapshot
	if snap.Users, err = listUsers(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Messages, err = listMessages(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Reactions, err = listReactions(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Logs, err = listLogs(ctx, tx); err != nil {
		return Snapshot{}, err
	}

	return snap, tx.Commit()
}

func listMessages(ctx context.Context, q queryer) ([]Message, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return messages, nil
}

func listReactions(ctx context.Context, q queryer) ([]Reaction, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, message_id, user_id, type, created_at FROM reactions ORDER BY id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	reactions := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.Id, &r.MessageId, &r.UserId, &r.Type, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reactions, nil
}

func listLogs(ctx context.Context, q queryer) ([]LogEntry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, user_id, action, details, created_at FROM logs ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	logs := make([]LogEntry, 0)
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.Id, &l.UserId, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return logs, nil
}

func scanAccessRequest(row rowScanner) (AccessRequest, error) {
	var ar AccessRequest
	err := row.Scan(&ar.Id, &ar.Name, &ar.Address, &ar.Status, &ar.CreatedAt)
	return ar, err
}

func (db *PgRepository) ListAccessRequests(ctx context.Context) ([]AccessRequest, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, name, address, status, created_at FROM access_requests ORDER BY created_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	defer rows.Close()

	requests := make([]AccessRequest, 0)
	for rows.Next() {
		ar, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access request: %w", err)
		}
		requests = append(requests, ar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return requests, nil
}

func (db *PgRepository) GetAccessRequestByAddress(ctx context.Context, address string) (AccessRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, address, status, created_at FROM access_requests "+
			"WHERE address = $1 AND status = $2 LIMIT 1",
		address,
		AccessRequestPending,
	)

	ar, err := scanAccessRequest(row)
	if err != nil {
		return AccessRequest{}, fmt.Errorf("get access request: %w", mapError(err))
	}
	return ar, nil
}

// CreateAccessRequest returns ErrConflict when the address already has a
// pending request.
func (db *PgRepository) CreateAccessRequest(ctx context.Context, name, address string) (AccessRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO access_requests (name, address, status, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, name, address, status, created_at",
		name,
		address,
		AccessRequestPending,
		time.Now().UTC(),
	)

	ar, err := scanAccessRequest(row)
	if err != nil {
		return AccessRequest{}, fmt.Errorf("create access request: %w", mapError(err))
	}
	return ar, nil
}

// ApproveAccessRequest removes the request and creates the user it
// describes in one transaction.
func (db *PgRepository) ApproveAccessRequest(ctx context.Context, params ApproveAccessParams) (User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var name, address string
	err = tx.QueryRowContext(ctx,
		"DELETE FROM access_requests WHERE id = $1 AND status = $2 RETURNING name, address",
		params.RequestId,
		AccessRequestPending,
	).Scan(&name, &address)
	if err != nil {
		err = fmt.Errorf("delete access request: %w", mapError(err))
		return User{}, err
	}

	var u User
	u, err = createUser(ctx, tx, CreateUserParams{
		Name:    name,
		Image:   params.Image,
		BgColor: params.BgColor,
		Address: address,
	})
	if err != nil {
		return User{}, err
	}

	if err = tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

func (db *PgRepository) RejectAccessRequest(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM access_requests WHERE id = $1 AND status = $2",
		id,
		AccessRequestPending,
	)
	if err != nil {
		return fmt.Errorf("reject access request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject access request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reject access request %d: %w", id, ErrNotFound)
	}
	return nil
}
