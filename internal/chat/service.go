// Package chat validates and applies every state change of the chat and
// tells connected clients which resource to re-fetch.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/lan-chat/internal/config"
	"github.com/npezzotti/lan-chat/internal/database"
	"github.com/npezzotti/lan-chat/internal/stats"
	"github.com/npezzotti/lan-chat/internal/types"
	"golang.org/x/sync/singleflight"
)

const (
	metricMessagesSent = "NumMessagesSent"

	DefaultBgColor = "#fff4ff"

	maxNameLength    = 50
	maxBgColorLength = 32
)

// ReactionTypes is the closed set of reactions a message can receive.
var ReactionTypes = []string{"PLUS", "CHECK", "CLAP", "FIRE", "SCREAM", "BEE"}

type BlobStore interface {
	Put(r io.Reader, contentType string) (string, error)
	Delete(key string) error
}

type Notifier interface {
	Broadcast(ev types.EventType)
	IsOnline(userId int) bool
}

// Attachment is an image uploaded along with a message.
type Attachment struct {
	Body        io.Reader
	ContentType string
	Size        int64
}

type Service struct {
	log       *log.Logger
	db        database.Repository
	blobs     BlobStore
	notifier  Notifier
	stats     stats.StatsProvider
	avatars   []string
	maxUpload int64
	toggles   singleflight.Group
}

func NewService(logger *log.Logger, db database.Repository, blobs BlobStore, n Notifier, su stats.StatsProvider, cfg *config.Config) *Service {
	su.RegisterMetric(metricMessagesSent)

	return &Service{
		log:       logger,
		db:        db,
		blobs:     blobs,
		notifier:  n,
		stats:     su,
		avatars:   cfg.Avatars,
		maxUpload: cfg.MaxUploadSize,
	}
}

func (s *Service) SendMessage(ctx context.Context, author database.User, body string, att *Attachment) (int, error) {
	if strings.TrimSpace(body) == "" && att == nil {
		return 0, validationError("message body or image is required")
	}

	var imageKey string
	if att != nil {
		if !strings.HasPrefix(att.ContentType, "image/") {
			return 0, validationError("unsupported attachment type %q", att.ContentType)
		}
		if att.Size > s.maxUpload {
			return 0, ErrTooLarge
		}

		key, err := s.blobs.Put(att.Body, att.ContentType)
		if err != nil {
			return 0, fmt.Errorf("store attachment: %w", err)
		}
		imageKey = key
	}

	id, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		UserId:   author.Id,
		Content:  body,
		ImageKey: imageKey,
	})
	if err != nil {
		if imageKey != "" {
			if delErr := s.blobs.Delete(imageKey); delErr != nil {
				s.log.Printf("delete orphaned blob %s: %v", imageKey, delErr)
			}
		}
		return 0, storeError("create message", err)
	}

	s.stats.Incr(metricMessagesSent)
	s.notifier.Broadcast(types.MessageUpdate)
	return id, nil
}

// DeleteMessage soft-deletes a message. Only its author or an admin may
// delete it.
func (s *Service) DeleteMessage(ctx context.Context, actor database.User, messageId int) error {
	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		return storeError("get message", err)
	}
	if msg.IsDeleted() {
		return fmt.Errorf("message %d already deleted: %w", messageId, ErrNotFound)
	}
	if msg.UserId != actor.Id && !actor.IsAdmin {
		return ErrForbidden
	}

	if err := s.db.SoftDeleteMessage(ctx, messageId); err != nil {
		return storeError("delete message", err)
	}

	s.notifier.Broadcast(types.MessageUpdate)
	return nil
}

// ToggleReaction adds the reaction if the actor has not made it yet and
// removes it otherwise. Identical toggles in flight at the same time are
// applied once. It reports whether the reaction now exists.
func (s *Service) ToggleReaction(ctx context.Context, actor database.User, messageId int, reactionType string) (bool, error) {
	if !slices.Contains(ReactionTypes, reactionType) {
		return false, validationError("unknown reaction type %q", reactionType)
	}

	key := fmt.Sprintf("%d:%d:%s", messageId, actor.Id, reactionType)
	v, err, _ := s.toggles.Do(key, func() (any, error) {
		// shared by every waiter, so one caller going away must not abort it
		ctx := context.WithoutCancel(ctx)

		msg, err := s.db.GetMessage(ctx, messageId)
		if err != nil {
			return false, storeError("get message", err)
		}
		if msg.IsDeleted() {
			return false, fmt.Errorf("message %d is deleted: %w", messageId, ErrNotFound)
		}

		added, err := s.db.ToggleReaction(ctx, messageId, actor.Id, reactionType)
		if err != nil {
			return false, storeError("toggle reaction", err)
		}

		s.notifier.Broadcast(types.MessageUpdate)
		return added, nil
	})
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", validationError("name is longer than %d characters", maxNameLength)
	}
	return name, nil
}

// RenameUser changes the actor's display name and records the change in
// the system log.
func (s *Service) RenameUser(ctx context.Context, actor database.User, newName string) error {
	newName, err := validateName(newName)
	if err != nil {
		return err
	}
	if newName == actor.Name {
		return nil
	}

	details := fmt.Sprintf("name changed from %s to %s", actor.Name, newName)
	if _, err := s.db.RenameUser(ctx, actor.Id, newName, details); err != nil {
		return storeError("rename user", err)
	}

	s.notifier.Broadcast(types.UserUpdate)
	s.notifier.Broadcast(types.LogUpdate)
	return nil
}

// ChangeUserImage sets the actor's avatar. An avatar shown by another
// online user cannot be taken.
func (s *Service) ChangeUserImage(ctx context.Context, actor database.User, image string) error {
	if !slices.Contains(s.avatars, image) {
		return validationError("unknown image %q", image)
	}
	if image == actor.Image {
		return nil
	}

	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return storeError("list users", err)
	}
	for _, u := range users {
		if u.Id != actor.Id && u.Image == image && s.notifier.IsOnline(u.Id) {
			return fmt.Errorf("image %s is used by %s: %w", image, u.Name, ErrConflict)
		}
	}

	if _, err := s.db.UpdateUserField(ctx, actor.Id, database.UserFieldImage, image); err != nil {
		return storeError("update image", err)
	}

	s.notifier.Broadcast(types.UserUpdate)
	s.notifier.Broadcast(types.MessageUpdate)
	return nil
}

func (s *Service) ChangeBgColor(ctx context.Context, actor database.User, color string) error {
	color = strings.TrimSpace(color)
	if color == "" {
		return validationError("bgColor is required")
	}
	if len(color) > maxBgColorLength {
		return validationError("bgColor is too long")
	}

	if _, err := s.db.UpdateUserField(ctx, actor.Id, database.UserFieldBgColor, color); err != nil {
		return storeError("update bgColor", err)
	}

	s.notifier.Broadcast(types.UserUpdate)
	return nil
}

func (s *Service) publicUser(u database.User) types.User {
	return types.User{
		Id:       u.Id,
		Name:     u.Name,
		Image:    u.Image,
		BgColor:  u.BgColor,
		IsOnline: s.notifier.IsOnline(u.Id),
	}
}

// CheckUser resolves a network address to its user or, failing that, to
// its pending access request.
func (s *Service) CheckUser(ctx context.Context, address string) (types.CheckUserResponse, error) {
	u, err := s.db.GetUserByAddress(ctx, address)
	if err == nil {
		pu := s.publicUser(u)
		pu.IsAdmin = u.IsAdmin
		return types.CheckUserResponse{Allowed: true, User: &pu}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return types.CheckUserResponse{}, storeError("get user", err)
	}

	req, err := s.db.GetAccessRequestByAddress(ctx, address)
	if errors.Is(err, database.ErrNotFound) {
		return types.CheckUserResponse{}, nil
	}
	if err != nil {
		return types.CheckUserResponse{}, storeError("get access request", err)
	}

	ar := accessRequest(req)
	return types.CheckUserResponse{AccessRequest: &ar}, nil
}

// UserByAddress returns the user bound to address.
func (s *Service) UserByAddress(ctx context.Context, address string) (database.User, error) {
	u, err := s.db.GetUserByAddress(ctx, address)
	if err != nil {
		return database.User{}, storeError("get user", err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]types.User, error) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return nil, storeError("list users", err)
	}

	res := make([]types.User, 0, len(users))
	for _, u := range users {
		res = append(res, s.publicUser(u))
	}
	return res, nil
}

func accessRequest(r database.AccessRequest) types.AccessRequest {
	return types.AccessRequest{
		Id:        r.Id,
		Name:      r.Name,
		Address:   r.Address,
		Status:    types.AccessRequestStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

// RequestAccess files an access request for an address that is not bound
// to a user and has no request pending.
func (s *Service) RequestAccess(ctx context.Context, address, name string) (types.AccessRequest, error) {
	name, err := validateName(name)
	if err != nil {
		return types.AccessRequest{}, err
	}
	if address == "" {
		return types.AccessRequest{}, validationError("address is required")
	}

	_, err = s.db.GetUserByAddress(ctx, address)
	if err == nil {
		return types.AccessRequest{}, fmt.Errorf("address %s already has a user: %w", address, ErrConflict)
	}
	if !errors.Is(err, database.ErrNotFound) {
		return types.AccessRequest{}, storeError("get user", err)
	}

	req, err := s.db.CreateAccessRequest(ctx, name, address)
	if err != nil {
		return types.AccessRequest{}, storeError("create access request", err)
	}

	s.notifier.Broadcast(types.AccessRequestUpdate)
	return accessRequest(req), nil
}

func (s *Service) ListAccessRequests(ctx context.Context, actor database.User) ([]types.AccessRequest, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}

	reqs, err := s.db.ListAccessRequests(ctx)
	if err != nil {
		return nil, storeError("list access requests", err)
	}

	res := make([]types.AccessRequest, 0, len(reqs))
	for _, r := range reqs {
		res = append(res, accessRequest(r))
	}
	return res, nil
}

// pickAvatar returns the first avatar no user has, or cycles through the
// set once all are taken.
func (s *Service) pickAvatar(users []database.User) string {
	if len(s.avatars) == 0 {
		return ""
	}

	used := make(map[string]bool, len(users))
	for _, u := range users {
		used[u.Image] = true
	}
	for _, a := range s.avatars {
		if !used[a] {
			return a
		}
	}
	return s.avatars[len(users)%len(s.avatars)]
}

// ApproveAccess turns a pending request into a user.
func (s *Service) ApproveAccess(ctx context.Context, actor database.User, requestId int) (types.User, error) {
	if !actor.IsAdmin {
		return types.User{}, ErrForbidden
	}

	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return types.User{}, storeError("list users", err)
	}

	u, err := s.db.ApproveAccessRequest(ctx, database.ApproveAccessParams{
		RequestId: requestId,
		Image:     s.pickAvatar(users),
		BgColor:   DefaultBgColor,
	})
	if err != nil {
		return types.User{}, storeError("approve access request", err)
	}

	s.log.Printf("access request %d approved by %s, user %d created", requestId, actor.Name, u.Id)
	s.notifier.Broadcast(types.AccessRequestUpdate)
	s.notifier.Broadcast(types.UserUpdate)
	return s.publicUser(u), nil
}

func (s *Service) RejectAccess(ctx context.Context, actor database.User, requestId int) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}

	if err := s.db.RejectAccessRequest(ctx, requestId); err != nil {
		return storeError("reject access request", err)
	}

	s.notifier.Broadcast(types.AccessRequestUpdate)
	return nil
}

// Sweep permanently removes soft-deleted messages and their images. It is
// run once at startup, before any client can connect.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	keys, err := s.db.PurgeDeletedMessages(ctx)
	if err != nil {
		return 0, storeError("purge deleted messages", err)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(key); err != nil {
			s.log.Printf("delete blob %s: %v", key, err)
		}
	}

	return len(keys), nil
}
