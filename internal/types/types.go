package types

import (
	"time"
)

type User struct {
	Id       int    `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	BgColor  string `json:"bgColor"`
	IsOnline bool   `json:"isOnline"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "PENDING"
	AccessRequestApproved AccessRequestStatus = "APPROVED"
	AccessRequestRejected AccessRequestStatus = "REJECTED"
)

type AccessRequest struct {
	Id        int                 `json:"id"`
	Name      string              `json:"name"`
	Address   string              `json:"ip"`
	Status    AccessRequestStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
}

type CheckUserResponse struct {
	Allowed       bool           `json:"allowed"`
	User          *User          `json:"user"`
	AccessRequest *AccessRequest `json:"accessRequest,omitempty"`
}

type FeedItemType string

const (
	FeedItemDate    FeedItemType = "DATE"
	FeedItemMessage FeedItemType = "MSG"
	FeedItemLog     FeedItemType = "LOG"
)

// FeedItem is one entry of the chat timeline. Fields that do not apply to
// the item's Type are left at their zero value.
type FeedItem struct {
	Type       FeedItemType `json:"type"`
	Id         int          `json:"id,omitempty"`
	UserId     int          `json:"userId,omitempty"`
	Name       string       `json:"name,omitempty"`
	Image      string       `json:"image,omitempty"`
	BgColor    string       `json:"bgColor,omitempty"`
	Message    string       `json:"message"`
	ImageFile  string       `json:"imageFile,omitempty"`
	Action     string       `json:"action,omitempty"`
	Date       string       `json:"date,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	IsMine     bool         `json:"isMine"`
	IsContinue bool         `json:"isContinue"`
	IsDeleted  bool         `json:"isDeleted"`
	Reactions  []Reaction   `json:"reactions,omitempty"`
}

// Reaction is the per-type aggregate of reactions on a message as seen by
// one viewer.
type Reaction struct {
	Type   string `json:"type"`
	Count  int    `json:"count"`
	IsMine bool   `json:"isMine"`
}

type EventType string

const (
	UserUpdate          EventType = "USER_UPDATE"
	MessageUpdate       EventType = "MESSAGE_UPDATE"
	LogUpdate           EventType = "LOG_UPDATE"
	AccessRequestUpdate EventType = "ACCESS_REQUEST_UPDATE"
)

type Event struct {
	Type EventType `json:"type"`
}
