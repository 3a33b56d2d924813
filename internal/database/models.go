package database

import "time"

type User struct {
	Id        int
	Name      string
	Image     string
	BgColor   string
	Address   string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id        int
	UserId    int
	Content   string
	ImageKey  string
	CreatedAt time.Time
	DeletedAt *time.Time
}

func (m Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

type Reaction struct {
	Id        int
	MessageId int
	UserId    int
	Type      string
	CreatedAt time.Time
}

type LogEntry struct {
	Id        int
	UserId    int
	Action    string
	Details   string
	CreatedAt time.Time
}

type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "PENDING"
	AccessRequestApproved AccessRequestStatus = "APPROVED"
	AccessRequestRejected AccessRequestStatus = "REJECTED"
)

type AccessRequest struct {
	Id        int
	Name      string
	Address   string
	Status    AccessRequestStatus
	CreatedAt time.Time
}

// Snapshot is a consistent read of everything the feed is built from.
type Snapshot struct {
	Users     []User
	Messages  []Message
	Reactions []Reaction
	Logs      []LogEntry
}

type UserField string

const (
	UserFieldName    UserField = "name"
	UserFieldImage   UserField = "image"
	UserFieldBgColor UserField = "bg_color"
)

func (f UserField) valid() bool {
	switch f {
	case UserFieldName, UserFieldImage, UserFieldBgColor:
		return true
	}
	return false
}

type CreateUserParams struct {
	Name    string `yaml:"name"`
	Image   string `yaml:"image"`
	BgColor string `yaml:"bgColor"`
	Address string `yaml:"address"`
	IsAdmin bool   `yaml:"admin"`
}

type CreateMessageParams struct {
	UserId   int
	Content  string
	ImageKey string
}

type ApproveAccessParams struct {
	RequestId int
	Image     string
	BgColor   string
}

const ActionNameChange = "NAME_CHANGE"
