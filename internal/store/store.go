package store

import (
	"context"
	"errors"

	"github.com/pliu/cipherchat/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means the parent row's version moved since it was read.
	ErrConflict = errors.New("store: version conflict")
	// ErrDuplicate is a unique or primary key violation.
	ErrDuplicate = errors.New("store: duplicate")
)

type UserStore interface {
	// CreateUser inserts the user together with its first key, which becomes
	// the active key.
	CreateUser(ctx context.Context, user *models.User, key *models.UserKey) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// SearchUsers matches usernames by substring, skipping excludeID and the
	// users it is actively connected to. Emails come back masked.
	SearchUsers(ctx context.Context, query, excludeID string) ([]models.User, error)

	// AppendUserKey adds key to its owner's list and makes it active.
	AppendUserKey(ctx context.Context, key *models.UserKey) error
	GetUserKey(ctx context.Context, userID, keyID string) (*models.UserKey, error)
	ListUserKeys(ctx context.Context, userID string) ([]models.UserKey, error)
}

type ChatStore interface {
	// CreateChat inserts the chat, its members and a connection row for each
	// side. ErrDuplicate means the pair already has a chat.
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	FindChatBetween(ctx context.Context, userID, peerID string) (*models.Chat, error)
	// ListUserChats returns the chats userID is an active member of.
	ListUserChats(ctx context.Context, userID string) ([]models.Chat, error)
	// UpdateChatMembers upserts members if the chat is still at version.
	UpdateChatMembers(ctx context.Context, chatID string, version int64, members ...models.ChatMember) error
	// DeleteChat removes the chat, its members, messages and connections if
	// the chat is still at version.
	DeleteChat(ctx context.Context, chatID string, version int64) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages pages newest first and returns the total count.
	ListMessages(ctx context.Context, chatID string, page, size int) ([]models.Message, int, error)
}

type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListUserGroups(ctx context.Context, userID string, page, size int) ([]models.Group, int, error)
	UpdateGroupMembers(ctx context.Context, groupID string, version int64, members ...models.GroupMember) error
	DeleteGroup(ctx context.Context, groupID string, version int64) error

	// CreateGroupMessage stores the message and all of its entries atomically.
	CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	ListGroupMessages(ctx context.Context, groupID string, page, size int) ([]models.GroupMessage, int, error)
}

type Store interface {
	UserStore
	ChatStore
	GroupStore
	Close() error
}
