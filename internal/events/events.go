// Package events names the socket events and their payloads. Every frame on
// the wire is an Envelope in both directions.
package events

import (
	"encoding/json"
	"time"

	"github.com/pliu/cipherchat/internal/models"
)

// Inbound
const (
	SendMessage      = "sendMessage"
	SendMessageGroup = "sendMessageGroup"
	SendConnection   = "sendConnection"
	RemoveFriend     = "removeFriend"
	AddMemberToGroup = "addMemberToGroup"
	RemoveMember     = "removeMember"
	ChangeRole       = "changeRole"
	LeaveGroup       = "leaveGroup"
)

// Outbound
const (
	ReceivedMessage      = "receivedMessage"
	ReceivedGroupMessage = "receivedGroupMessage"
	ConnectionUpdated    = "connectionUpdated"
	ConnectionRemoved    = "connectionRemoved"
	NewMemberAdded       = "newMemberAdded"
	RemovedMember        = "removedMember"
	ChangedRole          = "changedRole"
	LeavedGroup          = "leavedGroup"
	Error                = "error"
)

const (
	StatusNew          = "New"
	StatusExisting     = "Existing"
	StatusMemberLeaved = "MemberLeaved"
	StatusGroupDeleted = "GroupDeleted"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Emitter pushes an event to a user's socket. It reports whether the user was
// online; offline events are dropped.
type Emitter interface {
	Emit(userID, event string, payload any) bool
}

// EmitAll sends the same payload to every user in ids.
func EmitAll(e Emitter, ids []string, event string, payload any) {
	for _, id := range ids {
		e.Emit(id, event, payload)
	}
}

// Inbound payloads. Sender identity always comes from the authenticated
// socket, never from the payload.

type SendMessageRequest struct {
	Recipient string `json:"recipient"`
	ChatID    string `json:"chatId"`
	Message   string `json:"message"`
}

type SendGroupMessageRequest struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
	// Members is accepted for compatibility and ignored; the stored roster
	// decides who receives the message.
	Members []string `json:"members,omitempty"`
}

type ConnectionRequest struct {
	Recipient string `json:"recipient"`
}

type GroupMemberRequest struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type LeaveGroupRequest struct {
	GroupID string `json:"groupId"`
}

// Outbound payloads.

type MessagePayload struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type GroupMessagePayload struct {
	ID        string    `json:"_id"`
	GroupID   string    `json:"groupId"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConnectionPayload is addressed to one side and lists the other.
type ConnectionPayload struct {
	ChatID  string              `json:"_id"`
	Status  string              `json:"status"`
	Members []models.PublicUser `json:"members"`
}

type ConnectionRemovedPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type GroupMemberView struct {
	models.PublicUser
	Role models.Role `json:"role"`
}

type GroupView struct {
	ID          string              `json:"_id"`
	GroupName   string              `json:"groupName"`
	Members     []GroupMemberView   `json:"members"`
	PastMembers []models.PublicUser `json:"pastMembers"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type GroupUpdatePayload struct {
	GroupID string            `json:"groupId"`
	Group   *GroupView        `json:"updatedGroup,omitempty"`
	Target  models.PublicUser `json:"user"`
	Status  string            `json:"status,omitempty"`
}

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
