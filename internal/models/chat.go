package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Chat is the direct conversation of one unordered user pair. Version is
// bumped by every membership change and guards against lost updates.
type Chat struct {
	bun.BaseModel `bun:"table:chats,alias:c"`

	ID        string    `bun:",pk" json:"_id"`
	Version   int64     `bun:",notnull,default:0" json:"-"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updatedAt"`

	Members []ChatMember `bun:"-" json:"-"`
}

type ChatMember struct {
	bun.BaseModel `bun:"table:chat_members,alias:cm"`

	ChatID string       `bun:",pk" json:"chatId"`
	UserID string       `bun:",pk" json:"userId"`
	Status MemberStatus `bun:",notnull" json:"status"`
}

// Member returns the membership record of userID, if any.
func (c *Chat) Member(userID string) (ChatMember, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return ChatMember{}, false
}

func (c *Chat) IsActive(userID string) bool {
	m, ok := c.Member(userID)
	return ok && m.Status == StatusActive
}

// ActiveIDs is the member-id snapshot used for broadcasts.
func (c *Chat) ActiveIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Status == StatusActive {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func (c *Chat) PastIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Status == StatusPast {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// Peer returns the other side of the pair.
func (c *Chat) Peer(userID string) string {
	for _, m := range c.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return ""
}

// Message is immutable once written.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string    `bun:",pk" json:"_id"`
	ChatID         string    `bun:",notnull" json:"chatId"`
	Ciphertext     string    `bun:",notnull" json:"-"`
	IV             string    `bun:"iv,notnull" json:"-"`
	SenderID       string    `bun:",notnull" json:"sender"`
	RecipientID    string    `bun:",notnull" json:"recipient"`
	SenderKeyID    string    `bun:",notnull" json:"senderKeyId"`
	RecipientKeyID string    `bun:",notnull" json:"recipientKeyId"`
	CreatedAt      time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}
