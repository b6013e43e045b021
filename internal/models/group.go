package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Group struct {
	bun.BaseModel `bun:"table:chat_groups,alias:g"`

	ID        string    `bun:",pk" json:"_id"`
	GroupName string    `bun:",notnull" json:"groupName"`
	Version   int64     `bun:",notnull,default:0" json:"-"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updatedAt"`

	// Members is ordered by Position.
	Members []GroupMember `bun:"-" json:"-"`
}

type GroupMember struct {
	bun.BaseModel `bun:"table:group_members,alias:gm"`

	GroupID  string       `bun:",pk" json:"groupId"`
	UserID   string       `bun:",pk" json:"userId"`
	Role     Role         `bun:",notnull" json:"role"`
	Status   MemberStatus `bun:",notnull" json:"status"`
	Position int          `bun:",notnull" json:"position"`
}

func (g *Group) Member(userID string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

func (g *Group) ActiveMember(userID string) (GroupMember, bool) {
	m, ok := g.Member(userID)
	if !ok || m.Status != StatusActive {
		return GroupMember{}, false
	}
	return m, true
}

func (g *Group) Active() []GroupMember {
	out := make([]GroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		if m.Status == StatusActive {
			out = append(out, m)
		}
	}
	return out
}

func (g *Group) ActiveIDs() []string {
	active := g.Active()
	ids := make([]string, len(active))
	for i, m := range active {
		ids[i] = m.UserID
	}
	return ids
}

func (g *Group) PastIDs() []string {
	var ids []string
	for _, m := range g.Members {
		if m.Status == StatusPast {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func (g *Group) AdminCount() int {
	n := 0
	for _, m := range g.Active() {
		if m.Role == RoleAdmin {
			n++
		}
	}
	return n
}

func (g *Group) NextPosition() int {
	next := 0
	for _, m := range g.Members {
		if m.Position >= next {
			next = m.Position + 1
		}
	}
	return next
}

type GroupMessage struct {
	bun.BaseModel `bun:"table:group_messages,alias:gmsg"`

	ID          string    `bun:",pk" json:"_id"`
	GroupID     string    `bun:",notnull" json:"groupId"`
	SenderID    string    `bun:",notnull" json:"sender"`
	SenderKeyID string    `bun:",notnull" json:"senderKeyId"`
	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`

	Entries []GroupMessageEntry `bun:"-" json:"-"`
}

// GroupMessageEntry is the copy of a group message sealed for one member.
type GroupMessageEntry struct {
	bun.BaseModel `bun:"table:group_message_entries,alias:gme"`

	GroupMessageID string `bun:",pk" json:"-"`
	MemberID       string `bun:",pk" json:"memberId"`
	Ciphertext     string `bun:",notnull" json:"-"`
	IV             string `bun:"iv,notnull" json:"-"`
	MemberKeyID    string `bun:",notnull" json:"memberActiveKeyId"`
}

func (m *GroupMessage) EntryFor(memberID string) (GroupMessageEntry, bool) {
	for _, e := range m.Entries {
		if e.MemberID == memberID {
			return e, true
		}
	}
	return GroupMessageEntry{}, false
}
