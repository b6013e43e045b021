package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          string    `bun:",pk" json:"_id"`
	Username    string    `bun:",unique,notnull" json:"username"`
	Email       string    `bun:",unique,notnull" json:"email,omitempty"`
	Password    string    `bun:",notnull" json:"-"`
	Avatar      string    `json:"avatar"`
	ActiveKeyID string    `json:"activeKeyId,omitempty"`
	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// UserKey is one entry of a user's append-only key list. Old entries are
// kept so messages sealed under them stay readable.
type UserKey struct {
	bun.BaseModel `bun:"table:user_keys,alias:uk"`

	ID                  string    `bun:",pk" json:"_id"`
	UserID              string    `bun:",notnull" json:"userId"`
	Seq                 int       `bun:",notnull" json:"seq"`
	PublicKey           string    `bun:",notnull" json:"publicKey"`
	EncryptedPrivateKey string    `bun:",notnull" json:"-"`
	IV                  string    `bun:"iv,notnull" json:"-"`
	Salt                string    `bun:",notnull" json:"-"`
	CreatedAt           time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// PublicUser is what other users get to see.
type PublicUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

type MemberStatus string

const (
	StatusActive MemberStatus = "active"
	StatusPast   MemberStatus = "past"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Toggle flips admin <-> member.
func (r Role) Toggle() Role {
	if r == RoleAdmin {
		return RoleMember
	}
	return RoleAdmin
}

// Connection is one entry of a user's connection list.
type Connection struct {
	bun.BaseModel `bun:"table:connections,alias:cn"`

	UserID string `bun:",pk" json:"userId"`
	PeerID string `bun:",pk" json:"peerId"`
	ChatID string `bun:",notnull" json:"chatId"`
}

// Page is one page of a newest-first listing.
type Page[T any] struct {
	Items      []T `json:"data"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalDocs  int `json:"totalDocs"`
	TotalPages int `json:"totalPages"`
}

func NewPage[T any](items []T, page, limit, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page[T]{Items: items, Page: page, Limit: limit, TotalDocs: total, TotalPages: pages}
}

// ClampPage applies the listing defaults: page 1, the given default limit,
// and at most MaxPageLimit items.
func ClampPage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

const MaxPageLimit = 100
