// Package chat routes direct messages and runs the friendship lifecycle of
// a user pair: Unconnected, Connected, one side removed, both removed (the
// chat and its history are deleted), with reconnection from any removed state.
package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const DefaultPageLimit = 10

type Store interface {
	store.ChatStore
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type Service struct {
	store   Store
	keys    *keys.Manager
	emitter events.Emitter
	retries int
	log     *zap.Logger
}

func NewService(st Store, km *keys.Manager, em events.Emitter, retries int, log *zap.Logger) *Service {
	if retries < 1 {
		retries = 1
	}
	return &Service{
		store:   st,
		keys:    km,
		emitter: em,
		retries: retries,
		log:     logging.OrNop(log).Named("chat"),
	}
}

// View is a chat as shown to one of its members.
type View struct {
	ID          string              `json:"_id"`
	Members     []models.PublicUser `json:"members"`
	PastMembers []models.PublicUser `json:"pastMembers"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Chats lists the chats userID is still an active member of.
func (s *Service) Chats(ctx context.Context, userID string) ([]View, error) {
	chats, err := s.store.ListUserChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	views := make([]View, 0, len(chats))
	for i := range chats {
		v, err := s.view(ctx, &chats[i])
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) ChatInfo(ctx context.Context, userID, chatID string) (View, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return View{}, err
	}
	if _, ok := chat.Member(userID); !ok {
		return View{}, apperr.ErrNotChatMember
	}
	return s.view(ctx, chat)
}

func (s *Service) view(ctx context.Context, chat *models.Chat) (View, error) {
	users, err := s.publicUsers(ctx, append(chat.ActiveIDs(), chat.PastIDs()...))
	if err != nil {
		return View{}, err
	}
	v := View{
		ID:          chat.ID,
		Members:     []models.PublicUser{},
		PastMembers: []models.PublicUser{},
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
	}
	for _, id := range chat.ActiveIDs() {
		if u, ok := users[id]; ok {
			v.Members = append(v.Members, u)
		}
	}
	for _, id := range chat.PastIDs() {
		if u, ok := users[id]; ok {
			v.PastMembers = append(v.PastMembers, u)
		}
	}
	return v, nil
}

func (s *Service) publicUsers(ctx context.Context, ids []string) (map[string]models.PublicUser, error) {
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make(map[string]models.PublicUser, len(users))
	for i := range users {
		out[users[i].ID] = users[i].Public()
	}
	return out, nil
}

func (s *Service) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrChatNotFound
		}
		return nil, fmt.Errorf("load chat: %w", err)
	}
	return chat, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
