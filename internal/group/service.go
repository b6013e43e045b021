// Package group routes group messages and runs group membership.
//
// A non-empty group always has at least one admin. Every membership change is
// broadcast to the roster as it stood before the change, so whoever is being
// removed still receives the confirmation.
package group

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const (
	DefaultListLimit    = 5
	DefaultHistoryLimit = 10
)

var groupNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,}$`)

type Store interface {
	store.GroupStore
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type Options struct {
	// Workers bounds concurrent per-member encryptions of one send.
	Workers    int
	MaxRetries int
}

type Service struct {
	store   Store
	keys    *keys.Manager
	emitter events.Emitter
	opts    Options
	log     *zap.Logger
}

func NewService(st Store, km *keys.Manager, em events.Emitter, opts Options, log *zap.Logger) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Service{
		store:   st,
		keys:    km,
		emitter: em,
		opts:    opts,
		log:     logging.OrNop(log).Named("group"),
	}
}

// Create makes a group whose only member is its admin creator.
func (s *Service) Create(ctx context.Context, creatorID, name string) (*events.GroupView, error) {
	if !groupNamePattern.MatchString(name) {
		return nil, apperr.ErrInvalidGroupName
	}
	if _, err := s.loadUser(ctx, creatorID); err != nil {
		return nil, err
	}
	group := &models.Group{
		ID:        uuid.NewString(),
		GroupName: name,
		Members: []models.GroupMember{
			{UserID: creatorID, Role: models.RoleAdmin, Status: models.StatusActive},
		},
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.log.Info("group created", zap.String("group_id", group.ID), zap.String("user_id", creatorID))
	return s.view(ctx, group)
}

// Groups pages through the groups userID is an active member of.
func (s *Service) Groups(ctx context.Context, userID string, page, limit int) (models.Page[events.GroupView], error) {
	page, limit = models.ClampPage(page, limit, DefaultListLimit)
	groups, total, err := s.store.ListUserGroups(ctx, userID, page, limit)
	if err != nil {
		return models.Page[events.GroupView]{}, fmt.Errorf("list groups: %w", err)
	}
	views := make([]events.GroupView, 0, len(groups))
	for i := range groups {
		v, err := s.view(ctx, &groups[i])
		if err != nil {
			return models.Page[events.GroupView]{}, err
		}
		views = append(views, *v)
	}
	return models.NewPage(views, page, limit, total), nil
}

// Info shows a group to a current or past member.
func (s *Service) Info(ctx context.Context, userID, groupID string) (*events.GroupView, error) {
	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := group.Member(userID); !ok {
		return nil, apperr.ErrNotGroupMember
	}
	return s.view(ctx, group)
}

func (s *Service) view(ctx context.Context, g *models.Group) (*events.GroupView, error) {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	byID := make(map[string]models.PublicUser, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Public()
	}

	v := &events.GroupView{
		ID:          g.ID,
		GroupName:   g.GroupName,
		Members:     []events.GroupMemberView{},
		PastMembers: []models.PublicUser{},
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	for _, m := range g.Members {
		u, ok := byID[m.UserID]
		if !ok {
			continue
		}
		if m.Status == models.StatusActive {
			v.Members = append(v.Members, events.GroupMemberView{PublicUser: u, Role: m.Role})
		} else {
			v.PastMembers = append(v.PastMembers, u)
		}
	}
	return v, nil
}

func (s *Service) loadGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if apperr.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	return group, nil
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
