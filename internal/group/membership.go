package group

import (
	"context"

	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

// Result reports the outcome of a membership change. Group is the state after
// the change and is nil when the group was deleted.
type Result struct {
	Group   *events.GroupView
	Changed bool
	Deleted bool
}

// change is what one attempt decided to write.
type change struct {
	members  []models.GroupMember
	delete   bool
	snapshot []string
}

// mutate loads the group, lets decide pick the change and writes it with a
// version check, retrying on conflict.
func (s *Service) mutate(ctx context.Context, groupID string, decide func(g *models.Group) (*change, error)) (*change, error) {
	var result *change
	err := store.Retry(ctx, s.opts.MaxRetries, func(ctx context.Context) error {
		g, err := s.loadGroup(ctx, groupID)
		if err != nil {
			return err
		}
		c, err := decide(g)
		if err != nil || c == nil {
			result = nil
			return err
		}
		c.snapshot = g.ActiveIDs()
		switch {
		case c.delete:
			err = s.store.DeleteGroup(ctx, g.ID, g.Version)
		default:
			err = s.store.UpdateGroupMembers(ctx, g.ID, g.Version, c.members...)
		}
		if err != nil {
			return err
		}
		result = c
		return nil
	})
	if apperr.Is(err, store.ErrConflict) {
		return nil, apperr.ErrConcurrentWrite
	}
	return result, err
}

func requireAdmin(g *models.Group, requesterID string) (models.GroupMember, error) {
	m, ok := g.ActiveMember(requesterID)
	if !ok {
		return models.GroupMember{}, apperr.ErrNotGroupMember
	}
	if m.Role != models.RoleAdmin {
		return models.GroupMember{}, apperr.ErrAdminRequired
	}
	return m, nil
}

// AddMember puts target into the group as a member. Adding an active member
// is a no-op; a past member is restored.
func (s *Service) AddMember(ctx context.Context, requesterID string, req events.GroupMemberRequest) (Result, error) {
	log := s.log.With(zap.String("user_id", requesterID), zap.String("group_id", req.GroupID), zap.String("target_id", req.UserID))

	if req.UserID == "" {
		return Result{}, apperr.ErrMissingRecipient
	}
	target, err := s.loadUser(ctx, req.UserID)
	if err != nil {
		log.Warn("add member rejected", zap.Error(err))
		return Result{}, err
	}

	c, err := s.mutate(ctx, req.GroupID, func(g *models.Group) (*change, error) {
		if _, err := requireAdmin(g, requesterID); err != nil {
			return nil, err
		}
		if _, ok := g.ActiveMember(target.ID); ok {
			return nil, nil
		}
		return &change{members: []models.GroupMember{{
			UserID:   target.ID,
			Role:     models.RoleMember,
			Status:   models.StatusActive,
			Position: g.NextPosition(),
		}}}, nil
	})
	if err != nil {
		log.Warn("add member rejected", zap.Error(err))
		return Result{}, err
	}
	res, err := s.result(ctx, req.GroupID, c)
	if err != nil || !res.Changed {
		return res, err
	}

	log.Info("member added")
	recipients := append(c.snapshot, target.ID)
	events.EmitAll(s.emitter, recipients, events.NewMemberAdded, events.GroupUpdatePayload{
		GroupID: req.GroupID, Group: res.Group, Target: target.Public(),
	})
	return res, nil
}

// RemoveMember moves target to the past members. Admins cannot remove
// themselves; they leave instead.
func (s *Service) RemoveMember(ctx context.Context, requesterID string, req events.GroupMemberRequest) (Result, error) {
	log := s.log.With(zap.String("user_id", requesterID), zap.String("group_id", req.GroupID), zap.String("target_id", req.UserID))

	c, err := s.mutate(ctx, req.GroupID, func(g *models.Group) (*change, error) {
		target, err := s.adminOnOther(g, requesterID, req.UserID)
		if err != nil {
			return nil, err
		}
		target.Status = models.StatusPast
		return &change{members: []models.GroupMember{target}}, nil
	})
	if err != nil {
		log.Warn("remove member rejected", zap.Error(err))
		return Result{}, err
	}
	return s.broadcast(ctx, log, req.GroupID, req.UserID, c, events.RemovedMember, "")
}

// ChangeRole toggles target between admin and member.
func (s *Service) ChangeRole(ctx context.Context, requesterID string, req events.GroupMemberRequest) (Result, error) {
	log := s.log.With(zap.String("user_id", requesterID), zap.String("group_id", req.GroupID), zap.String("target_id", req.UserID))

	c, err := s.mutate(ctx, req.GroupID, func(g *models.Group) (*change, error) {
		target, err := s.adminOnOther(g, requesterID, req.UserID)
		if err != nil {
			return nil, err
		}
		target.Role = target.Role.Toggle()
		return &change{members: []models.GroupMember{target}}, nil
	})
	if err != nil {
		log.Warn("change role rejected", zap.Error(err))
		return Result{}, err
	}
	return s.broadcast(ctx, log, req.GroupID, req.UserID, c, events.ChangedRole, "")
}

// Leave takes requesterID out of the group. The sole admin of a group with
// other members must hand over first; the last member leaving deletes the
// group and all of its messages.
func (s *Service) Leave(ctx context.Context, requesterID, groupID string) (Result, error) {
	log := s.log.With(zap.String("user_id", requesterID), zap.String("group_id", groupID))

	c, err := s.mutate(ctx, groupID, func(g *models.Group) (*change, error) {
		me, ok := g.ActiveMember(requesterID)
		if !ok {
			return nil, apperr.ErrNotGroupMember
		}
		active := g.Active()
		if len(active) == 1 {
			return &change{delete: true}, nil
		}
		if me.Role == models.RoleAdmin && g.AdminCount() == 1 {
			return nil, apperr.ErrAdminReassign
		}
		me.Status = models.StatusPast
		return &change{members: []models.GroupMember{me}}, nil
	})
	if err != nil {
		log.Warn("leave rejected", zap.Error(err))
		return Result{}, err
	}
	status := events.StatusMemberLeaved
	if c != nil && c.delete {
		status = events.StatusGroupDeleted
	}
	return s.broadcast(ctx, log, groupID, requesterID, c, events.LeavedGroup, status)
}

// adminOnOther checks that requester is an active admin acting on a different,
// active member and returns that member.
func (s *Service) adminOnOther(g *models.Group, requesterID, targetID string) (models.GroupMember, error) {
	if targetID == "" {
		return models.GroupMember{}, apperr.ErrMissingRecipient
	}
	if _, err := requireAdmin(g, requesterID); err != nil {
		return models.GroupMember{}, err
	}
	if targetID == requesterID {
		return models.GroupMember{}, apperr.ErrSelfTarget
	}
	target, ok := g.ActiveMember(targetID)
	if !ok {
		return models.GroupMember{}, apperr.ErrNotAMember
	}
	return target, nil
}

func (s *Service) result(ctx context.Context, groupID string, c *change) (Result, error) {
	if c == nil {
		return Result{}, nil
	}
	if c.delete {
		return Result{Changed: true, Deleted: true}, nil
	}
	g, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return Result{}, err
	}
	v, err := s.view(ctx, g)
	if err != nil {
		return Result{}, err
	}
	return Result{Group: v, Changed: true}, nil
}

func (s *Service) broadcast(ctx context.Context, log *zap.Logger, groupID, targetID string, c *change, event, status string) (Result, error) {
	res, err := s.result(ctx, groupID, c)
	if err != nil || !res.Changed {
		return res, err
	}
	var target models.PublicUser
	if u, err := s.loadUser(ctx, targetID); err == nil {
		target = u.Public()
	} else {
		target = models.PublicUser{ID: targetID}
	}
	log.Info("membership changed", zap.String("event", event), zap.Bool("deleted", res.Deleted))
	events.EmitAll(s.emitter, c.snapshot, event, events.GroupUpdatePayload{
		GroupID: groupID, Group: res.Group, Target: target, Status: status,
	})
	return res, nil
}
