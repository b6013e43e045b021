package sqlstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/pliu/cipherchat/internal/models"
)

func (s *SQLStore) CreateGroup(ctx context.Context, group *models.Group) error {
	ts := now()
	group.CreatedAt, group.UpdatedAt = ts, ts
	for i := range group.Members {
		group.Members[i].GroupID = group.ID
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(group).Exec(ctx); err != nil {
			return insertErr(err, "group")
		}
		if len(group.Members) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&group.Members).Exec(ctx); err != nil {
			return insertErr(err, "group members")
		}
		return nil
	})
}

func (s *SQLStore) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	group := new(models.Group)
	if err := s.db.NewSelect().Model(group).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "group")
	}
	if err := s.loadGroupMembers(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *SQLStore) ListUserGroups(ctx context.Context, userID string, page, size int) ([]models.Group, int, error) {
	var groups []models.Group
	total, err := s.db.NewSelect().
		Model(&groups).
		Join("JOIN group_members AS gm ON gm.group_id = g.id").
		Where("gm.user_id = ?", userID).
		Where("gm.status = ?", models.StatusActive).
		OrderExpr("g.updated_at DESC, g.id ASC").
		Limit(size).
		Offset(pageOffset(page, size)).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list groups")
	}
	ptrs := make([]*models.Group, len(groups))
	for i := range groups {
		ptrs[i] = &groups[i]
	}
	if err := s.loadGroupMembers(ctx, ptrs...); err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

func (s *SQLStore) loadGroupMembers(ctx context.Context, groups ...*models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[string]*models.Group, len(groups))
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		g.Members = nil
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}

	var members []models.GroupMember
	err := s.db.NewSelect().
		Model(&members).
		Where("group_id IN (?)", bun.In(ids)).
		OrderExpr("position ASC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, "load group members")
	}
	for _, m := range members {
		if g, ok := byID[m.GroupID]; ok {
			g.Members = append(g.Members, m)
		}
	}
	return nil
}

func (s *SQLStore) UpdateGroupMembers(ctx context.Context, groupID string, version int64, members ...models.GroupMember) error {
	for i := range members {
		members[i].GroupID = groupID
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := bumpVersion(ctx, tx, "chat_groups", groupID, version); err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		_, err := tx.NewInsert().
			Model(&members).
			On("CONFLICT (group_id, user_id) DO UPDATE").
			Set("role = EXCLUDED.role").
			Set("status = EXCLUDED.status").
			Set("position = EXCLUDED.position").
			Exec(ctx)
		return errors.Wrap(err, "upsert group members")
	})
}

func (s *SQLStore) DeleteGroup(ctx context.Context, groupID string, version int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := bumpVersion(ctx, tx, "chat_groups", groupID, version); err != nil {
			return err
		}
		msgIDs := tx.NewSelect().
			Model((*models.GroupMessage)(nil)).
			Column("id").
			Where("group_id = ?", groupID)
		_, err := tx.NewDelete().
			Model((*models.GroupMessageEntry)(nil)).
			Where("group_message_id IN (?)", msgIDs).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "delete group message entries")
		}

		steps := []struct {
			model any
			where string
		}{
			{(*models.GroupMessage)(nil), "group_id = ?"},
			{(*models.GroupMember)(nil), "group_id = ?"},
			{(*models.Group)(nil), "id = ?"},
		}
		for _, step := range steps {
			if _, err := tx.NewDelete().Model(step.model).Where(step.where, groupID).Exec(ctx); err != nil {
				return errors.Wrapf(err, "delete %T", step.model)
			}
		}
		return nil
	})
}

func (s *SQLStore) CreateGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	for i := range msg.Entries {
		msg.Entries[i].GroupMessageID = msg.ID
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
			return insertErr(err, "group message")
		}
		if len(msg.Entries) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&msg.Entries).Exec(ctx); err != nil {
			return insertErr(err, "group message entries")
		}
		return nil
	})
}

func (s *SQLStore) ListGroupMessages(ctx context.Context, groupID string, page, size int) ([]models.GroupMessage, int, error) {
	var msgs []models.GroupMessage
	total, err := s.db.NewSelect().
		Model(&msgs).
		Where("group_id = ?", groupID).
		OrderExpr("created_at DESC, id DESC").
		Limit(size).
		Offset(pageOffset(page, size)).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list group messages")
	}
	if len(msgs) == 0 {
		return msgs, total, nil
	}

	byID := make(map[string]*models.GroupMessage, len(msgs))
	ids := make([]string, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
		ids[i] = msgs[i].ID
	}
	var entries []models.GroupMessageEntry
	err = s.db.NewSelect().
		Model(&entries).
		Where("group_message_id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "load group message entries")
	}
	for _, e := range entries {
		if m, ok := byID[e.GroupMessageID]; ok {
			m.Entries = append(m.Entries, e)
		}
	}
	return msgs, total, nil
}
