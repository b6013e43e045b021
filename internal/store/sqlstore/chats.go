package sqlstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/pliu/cipherchat/internal/models"
)

func (s *SQLStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if len(chat.Members) != 2 {
		return errors.Errorf("a chat needs exactly two members, got %d", len(chat.Members))
	}
	ts := now()
	chat.CreatedAt, chat.UpdatedAt = ts, ts
	for i := range chat.Members {
		chat.Members[i].ChatID = chat.ID
	}
	a, b := chat.Members[0].UserID, chat.Members[1].UserID
	conns := []models.Connection{
		{UserID: a, PeerID: b, ChatID: chat.ID},
		{UserID: b, PeerID: a, ChatID: chat.ID},
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Connections go first: their primary key is what rejects a second
		// chat for the same pair.
		if _, err := tx.NewInsert().Model(&conns).Exec(ctx); err != nil {
			return insertErr(err, "connections")
		}
		if _, err := tx.NewInsert().Model(chat).Exec(ctx); err != nil {
			return insertErr(err, "chat")
		}
		if _, err := tx.NewInsert().Model(&chat.Members).Exec(ctx); err != nil {
			return insertErr(err, "chat members")
		}
		return nil
	})
}

func (s *SQLStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	chat := new(models.Chat)
	if err := s.db.NewSelect().Model(chat).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "chat")
	}
	if err := s.loadChatMembers(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLStore) FindChatBetween(ctx context.Context, userID, peerID string) (*models.Chat, error) {
	conn := new(models.Connection)
	err := s.db.NewSelect().
		Model(conn).
		Where("user_id = ?", userID).
		Where("peer_id = ?", peerID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "connection")
	}
	return s.GetChat(ctx, conn.ChatID)
}

func (s *SQLStore) ListUserChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.NewSelect().
		Model(&chats).
		Join("JOIN chat_members AS cm ON cm.chat_id = c.id").
		Where("cm.user_id = ?", userID).
		Where("cm.status = ?", models.StatusActive).
		OrderExpr("c.updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	ptrs := make([]*models.Chat, len(chats))
	for i := range chats {
		ptrs[i] = &chats[i]
	}
	if err := s.loadChatMembers(ctx, ptrs...); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *SQLStore) loadChatMembers(ctx context.Context, chats ...*models.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	byID := make(map[string]*models.Chat, len(chats))
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		c.Members = nil
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	var members []models.ChatMember
	err := s.db.NewSelect().
		Model(&members).
		Where("chat_id IN (?)", bun.In(ids)).
		OrderExpr("user_id ASC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, "load chat members")
	}
	for _, m := range members {
		if c, ok := byID[m.ChatID]; ok {
			c.Members = append(c.Members, m)
		}
	}
	return nil
}

func (s *SQLStore) UpdateChatMembers(ctx context.Context, chatID string, version int64, members ...models.ChatMember) error {
	for i := range members {
		members[i].ChatID = chatID
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := bumpVersion(ctx, tx, "chats", chatID, version); err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		_, err := tx.NewInsert().
			Model(&members).
			On("CONFLICT (chat_id, user_id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Exec(ctx)
		return errors.Wrap(err, "upsert chat members")
	})
}

func (s *SQLStore) DeleteChat(ctx context.Context, chatID string, version int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := bumpVersion(ctx, tx, "chats", chatID, version); err != nil {
			return err
		}
		steps := []struct {
			model any
			where string
		}{
			{(*models.Message)(nil), "chat_id = ?"},
			{(*models.Connection)(nil), "chat_id = ?"},
			{(*models.ChatMember)(nil), "chat_id = ?"},
			{(*models.Chat)(nil), "id = ?"},
		}
		for _, step := range steps {
			if _, err := tx.NewDelete().Model(step.model).Where(step.where, chatID).Exec(ctx); err != nil {
				return errors.Wrapf(err, "delete %T", step.model)
			}
		}
		return nil
	})
}

func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	if _, err := s.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return insertErr(err, "message")
	}
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, chatID string, page, size int) ([]models.Message, int, error) {
	var msgs []models.Message
	total, err := s.db.NewSelect().
		Model(&msgs).
		Where("chat_id = ?", chatID).
		OrderExpr("created_at DESC, id DESC").
		Limit(size).
		Offset(pageOffset(page, size)).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list messages")
	}
	return msgs, total, nil
}
