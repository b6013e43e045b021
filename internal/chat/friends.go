package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

// ConnectResult reports what Connect did. Status is empty for a no-op.
type ConnectResult struct {
	ChatID string
	Status string
}

// Connect links callerID and peerID. A new pair gets a chat ("New"), a pair
// with a removed side is restored ("Existing"), a connected pair is left
// alone.
func (s *Service) Connect(ctx context.Context, callerID, peerID string) (ConnectResult, error) {
	log := s.log.With(zap.String("user_id", callerID), zap.String("peer_id", peerID))

	if peerID == "" {
		return ConnectResult{}, apperr.ErrMissingRecipient
	}
	if peerID == callerID {
		return ConnectResult{}, apperr.ErrSelfConnection
	}
	caller, err := s.loadUser(ctx, callerID)
	if err != nil {
		return ConnectResult{}, err
	}
	peer, err := s.loadUser(ctx, peerID)
	if err != nil {
		log.Warn("connect rejected", zap.Error(err))
		return ConnectResult{}, err
	}

	var result ConnectResult
	err = store.Retry(ctx, s.retries, func(ctx context.Context) error {
		chat, err := s.store.FindChatBetween(ctx, callerID, peerID)
		switch {
		case apperr.Is(err, store.ErrNotFound):
			chat = &models.Chat{
				ID: uuid.NewString(),
				Members: []models.ChatMember{
					{UserID: callerID, Status: models.StatusActive},
					{UserID: peerID, Status: models.StatusActive},
				},
			}
			if err := s.store.CreateChat(ctx, chat); err != nil {
				if apperr.Is(err, store.ErrDuplicate) {
					// Lost a race with the peer's own connect.
					return store.ErrConflict
				}
				return fmt.Errorf("create chat: %w", err)
			}
			result = ConnectResult{ChatID: chat.ID, Status: events.StatusNew}
			return nil
		case err != nil:
			return fmt.Errorf("find chat: %w", err)
		}

		var restore []models.ChatMember
		for _, id := range []string{callerID, peerID} {
			if !chat.IsActive(id) {
				restore = append(restore, models.ChatMember{UserID: id, Status: models.StatusActive})
			}
		}
		if len(restore) == 0 {
			result = ConnectResult{ChatID: chat.ID}
			return nil
		}
		if err := s.store.UpdateChatMembers(ctx, chat.ID, chat.Version, restore...); err != nil {
			return err
		}
		result = ConnectResult{ChatID: chat.ID, Status: events.StatusExisting}
		return nil
	})
	if err != nil {
		if apperr.Is(err, store.ErrConflict) {
			log.Warn("connect gave up after retries")
			return ConnectResult{}, apperr.ErrConcurrentWrite
		}
		return ConnectResult{}, err
	}
	if result.Status == "" {
		log.Debug("already connected", zap.String("chat_id", result.ChatID))
		return result, nil
	}

	log.Info("connection updated", zap.String("chat_id", result.ChatID), zap.String("status", result.Status))
	s.emitter.Emit(callerID, events.ConnectionUpdated, events.ConnectionPayload{
		ChatID: result.ChatID, Status: result.Status, Members: []models.PublicUser{peer.Public()},
	})
	s.emitter.Emit(peerID, events.ConnectionUpdated, events.ConnectionPayload{
		ChatID: result.ChatID, Status: result.Status, Members: []models.PublicUser{caller.Public()},
	})
	return result, nil
}

// RemoveResult reports what RemoveFriend did.
type RemoveResult struct {
	ChatID  string
	Removed bool
	// Deleted is set when both sides had removed each other and the chat
	// and its messages are gone.
	Deleted bool
}

// RemoveFriend moves callerID to the chat's past members. When nobody stays
// active the chat and all of its messages are deleted. Everyone active before
// the change is told.
func (s *Service) RemoveFriend(ctx context.Context, callerID, peerID string) (RemoveResult, error) {
	log := s.log.With(zap.String("user_id", callerID), zap.String("peer_id", peerID))

	if peerID == "" {
		return RemoveResult{}, apperr.ErrMissingRecipient
	}

	var (
		result   RemoveResult
		snapshot []string
	)
	err := store.Retry(ctx, s.retries, func(ctx context.Context) error {
		chat, err := s.store.FindChatBetween(ctx, callerID, peerID)
		if err != nil {
			if apperr.Is(err, store.ErrNotFound) {
				return apperr.ErrChatNotFound
			}
			return fmt.Errorf("find chat: %w", err)
		}
		result = RemoveResult{ChatID: chat.ID}
		if !chat.IsActive(callerID) {
			return nil
		}
		snapshot = chat.ActiveIDs()

		if len(snapshot) == 1 {
			if err := s.store.DeleteChat(ctx, chat.ID, chat.Version); err != nil {
				return err
			}
			result.Removed, result.Deleted = true, true
			return nil
		}
		err = s.store.UpdateChatMembers(ctx, chat.ID, chat.Version,
			models.ChatMember{UserID: callerID, Status: models.StatusPast})
		if err != nil {
			return err
		}
		result.Removed = true
		return nil
	})
	if err != nil {
		if apperr.Is(err, store.ErrConflict) {
			log.Warn("remove gave up after retries")
			return RemoveResult{}, apperr.ErrConcurrentWrite
		}
		log.Warn("remove rejected", zap.Error(err))
		return RemoveResult{}, err
	}
	if !result.Removed {
		return result, nil
	}

	log.Info("connection removed", zap.String("chat_id", result.ChatID), zap.Bool("deleted", result.Deleted))
	for _, id := range snapshot {
		other := peerID
		if id == peerID {
			other = callerID
		}
		s.emitter.Emit(id, events.ConnectionRemoved, events.ConnectionRemovedPayload{ChatID: result.ChatID, UserID: other})
	}
	return result, nil
}
