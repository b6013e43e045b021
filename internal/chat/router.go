package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/ecc"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/models"
)

// SendDirect encrypts plaintext for the pair, stores it and pushes the
// decrypted copy to both sides. Nothing is stored if any step before the
// insert fails.
func (s *Service) SendDirect(ctx context.Context, senderID string, req events.SendMessageRequest) (*events.MessagePayload, error) {
	log := s.log.With(zap.String("user_id", senderID), zap.String("chat_id", req.ChatID))

	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.ErrEmptyMessage
	}
	if req.Recipient == "" || req.ChatID == "" {
		return nil, apperr.ErrMissingRecipient
	}

	chat, err := s.loadChat(ctx, req.ChatID)
	if err != nil {
		log.Warn("send rejected", zap.Error(err))
		return nil, err
	}
	if !chat.IsActive(senderID) || !chat.IsActive(req.Recipient) || senderID == req.Recipient {
		log.Warn("send rejected", zap.Error(apperr.ErrNotChatMember))
		return nil, apperr.ErrNotChatMember
	}

	senderKey, err := s.keys.ActiveKey(ctx, senderID)
	if err != nil {
		log.Error("sender key", zap.Error(err))
		return nil, err
	}
	recipientKey, err := s.keys.ActiveKey(ctx, req.Recipient)
	if err != nil {
		log.Error("recipient key", zap.Error(err))
		return nil, err
	}
	secret, err := s.keys.SharedSecret(senderKey, recipientKey)
	if err != nil {
		log.Error("key agreement", zap.Error(err))
		return nil, err
	}
	env, err := ecc.Encrypt([]byte(req.Message), secret)
	if err != nil {
		log.Error("encrypt", zap.Error(err))
		return nil, err
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ChatID:         chat.ID,
		Ciphertext:     env.Ciphertext,
		IV:             env.IV,
		SenderID:       senderID,
		RecipientID:    req.Recipient,
		SenderKeyID:    senderKey.ID,
		RecipientKeyID: recipientKey.ID,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	// Deliver what was stored, not what was sent.
	plain, err := ecc.Decrypt(ecc.Envelope{Ciphertext: msg.Ciphertext, IV: msg.IV}, secret)
	if err != nil {
		log.Error("decrypt stored message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil, err
	}

	payload := &events.MessagePayload{
		ID:        msg.ID,
		ChatID:    chat.ID,
		Sender:    senderID,
		Recipient: req.Recipient,
		Message:   string(plain),
		CreatedAt: msg.CreatedAt,
	}
	s.emitter.Emit(req.Recipient, events.ReceivedMessage, payload)
	s.emitter.Emit(senderID, events.ReceivedMessage, payload)
	return payload, nil
}

// HistoryMessage is a stored message decrypted for the requester. Message is
// nil when that one message could not be decrypted.
type HistoryMessage struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Message   *string   `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Messages returns one page of the chat, newest first, decrypted with the
// requester's own key of the time and the peer's public key of the time.
func (s *Service) Messages(ctx context.Context, requesterID, chatID string, page, limit int) (models.Page[HistoryMessage], error) {
	page, limit = models.ClampPage(page, limit, DefaultPageLimit)

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return models.Page[HistoryMessage]{}, err
	}
	if !chat.IsActive(requesterID) {
		return models.Page[HistoryMessage]{}, apperr.ErrNotChatMember
	}
	peerID := chat.Peer(requesterID)

	msgs, total, err := s.store.ListMessages(ctx, chatID, page, limit)
	if err != nil {
		return models.Page[HistoryMessage]{}, fmt.Errorf("list messages: %w", err)
	}

	secrets := newSecretCache(s.keys, requesterID, peerID)
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		h := HistoryMessage{
			ID:        m.ID,
			ChatID:    m.ChatID,
			Sender:    m.SenderID,
			Recipient: m.RecipientID,
			CreatedAt: m.CreatedAt,
		}
		ownKeyID, peerKeyID := m.RecipientKeyID, m.SenderKeyID
		if m.SenderID == requesterID {
			ownKeyID, peerKeyID = m.SenderKeyID, m.RecipientKeyID
		}
		plain, err := secrets.decrypt(ctx, ownKeyID, peerKeyID, ecc.Envelope{Ciphertext: m.Ciphertext, IV: m.IV})
		if err != nil {
			s.log.Warn("skipping undecryptable message",
				zap.String("chat_id", chatID), zap.String("message_id", m.ID), zap.Error(err))
		} else {
			text := string(plain)
			h.Message = &text
		}
		out = append(out, h)
	}
	return models.NewPage(out, page, limit, total), nil
}

// secretCache memoizes unsealed keys and derived secrets for one request;
// unsealing costs a full PBKDF2 run.
type secretCache struct {
	keys    *keys.Manager
	ownerID string
	peerID  string
	secrets map[[2]string][]byte
	failed  map[[2]string]error
}

func newSecretCache(km *keys.Manager, ownerID, peerID string) *secretCache {
	return &secretCache{
		keys:    km,
		ownerID: ownerID,
		peerID:  peerID,
		secrets: make(map[[2]string][]byte),
		failed:  make(map[[2]string]error),
	}
}

func (c *secretCache) decrypt(ctx context.Context, ownKeyID, peerKeyID string, env ecc.Envelope) ([]byte, error) {
	secret, err := c.secret(ctx, ownKeyID, peerKeyID)
	if err != nil {
		return nil, err
	}
	return ecc.Decrypt(env, secret)
}

func (c *secretCache) secret(ctx context.Context, ownKeyID, peerKeyID string) ([]byte, error) {
	k := [2]string{ownKeyID, peerKeyID}
	if s, ok := c.secrets[k]; ok {
		return s, nil
	}
	if err, ok := c.failed[k]; ok {
		return nil, err
	}
	s, err := c.derive(ctx, ownKeyID, peerKeyID)
	if err != nil {
		c.failed[k] = err
		return nil, err
	}
	c.secrets[k] = s
	return s, nil
}

func (c *secretCache) derive(ctx context.Context, ownKeyID, peerKeyID string) ([]byte, error) {
	own, err := c.keys.Key(ctx, c.ownerID, ownKeyID)
	if err != nil {
		return nil, err
	}
	peer, err := c.keys.Key(ctx, c.peerID, peerKeyID)
	if err != nil {
		return nil, err
	}
	return c.keys.SharedSecret(own, peer)
}
