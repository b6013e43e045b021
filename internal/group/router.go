package group

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pliu/cipherchat/internal/ecc"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/models"
)

type sealedEntry struct {
	entry  models.GroupMessageEntry
	secret []byte
}

// SendGroup encrypts plaintext once per active member of the stored roster
// and stores all copies as one message. A member whose key cannot be resolved
// is left out; a failure on the sender's own key aborts the send.
func (s *Service) SendGroup(ctx context.Context, senderID string, req events.SendGroupMessageRequest) (*events.GroupMessagePayload, error) {
	log := s.log.With(zap.String("user_id", senderID), zap.String("group_id", req.GroupID))

	if strings.TrimSpace(req.Message) == "" {
		return nil, apperr.ErrEmptyMessage
	}
	group, err := s.loadGroup(ctx, req.GroupID)
	if err != nil {
		log.Warn("group send rejected", zap.Error(err))
		return nil, err
	}
	if _, ok := group.ActiveMember(senderID); !ok {
		log.Warn("group send rejected", zap.Error(apperr.ErrNotGroupMember))
		return nil, apperr.ErrNotGroupMember
	}

	senderKey, err := s.keys.ActiveKey(ctx, senderID)
	if err != nil {
		log.Error("sender key", zap.Error(err))
		return nil, err
	}
	priv, err := s.keys.PrivateKey(senderKey)
	if err != nil {
		return nil, err
	}

	roster := group.ActiveIDs()
	sealed := make([]*sealedEntry, len(roster))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, memberID := range roster {
		g.Go(func() error {
			e, err := s.sealFor(ctx, priv, memberID, []byte(req.Message))
			if err != nil {
				log.Warn("member excluded from group message", zap.String("member_id", memberID), zap.Error(err))
				return nil
			}
			sealed[i] = e
			return nil
		})
	}
	_ = g.Wait()

	msg := &models.GroupMessage{
		ID:          uuid.NewString(),
		GroupID:     group.ID,
		SenderID:    senderID,
		SenderKeyID: senderKey.ID,
	}
	var first *sealedEntry
	for _, e := range sealed {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		msg.Entries = append(msg.Entries, e.entry)
	}
	if first == nil {
		log.Error("group send has no recipients")
		return nil, apperr.ErrNoRecipients
	}

	if err := s.store.CreateGroupMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store group message: %w", err)
	}

	// One plaintext echo for everybody, recovered from a stored entry.
	plain, err := ecc.Decrypt(ecc.Envelope{Ciphertext: first.entry.Ciphertext, IV: first.entry.IV}, first.secret)
	if err != nil {
		log.Error("decrypt stored entry", zap.String("message_id", msg.ID), zap.Error(err))
		return nil, err
	}
	payload := &events.GroupMessagePayload{
		ID:        msg.ID,
		GroupID:   group.ID,
		Sender:    senderID,
		Message:   string(plain),
		CreatedAt: msg.CreatedAt,
	}
	events.EmitAll(s.emitter, roster, events.ReceivedGroupMessage, payload)
	log.Debug("group message sent", zap.String("message_id", msg.ID), zap.Int("entries", len(msg.Entries)))
	return payload, nil
}

func (s *Service) sealFor(ctx context.Context, priv *ecc.PrivateKey, memberID string, plaintext []byte) (*sealedEntry, error) {
	memberKey, err := s.keys.ActiveKey(ctx, memberID)
	if err != nil {
		return nil, err
	}
	pub, err := keys.PublicKey(memberKey)
	if err != nil {
		return nil, err
	}
	secret := ecc.DeriveSharedSecret(priv, pub)
	env, err := ecc.Encrypt(plaintext, secret)
	if err != nil {
		return nil, err
	}
	return &sealedEntry{
		entry: models.GroupMessageEntry{
			MemberID:    memberID,
			Ciphertext:  env.Ciphertext,
			IV:          env.IV,
			MemberKeyID: memberKey.ID,
		},
		secret: secret,
	}, nil
}

// HistoryMessage is a group message decrypted for one reader. Message is nil
// when the reader's copy could not be decrypted.
type HistoryMessage struct {
	ID        string    `json:"_id"`
	GroupID   string    `json:"groupId"`
	Sender    string    `json:"sender"`
	Message   *string   `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Messages returns one page of the group's history, newest first. Messages
// sent before the reader joined carry no copy for them and are skipped;
// TotalDocs still counts every message of the group.
func (s *Service) Messages(ctx context.Context, requesterID, groupID string, page, limit int) (models.Page[HistoryMessage], error) {
	page, limit = models.ClampPage(page, limit, DefaultHistoryLimit)

	group, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return models.Page[HistoryMessage]{}, err
	}
	if _, ok := group.ActiveMember(requesterID); !ok {
		return models.Page[HistoryMessage]{}, apperr.ErrNotGroupMember
	}

	msgs, total, err := s.store.ListGroupMessages(ctx, groupID, page, limit)
	if err != nil {
		return models.Page[HistoryMessage]{}, fmt.Errorf("list group messages: %w", err)
	}

	secrets := map[[3]string][]byte{}
	out := make([]HistoryMessage, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		entry, ok := m.EntryFor(requesterID)
		if !ok {
			continue
		}
		h := HistoryMessage{ID: m.ID, GroupID: m.GroupID, Sender: m.SenderID, CreatedAt: m.CreatedAt}

		k := [3]string{entry.MemberKeyID, m.SenderID, m.SenderKeyID}
		secret, ok := secrets[k]
		if !ok {
			secret, err = s.readerSecret(ctx, requesterID, entry.MemberKeyID, m.SenderID, m.SenderKeyID)
			if err != nil {
				s.log.Warn("skipping undecryptable group message",
					zap.String("group_id", groupID), zap.String("message_id", m.ID), zap.Error(err))
				out = append(out, h)
				continue
			}
			secrets[k] = secret
		}
		plain, err := ecc.Decrypt(ecc.Envelope{Ciphertext: entry.Ciphertext, IV: entry.IV}, secret)
		if err != nil {
			s.log.Warn("skipping undecryptable group message",
				zap.String("group_id", groupID), zap.String("message_id", m.ID), zap.Error(err))
		} else {
			text := string(plain)
			h.Message = &text
		}
		out = append(out, h)
	}
	return models.NewPage(out, page, limit, total), nil
}

func (s *Service) readerSecret(ctx context.Context, readerID, readerKeyID, senderID, senderKeyID string) ([]byte, error) {
	own, err := s.keys.Key(ctx, readerID, readerKeyID)
	if err != nil {
		return nil, err
	}
	sender, err := s.keys.Key(ctx, senderID, senderKeyID)
	if err != nil {
		return nil, err
	}
	return s.keys.SharedSecret(own, sender)
}
