package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/cipherchat/internal/ecc"
	apperr "github.com/pliu/cipherchat/internal/errors"
	"github.com/pliu/cipherchat/internal/events"
	"github.com/pliu/cipherchat/internal/events/eventstest"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store/sqlstore"
)

type fixture struct {
	svc   *Service
	store *sqlstore.SQLStore
	keys  *keys.Manager
	rec   *eventstest.Recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlstore.New(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	km := keys.NewManager(st, "chat-test-secret", nil)
	rec := eventstest.NewRecorder()
	return &fixture{svc: NewService(st, km, rec, 3, nil), store: st, keys: km, rec: rec}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	key, err := f.keys.Generate()
	require.NoError(t, err)
	u := &models.User{ID: uuid.NewString(), Username: name, Email: name + "@example.com", Password: "x"}
	require.NoError(t, f.store.CreateUser(context.Background(), u, key))
	return u
}

func (f *fixture) send(t *testing.T, from, to, chatID, text string) *events.MessagePayload {
	t.Helper()
	p, err := f.svc.SendDirect(context.Background(), from, events.SendMessageRequest{Recipient: to, ChatID: chatID, Message: text})
	require.NoError(t, err)
	return p
}

func TestFriendshipScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")

	res, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, events.StatusNew, res.Status)

	for _, pair := range [][2]*models.User{{a, b}, {b, a}} {
		got := f.rec.For(pair[0].ID, events.ConnectionUpdated)
		require.Len(t, got, 1)
		p := got[0].Payload.(events.ConnectionPayload)
		assert.Equal(t, res.ChatID, p.ChatID)
		assert.Equal(t, events.StatusNew, p.Status)
		assert.Equal(t, []models.PublicUser{pair[1].Public()}, p.Members)
	}

	f.send(t, a.ID, b.ID, res.ChatID, "hello")
	for _, u := range []string{a.ID, b.ID} {
		got := f.rec.For(u, events.ReceivedMessage)
		require.Len(t, got, 1)
		assert.Equal(t, "hello", got[0].Payload.(*events.MessagePayload).Message)
	}

	removed, err := f.svc.RemoveFriend(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, removed.Removed)
	assert.False(t, removed.Deleted)

	got := f.rec.For(a.ID, events.ConnectionRemoved)
	require.Len(t, got, 1)
	assert.Equal(t, events.ConnectionRemovedPayload{ChatID: res.ChatID, UserID: b.ID}, got[0].Payload)
	// b was active before the change, so b hears about it too.
	assert.Len(t, f.rec.For(b.ID, events.ConnectionRemoved), 1)

	chat, err := f.store.GetChat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, chat.PastIDs())

	history, err := f.svc.Messages(ctx, a.ID, res.ChatID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	require.NotNil(t, history.Items[0].Message)
	assert.Equal(t, "hello", *history.Items[0].Message)

	_, err = f.svc.Messages(ctx, b.ID, res.ChatID, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrNotChatMember)

	again, err := f.svc.Connect(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, events.StatusExisting, again.Status)
	assert.Equal(t, res.ChatID, again.ChatID)

	chat, err = f.store.GetChat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, chat.ActiveIDs())
	assert.Empty(t, chat.PastIDs())
}

func TestConnectIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")

	first, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	second, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	third, err := f.svc.Connect(ctx, b.ID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ChatID, second.ChatID)
	assert.Equal(t, first.ChatID, third.ChatID)
	assert.Empty(t, second.Status)
	assert.Empty(t, third.Status)
	assert.Len(t, f.rec.For(a.ID, events.ConnectionUpdated), 1)

	chats, err := f.store.ListUserChats(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestConcurrentConnectCreatesOneChat(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")

	var wg sync.WaitGroup
	results := make([]ConnectResult, 2)
	errs := make([]error, 2)
	for i, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Connect(ctx, from, to)
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ChatID, results[1].ChatID)

	chats, err := f.store.ListUserChats(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestConnectValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.user(t, "alice")

	_, err := f.svc.Connect(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, apperr.ErrSelfConnection)
	_, err = f.svc.Connect(ctx, a.ID, "")
	assert.ErrorIs(t, err, apperr.ErrMissingRecipient)
	_, err = f.svc.Connect(ctx, a.ID, "ghost")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	assert.Empty(t, f.rec.All())
}

func TestMutualRemoveDeletesHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")

	res, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	f.send(t, a.ID, b.ID, res.ChatID, "one")
	f.send(t, b.ID, a.ID, res.ChatID, "two")

	_, err = f.svc.RemoveFriend(ctx, a.ID, b.ID)
	require.NoError(t, err)

	// Removing again is a no-op.
	f.rec.Reset()
	repeat, err := f.svc.RemoveFriend(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, repeat.Removed)
	assert.Empty(t, f.rec.All())

	msgs, total, err := f.store.ListMessages(ctx, res.ChatID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 2, total)

	last, err := f.svc.RemoveFriend(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, last.Deleted)
	assert.Len(t, f.rec.For(b.ID, events.ConnectionRemoved), 1)
	assert.Empty(t, f.rec.For(a.ID, events.ConnectionRemoved))

	msgs, total, err = f.store.ListMessages(ctx, res.ChatID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, total)
	_, err = f.svc.ChatInfo(ctx, a.ID, res.ChatID)
	assert.ErrorIs(t, err, apperr.ErrChatNotFound)

	_, err = f.svc.RemoveFriend(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, apperr.ErrChatNotFound)

	fresh, err := f.svc.Connect(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, events.StatusNew, fresh.Status)
	assert.NotEqual(t, res.ChatID, fresh.ChatID)
}

func TestSendDirectRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	res, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	f.rec.Reset()

	tests := []struct {
		name   string
		sender string
		req    events.SendMessageRequest
		want   error
	}{
		{"empty message", a.ID, events.SendMessageRequest{Recipient: b.ID, ChatID: res.ChatID, Message: "  "}, apperr.ErrEmptyMessage},
		{"no recipient", a.ID, events.SendMessageRequest{ChatID: res.ChatID, Message: "hi"}, apperr.ErrMissingRecipient},
		{"unknown chat", a.ID, events.SendMessageRequest{Recipient: b.ID, ChatID: "nope", Message: "hi"}, apperr.ErrChatNotFound},
		{"outsider sender", c.ID, events.SendMessageRequest{Recipient: b.ID, ChatID: res.ChatID, Message: "hi"}, apperr.ErrNotChatMember},
		{"outsider recipient", a.ID, events.SendMessageRequest{Recipient: c.ID, ChatID: res.ChatID, Message: "hi"}, apperr.ErrNotChatMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendDirect(ctx, tt.sender, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = f.svc.RemoveFriend(ctx, b.ID, a.ID)
	require.NoError(t, err)
	_, err = f.svc.SendDirect(ctx, a.ID, events.SendMessageRequest{Recipient: b.ID, ChatID: res.ChatID, Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotChatMember)

	_, total, err := f.store.ListMessages(ctx, res.ChatID, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, f.rec.For(a.ID, events.ReceivedMessage))
}

func TestSendDirectStoresCiphertextOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	res, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)

	f.rec.Reset()
	f.rec.Offline[b.ID] = true
	p := f.send(t, a.ID, b.ID, res.ChatID, "https://uploads.example.com/cat.png")
	assert.Empty(t, f.rec.For(b.ID, ""))

	msgs, _, err := f.store.ListMessages(ctx, res.ChatID, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	stored := msgs[0]
	assert.Equal(t, p.ID, stored.ID)
	assert.NotContains(t, stored.Ciphertext, "uploads")

	// The recipient can decrypt with its own key and the sender's public key.
	bKey, err := f.keys.Key(ctx, b.ID, stored.RecipientKeyID)
	require.NoError(t, err)
	aKey, err := f.keys.Key(ctx, a.ID, stored.SenderKeyID)
	require.NoError(t, err)
	secret, err := f.keys.SharedSecret(bKey, aKey)
	require.NoError(t, err)
	plain, err := ecc.Decrypt(ecc.Envelope{Ciphertext: stored.Ciphertext, IV: stored.IV}, secret)
	require.NoError(t, err)
	assert.Equal(t, "https://uploads.example.com/cat.png", string(plain))
}

func TestHistorySurvivesRotationAndIsolatesFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	res, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)

	f.send(t, a.ID, b.ID, res.ChatID, "before")
	_, err = f.keys.Rotate(ctx, a.ID)
	require.NoError(t, err)
	f.send(t, b.ID, a.ID, res.ChatID, "after")

	// A message whose key ids resolve to nothing.
	require.NoError(t, f.store.CreateMessage(ctx, &models.Message{
		ID: uuid.NewString(), ChatID: res.ChatID, Ciphertext: "AAAA", IV: "AAAA",
		SenderID: a.ID, RecipientID: b.ID, SenderKeyID: "gone", RecipientKeyID: "gone",
	}))

	for _, reader := range []string{a.ID, b.ID} {
		page, err := f.svc.Messages(ctx, reader, res.ChatID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, page.TotalDocs)
		assert.Equal(t, 1, page.TotalPages)

		var texts []string
		nulls := 0
		for _, m := range page.Items {
			if m.Message == nil {
				nulls++
				continue
			}
			texts = append(texts, *m.Message)
		}
		assert.Equal(t, 1, nulls)
		assert.ElementsMatch(t, []string{"before", "after"}, texts)
	}

	paged, err := f.svc.Messages(ctx, a.ID, res.ChatID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, paged.TotalPages)
	assert.Len(t, paged.Items, 1)
}

func TestChatsAndInfo(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	ab, err := f.svc.Connect(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, a.ID, c.ID)
	require.NoError(t, err)

	list, err := f.svc.Chats(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.RemoveFriend(ctx, b.ID, a.ID)
	require.NoError(t, err)

	info, err := f.svc.ChatInfo(ctx, a.ID, ab.ChatID)
	require.NoError(t, err)
	assert.Equal(t, []models.PublicUser{a.Public()}, info.Members)
	assert.Equal(t, []models.PublicUser{b.Public()}, info.PastMembers)

	_, err = f.svc.ChatInfo(ctx, c.ID, ab.ChatID)
	assert.ErrorIs(t, err, apperr.ErrNotChatMember)

	list, err = f.svc.Chats(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
