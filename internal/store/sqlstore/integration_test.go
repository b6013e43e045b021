//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

func startPostgres(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cipherchat"),
		postgres.WithUsername("cipherchat"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	require.NoError(t, err)

	s, err := New(DriverPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresMembershipLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	mkUser := func(name string) *models.User {
		u := &models.User{ID: uuid.NewString(), Username: name, Email: name + "@example.com", Password: "x"}
		k := &models.UserKey{ID: uuid.NewString(), PublicKey: "p", EncryptedPrivateKey: "e", IV: "i", Salt: "s"}
		require.NoError(t, s.CreateUser(ctx, u, k))
		return u
	}
	a, b := mkUser("alice"), mkUser("bob")

	dup := &models.User{ID: uuid.NewString(), Username: "alice", Email: "x@example.com", Password: "x"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup, &models.UserKey{ID: uuid.NewString()}), store.ErrDuplicate)

	chat := &models.Chat{ID: uuid.NewString(), Members: []models.ChatMember{
		{UserID: a.ID, Status: models.StatusActive},
		{UserID: b.ID, Status: models.StatusActive},
	}}
	require.NoError(t, s.CreateChat(ctx, chat))

	require.NoError(t, s.UpdateChatMembers(ctx, chat.ID, 0, models.ChatMember{UserID: b.ID, Status: models.StatusPast}))
	assert.ErrorIs(t, s.UpdateChatMembers(ctx, chat.ID, 0, models.ChatMember{UserID: a.ID, Status: models.StatusPast}), store.ErrConflict)

	found, err := s.FindChatBetween(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, found.PastIDs())

	require.NoError(t, s.DeleteChat(ctx, chat.ID, found.Version))
	_, err = s.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	group := &models.Group{ID: uuid.NewString(), GroupName: "pg_team", Members: []models.GroupMember{
		{UserID: a.ID, Role: models.RoleAdmin, Status: models.StatusActive},
	}}
	require.NoError(t, s.CreateGroup(ctx, group))
	require.NoError(t, s.CreateGroupMessage(ctx, &models.GroupMessage{
		ID: uuid.NewString(), GroupID: group.ID, SenderID: a.ID, SenderKeyID: "k",
		Entries: []models.GroupMessageEntry{{MemberID: a.ID, Ciphertext: "c", IV: "i", MemberKeyID: "k"}},
	}))
	require.NoError(t, s.DeleteGroup(ctx, group.ID, 0))
	_, err = s.GetGroup(ctx, group.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
