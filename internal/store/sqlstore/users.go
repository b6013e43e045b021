package sqlstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const searchLimit = 10

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User, key *models.UserKey) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user.ActiveKeyID = key.ID
		if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
			return insertErr(err, "user")
		}
		key.UserID = user.ID
		key.Seq = 1
		if key.CreatedAt.IsZero() {
			key.CreatedAt = now()
		}
		if _, err := tx.NewInsert().Model(key).Exec(ctx); err != nil {
			return insertErr(err, "user key")
		}
		return nil
	})
}

func (s *SQLStore) getUser(ctx context.Context, column, value string) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().
		Model(user).
		Where("? = ?", bun.Ident(column), value).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLStore) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := s.db.NewSelect().
		Model(&users).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get users")
	}
	return users, nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, query, excludeID string) ([]models.User, error) {
	connected := s.db.NewSelect().
		TableExpr("connections AS cn").
		ColumnExpr("cn.peer_id").
		Join("JOIN chat_members AS cm ON cm.chat_id = cn.chat_id AND cm.user_id = cn.user_id").
		Where("cn.user_id = ?", excludeID).
		Where("cm.status = ?", models.StatusActive)

	var users []models.User
	err := s.db.NewSelect().
		Model(&users).
		Where("LOWER(u.username) LIKE ?", "%"+strings.ToLower(query)+"%").
		Where("u.id != ?", excludeID).
		Where("u.id NOT IN (?)", connected).
		OrderExpr("u.username ASC").
		Limit(searchLimit).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	for i := range users {
		users[i].Email = maskEmail(users[i].Email)
	}
	return users, nil
}

func (s *SQLStore) AppendUserKey(ctx context.Context, key *models.UserKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now()
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var seq int
		err := tx.NewSelect().
			Model((*models.UserKey)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0)").
			Where("user_id = ?", key.UserID).
			Scan(ctx, &seq)
		if err != nil {
			return errors.Wrap(err, "next key seq")
		}
		key.Seq = seq + 1

		if _, err := tx.NewInsert().Model(key).Exec(ctx); err != nil {
			return insertErr(err, "user key")
		}

		res, err := tx.NewUpdate().
			Table("users").
			Set("active_key_id = ?", key.ID).
			Where("id = ?", key.UserID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "set active key")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *SQLStore) GetUserKey(ctx context.Context, userID, keyID string) (*models.UserKey, error) {
	key := new(models.UserKey)
	err := s.db.NewSelect().
		Model(key).
		Where("id = ?", keyID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "user key")
	}
	return key, nil
}

func (s *SQLStore) ListUserKeys(ctx context.Context, userID string) ([]models.UserKey, error) {
	var keys []models.UserKey
	err := s.db.NewSelect().
		Model(&keys).
		Where("user_id = ?", userID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list user keys")
	}
	return keys, nil
}
