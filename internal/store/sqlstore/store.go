package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/pliu/cipherchat/internal/models"
	"github.com/pliu/cipherchat/internal/store"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements store.Store on bun for sqlite3 and postgres.
type SQLStore struct {
	db *bun.DB
}

var _ store.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	sqldb, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	var db *bun.DB
	switch driverName {
	case DriverSQLite:
		// :memory: databases live and die with their connection.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb.Close()
		return nil, errors.Errorf("unsupported driver %q", driverName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := NewWithDB(db)
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already configured bun database. Tables are not created.
func NewWithDB(db *bun.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.createTables(ctx)
}

func (s *SQLStore) createTables(ctx context.Context) error {
	tables := []any{
		(*models.User)(nil),
		(*models.UserKey)(nil),
		(*models.Chat)(nil),
		(*models.ChatMember)(nil),
		(*models.Connection)(nil),
		(*models.Message)(nil),
		(*models.Group)(nil),
		(*models.GroupMember)(nil),
		(*models.GroupMessage)(nil),
		(*models.GroupMessageEntry)(nil),
	}
	for _, model := range tables {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrapf(err, "create table for %T", model)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*models.UserKey)(nil), "idx_user_keys_user", []string{"user_id", "seq"}},
		{(*models.ChatMember)(nil), "idx_chat_members_user", []string{"user_id", "status"}},
		{(*models.Connection)(nil), "idx_connections_chat", []string{"chat_id"}},
		{(*models.Message)(nil), "idx_messages_chat", []string{"chat_id", "created_at"}},
		{(*models.GroupMember)(nil), "idx_group_members_user", []string{"user_id", "status"}},
		{(*models.GroupMessage)(nil), "idx_group_messages_group", []string{"group_id", "created_at"}},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return errors.Wrapf(err, "create index %s", idx.name)
		}
	}
	return nil
}

// bumpVersion is the compare-and-swap step of every membership mutation.
func bumpVersion(ctx context.Context, tx bun.Tx, table, id string, version int64) error {
	res, err := tx.NewUpdate().
		Table(table).
		Set("version = version + 1").
		Set("updated_at = ?", now()).
		Where("id = ?", id).
		Where("version = ?", version).
		Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "bump %s version", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return errors.Wrapf(err, "get %s", what)
}

func insertErr(err error, what string) error {
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return errors.Wrapf(err, "insert %s", what)
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code.Name() == "unique_violation"
	}
	return false
}

func now() time.Time {
	return time.Now().UTC()
}

func pageOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return email
	}
	visible := 1
	if len(local) > 2 {
		visible = min(len(local)/2, 3)
	}
	if visible > len(local) {
		visible = len(local)
	}
	return local[:visible] + strings.Repeat("*", len(local)-visible) + "@" + domain
}
