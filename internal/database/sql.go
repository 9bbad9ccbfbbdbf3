package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const SQLType = "sql"

const defaultSQLDSN = "file::memory:?cache=shared"

var _ core.SessionStore = (*SQLSessionStore)(nil)

// sessionModel is the database row of a session record.
type sessionModel struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID               string   `bun:"id,pk"`
	Owner            string   `bun:"owner,notnull"`
	Renewer          string   `bun:"renewer,nullzero"`
	Target           string   `bun:"target,nullzero"`
	Scopes           []string `bun:"scopes,type:text"`
	IssuedAt         int64    `bun:"issued_at,notnull"`
	ExpiresAt        int64    `bun:"expires_at,notnull"`
	EncryptedPayload []byte   `bun:"encrypted_payload,notnull"`
}

func toModel(r *core.SessionRecord) *sessionModel {
	return &sessionModel{
		ID:               r.ID,
		Owner:            string(r.Owner),
		Renewer:          string(r.Renewer),
		Target:           r.Target,
		Scopes:           r.Scopes,
		IssuedAt:         r.IssuedAt,
		ExpiresAt:        r.ExpiresAt,
		EncryptedPayload: r.EncryptedPayload,
	}
}

func (m *sessionModel) toRecord() *core.SessionRecord {
	return &core.SessionRecord{
		ID:               m.ID,
		Owner:            core.Principal(m.Owner),
		Renewer:          core.Principal(m.Renewer),
		Target:           m.Target,
		Scopes:           m.Scopes,
		IssuedAt:         m.IssuedAt,
		ExpiresAt:        m.ExpiresAt,
		EncryptedPayload: m.EncryptedPayload,
	}
}

// SQLSessionStore stores session records in PostgreSQL or SQLite using bun.
type SQLSessionStore struct {
	db *bun.DB
}

type sqlSettings struct {
	// DSN is a postgres:// URL or a SQLite DSN (file path, "file:" URI or ":memory:").
	DSN string `mapstructure:"dsn"`
}

func NewSQLFromConfig(ctx context.Context, cfg config.BackendConfig) (core.SessionStore, error) {
	var s sqlSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.DSN == "" {
		s.DSN = defaultSQLDSN
	}
	return OpenSQL(ctx, s.DSN)
}

// OpenSQL connects to the database and creates the sessions table if needed.
func OpenSQL(ctx context.Context, dsn string) (*SQLSessionStore, error) {
	db, err := newDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	store := NewSQLSessionStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLSessionStore(db *bun.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db}
}

// Migrate creates the sessions table and its expiry index.
func (s *SQLSessionStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*sessionModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}
	if _, err := s.db.NewCreateIndex().
		Model((*sessionModel)(nil)).
		Index("sessions_expires_at_idx").
		Column("expires_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("creating sessions expiry index: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) Create(ctx context.Context, record *core.SessionRecord) error {
	if _, err := s.db.NewInsert().Model(toModel(record)).Exec(ctx); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) Get(ctx context.Context, id string) (*core.SessionRecord, error) {
	var m sessionModel
	err := s.db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRecordNotFound
		}
		return nil, fmt.Errorf("selecting session: %w", err)
	}
	return m.toRecord(), nil
}

func (s *SQLSessionStore) CompareAndSwapExpiry(ctx context.Context, id string, oldExpiry, newExpiry int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*sessionModel)(nil)).
		Set("expires_at = ?", newExpiry).
		Where("id = ?", id).
		Where("expires_at = ?", oldExpiry).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("updating session expiry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().
		Model((*sessionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

func (s *SQLSessionStore) DeleteExpired(ctx context.Context, nowMillis int64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*sessionModel)(nil)).
		Where("expires_at <= ?", nowMillis).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLSessionStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newDB creates a bun database for PostgreSQL or SQLite based on the DSN.
func newDB(ctx context.Context, dsn string) (*bun.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		sqldb.SetMaxOpenConns(25)
		sqldb.SetMaxIdleConns(25)

		db := bun.NewDB(sqldb, pgdialect.New())
		if err := db.PingContext(ctx); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return db, nil
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// single writer connection, so conditional updates are serialized
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
