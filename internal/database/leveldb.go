package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const LevelDBType = "leveldb"

const sessionKeyPrefix = "session/"

var _ core.SessionStore = (*LevelDBSessionStore)(nil)

// LevelDBSessionStore stores session records as JSON documents in a local LevelDB.
// Every mutation runs in a LevelDB transaction, which excludes concurrent writes.
type LevelDBSessionStore struct {
	db *leveldb.DB
}

type leveldbSettings struct {
	// Path is the database directory.
	Path string `mapstructure:"path"`
}

func NewLevelDBFromConfig(_ context.Context, cfg config.BackendConfig) (core.SessionStore, error) {
	var s leveldbSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.Path == "" {
		return nil, fmt.Errorf("leveldb database missing 'path'")
	}
	return OpenLevelDB(s.Path)
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDBSessionStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at '%s': %w", path, err)
	}
	return &LevelDBSessionStore{db: db}, nil
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func (s *LevelDBSessionStore) Create(_ context.Context, record *core.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening transaction: %w", err)
	}
	defer tr.Discard()

	exists, err := tr.Has(sessionKey(record.ID), nil)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if exists {
		return fmt.Errorf("session '%s' already exists", record.ID)
	}
	if err := tr.Put(sessionKey(record.ID), data, nil); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return tr.Commit()
}

func (s *LevelDBSessionStore) Get(_ context.Context, id string) (*core.SessionRecord, error) {
	data, err := s.db.Get(sessionKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, core.ErrRecordNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return decodeRecord(data)
}

func (s *LevelDBSessionStore) CompareAndSwapExpiry(_ context.Context, id string, oldExpiry, newExpiry int64) (bool, error) {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return false, fmt.Errorf("opening transaction: %w", err)
	}
	defer tr.Discard()

	data, err := tr.Get(sessionKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reading session: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return false, err
	}
	if rec.ExpiresAt != oldExpiry {
		return false, nil
	}

	rec.ExpiresAt = newExpiry
	updated, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding session: %w", err)
	}
	if err := tr.Put(sessionKey(id), updated, nil); err != nil {
		return false, fmt.Errorf("writing session: %w", err)
	}
	if err := tr.Commit(); err != nil {
		return false, fmt.Errorf("committing session: %w", err)
	}
	return true, nil
}

func (s *LevelDBSessionStore) Delete(_ context.Context, id string) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening transaction: %w", err)
	}
	defer tr.Discard()

	exists, err := tr.Has(sessionKey(id), nil)
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if !exists {
		return core.ErrRecordNotFound
	}
	if err := tr.Delete(sessionKey(id), nil); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return tr.Commit()
}

func (s *LevelDBSessionStore) DeleteExpired(_ context.Context, nowMillis int64) (int64, error) {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return 0, fmt.Errorf("opening transaction: %w", err)
	}
	defer tr.Discard()

	var expired [][]byte
	iter := tr.NewIterator(util.BytesPrefix([]byte(sessionKeyPrefix)), nil)
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			iter.Release()
			return 0, err
		}
		if rec.ExpiresAt <= nowMillis {
			expired = append(expired, append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterating sessions: %w", err)
	}

	for _, key := range expired {
		if err := tr.Delete(key, nil); err != nil {
			return 0, fmt.Errorf("deleting session: %w", err)
		}
	}
	if err := tr.Commit(); err != nil {
		return 0, fmt.Errorf("committing sweep: %w", err)
	}
	return int64(len(expired)), nil
}

func (s *LevelDBSessionStore) Close() error {
	return s.db.Close()
}

func decodeRecord(data []byte) (*core.SessionRecord, error) {
	var rec core.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &rec, nil
}
