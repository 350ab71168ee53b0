// Package sqlitestore provides a SQLite implementation of storage.Store.
//
//	store := sqlitestore.New("file:tokens.db", sqlitestore.WithTableName("atom_store"))
//	store := sqlitestore.New(":memory:")
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mattn/go-sqlite3"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/storage"
)

// Option is a functional option for configuring the store.
type Option func(*store)

// WithTableName overrides the default table name of "atom_store".
func WithTableName(tableName string) Option {
	return func(s *store) {
		s.tableName = tableName
	}
}

// New opens conn and creates the table if needed. Failures panic; use SafeNew
// to handle them.
func New(conn string, opts ...Option) storage.Store {
	s, err := SafeNew(conn, opts...)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// SafeNew is like New but returns errors instead of panicking.
func SafeNew(conn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "failed to open sqlite connection", 0)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	s := &store{db: db, tableName: "atom_store"}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db        *sql.DB
	tableName string
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.write(ctx, "INSERT INTO "+s.tableName+" (id, entity_type, value) VALUES (?, ?, ?)", models)
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.write(ctx, `INSERT INTO `+s.tableName+` (id, entity_type, value, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id, entity_type) DO UPDATE SET
		value = excluded.value, updated_at = CURRENT_TIMESTAMP`, models)
}

func (s *store) write(ctx context.Context, query string, models []storage.Model) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return translateError(err)
	}
	defer stmt.Close()

	for _, model := range models {
		if err := storage.ValidateReceiver(model); err != nil {
			return err
		}
		value, err := json.Marshal(model)
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		if _, err := stmt.ExecContext(ctx, model.PK(), storage.Name(model), value); err != nil {
			return translateError(err)
		}
	}

	return translateError(tx.Commit())
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM "+s.tableName+" WHERE id = ? AND entity_type = ?",
		id, storage.Name(model),
	).Scan(&value)
	if err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.tableName+" WHERE id = ? AND entity_type = ?",
		model.PK(), storage.Name(model),
	)
	if err != nil {
		return translateError(err)
	}
	if n, err := res.RowsAffected(); n == 0 || err != nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+s.tableName+" WHERE id = ? AND entity_type = ?",
		id, storage.Name(model),
	).Scan(&count)
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) ensureTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
		id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		value BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	);`)
	if err != nil {
		return errors.WrapPrefix(err, "failed to create table", 0)
	}
	return nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 1)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 1).Append(sqlErr.Error())
		}
	}
	return errors.Wrap(err, 1)
}
