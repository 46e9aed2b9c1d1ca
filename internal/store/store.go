package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a row addressed by id does not exist or does
// not belong to the caller.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store reads and writes the realtime tables of the booking database.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	wrapMsg := "unable to open the database"

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, wrapMsg)
	}

	return New(db), nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "unable to apply the schema")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// expectOneRow turns a zero-row update into ErrNotFound.
func expectOneRow(result sql.Result, wrapMsg string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if rowsAffected == 0 {
		return errors.Wrap(ErrNotFound, wrapMsg)
	}
	return nil
}
