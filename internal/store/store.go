package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type Config interface {
	DatabasePath() string
}

// Store persists users and messages in a single sqlite database.
type Store struct {
	db *sqlx.DB
}

func Open(config Config) (*Store, error) {
	dsn := "file:" + config.DatabasePath() + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite allows a single writer; serialize through one connection
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `create table if not exists users(
		ID        text not null primary key,
		CreatedAt DATETIME not null,
		FullName  text not null,
		Email     text not null unique,
		AvatarURL text not null default ''
	)`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `create table if not exists messages(
		ID          text not null primary key,
		PairKey     text not null,
		Sender      text not null references users(ID),
		Receiver    text not null references users(ID),
		Ciphertext  blob not null check(length(Ciphertext) > 0),
		IV          blob not null check(length(IV) = 16),
		Attachments text not null default '[]',
		Status      text not null check(Status in ('sent','delivered','read')) default 'sent',
		SentAt      integer not null,
		ReadAt      integer null,
		check(Sender != Receiver),
		check((Status = 'read') = (ReadAt is not null))
	)`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `create index if not exists idx_messages_pair_sent
		on messages (PairKey, SentAt desc, ID desc)`)
	if err != nil {
		return fmt.Errorf("creating conversation index: %w", err)
	}

	return nil
}
