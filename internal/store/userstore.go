package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.courier/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	res, err := s.db.NamedExecContext(ctx, `insert into users
		(ID, CreatedAt, FullName, Email, AvatarURL)
		values(:ID, :CreatedAt, :FullName, :Email, :AvatarURL)`, user)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return model.Conflict("email already in use", err)
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	}

	return nil
}

func (s *Store) FetchUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	user := &model.User{}
	err := s.db.GetContext(ctx, user, `select * from users where ID = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

// ListUsersExcept returns every user other than userID, ordered by name.
func (s *Store) ListUsersExcept(ctx context.Context, userID model.UserID) ([]model.User, error) {
	users := []model.User{}
	err := s.db.SelectContext(ctx, &users, `select * from users where ID != ? order by FullName, ID`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}
