package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"uk.co.dudmesh.courier/internal/model"
)

type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	FetchUser(ctx context.Context, userID model.UserID) (*model.User, error)
	ListUsersExcept(ctx context.Context, userID model.UserID) ([]model.User, error)
}

type service struct {
	store Store
}

func New(store Store) *service {
	return &service{store}
}

func (s *service) Create(ctx context.Context, params *model.CreateUserParams) (*model.User, error) {
	fullName := strings.TrimSpace(params.FullName)
	if fullName == "" {
		return nil, model.Validation("full name is required")
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.Validation("invalid email address")
	}

	user := &model.User{
		ID:        model.UserID(model.CreateID()),
		CreatedAt: time.Now().UTC(),
		FullName:  fullName,
		Email:     email,
		AvatarURL: strings.TrimSpace(params.AvatarURL),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if model.IsKind(err, model.KindConflict) {
			return nil, err
		}
		return nil, model.Internal("failed to create user", err)
	}

	return user, nil
}

// Fetch resolves a user id, failing with a not_found error when it does not exist.
func (s *service) Fetch(ctx context.Context, userID model.UserID) (*model.User, error) {
	user, err := s.store.FetchUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, model.NotFound(fmt.Sprintf("user %s not found", userID), err)
		}
		return nil, model.Internal("failed to fetch user", err)
	}
	return user, nil
}

// Contacts lists every user except the requester.
func (s *service) Contacts(ctx context.Context, requesterID model.UserID) ([]model.User, error) {
	users, err := s.store.ListUsersExcept(ctx, requesterID)
	if err != nil {
		return nil, model.Internal("failed to list users", err)
	}
	return users, nil
}
