package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

const devTokenTTL = 7 * 24 * time.Hour

type UserService interface {
	UserResolver
	Create(ctx context.Context, params *model.CreateUserParams) (*model.User, error)
	Contacts(ctx context.Context, requesterID model.UserID) ([]model.User, error)
}

type Presence interface {
	Sessions(userID model.UserID) int
}

type contact struct {
	model.User
	Online bool `json:"online"`
}

// ListContacts returns every other user, flagged online when they hold at
// least one notification session.
func ListContacts(userService UserService, presence Presence) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		users, err := userService.Contacts(c.Request().Context(), requesterID)
		if err != nil {
			return err
		}

		contacts := make([]contact, 0, len(users))
		for _, u := range users {
			contacts = append(contacts, contact{User: u, Online: presence.Sessions(u.ID) > 0})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"users": contacts})
	}
}

// CreateUser registers a user and hands back a session token. Only mounted in
// development; production users come from the identity service.
func CreateUser(userService UserService, auth *Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.CreateUserParams{}
		if err := c.Bind(params); err != nil {
			return model.Validation("invalid request body")
		}
		user, err := userService.Create(c.Request().Context(), params)
		if err != nil {
			return err
		}
		token, err := auth.Sign(user.ID, devTokenTTL)
		if err != nil {
			return model.Internal("failed to issue token", err)
		}
		return c.JSON(http.StatusCreated, map[string]interface{}{"user": user, "token": token})
	}
}
