package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

type MessageService interface {
	Send(ctx context.Context, senderID, receiverID model.UserID, params *model.SendMessageParams) (model.MessageID, error)
	ListConversation(ctx context.Context, requesterID, otherID model.UserID, page model.Page) ([]*model.DecryptedMessage, error)
	MarkAsRead(ctx context.Context, requesterID model.UserID, messageID model.MessageID) (*model.Message, error)
	MarkAsDelivered(ctx context.Context, requesterID model.UserID, messageID model.MessageID) (*model.Message, error)
	DeleteMessage(ctx context.Context, requesterID model.UserID, messageID model.MessageID) error
}

func SendMessage(messageService MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		params := &model.SendMessageParams{}
		if err := c.Bind(params); err != nil {
			return model.Validation("invalid request body")
		}

		id, err := messageService.Send(c.Request().Context(), requesterID, model.UserID(c.Param("id")), params)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, map[string]interface{}{"messageId": id})
	}
}

func ListConversation(messageService MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		page, err := pageFrom(c)
		if err != nil {
			return err
		}

		messages, err := messageService.ListConversation(c.Request().Context(), requesterID, model.UserID(c.Param("id")), page)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"messages": messages,
			"next":     page.Next(messages),
		})
	}
}

func MarkAsRead(messageService MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		message, err := messageService.MarkAsRead(c.Request().Context(), requesterID, model.MessageID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"message": message})
	}
}

func MarkAsDelivered(messageService MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		message, err := messageService.MarkAsDelivered(c.Request().Context(), requesterID, model.MessageID(c.Param("id")))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"message": message})
	}
}

func DeleteMessage(messageService MessageService) echo.HandlerFunc {
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		if err := messageService.DeleteMessage(c.Request().Context(), requesterID, model.MessageID(c.Param("id"))); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"deleted": true})
	}
}

func pageFrom(c echo.Context) (model.Page, error) {
	page := model.Page{}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return page, model.Validation("limit must be a positive integer")
		}
		page.Limit = limit
	}
	if v := c.QueryParam("before"); v != "" {
		before, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return page, model.Validation("before must be an RFC3339 timestamp")
		}
		page.Before = &before
	}
	if v := c.QueryParam("beforeId"); v != "" {
		if page.Before == nil {
			return page, model.Validation("beforeId requires before")
		}
		page.BeforeID = model.MessageID(v)
	}
	return page.Normalize(), nil
}
