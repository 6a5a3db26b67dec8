package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Users         UserService
	Messages      MessageService
	Notifications Notifications
	Auth          *Authenticator
	Database      Pinger
	Origins       string
	Development   bool
	BodyLimit     string // e.g. "1M"; empty disables the limit
	RateLimit     int    // requests per client per RateWindow; 0 disables limiting
	RateWindow    time.Duration
}

func Mount(server *echo.Echo, deps Deps) {
	server.HTTPErrorHandler = ErrorHandler

	server.Use(middleware.Secure())
	if deps.BodyLimit != "" {
		server.Use(middleware.BodyLimit(deps.BodyLimit))
	}
	if deps.RateLimit > 0 && deps.RateWindow > 0 {
		server.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Every(deps.RateWindow / time.Duration(deps.RateLimit)),
				Burst:     deps.RateLimit,
				ExpiresIn: deps.RateWindow,
			}),
		}))
	}

	server.GET("/health", Health(deps.Database))

	if deps.Development {
		server.POST("/local/user", CreateUser(deps.Users, deps.Auth))
	}

	authed := server.Group("", RequireUser(deps.Auth, deps.Users))
	authed.GET("/users", ListContacts(deps.Users, deps.Notifications))
	authed.POST("/messages/:id", SendMessage(deps.Messages))
	authed.GET("/messages/:id", ListConversation(deps.Messages))
	authed.PUT("/messages/read/:id", MarkAsRead(deps.Messages))
	authed.PUT("/messages/delivered/:id", MarkAsDelivered(deps.Messages))
	authed.DELETE("/messages/:id", DeleteMessage(deps.Messages))
	authed.GET("/ws", Notify(deps.Notifications, deps.Origins))
}

func Health(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := db.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
