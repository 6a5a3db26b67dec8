package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
	"uk.co.dudmesh.courier/internal/notify"
)

type Notifications interface {
	Presence
	Attach(userID model.UserID, conn *websocket.Conn) *notify.Client
}

func newUpgrader(origins string) *websocket.Upgrader {
	allowed := map[string]bool{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowed["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return allowed[origin] || strings.EqualFold(u.Host, r.Host)
		},
	}
}

// Notify upgrades the request to a server-push websocket for the requester.
// Frames sent by the client are ignored.
func Notify(notifications Notifications, origins string) echo.HandlerFunc {
	upgrader := newUpgrader(origins)
	return func(c echo.Context) error {
		requesterID, err := currentRequester(c)
		if err != nil {
			return err
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already written the failure response
			c.Logger().Warnf("websocket upgrade for %s: %v", requesterID, err)
			return nil
		}

		notifications.Attach(requesterID, conn)
		return nil
	}
}
