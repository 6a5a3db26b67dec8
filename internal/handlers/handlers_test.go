package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.courier/internal/model"
	"uk.co.dudmesh.courier/internal/notify"
	"uk.co.dudmesh.courier/internal/service/message"
	"uk.co.dudmesh.courier/internal/service/user"
	"uk.co.dudmesh.courier/internal/store"
	"uk.co.dudmesh.courier/pkg/crypt"
)

type testConfig struct {
	dir string
}

func (c testConfig) DatabasePath() string {
	return path.Join(c.dir, "handlers.db")
}

type testServer struct {
	*httptest.Server
	auth  *Authenticator
	hub   *notify.Hub
	users map[string]model.UserID
}

func newTestServer(t *testing.T, opts ...func(*Deps)) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(testConfig{t.TempDir()})
	require.NoError(t, err)

	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypt.NewCipher(key)
	require.NoError(t, err)

	hub := notify.NewHub(16)
	userService := user.New(db)
	auth := NewAuthenticator("test-secret")

	deps := Deps{
		Users:         userService,
		Messages:      message.New(cipher, db, userService, hub),
		Notifications: hub,
		Auth:          auth,
		Database:      db,
		Origins:       "*",
		Development:   true,
		BodyLimit:     "64K",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	server := echo.New()
	Mount(server, deps)

	ts := &testServer{
		Server: httptest.NewServer(server),
		auth:   auth,
		hub:    hub,
		users:  map[string]model.UserID{},
	}
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		db.Close()
	})

	for _, name := range []string{"xavier", "yolanda", "zed"} {
		u, err := userService.Create(ctx, &model.CreateUserParams{FullName: name, Email: name + "@example.com"})
		require.NoError(t, err)
		ts.users[name] = u.ID
	}

	return ts
}

func (ts *testServer) token(t *testing.T, name string) string {
	t.Helper()
	token, err := ts.auth.Sign(ts.users[name], time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, target, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+target, reader)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]interface{}{}
	json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func errorKind(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	kind, _ := e["kind"].(string)
	return kind
}

func TestAuthentication(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	t.Run("No token", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/users", "", nil)
		assert.Equal(http.StatusUnauthorized, status)
		assert.Equal("authentication", errorKind(body))
	})

	t.Run("Bad token", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodGet, "/users", "not-a-jwt", nil)
		assert.Equal(http.StatusUnauthorized, status)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		token, err := NewAuthenticator("other-secret").Sign(ts.users["xavier"], time.Hour)
		require.NoError(t, err)
		status, _ := ts.do(t, http.MethodGet, "/users", token, nil)
		assert.Equal(http.StatusUnauthorized, status)
	})

	t.Run("Expired token", func(t *testing.T) {
		token, err := ts.auth.Sign(ts.users["xavier"], -time.Minute)
		require.NoError(t, err)
		status, _ := ts.do(t, http.MethodGet, "/users", token, nil)
		assert.Equal(http.StatusUnauthorized, status)
	})

	t.Run("Unknown user", func(t *testing.T) {
		token, err := ts.auth.Sign("ghost", time.Hour)
		require.NoError(t, err)
		status, _ := ts.do(t, http.MethodGet, "/users", token, nil)
		assert.Equal(http.StatusUnauthorized, status)
	})

	t.Run("Cookie", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/users", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "token", Value: ts.token(t, "xavier")})
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(http.StatusOK, res.StatusCode)
	})
}

func (ts *testServer) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + ts.token(t, name)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	userID := ts.users[name]
	require.Eventually(t, func() bool { return ts.hub.Sessions(userID) == 1 }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func TestContacts(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)
	ts.dial(t, "yolanda")

	status, body := ts.do(t, http.MethodGet, "/users", ts.token(t, "xavier"), nil)
	assert.Equal(http.StatusOK, status)
	users, _ := body["users"].([]interface{})
	assert.Len(users, 2)

	online := map[string]interface{}{}
	for _, u := range users {
		entry := u.(map[string]interface{})
		assert.NotEqual(string(ts.users["xavier"]), entry["id"])
		online[entry["id"].(string)] = entry["online"]
	}
	assert.Equal(true, online[string(ts.users["yolanda"])])
	assert.Equal(false, online[string(ts.users["zed"])])
}

func TestMessageFlow(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)
	x, y := ts.users["xavier"], ts.users["yolanda"]
	xToken, yToken, zToken := ts.token(t, "xavier"), ts.token(t, "yolanda"), ts.token(t, "zed")

	conn := ts.dial(t, "xavier")

	t.Run("Send validation", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/messages/"+string(y), xToken, map[string]string{"text": ""})
		assert.Equal(http.StatusBadRequest, status)
		assert.Equal("validation", errorKind(body))

		status, body = ts.do(t, http.MethodPost, "/messages/ghost", xToken, map[string]string{"text": "hi"})
		assert.Equal(http.StatusNotFound, status)
		assert.Equal("not_found", errorKind(body))
	})

	status, body := ts.do(t, http.MethodPost, "/messages/"+string(y), xToken, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, status)
	messageID, _ := body["messageId"].(string)
	require.NotEmpty(t, messageID)

	t.Run("List conversation", func(t *testing.T) {
		status, body := ts.do(t, http.MethodGet, "/messages/"+string(x), yToken, nil)
		assert.Equal(http.StatusOK, status)
		messages, _ := body["messages"].([]interface{})
		if assert.Len(messages, 1) {
			m := messages[0].(map[string]interface{})
			assert.Equal(messageID, m["id"])
			assert.Equal("hello", m["decryptedContent"])
			assert.Equal("sent", m["status"])
			assert.Nil(m["readAt"])
			assert.NotContains(m, "ciphertext")
			sender, _ := m["senderProfile"].(map[string]interface{})
			receiver, _ := m["receiverProfile"].(map[string]interface{})
			assert.Equal("xavier", sender["fullName"])
			assert.Equal("yolanda", receiver["fullName"])
		}
		assert.Nil(body["next"])

		status, _ = ts.do(t, http.MethodGet, "/messages/"+string(x)+"?limit=abc", yToken, nil)
		assert.Equal(http.StatusBadRequest, status)

		status, _ = ts.do(t, http.MethodGet, "/messages/"+string(x)+"?beforeId="+messageID, yToken, nil)
		assert.Equal(http.StatusBadRequest, status)
	})

	t.Run("List conversation by cursor", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/messages/"+string(y), xToken, map[string]string{"text": "again"})
		require.Equal(t, http.StatusCreated, status)
		secondID, _ := body["messageId"].(string)

		seen := []string{}
		target := "/messages/" + string(x) + "?limit=1"
		for i := 0; i < 4 && target != ""; i++ {
			status, body := ts.do(t, http.MethodGet, target, yToken, nil)
			require.Equal(t, http.StatusOK, status)
			for _, m := range body["messages"].([]interface{}) {
				seen = append(seen, m.(map[string]interface{})["id"].(string))
			}
			target = ""
			if next, ok := body["next"].(map[string]interface{}); ok {
				q := url.Values{}
				q.Set("limit", "1")
				q.Set("before", next["before"].(string))
				q.Set("beforeId", next["beforeId"].(string))
				target = "/messages/" + string(x) + "?" + q.Encode()
			}
		}
		assert.Equal([]string{secondID, messageID}, seen)
	})

	t.Run("Mark read as outsider", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPut, "/messages/read/"+messageID, zToken, nil)
		assert.Equal(http.StatusForbidden, status)
		assert.Equal("authorization", errorKind(body))

		status, _ = ts.do(t, http.MethodPut, "/messages/read/missing", yToken, nil)
		assert.Equal(http.StatusNotFound, status)
	})

	t.Run("Mark read notifies sender", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPut, "/messages/read/"+messageID, yToken, nil)
		assert.Equal(http.StatusOK, status)
		m, _ := body["message"].(map[string]interface{})
		assert.Equal("read", m["status"])
		assert.NotNil(m["readAt"])

		var ev struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(string(notify.EventMessageRead), ev.Type)
		assert.Equal(messageID, ev.Data["messageId"])
	})

	t.Run("Delete", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodDelete, "/messages/"+messageID, zToken, nil)
		assert.Equal(http.StatusForbidden, status)

		status, body := ts.do(t, http.MethodDelete, "/messages/"+messageID, yToken, nil)
		assert.Equal(http.StatusOK, status)
		assert.Equal(true, body["deleted"])

		status, _ = ts.do(t, http.MethodDelete, "/messages/"+messageID, xToken, nil)
		assert.Equal(http.StatusNotFound, status)
	})
}

func TestDevelopmentUser(t *testing.T) {
	assert := assert.New(t)
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/local/user", "", map[string]string{
		"fullName": "New Person",
		"email":    "new@example.com",
	})
	assert.Equal(http.StatusCreated, status)
	token, _ := body["token"].(string)
	assert.NotEmpty(token)

	status, _ = ts.do(t, http.MethodGet, "/users", token, nil)
	assert.Equal(http.StatusOK, status)

	status, body = ts.do(t, http.MethodPost, "/local/user", "", map[string]string{
		"fullName": "Dup",
		"email":    "new@example.com",
	})
	assert.Equal(http.StatusConflict, status)
	assert.Equal("conflict", errorKind(body))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestServerHardening(t *testing.T) {
	assert := assert.New(t)

	t.Run("Security headers", func(t *testing.T) {
		ts := newTestServer(t)
		res, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal("nosniff", res.Header.Get("X-Content-Type-Options"))
		assert.Equal("SAMEORIGIN", res.Header.Get("X-Frame-Options"))
	})

	t.Run("Method not allowed", func(t *testing.T) {
		ts := newTestServer(t)
		status, body := ts.do(t, http.MethodPost, "/health", "", nil)
		assert.Equal(http.StatusMethodNotAllowed, status)
		assert.Equal("validation", errorKind(body))
	})

	t.Run("Body too large", func(t *testing.T) {
		ts := newTestServer(t)
		status, body := ts.do(t, http.MethodPost, "/local/user", "", map[string]string{
			"fullName": strings.Repeat("x", 128*1024),
			"email":    "big@example.com",
		})
		assert.Equal(http.StatusRequestEntityTooLarge, status)
		assert.Equal("validation", errorKind(body))
	})

	t.Run("Rate limited", func(t *testing.T) {
		ts := newTestServer(t, func(d *Deps) {
			d.RateLimit = 3
			d.RateWindow = time.Hour
		})
		for i := 0; i < 3; i++ {
			status, _ := ts.do(t, http.MethodGet, "/health", "", nil)
			assert.Equal(http.StatusOK, status)
		}
		status, body := ts.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(http.StatusTooManyRequests, status)
		assert.Equal("rate_limited", errorKind(body))
	})
}
