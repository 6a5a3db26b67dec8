package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.courier/internal/model"
)

const (
	contextKeyUserID = "userID"
	tokenCookieName  = "token"
	tokenQueryParam  = "token"
)

type Claims struct {
	UserID model.UserID `json:"userId"`
	jwt.StandardClaims
}

// Authenticator verifies HS256 session tokens issued by the identity service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Sign issues a token for userID. Production tokens come from the identity
// service; this exists for development and tests.
func (a *Authenticator) Sign(userID model.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (a *Authenticator) Verify(token string) (model.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", model.Authentication("invalid or expired token", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", model.Authentication("invalid token", nil)
	}
	return claims.UserID, nil
}

type UserResolver interface {
	Fetch(ctx context.Context, userID model.UserID) (*model.User, error)
}

// RequireUser authenticates the request from a bearer token, the token cookie
// or the token query parameter (browsers cannot set headers on websockets),
// and stores the requester id on the context.
func RequireUser(auth *Authenticator, users UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := tokenFrom(c)
			if token == "" {
				return model.Authentication("no token provided", nil)
			}

			userID, err := auth.Verify(token)
			if err != nil {
				return err
			}

			if _, err := users.Fetch(c.Request().Context(), userID); err != nil {
				if model.IsKind(err, model.KindNotFound) {
					return model.Authentication("unknown user", err)
				}
				return err
			}

			c.Set(contextKeyUserID, userID)
			return next(c)
		}
	}
}

func tokenFrom(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := c.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.QueryParam(tokenQueryParam)
}

func currentRequester(c echo.Context) (model.UserID, error) {
	userID, ok := c.Get(contextKeyUserID).(model.UserID)
	if !ok || userID == "" {
		return "", model.Authentication("not authenticated", nil)
	}
	return userID, nil
}
