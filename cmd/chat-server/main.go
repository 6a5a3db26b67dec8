package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"uk.co.dudmesh.courier/internal/boot"
	"uk.co.dudmesh.courier/internal/handlers"
	"uk.co.dudmesh.courier/internal/notify"
	"uk.co.dudmesh.courier/internal/service/message"
	"uk.co.dudmesh.courier/internal/service/user"
	"uk.co.dudmesh.courier/internal/store"
	"uk.co.dudmesh.courier/pkg/crypt"
)

type config struct {
	boot.Config
	store          *store.Store
	hub            *notify.Hub
	userService    handlers.UserService
	messageService handlers.MessageService
}

func newConfig(bootConfig *boot.Config) *config {
	key, err := crypt.ParseKey(bootConfig.Crypto.EncryptionKey)
	if err != nil {
		log.Fatalf("loading encryption key: %+v", err)
	}
	cipher, err := crypt.NewCipher(key)
	if err != nil {
		log.Fatalf("creating cipher: %+v", err)
	}

	db, err := store.Open(bootConfig)
	if err != nil {
		log.Fatalf("opening store: %+v", err)
	}

	hub := notify.NewHub(bootConfig.Notify.SendBuffer)
	userService := user.New(db)
	messageService := message.New(cipher, db, userService, hub)

	return &config{*bootConfig, db, hub, userService, messageService}
}

func (c *config) Close() {
	c.hub.Close()
	if err := c.store.Close(); err != nil {
		log.Errorf("closing store: %+v", err)
	}
}

func main() {
	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	config := newConfig(bootConfig)
	defer config.Close()

	server := echo.New()
	server.HideBanner = true
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("courier"))
	server.Use(middleware.Recover())

	server.Logger.SetLevel(log.INFO)
	log.SetLevel(log.INFO)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     strings.Split(config.Server.Origins, ","),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	handlers.Mount(server, handlers.Deps{
		Users:         config.userService,
		Messages:      config.messageService,
		Notifications: config.hub,
		Auth:          handlers.NewAuthenticator(config.Auth.JWTSecret),
		Database:      config.store,
		Origins:       config.Server.Origins,
		Development:   config.IsDevelopment(),
		BodyLimit:     config.Server.BodyLimit,
		RateLimit:     config.Server.RateLimit,
		RateWindow:    config.Server.RateWindow,
	})

	go func() {
		metrics := echo.New()
		metrics.HideBanner = true
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
