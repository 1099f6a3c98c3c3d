// Локальный dev-бэкенд для chatsync: REST-эндпоинты диалогов и WebSocket-хаб
// в памяти, без внешней инфраструктуры.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hirelink/chatsync/internal/devserver"
	"github.com/hirelink/chatsync/internal/logger"
)

func main() {
	logger.SetPrefix("devserver")
	addr := flag.String("addr", getEnv("SERVER_ADDR", ":8080"), "listen address")
	secret := flag.String("secret", getEnv("DEV_JWT_SECRET", "chatsync-dev-secret"), "JWT signing secret")
	lag := flag.Duration("visibility-lag", 0, "simulate the by-id visibility lag of freshly created conversations")
	flag.Parse()

	store := devserver.NewStore(*lag)
	hub := devserver.NewHub(store)
	auth := devserver.NewAuth(*secret, 24*time.Hour)
	h := devserver.NewHandler(store, hub, auth)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("dev server listening on %s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Errorf("server: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
