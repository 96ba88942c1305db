package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/store"
)

func main() {
	logger.Setup("report-server")
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := initTelemetry(ctx)
	if err != nil {
		logger.Fatal("telemetry init failed", err)
	}
	defer shutdown(ctx)

	pg, err := store.NewPostgres(ctx, postgresDSN())
	if err != nil {
		logger.Fatal("postgres connect failed", err)
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", err)
	}

	busClient, err := bus.Connect(bus.Config{URL: natsURL(), Name: "report-server"})
	if err != nil {
		logger.Fatal("nats connect failed", err)
	}
	defer busClient.Close()
	if _, err := busClient.EnsureStream(bus.ReportsStreamConfig()); err != nil {
		logger.Fatal("nats stream setup failed", err)
	}

	svc := NewService(pg, busClient)
	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           NewServer(svc).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server: shutdown failed", err)
	}
	slog.Info("server stopped")
}
