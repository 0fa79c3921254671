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
	"golang.org/x/sync/errgroup"

	"rfiflow/db"
	"rfiflow/notify"
	"rfiflow/rfi"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error("bootstrap database pool", slog.Any("err", err))
		os.Exit(1)
	}
	defer pool.Close()

	service := rfi.NewService(pool, rfi.NewRepository(pool), rfi.NewNumbering(pool), notify.NewOutbox())
	dispatcher := notify.NewDispatcher(notify.NewStore(pool), logSender{log: log}, log)
	server := NewServer(service, log)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("rfi engine listening", slog.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// logSender stands in for the real notification gateway until one is wired.
type logSender struct {
	log *slog.Logger
}

func (s logSender) Send(_ context.Context, msg notify.Message) error {
	s.log.Info("outbound message",
		slog.String("topic", msg.Topic),
		slog.String("payload", string(msg.Payload)))
	return nil
}
