package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/live-score-backend/internal/config"
	"github.com/DoyleJ11/live-score-backend/internal/httpapi"
	"github.com/DoyleJ11/live-score-backend/internal/hub"
	"github.com/DoyleJ11/live-score-backend/internal/lobby"
	"github.com/DoyleJ11/live-score-backend/internal/logging"
	"github.com/DoyleJ11/live-score-backend/internal/match"
	"github.com/DoyleJ11/live-score-backend/internal/room"
	"github.com/DoyleJ11/live-score-backend/internal/store"
	"github.com/DoyleJ11/live-score-backend/internal/token"
	"github.com/DoyleJ11/live-score-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := token.New(token.Config{
		Secret:        []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
		ObserverTTL:   cfg.ViewerTokenTTL,
		ControllerTTL: cfg.ControllerTokenTTL,
	})
	if err != nil {
		return err
	}

	rooms := room.NewBroadcaster(log.Named("room"))
	h := hub.NewHub(ctx, lobby.Deps{
		Store:  st,
		Fanout: rooms,
		Tokens: tokens,
		Log:    log.Named("lobby"),
	}, hub.Config{TombstoneTTL: cfg.TombstoneTTL})
	defer h.Shutdown()

	svc := match.NewService(h, rooms, tokens, st, log.Named("match"), match.Config{
		PublicURL: cfg.PublicURL,
		APIPrefix: cfg.APIPrefix,
	})

	handler := httpapi.SetupRoutes(svc, httpapi.Options{
		Prefix: cfg.APIPrefix,
		WS: ws.Handler(svc, ws.Config{
			Outbox:         cfg.ConnOutbox,
			EvictOnExpiry:  cfg.EvictOnTokenExpiry,
			OriginPatterns: cfg.AllowedOrigins,
		}, log.Named("ws")),
		Log: log.Named("http"),
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store
// otherwise. Either way writes go through the retrying wrapper.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	policy := store.RetryPolicy{
		AttemptTimeout: cfg.StoreTimeout,
		MaxRetries:     cfg.StoreMaxRetries,
	}
	if cfg.DatabaseURL == "" {
		if cfg.Production() {
			log.Warn("DATABASE_URL not set, matches will not survive a restart")
		}
		return store.NewRetrying(store.NewMemory(), policy, log.Named("store")), func() {}, nil
	}

	pg, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := pg.Close(); err != nil {
			log.Warn("close postgres", zap.Error(err))
		}
	}
	return store.NewRetrying(pg, policy, log.Named("store")), closeFn, nil
}
