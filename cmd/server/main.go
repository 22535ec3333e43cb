package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"

	"estatehub/internal/config"
	"estatehub/internal/domain"
	"estatehub/internal/httpserver"
	"estatehub/internal/registry"
	"estatehub/internal/security"
	"estatehub/internal/service"
	"estatehub/internal/store/postgres"
	"estatehub/internal/store/sqlite"
	"estatehub/internal/ws"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

type repositories struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		users := sqlite.NewUserRepo(db)
		if err := resetPresence(ctx, users); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:         users,
			conversations: sqlite.NewConversationRepo(db),
			participants:  sqlite.NewParticipantRepo(db),
			messages:      sqlite.NewMessageRepo(db),
		}, nil
	default:
		db, err := postgres.Open(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		users := postgres.NewUserRepo(db)
		if err := resetPresence(ctx, users); err != nil {
			_ = db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:         users,
			conversations: postgres.NewConversationRepo(db),
			participants:  postgres.NewParticipantRepo(db),
			messages:      postgres.NewMessageRepo(db),
		}, nil
	}
}

type onlineResetter interface {
	ClearOnlineStatus(ctx context.Context) (int64, error)
}

// resetPresence clears is_online flags a previous process left behind.
func resetPresence(ctx context.Context, users onlineResetter) error {
	n, err := users.ClearOnlineStatus(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Cleared stale online flags", "users", n)
	}
	return nil
}

func run() (int, error) {
	// Configuration & logger
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, repos, err := openStore(ctx, cfg)
	if err != nil {
		return exitRuntime, fmt.Errorf("database: %w", err)
	}
	defer func() {
		logger.Info("Closing database...")
		_ = db.Close()
	}()

	// Security components
	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	encryptor, err := security.NewEncryptor(cfg.EncryptKey, cfg.LegacyKeys())
	if err != nil {
		return exitConfig, fmt.Errorf("encryptor: %w", err)
	}

	// Registries, built once and shared
	presence := registry.NewPresence(cfg.RegistryShards)
	viewers := registry.NewParticipation(cfg.RegistryShards)
	groups := registry.NewGroups(cfg.RegistryShards)
	stripes := registry.NewStripes(cfg.RegistryShards)
	hub := ws.NewHub(logger)

	// Services
	gate := service.NewGate(tokens, repos.users, repos.participants)
	messages := service.NewMessageService(repos.messages, encryptor, logger, cfg.HistoryPageSize)
	broadcaster := service.NewBroadcaster(repos.participants, viewers, groups, stripes, hub, logger)
	chat := service.NewChatService(gate, messages, broadcaster, presence, viewers, groups, stripes, repos.users, logger)

	router := httpserver.NewRouter(httpserver.Deps{
		Auth:          service.NewAuthService(repos.users, tokens, security.NewPasswordHasher(0)),
		Users:         service.NewUserService(repos.users, chat),
		Conversations: service.NewConversationService(repos.conversations, gate),
		Chat:          chat,
		Gate:          gate,
		Realtime: ws.NewHandler(gate, chat, hub, ws.Options{
			AllowedOrigins:  cfg.CORSOrigins(),
			SendBuffer:      cfg.WSSendBuffer,
			ReadTimeout:     cfg.WSReadTimeout,
			WriteTimeout:    cfg.WSWriteTimeout,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
		}, logger),
		CORSOrigins: cfg.CORSOrigins(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "app", cfg.AppName, "env", cfg.Env, "addr", cfg.HTTPAddr(), "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return exitRuntime, fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not track hijacked websocket connections; the hub waits
	// for their disconnect cleanup so it runs before the database closes.
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("websocket sessions did not drain", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return exitRuntime, err
	}
	return exitOK, nil
}
