// Command server runs the messaging backend: identity, chat, notifications,
// faucet requests and the company/project/time-keeping record services over a
// single websocket endpoint.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/totem-tech/messaging/internal/config"
	"github.com/totem-tech/messaging/internal/faucet"
	"github.com/totem-tech/messaging/internal/logging"
	"github.com/totem-tech/messaging/internal/models"
	"github.com/totem-tech/messaging/internal/notification"
	"github.com/totem-tech/messaging/internal/records"
	"github.com/totem-tech/messaging/internal/relay"
	"github.com/totem-tech/messaging/internal/server"
	"github.com/totem-tech/messaging/internal/session"
	"github.com/totem-tech/messaging/internal/storage"
	"github.com/totem-tech/messaging/internal/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Sync()

	keys, err := faucet.DeriveKeys(cfg.Keys.KeyData, cfg.Keys.ServerName)
	if err != nil {
		return fmt.Errorf("key derivation: %w", err)
	}
	logger.Info("key material loaded",
		zap.String("serverName", cfg.Keys.ServerName),
		zap.String("address", keys.Address))
	if cfg.Debug {
		logger.Debug("derived public keys",
			zap.String("boxPublicKey", hex.EncodeToString(keys.BoxPublic[:])),
			zap.String("signPublicKey", hex.EncodeToString(keys.SignPublic[:])))
	}

	if cfg.Storage.Backend == config.BackendPostgres {
		if err := storage.RunMigrations(postgresURL(&cfg.Storage.Postgres), "migrations"); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	provider, err := storage.NewProvider(&cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer provider.Close()

	open := func(name string) (storage.Store, error) {
		return provider.Open(name)
	}
	usersStore, err := open("users")
	if err != nil {
		return err
	}
	projectsStore, err := open("projects")
	if err != nil {
		return err
	}
	companiesStore, err := open("companies")
	if err != nil {
		return err
	}
	timeKeepingStore, err := open("time-keeping")
	if err != nil {
		return err
	}
	notificationsStore, err := open("notifications")
	if err != nil {
		return err
	}
	pendingStore, err := open("notification-receivers")
	if err != nil {
		return err
	}
	faucetStore, err := open("faucet-requests")
	if err != nil {
		return err
	}

	sessions := session.NewRegistry()
	hub := server.NewHub(sessions, logger)

	directory := user.NewDirectory(storage.NewCollection[models.User](usersStore), sessions, logger)
	chat := relay.NewRelay(sessions, hub, logger)
	projects := records.NewProjectService(storage.NewCollection[models.Project](projectsStore), logger)
	companies := records.NewCompanyService(storage.NewCollection[models.Company](companiesStore), logger)
	timeKeeping := records.NewTimeKeepingService(storage.NewCollection[models.TimeKeepingEntry](timeKeepingStore), logger)

	center := notification.NewCenter(
		notification.DefaultRegistry(projects),
		storage.NewCollection[models.Notification](notificationsStore),
		storage.NewCollection[models.PendingIndex](pendingStore),
		sessions, hub, logger,
	)
	directory.OnLogin(center.DeliverPending)

	faucetClient := faucet.NewClient(cfg.Faucet.ServerURL, logger)
	defer faucetClient.Close()
	gate := faucet.NewGate(
		cfg.Faucet, keys, cfg.Keys.ExternalName, cfg.Keys.ExternalPublicKey,
		storage.NewCollection[models.FaucetHistory](faucetStore),
		faucetClient, logger,
	)

	srv := server.New(cfg.Server, cfg.RateLimit, server.Services{
		Directory:   directory,
		Relay:       chat,
		Notifier:    center,
		Faucet:      gate,
		Companies:   companies,
		Projects:    projects,
		TimeKeeping: timeKeeping,
	}, sessions, hub, provider, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// postgresURL builds the migration connection URL.
func postgresURL(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database)
}
