package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/iqsession/internal/blob/s3"
	"github.com/alanyoungcy/iqsession/internal/cache/redis"
	"github.com/alanyoungcy/iqsession/internal/config"
	"github.com/alanyoungcy/iqsession/internal/crypto"
	"github.com/alanyoungcy/iqsession/internal/domain"
	"github.com/alanyoungcy/iqsession/internal/notify"
	"github.com/alanyoungcy/iqsession/internal/platform/iqoption"
	"github.com/alanyoungcy/iqsession/internal/server/handler"
	"github.com/alanyoungcy/iqsession/internal/service"
	"github.com/alanyoungcy/iqsession/internal/store/memory"
	"github.com/alanyoungcy/iqsession/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. Optional backends are
// nil when disabled in the configuration. It is constructed by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	// Session
	Stores   iqoption.Stores
	Channel  *iqoption.SessionChannel
	Commands *iqoption.Commands
	Router   *iqoption.Router
	Session  *service.SessionManager
	Trading  *service.TradingService
	Journal  *service.PositionJournal

	// Backends
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	// Stores and caches
	AuditStore  domain.AuditStore
	Snapshots   domain.PositionSnapshotStore
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	TickCache   domain.TickCache

	// Background workers
	Mirror  *service.TickMirror
	Archive *service.ArchiveService

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all dependencies from cfg and returns them with a cleanup
// function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	password, err := crypto.LoadPassword(crypto.PasswordSource{
		Plain:         cfg.Broker.Password,
		EncryptedPath: cfg.Broker.EncryptedPasswordPath,
		Key:           cfg.Broker.PasswordKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: broker password: %w", err)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Postgres = pgClient
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Snapshots = postgres.NewSnapshotStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		tickCache := redis.NewTickCache(redisClient, cfg.Redis.TickTTL.Duration)
		deps.TickCache = tickCache
		deps.Mirror = service.NewTickMirror(tickCache, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Session ---
	auth, err := iqoption.NewAuthClient(iqoption.APIURL(cfg.Broker.Host), cfg.Broker.ClientPlatformID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: auth client: %w", err)
	}

	deps.Stores = iqoption.Stores{
		Positions: memory.NewPositionStore(),
		Catalog:   memory.NewInstrumentCatalog(),
		Ticks:     memory.NewMarketDataCache(),
		Clock:     &memory.ServerClock{},
	}
	deps.Channel = iqoption.NewSessionChannel(iqoption.SocketURL(cfg.Broker.Host), cfg.Session.WriteWait.Duration, logger)
	deps.Commands = iqoption.NewCommands(deps.Channel)
	deps.Session = service.NewSessionManager(auth, deps.Channel, deps.Commands, deps.LockManager, service.SessionOptions{
		Username:         cfg.Broker.Username,
		Password:         password,
		Account:          domain.AccountType(strings.ToLower(cfg.Broker.Account)),
		InstrumentTypes:  instrumentTypes(cfg.Session.InstrumentTypes),
		TopAssetTypes:    instrumentTypes(cfg.Session.TopAssetTypes),
		HandshakeTimeout: cfg.Session.HandshakeTimeout.Duration,
		LockTTL:          cfg.Session.LockTTL.Duration,
	}, logger)
	deps.Router = iqoption.NewRouter(deps.Stores, deps.Commands, deps.Channel, deps.Session, logger)
	deps.Trading = service.NewTradingService(deps.Stores, deps.Commands, deps.Session, service.TradingOptions{
		ClientPlatformID: cfg.Broker.ClientPlatformID,
		StopLossThrottle: cfg.Session.StopLossThrottle.Duration,
		Mode:             cfg.Mode,
	}, logger)

	deps.Journal = service.NewPositionJournal(deps.Stores.Positions, service.JournalSinks{
		Audit:     deps.AuditStore,
		Snapshots: deps.Snapshots,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
	}, logger)
	deps.Stores.Positions.OnTransition(deps.Journal.Record)
	if deps.Mirror != nil {
		deps.Router.OnTick(deps.Mirror.Record)
	}

	notifier := deps.Notifier
	deps.Channel.OnError(func(err error) {
		if !notifier.Enabled(notify.EventError) {
			return
		}
		go func() {
			_ = notifier.Notify(context.Background(), notify.EventError, "Session channel closed", err.Error())
		}()
	})

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		archiver := s3blob.NewPositionArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix, deps.AuditStore)
		deps.Archive = service.NewArchiveService(deps.Stores.Positions, archiver, s3blob.NewLister(s3Client), logger)
	}

	return deps, cleanup, nil
}

// HealthChecks returns a probe per enabled backend plus the session itself.
func (d *Dependencies) HealthChecks() map[string]handler.Check {
	checks := map[string]handler.Check{
		"session": func(context.Context) error {
			if !d.Session.Connected() {
				return domain.ErrNotConnected
			}
			return nil
		},
	}
	if d.Postgres != nil {
		checks["postgres"] = d.Postgres.Ping
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis.Ping
	}
	if d.S3 != nil {
		checks["s3"] = d.S3.Health
	}
	return checks
}

func instrumentTypes(names []string) []domain.InstrumentType {
	out := make([]domain.InstrumentType, 0, len(names))
	for _, n := range names {
		out = append(out, domain.InstrumentType(n))
	}
	return out
}
