// Package daemon composes the smartprod process: one locked profile, a
// SQLite cache, the platform adapter and the local HTTP API.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/api"
	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/config"
	"github.com/AbuAli85/smartprohub-sub000/internal/lock"
	"github.com/AbuAli85/smartprohub-sub000/internal/logging"
	"github.com/AbuAli85/smartprohub-sub000/internal/marketplace"
	"github.com/AbuAli85/smartprohub-sub000/internal/messenger"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/outbox"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/session"
	"github.com/AbuAli85/smartprohub-sub000/internal/status"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
	intsync "github.com/AbuAli85/smartprohub-sub000/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideNotifier,
			provideClient,
			provideStorage,
			provideFeed,
			provideMessenger,
			provideMarketplace,
			provideSyncEngine,
			provideSender,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideNotifier(b *bus.Bus, logger *zap.Logger) *notify.Notifier {
	return notify.New(b, logger)
}

func provideClient(p Params, logger *zap.Logger) *platform.Client {
	return platform.NewClient(p.Config.Platform, logger)
}

func provideStorage(p Params) (*platform.Storage, error) {
	return platform.NewStorage(p.Config.Storage)
}

func provideFeed(p Params, b *bus.Bus, logger *zap.Logger, client *platform.Client) (*platform.Feed, error) {
	return platform.NewFeed(p.Config.Platform, b, logger, client.Token)
}

func provideMessenger(db *store.DB, client *platform.Client, storage *platform.Storage,
	n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *messenger.Service {
	return messenger.New(db, client, storage, n, b, logger)
}

func provideMarketplace(db *store.DB, client *platform.Client, logger *zap.Logger) *marketplace.Service {
	return marketplace.New(db, client, logger)
}

// refresher runs the conversation and marketplace refreshes as one unit, so
// a feed reconnect heals both surfaces.
type refresher struct {
	messenger   *messenger.Service
	marketplace *marketplace.Service
}

func (r *refresher) Refresh(ctx context.Context) error {
	if err := r.messenger.Refresh(ctx); err != nil {
		return err
	}
	return r.marketplace.Refresh(ctx)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, machine *status.Machine, n *notify.Notifier,
	logger *zap.Logger, msg *messenger.Service, mkt *marketplace.Service, client *platform.Client) *intsync.Engine {
	return intsync.NewEngine(db, b, machine, n, logger,
		msg, &refresher{messenger: msg, marketplace: mkt}, client, client.UserID)
}

func provideSender(db *store.DB, client *platform.Client, n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, n, b, logger)
}

func provideHandlers(p Params, machine *status.Machine, client *platform.Client,
	msg *messenger.Service, mkt *marketplace.Service, n *notify.Notifier,
	b *bus.Bus, logger *zap.Logger) *api.Handlers {
	return api.NewHandlers(p.ProfileName, machine, client, msg, mkt, n, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock,
	client *platform.Client, feed *platform.Feed, engine *intsync.Engine,
	sender *outbox.Sender, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Engine first: it must be subscribed before feed events flow.
			engine.Start(context.Background())

			router := platform.NewRouter(b, logger)
			feed.SetHandler(router.Route)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())

			creds := p.Config.Platform
			if creds.Email != "" && creds.Password != "" {
				_ = machine.Transition(status.Connecting)
				go func() {
					if _, err := client.SignIn(context.Background(), creds.Email, creds.Password); err != nil {
						logger.Error("stored credential sign-in failed", zap.Error(err))
						_ = machine.Transition(status.AuthRequired)
						return
					}
					feed.Start(context.Background())
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				// Feed starts anyway; dials fail cheaply until login
				// provides a token.
				feed.Start(context.Background())
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			feed.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
