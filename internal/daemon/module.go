// Package daemon composes the bridge: config in, fx graph out.
package daemon

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/backend"
	"github.com/matheus3301/wacodex/internal/bridge"
	"github.com/matheus3301/wacodex/internal/bus"
	"github.com/matheus3301/wacodex/internal/config"
	"github.com/matheus3301/wacodex/internal/conn"
	"github.com/matheus3301/wacodex/internal/creds"
	"github.com/matheus3301/wacodex/internal/dedup"
	"github.com/matheus3301/wacodex/internal/httpapi"
	"github.com/matheus3301/wacodex/internal/identity"
	"github.com/matheus3301/wacodex/internal/lock"
	"github.com/matheus3301/wacodex/internal/logging"
	"github.com/matheus3301/wacodex/internal/status"
	"github.com/matheus3301/wacodex/internal/store"
	"github.com/matheus3301/wacodex/internal/transport"
	"github.com/matheus3301/wacodex/internal/transport/meow"
	"github.com/matheus3301/wacodex/internal/transport/mock"
)

// Module returns the fx module for the bridge daemon, composing all
// providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCreds,
			provideResolver,
			provideLedger,
			providePolicy,
			provideNotifier,
			provideInbound,
			provideDialer,
			provideManager,
			provideOutbound,
			provideServer,
			NewJournal,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring auth dir lock", zap.String("dir", cfg.AuthDir))
	l, err := lock.Acquire(cfg.AuthDir)
	if err != nil {
		return nil, err
	}
	logger.Info("auth dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DatabasePath)
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
	logger.Info("store initialized", zap.String("path", cfg.DatabasePath))
	return db, nil
}

func provideCreds(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*creds.Store, error) {
	return creds.NewStore(cfg.AuthDir, b, logger)
}

func provideResolver() *identity.Resolver {
	return identity.NewResolver()
}

func provideLedger() *dedup.Ledger {
	return dedup.New()
}

func providePolicy(cfg *config.Config) *bridge.Policy {
	return bridge.NewPolicy(cfg.AccessMode, cfg.ApprovedNumbers)
}

func provideNotifier(cfg *config.Config) *backend.Notifier {
	return backend.NewNotifier(cfg.AgentInboundURL, cfg.SharedSecret)
}

func provideInbound(
	resolver *identity.Resolver,
	ledger *dedup.Ledger,
	policy *bridge.Policy,
	notifier *backend.Notifier,
	b *bus.Bus,
	logger *zap.Logger,
) *bridge.Inbound {
	return bridge.NewInbound(resolver, ledger, policy, notifier, b, logger)
}

func provideDialer(cfg *config.Config, logger *zap.Logger) transport.Dialer {
	if cfg.MockMode {
		logger.Warn("mock mode enabled, sends are no-ops")
		return mock.NewDialer(logger)
	}
	return meow.NewDialer(cfg.AuthDir, logger)
}

func provideManager(
	dialer transport.Dialer,
	credStore *creds.Store,
	machine *status.Machine,
	inbound *bridge.Inbound,
	b *bus.Bus,
	logger *zap.Logger,
) *conn.Manager {
	return conn.NewManager(dialer, credStore, machine, inbound, b, logger)
}

func provideOutbound(mgr *conn.Manager, ledger *dedup.Ledger, b *bus.Bus, logger *zap.Logger) *bridge.Outbound {
	return bridge.NewOutbound(mgr, ledger, b, logger)
}

func provideServer(
	outbound *bridge.Outbound,
	mgr *conn.Manager,
	db *store.DB,
	cfg *config.Config,
	logger *zap.Logger,
) *httpapi.Server {
	return httpapi.NewServer(outbound, mgr, db, cfg.SharedSecret, cfg.MockMode, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *httpapi.Server,
	mgr *conn.Manager,
	credStore *creds.Store,
	db *store.DB,
	lk *lock.Lock,
	journal *Journal,
	logger *zap.Logger,
) {
	serveCtx, stopServe := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			journal.Start()

			go func() {
				err := srv.Listen(serveCtx, cfg.ListenAddr)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("control API error", zap.Error(err))
				}
			}()
			logger.Info("control API listening", zap.String("addr", cfg.ListenAddr))

			mgr.Start("startup")
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.Stop()
			stopServe()
			credStore.Close()
			journal.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
