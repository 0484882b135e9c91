package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mrocha/chatline/internal/backend"
	"github.com/mrocha/chatline/internal/bus"
	"github.com/mrocha/chatline/internal/chat"
	"github.com/mrocha/chatline/internal/config"
	"github.com/mrocha/chatline/internal/identity"
	"github.com/mrocha/chatline/internal/logging"
	"github.com/mrocha/chatline/internal/media"
	"github.com/mrocha/chatline/internal/notify"
	"github.com/mrocha/chatline/internal/outbox"
	"github.com/mrocha/chatline/internal/pushgw"
	"github.com/mrocha/chatline/internal/session"
	"github.com/mrocha/chatline/internal/store"
	"github.com/mrocha/chatline/internal/username"
)

// Params holds the resolved profile and configuration passed to the fx
// module.
type Params struct {
	Profile string
	Config  *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideIdentity,
			provideGateway,
			provideStager,
			provideUploader,
			provideQueue,
			provideRunner,
			providePendingStore,
			provideNotifier,
			provideBridge,
			providePushServer,
			provideUsernameMachine,
			provideChatMachine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*session.Lock, error) {
	if err := session.EnsureDirs(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := session.AcquireLock(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, _ *session.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
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

func provideIdentity(db *store.DB, b *bus.Bus, logger *zap.Logger) *identity.Store {
	return identity.NewStore(db, b, logger)
}

func provideGateway(p Params, logger *zap.Logger) (backend.Gateway, error) {
	return backend.NewRedisGateway(p.Config.RedisAddr, p.Config.RedisPrefix, logger)
}

func provideStager(p Params, logger *zap.Logger) *media.Stager {
	return media.NewStager(session.MediaDir(p.Profile), logger)
}

func provideUploader(p Params, logger *zap.Logger) (media.Uploader, error) {
	if p.Config.MediaBucket == "" {
		logger.Warn("no media bucket configured, uploads disabled")
		return media.DisabledUploader{}, nil
	}
	return media.NewGCSUploader(context.Background(), p.Config.MediaBucket, p.Config.MediaCDNDomain, logger)
}

func provideQueue(db *store.DB, gw backend.Gateway, stager *media.Stager, id *identity.Store, b *bus.Bus, logger *zap.Logger) *outbox.Queue {
	return outbox.NewQueue(db, gw, stager, id, b, logger)
}

func provideRunner(db *store.DB, gw backend.Gateway, up media.Uploader, b *bus.Bus, logger *zap.Logger) *outbox.Runner {
	return outbox.NewRunner(db, gw, up, b, logger)
}

func providePendingStore() *notify.PendingStore {
	return notify.NewPendingStore()
}

func provideNotifier(logger *zap.Logger) notify.Notifier {
	return notify.NewLogNotifier(logger)
}

func provideBridge(gw backend.Gateway, id *identity.Store, q *outbox.Queue, ps *notify.PendingStore, n notify.Notifier, b *bus.Bus, logger *zap.Logger) *notify.Bridge {
	return notify.NewBridge(gw, id, q, ps, n, b, logger)
}

func providePushServer(p Params, bridge *notify.Bridge, logger *zap.Logger) *pushgw.Server {
	return pushgw.New(p.Config.PushListenAddr, bridge, logger)
}

func provideUsernameMachine(id *identity.Store, logger *zap.Logger) *username.Machine {
	return username.NewMachine(id, logger)
}

func provideChatMachine(gw backend.Gateway, q *outbox.Queue, id *identity.Store, b *bus.Bus, logger *zap.Logger) *chat.Machine {
	return chat.NewMachine(gw, q, id, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *session.Lock, db *store.DB, gw backend.Gateway,
	runner *outbox.Runner, bridge *notify.Bridge, push *pushgw.Server,
	um *username.Machine, cm *chat.Machine, logger *zap.Logger) {

	machineCtx, cancelMachines := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := runner.Start(); err != nil {
				return err
			}
			if err := bridge.Start(); err != nil {
				return err
			}
			push.Start()
			if err := um.Start(machineCtx); err != nil {
				return err
			}
			if err := cm.Start(machineCtx); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelMachines()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := push.Stop(shutdownCtx); err != nil {
				logger.Warn("push intake shutdown", zap.Error(err))
			}
			bridge.Stop()
			runner.Stop()
			if err := gw.Close(); err != nil {
				logger.Warn("closing backend", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("releasing profile lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
