package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/carecoord/internal/api"
	"github.com/charlesng35/carecoord/internal/app"
	"github.com/charlesng35/carecoord/internal/app/sweeps"
	iauth "github.com/charlesng35/carecoord/internal/auth"
	"github.com/charlesng35/carecoord/internal/database"
	"github.com/charlesng35/carecoord/internal/handlers"
	"github.com/charlesng35/carecoord/internal/monitoring"
	"github.com/charlesng35/carecoord/internal/notifications"
	"github.com/charlesng35/carecoord/internal/push"
	"github.com/charlesng35/carecoord/internal/realtime"
	"github.com/charlesng35/carecoord/internal/services"
	"github.com/charlesng35/carecoord/internal/worker"
	"github.com/charlesng35/carecoord/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Hub        *realtime.Hub
	Pool       *worker.Pool
	Dispatcher *notifications.Dispatcher
	Sweeps     *sweeps.Runner
	Router     *gin.Engine

	drainTimeout time.Duration
}

// bootstrapRuntime opens the database and wires the notification pipeline, the sweeps and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{drainTimeout: cfg.Notifications.DrainTimeout}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	users, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	stack.Hub = realtime.NewHub(realtime.NewRegistry(users), realtime.Options{
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		SendBuffer:     cfg.Realtime.SendBuffer,
		PingInterval:   cfg.Realtime.PingInterval,
	})

	provider, err := newPushProvider(ctx, cfg.Push, log)
	if err != nil {
		return nil, err
	}
	pushChannel := push.NewChannel(stack.DB, provider, push.Config{
		SendTimeout:        cfg.Push.SendTimeout,
		Concurrency:        cfg.Push.Concurrency,
		ClearInvalidTokens: cfg.Push.ClearInvalidTokens,
	})

	stack.Pool, err = worker.New(ctx, worker.Config{Name: "notifications", Size: cfg.Notifications.Workers})
	if err != nil {
		return nil, fmt.Errorf("initialise worker pool: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(stack.DB, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	messageSvc, err := services.NewMessageService(stack.DB, stack.Hub, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise message service: %w", err)
	}
	stack.Hub.SetPeers(messageSvc)

	resolver, err := notifications.NewResolver(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise recipient resolver: %w", err)
	}

	dedup, err := notifications.NewDedupGuard(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise dedup guard: %w", err)
	}

	stack.Dispatcher, err = notifications.NewDispatcher(notifications.DispatcherConfig{
		Store:       notificationSvc,
		Resolver:    resolver,
		Emitter:     stack.Hub,
		Push:        pushChannel,
		Pool:        stack.Pool,
		Users:       users,
		PushTimeout: cfg.Notifications.PushTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise dispatcher: %w", err)
	}
	messageSvc.SetNotifier(stack.Dispatcher)

	handlers.RegisterRealtimeEvents(stack.Hub, messageSvc)

	stack.Sweeps, err = buildSweeps(cfg.Sweeps, stack.DB, stack.Dispatcher, dedup, log)
	if err != nil {
		return nil, err
	}
	if err := stack.Sweeps.Start(); err != nil {
		return nil, fmt.Errorf("start sweeps: %w", err)
	}

	health := monitoring.NewManager(
		monitoring.DatabaseCheck(stack.DB, 0),
		monitoring.RealtimeCheck(stack.Hub),
		monitoring.WorkerPoolCheck(stack.Pool),
	)

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		Config:        cfg,
		Tokens:        jwtSvc,
		Hub:           stack.Hub,
		Notifications: notificationSvc,
		Messages:      messageSvc,
		Users:         users,
		Health:        health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildSweeps registers every enabled sweep. A disabled sweeps block yields an idle runner.
func buildSweeps(cfg app.SweepsConfig, db *gorm.DB, notifier sweeps.Notifier, dedup sweeps.DedupChecker, log *zap.Logger) (*sweeps.Runner, error) {
	runner := sweeps.NewRunner(sweeps.WithTickTimeout(cfg.TickTimeout))
	if !cfg.Enabled {
		log.Info("scheduled sweeps disabled")
		return runner, nil
	}

	if cfg.Medication.Enabled {
		sweep, err := sweeps.NewMedicationSweep(db, notifier, cfg.Medication.Lookback)
		if err != nil {
			return nil, fmt.Errorf("initialise medication sweep: %w", err)
		}
		if err := runner.Register(sweep, cfg.Medication.Interval); err != nil {
			return nil, err
		}
	}

	if cfg.Activity.Enabled {
		sweep, err := sweeps.NewActivitySweep(db, notifier, cfg.Activity.Lookback)
		if err != nil {
			return nil, fmt.Errorf("initialise activity sweep: %w", err)
		}
		if err := runner.Register(sweep, cfg.Activity.Interval); err != nil {
			return nil, err
		}
	}

	if cfg.Subscription.Enabled {
		sweep, err := sweeps.NewSubscriptionSweep(db, notifier, dedup, cfg.Subscription.OffsetDays)
		if err != nil {
			return nil, fmt.Errorf("initialise subscription sweep: %w", err)
		}
		if err := runner.Register(sweep, cfg.Subscription.Interval); err != nil {
			return nil, err
		}
	}

	if cfg.AIRisk.Enabled {
		if strings.TrimSpace(cfg.AIRisk.PredictorURL) == "" {
			log.Warn("ai risk sweep enabled without predictor url; skipping")
		} else {
			predictor, err := sweeps.NewHTTPPredictor(cfg.AIRisk.PredictorURL, cfg.AIRisk.PredictorTimeout, nil)
			if err != nil {
				return nil, fmt.Errorf("initialise risk predictor: %w", err)
			}
			sweep, err := sweeps.NewAIRiskSweep(db, notifier, predictor, sweeps.AIRiskConfig{
				RiskThreshold:     cfg.AIRisk.RiskThreshold,
				CriticalThreshold: cfg.AIRisk.CriticalThreshold,
			})
			if err != nil {
				return nil, fmt.Errorf("initialise ai risk sweep: %w", err)
			}
			if err := runner.Register(sweep, cfg.AIRisk.Interval); err != nil {
				return nil, err
			}
		}
	}

	return runner, nil
}

func newPushProvider(ctx context.Context, cfg app.PushConfig, log *zap.Logger) (push.Provider, error) {
	if !cfg.Enabled {
		log.Info("push delivery disabled")
		return push.NopProvider{}, nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "fcm":
		provider, err := push.NewFCMProvider(ctx, push.FCMConfig{
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise fcm provider: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported push provider %q", cfg.Provider)
	}
}

// Shutdown stops the sweeps, drains queued push deliveries and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeps != nil {
		select {
		case <-s.Sweeps.Stop().Done():
		case <-ctx.Done():
			log.Warn("sweeps still running at shutdown", zap.Error(ctx.Err()))
		}
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if s.Pool != nil {
		s.Pool.Shutdown(s.drainTimeout)
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
