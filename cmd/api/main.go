package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/assignment-service/internal/api/http"
	"github.com/spec-kit/assignment-service/internal/api/http/handlers"
	"github.com/spec-kit/assignment-service/internal/auth"
	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/events"
	"github.com/spec-kit/assignment-service/internal/observability"
	"github.com/spec-kit/assignment-service/internal/persistence"
	"github.com/spec-kit/assignment-service/internal/repository"
	"github.com/spec-kit/assignment-service/internal/rules"
	"github.com/spec-kit/assignment-service/internal/scoring"
	"github.com/spec-kit/assignment-service/internal/service"
	"github.com/spec-kit/assignment-service/internal/sla"
	"github.com/spec-kit/assignment-service/internal/worker"
	"github.com/spec-kit/assignment-service/internal/workload"
)

const rebalanceLockKey = "assignment:rebalance:lock"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	agentRepo := repository.NewAgentRepository(pool)
	ruleRepo := repository.NewRuleRepository(pool)
	policyRepo := repository.NewSLAPolicyRepository(pool)
	decisionRepo := repository.NewDecisionRepository(pool)
	performanceRepo := repository.NewPerformanceRepository(pool)
	assignmentStore := repository.NewAssignmentStore(pool)

	dispatcher := events.NewInMemoryDispatcher(logger)
	directory := service.NewDirectoryReader(agentRepo, cfg.Assignment.ProviderTimeout, logger, metrics)
	aggregator := workload.NewAggregator(ticketRepo, nil)

	calculator, err := sla.NewCalculator(cfg.SLA, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build sla calculator", zap.Error(err))
	}
	if err := calculator.Refresh(ctx, policyRepo); err != nil {
		logger.Warn("sla policy table not loaded, using defaults", zap.Error(err))
	}

	ruleCache := rules.NewCache(ruleRepo, cfg.Assignment.RuleCacheTTL, logger)
	invalidator := rules.NewInvalidator(redis.Client, cfg.Redis.RulesChannel, ruleCache, logger)
	ruleEngine, err := rules.NewEngine(cfg.Assignment.RulesTimezone, logger, metrics)
	if err != nil {
		logger.Fatal("failed to build rule engine", zap.Error(err))
	}
	scorer, err := scoring.NewEngine(cfg.Assignment)
	if err != nil {
		logger.Fatal("failed to build scoring engine", zap.Error(err))
	}

	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:      ticketRepo,
		Store:           assignmentStore,
		DecisionRepo:    decisionRepo,
		PerformanceRepo: performanceRepo,
		Directory:       directory,
		Workload:        aggregator,
		Rules:           ruleCache,
		RuleEngine:      ruleEngine,
		Scorer:          scorer,
		SLA:             calculator,
		Dispatcher:      dispatcher,
		Logger:          logger,
		Metrics:         metrics,
		Config:          cfg.Assignment,
	})
	rebalanceService := service.NewRebalanceService(service.RebalanceDependencies{
		Mover:      assignmentService,
		Directory:  directory,
		TicketRepo: ticketRepo,
		Workload:   aggregator,
		Locker:     persistence.NewRedisLock(redis, rebalanceLockKey, cfg.Rebalance.LockTTL),
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg.Rebalance,
		Assignment: cfg.Assignment,
	})
	ruleService := service.NewRuleService(ruleRepo, invalidator, logger)
	slaService := service.NewSLAService(service.SLADependencies{
		PolicyRepo: policyRepo,
		TicketRepo: ticketRepo,
		Calculator: calculator,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg.SLA,
	})
	notificationService := service.NewNotificationService(dispatcher, service.NewRedisPublisher(redis.Client), logger, cfg.Notification)

	worker.StartNotificationWorker(notificationService)
	worker.StartAssignmentWorker(assignmentService)

	background, bgCtx := errgroup.WithContext(ctx)
	background.Go(func() error {
		invalidator.Listen(bgCtx)
		return nil
	})
	background.Go(func() error {
		events.NewRedisBridge(redis.Client, cfg.Redis.EventsChannel, dispatcher, logger).Run(bgCtx)
		return nil
	})
	background.Go(func() error {
		worker.RunSLAWatcher(bgCtx, slaService, cfg.SLA.WatchInterval, logger)
		return nil
	})
	background.Go(func() error {
		worker.RunRebalanceScheduler(bgCtx, rebalanceService, cfg.Rebalance.ScheduleInterval, logger)
		return nil
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Rules:          handlers.NewRulesHandler(ruleService),
		SLA:            handlers.NewSLAHandler(slaService),
		Assignments:    handlers.NewAssignmentHandler(assignmentService),
		Rebalance:      handlers.NewRebalanceHandler(rebalanceService),
		Events:         handlers.NewEventsHandler(dispatcher),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, 0).WithIssuer(cfg.Auth.Issuer)),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	_ = background.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
