package main

import (
	"context"
	"log"
	"time"

	"github.com/haatos/readycheck/internal"
	"github.com/haatos/readycheck/internal/handler"
	"github.com/haatos/readycheck/internal/logging"
	"github.com/haatos/readycheck/internal/service"
	"github.com/haatos/readycheck/internal/settings"
	"github.com/haatos/readycheck/internal/stage"
	"github.com/haatos/readycheck/internal/store"
	"github.com/haatos/readycheck/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	if exists, _ := util.PathExists(internal.DotEnvPath); exists {
		settings.ReadDotenv(internal.DotEnvPath)
	}
	settings.Settings = settings.NewSettings()
	if err := internal.InitializeConfiguration(internal.ConfigPath); err != nil {
		log.Fatal("err initializing configuration: ", err)
	}

	logger, err := logging.NewLogger(settings.Settings.LogLevel, internal.Config.LogFormat)
	if err != nil {
		log.Fatal("err initializing logger: ", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", internal.ServiceName))

	rdb := store.InitDatabase(settings.Settings, true)
	defer rdb.Close()
	rwdb := store.InitDatabase(settings.Settings, false)
	defer rwdb.Close()
	if err := store.RunMigrations(rwdb, settings.Settings.DBDialect); err != nil {
		logger.Fatal("err running migrations", zap.Error(err))
	}

	runStore := store.NewRunSQLStore(rdb, rwdb)
	outboxStore := store.NewOutboxSQLStore(rdb, rwdb)
	uuidGen := service.NewUUIDGen()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runSvc := service.NewRunPipelineService(
		runStore,
		service.Stages{
			ReviewGuard: stage.NewRuleReviewGuard(internal.Config.BlockingSeverity),
			TestEngine:  stage.NewHeuristicTestEngine(),
			DocSync:     stage.NewGitDocSync(settings.Settings.RepositoriesDir),
		},
		service.NewStoreAuditSink(store.NewAuditSQLStore(rdb, rwdb), logger),
		service.NewPrometheusMetrics(registry, logger),
		uuidGen,
		logger.Named("pipeline"),
		time.Duration(internal.Config.StageTimeout),
	)
	outboxSvc := service.NewOutboxService(outboxStore, uuidGen, logger.Named("outbox"), settings.Settings.BaseURL())
	apiKeySvc := service.NewAPIKeyService(store.NewAPIKeySQLStore(rdb, rwdb), uuidGen)
	runGate := service.NewQuotaGate(runStore, internal.Config.RunsPerDayLimit)

	githubClient := service.NewGitHubClient(context.Background(), settings.Settings.GitHubToken)
	dispatcher := service.NewOutboxDispatcher(
		outboxStore,
		service.NewGitHubDeliverer(githubClient),
		logger.Named("dispatcher"),
		internal.Config.OutboxMaxAttempts,
	)
	runQueue := service.NewRunQueue(
		runSvc,
		service.NewGitHubPullRequestFetcher(githubClient),
		outboxSvc,
		logger.Named("queue"),
		internal.Config.QueueSize,
	)

	scheduler, err := service.NewScheduler(logger)
	if err != nil {
		logger.Fatal("err creating scheduler", zap.Error(err))
	}
	if err := dispatcher.ScheduleDispatch(scheduler, time.Duration(internal.Config.OutboxDispatchInterval)); err != nil {
		logger.Fatal("err scheduling outbox dispatch", zap.Error(err))
	}
	if err := dispatcher.ScheduleDailyCleanUp(scheduler, time.Duration(internal.Config.OutboxRetention)); err != nil {
		logger.Fatal("err scheduling outbox clean up", zap.Error(err))
	}
	scheduler.Start()

	go runQueue.Run()

	ak, created, err := apiKeySvc.EnsureAPIKey(context.Background())
	if err != nil {
		logger.Fatal("err ensuring api key", zap.Error(err))
	}
	if created {
		logger.Info("initial api key created", zap.Int64("id", ak.ID), zap.String("value", ak.Value))
	}

	e := setupEcho(logger)
	router := e.Group("")
	handler.SetupSystemRoutes(router, registry)
	handler.SetupRunRoutes(router, runSvc, outboxSvc, runGate, apiKeySvc)
	handler.SetupWebhookRoutes(
		router,
		runSvc,
		runGate,
		runQueue,
		[]byte(settings.Settings.GitHubWebhookSecret),
		logger.Named("webhooks"),
	)
	handler.SetupAPIKeyRoutes(router, apiKeySvc)
	handler.SetupConfigRoutes(router, apiKeySvc, internal.ConfigPath)

	internal.GracefulShutdown(e, settings.Settings.Port, logger)

	runQueue.Shutdown()
	if err := scheduler.Shutdown(); err != nil {
		logger.Error("err shutting down scheduler", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func setupEcho(logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.NewErrorHandler(logger)
	e.Use(
		middleware.Recover(),
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
