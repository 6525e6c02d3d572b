// Command agent-runtime wires up the whole stateful execution
// service: configuration, logging, the selected MQ backend, the agent
// configuration store, the instance registry, the task manager and
// its janitor, and the HTTP surface — then serves until a shutdown
// signal arrives.
//
// Grounded on cmd/agent-manager/main.go's numbered-step wiring style.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/agentconfig"
	"github.com/agentforge/runtime/internal/common/config"
	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/eventbus"
	"github.com/agentforge/runtime/internal/execctx"
	"github.com/agentforge/runtime/internal/execservice"
	"github.com/agentforge/runtime/internal/httpapi"
	"github.com/agentforge/runtime/internal/mq"
	"github.com/agentforge/runtime/internal/mq/amqpmq"
	"github.com/agentforge/runtime/internal/mq/memorymq"
	"github.com/agentforge/runtime/internal/mq/redismq"
	"github.com/agentforge/runtime/internal/registry"
	"github.com/agentforge/runtime/internal/taskmanager"
	"github.com/agentforge/runtime/internal/templates/docker"
	"github.com/agentforge/runtime/internal/templates/echo"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)
	log.Info("starting agent runtime")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Select the MQ backend.
	queue, err := newQueue(ctx, cfg.MQ, cfg.Redis)
	if err != nil {
		log.Fatal("failed to initialize message queue backend", zap.Error(err))
	}
	log.Info("message queue backend ready", zap.String("backend", cfg.MQ.Backend))

	// 4. Select the agent-configuration store.
	configStore, err := newAgentConfigStore(ctx, cfg.AgentConfig, cfg.Postgres)
	if err != nil {
		log.Fatal("failed to initialize agent configuration store", zap.Error(err))
	}
	defer configStore.Close()

	// 5. Build the template catalog.
	catalog := registry.NewTemplateCatalog()
	catalog.Register("echo", "v1", echo.NewFactory())
	catalog.Register("docker", "v1", docker.NewFactory(cfg.Docker, log))

	// 6. Build the instance registry and execution context store.
	reg := registry.New(configStore, catalog)
	ctxStore := execctx.NewStore(cfg.TaskManager.MaxHistory)

	// 7. Select the lifecycle event bus.
	bus, err := newEventBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer bus.Close()

	// 8. Start the task manager and its janitor.
	tmCfg := taskmanager.Config{
		Workers:          cfg.TaskManager.Workers,
		DefaultTimeout:   cfg.TaskManager.TaskDefaultTimeout(),
		IdleInstanceTTL:  cfg.TaskManager.InstanceTimeout(),
		JanitorInterval:  cfg.TaskManager.CleanupInterval(),
		PublishRetryBase: 100 * time.Millisecond,
		PublishRetryCap:  10 * time.Second,
		MaxQueueSize:     cfg.MQ.MaxQueueSize,
		MaxHistory:       cfg.TaskManager.MaxHistory,
	}
	manager := taskmanager.New(tmCfg, queue, reg, ctxStore, bus, log)
	if err := manager.Start(ctx); err != nil {
		log.Fatal("failed to start task manager", zap.Error(err))
	}
	defer manager.Stop()
	log.Info("task manager started", zap.Int("workers", tmCfg.Workers))

	// 9. Build the execution service facade.
	svc := execservice.New(manager, tmCfg.Workers, cfg.MQ.Backend)

	// 10. Build and start the HTTP server.
	router := httpapi.NewRouter(svc, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 11. Wait for a shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	// 12. Graceful shutdown: stop accepting HTTP, drain the task
	// manager, then tear down collaborators (deferred above).
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("agent runtime stopped")
}

func newQueue(ctx context.Context, cfg config.MQConfig, redisCfg config.RedisConfig) (mq.Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return memorymq.New(), nil
	case "redis":
		return redismq.New(ctx, redismq.Config{
			Addr:          redisCfg.Addr,
			Password:      redisCfg.Password,
			DB:            redisCfg.DB,
			ConsumerGroup: redisCfg.Group,
		})
	case "amqp":
		return amqpmq.New(), nil
	default:
		return nil, fmt.Errorf("agent-runtime: unknown MQ backend %q", cfg.Backend)
	}
}

func newAgentConfigStore(ctx context.Context, cfg config.AgentConfigStore, pgCfg config.PostgresConfig) (agentconfig.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return agentconfig.NewMemoryStore(), nil
	case "sqlite":
		return agentconfig.NewSQLiteStore(cfg.Path)
	case "postgres":
		return agentconfig.NewPostgresStore(ctx, pgCfg.DSN())
	default:
		return nil, fmt.Errorf("agent-runtime: unknown agent configuration driver %q", cfg.Driver)
	}
}

func newEventBus(cfg config.NATSConfig, log *logger.Logger) (eventbus.Bus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(), nil
	}
	return eventbus.NewNATSBus(cfg, log)
}
