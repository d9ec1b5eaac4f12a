package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"stopguard/internal/api"
	"stopguard/internal/config"
	"stopguard/internal/exchange"
	"stopguard/internal/repository"
	"stopguard/internal/service"
	"stopguard/internal/stoploss"
	"stopguard/internal/websocket"
	"stopguard/pkg/taskgroup"
	"stopguard/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal("service failed", utils.Err(err))
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	ruleRepo := repository.NewStopLossRepository(db)
	if err := ruleRepo.EnsureSchema(); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Клиент биржи и синхронизация часов. Биржа отклоняет подписанные
	// запросы при рассинхронизации, но старт без синхронизации допустим:
	// recvWindow покрывает небольшой дрейф.
	client := exchange.NewClient(cfg.Binance, log)
	syncCtx, cancelSync := context.WithTimeout(context.Background(), cfg.Binance.RequestTimeout)
	if err := client.SyncTime(syncCtx); err != nil {
		log.Warn("server time sync failed, using local clock", utils.Err(err))
	}
	cancelSync()

	cache := exchange.NewStateCache()

	// Журнал уведомлений и WebSocket hub
	notifications := service.NewNotificationService(0, log)
	hub := websocket.NewHub(log)
	notifications.SetWebSocketHub(hub)

	stream := exchange.NewUserStream(client, cache, notifications, cfg.Stream, cfg.Binance.WSBaseURL, log)
	engine := stoploss.NewEngine(client, cache, ruleRepo, notifications, cfg.Engine, log)
	// Границы свечей сверяются с часами биржи, не с локальными
	engine.SetClock(client.Now)

	stopLossService := service.NewStopLossService(engine, ruleRepo, cache, stream, log)

	router := api.SetupRoutes(&api.Dependencies{
		StopLossService:     stopLossService,
		NotificationService: notifications,
		Hub:                 hub,
		Auth:                cfg.Auth,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group := taskgroup.New(context.Background())

	group.Go("ws_hub", func(ctx context.Context) error {
		go hub.Run()
		<-ctx.Done()
		hub.Stop()
		return nil
	})

	group.Go("user_stream", func(ctx context.Context) error {
		return stream.Run(ctx)
	})

	group.Go("engine", func(ctx context.Context) error {
		return engine.Run(ctx)
	})

	group.Go("http_server", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			log.Info("http server listening", utils.String("addr", server.Addr))
			if cfg.Server.UseHTTPS {
				errCh <- server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				errCh <- server.ListenAndServe()
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	})

	// Ожидание сигнала остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", utils.String("signal", sig.String()))
	case <-group.Context().Done():
		log.Warn("task failed, shutting down")
	}

	group.Stop()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info("service stopped")
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
