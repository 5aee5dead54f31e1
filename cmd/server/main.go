package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtrap/backend/internal/config"
	"mailtrap/backend/internal/health"
	"mailtrap/backend/internal/ingest"
	"mailtrap/backend/internal/logger"
	"mailtrap/backend/internal/monitoring"
	"mailtrap/backend/internal/notify"
	"mailtrap/backend/internal/pool"
	"mailtrap/backend/internal/relay"
	"mailtrap/backend/internal/relay/ses"
	relaysmtp "mailtrap/backend/internal/relay/smtp"
	"mailtrap/backend/internal/service"
	"mailtrap/backend/internal/smtp"
	"mailtrap/backend/internal/storage/filesystem"
	"mailtrap/backend/internal/storage/memory"
	"mailtrap/backend/internal/storage/redis"
	httptransport "mailtrap/backend/internal/transport/http"
	"mailtrap/backend/internal/websocket"
)

const version = "0.3.0"

// main 启动 SMTP 收信与 HTTP 查看界面。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailtrap",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 存储层
	files, err := filesystem.NewStore(cfg.Storage.MailDirectory, log)
	if err != nil {
		return fmt.Errorf("init mail directory: %w", err)
	}
	if err := files.Init(); err != nil {
		return fmt.Errorf("init mail directory: %w", err)
	}
	if cfg.Storage.RemoveOnStart {
		removed, errs := files.RemoveAll()
		for _, e := range errs {
			log.Warn("failed to clean mail directory", zap.Error(e))
		}
		log.Info("mail directory cleaned", zap.Int("removed", removed))
	}
	store := memory.NewStore(files, log)
	if err := store.Init(); err != nil {
		return fmt.Errorf("init message store: %w", err)
	}
	log.Info("mail storage initialized",
		zap.String("path", files.BasePath()),
		zap.String("max_message", humanize.IBytes(uint64(cfg.SMTP.MaxMessageBytes))),
	)

	metrics := monitoring.NewMetrics()

	opts := []service.Option{
		service.WithMetrics(metrics),
		service.WithLogger(log),
	}
	if cfg.Relay.Enabled() {
		transport, err := newRelayTransport(ctx, cfg, log)
		if err != nil {
			return err
		}
		opts = append(opts, service.WithRelayer(relay.NewRelayer(transport, log)))
		log.Info("outgoing relay enabled",
			zap.String("mode", cfg.Relay.Mode),
			zap.String("transport", transport.Name()),
		)
	}
	svc := service.NewMailService(store, files, ingest.NewAssembler(files, ingest.WithLogger(log)), opts...)

	// 后台任务：自动转发、Redis 发布、Maildir 导出
	workers := pool.NewWorkerPool(cfg.Relay.Workers, cfg.Relay.QueueSize, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	svc.Subscribe(wsHub)

	healthChecker := health.NewHealthChecker(files, log)
	healthChecker.AddSMTPCheck(cfg.SMTP.BindAddr)

	if cfg.Redis.Address != "" {
		client, err := redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		svc.Subscribe(notify.NewRedisNotifier(client, cfg.Redis.Channel, workers, log))
		healthChecker.AddPingCheck("redis", client)
	}

	if cfg.Export.MaildirPath != "" {
		exporter, err := notify.NewMaildirExporter(cfg.Export.MaildirPath, svc, workers, log)
		if err != nil {
			return fmt.Errorf("init maildir export: %w", err)
		}
		svc.Subscribe(exporter)
		log.Info("maildir export enabled", zap.String("path", cfg.Export.MaildirPath))
	}

	if cfg.Relay.Enabled() && cfg.Relay.AutoRelay {
		rules, err := relay.ParseRules(cfg.Relay.AutoRules)
		if err != nil {
			return fmt.Errorf("invalid relay.auto_rules: %w", err)
		}
		svc.Subscribe(relay.NewAutoRelay(svc, rules, workers, log))
		log.Info("auto relay enabled", zap.Strings("rules", cfg.Relay.AutoRules))
	}

	// SMTP 服务
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnectionRate, cfg.SMTP.ConnectionBurst)
	backendOpts := []smtp.BackendOption{
		smtp.WithLimiter(limiter),
		smtp.WithMetrics(metrics),
		smtp.WithLogger(log),
	}
	if cfg.SMTP.IncomingUser != "" {
		backendOpts = append(backendOpts, smtp.WithCredentials(cfg.SMTP.IncomingUser, cfg.SMTP.IncomingPass))
	}
	smtpServer := smtp.NewServer(smtp.ServerConfig{
		Addr:            cfg.SMTP.BindAddr,
		Domain:          cfg.SMTP.Domain,
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
	}, smtp.NewBackend(ctx, svc, backendOpts...))

	// HTTP 服务
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		MailService:  svc,
		WebSocketHub: wsHub,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       log,
	})
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	workers.Start(groupCtx)

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		log.Info("starting HTTP server",
			zap.String("address", httpAddr),
			zap.String("base_path", cfg.Server.BasePath),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.Bool("auth_required", cfg.SMTP.IncomingUser != ""),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
		}
		workers.Stop()

		log.Info("servers stopped", zap.Int("messages", store.Count()))
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newRelayTransport 按配置创建外发通道
func newRelayTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (relay.Transport, error) {
	switch cfg.Relay.Mode {
	case "smtp":
		return relaysmtp.New(relaysmtp.Config{
			Host:      cfg.Relay.Host,
			Port:      cfg.Relay.Port,
			Username:  cfg.Relay.User,
			Password:  cfg.Relay.Pass,
			TLS:       cfg.Relay.TLS,
			LocalName: cfg.SMTP.Domain,
		}), nil
	case "ses":
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.Relay.SESRegion,
			AccessKeyID:     cfg.Relay.SESKey,
			SecretAccessKey: cfg.Relay.SESSecret,
			Sender:          cfg.Relay.SESSender,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init ses relay: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported relay.mode %q", cfg.Relay.Mode)
	}
}
