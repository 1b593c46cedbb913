// Package app はサブコマンドの解析と、各コンポーネントのワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/sailbook/internal/booking"
	"github.com/hitoshi/sailbook/internal/clock"
	"github.com/hitoshi/sailbook/internal/config"
	"github.com/hitoshi/sailbook/internal/database"
	"github.com/hitoshi/sailbook/internal/handler"
	"github.com/hitoshi/sailbook/internal/logger"
	"github.com/hitoshi/sailbook/internal/metrics"
	"github.com/hitoshi/sailbook/internal/middleware"
	"github.com/hitoshi/sailbook/internal/notify"
	"github.com/hitoshi/sailbook/internal/repository"
	"github.com/hitoshi/sailbook/internal/security"
	"github.com/hitoshi/sailbook/internal/telemetry"
)

// Version はビルド時に -ldflags で埋め込まれる。
var Version = "dev"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで作り直す
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}
	log = logger.SetupDefault(w, level)

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("version", Version),
		slog.String("store_driver", cfg.StoreDriver),
	)

	switch cmd {
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, log, rest)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return Serve(ctx, cfg, log, nil)
	}
}

// Serve はAPIサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンを行う。
// ready が指定された場合は待ち受け開始後に実際のアドレスを渡して呼び出す。
func Serve(ctx context.Context, cfg *config.Config, log *slog.Logger, ready func(addr string)) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "sailbook",
		ServiceVersion: Version,
	}, log)
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		c.close(context.Background(), log)
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := &http.Server{
		Handler:           c.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready(ln.Addr().String())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("server listen error: %w", err)
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	c.close(shutdownCtx, log)
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	if runErr == nil {
		log.Info("API server stopped gracefully")
	}
	return runErr
}

// components はServeが組み立てる実行時の依存関係。
type components struct {
	handler     http.Handler
	dispatcher  *notify.Dispatcher
	rateLimiter *middleware.RateLimiter
	closers     []func() error
}

// build は設定に従ってストア・通知・サービス・ルーターを組み立てる。
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	c := &components{}

	// 1. ストア
	repo, err := openStore(ctx, cfg, log, c)
	if err != nil {
		c.close(context.Background(), log)
		return nil, err
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. 通知
	sinks, err := buildSinks(cfg, log, c)
	if err != nil {
		c.close(context.Background(), log)
		return nil, err
	}
	c.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize: cfg.NotifyQueueSize,
		Workers:   cfg.NotifyWorkers,
		Timeout:   cfg.NotifyTimeout,
		Logger:    log,
		Metrics:   collector,
	}, sinks...)
	c.dispatcher.Start(context.WithoutCancel(ctx))

	// 4. ドメインサービス
	svc := booking.NewService(repo, booking.Config{
		Clock:     clock.NewSystem(),
		Location:  cfg.Location,
		MaxNights: cfg.MaxNights,
		Publisher: c.dispatcher,
		Metrics:   collector,
		Sanitizer: security.NewNoteSanitizer(),
		Logger:    log,
	})

	// 5. ルーター
	c.rateLimiter = middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitBooking))
	c.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		HTTPMetrics:        collector,
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		RateLimiter:        c.rateLimiter,
		ReservationService: svc,
		CalendarService:    svc,
		HealthChecker:      repo,
		MetricsHandler:     metrics.Handler(reg),
	})
	return c, nil
}

// openStore は STORE_DRIVER に応じたリポジトリを返す。
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger, c *components) (repository.ReservationRepository, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store; reservations are lost on restart")
		return repository.NewMemoryReservationRepo(), nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c.closers = append(c.closers, db.Close)

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))
	return repository.NewPostgresReservationRepo(db), nil
}

// buildSinks は設定された通知先を組み立てる。ログ出力は常に有効。
func buildSinks(cfg *config.Config, log *slog.Logger, c *components) ([]notify.Notifier, error) {
	sinks := []notify.Notifier{notify.NewLogNotifier(log)}

	if cfg.NotifyWebhookURL != "" {
		guard := security.NewURLGuard()
		if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		sinks = append(sinks, notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:    cfg.NotifyWebhookURL,
			Client: guard.NewSafeClient(cfg.NotifyTimeout),
		}))
		log.Info("webhook notifications enabled")
	}

	if cfg.NotifyAMQPURL != "" {
		amqpSink, err := notify.DialAMQP(cfg.NotifyAMQPURL, cfg.NotifyAMQPExchange, cfg.NotifyAMQPRoutingKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		c.closers = append(c.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
		log.Info("AMQP notifications enabled",
			slog.String("exchange", cfg.NotifyAMQPExchange),
			slog.String("routing_key", cfg.NotifyAMQPRoutingKey),
		)
	}
	return sinks, nil
}

// close は通知キューを排出してから外部接続を閉じる。
func (c *components) close(ctx context.Context, log *slog.Logger) {
	if c.dispatcher != nil {
		if err := c.dispatcher.Shutdown(ctx); err != nil {
			log.Warn("notification queue not drained", slog.String("error", err.Error()))
		}
	}
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, log *slog.Logger, args []string) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}
	action, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	log.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		log.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
