package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/chatfront/internal/auth"
	"github.com/hitoshi/chatfront/internal/config"
	"github.com/hitoshi/chatfront/internal/database"
	"github.com/hitoshi/chatfront/internal/handler"
	"github.com/hitoshi/chatfront/internal/history"
	"github.com/hitoshi/chatfront/internal/logger"
	"github.com/hitoshi/chatfront/internal/metrics"
	"github.com/hitoshi/chatfront/internal/middleware"
	"github.com/hitoshi/chatfront/internal/navigation"
	"github.com/hitoshi/chatfront/internal/repository"
	"github.com/hitoshi/chatfront/internal/security"
	"github.com/hitoshi/chatfront/internal/session"
	"github.com/hitoshi/chatfront/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
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

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("session_store", cfg.SessionStoreBackend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandResetSession:
		return runResetSession(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はフロントエンドホストのHTTPサーバーとして起動する。
// セッションストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. セッションストア
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	// IdPのセッションCookieはレコードと一緒に永続化し、起動時にJarへ戻す
	jar, err := auth.NewCookieJar()
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	providerURL, err := url.Parse(cfg.KratosPublicURL)
	if err != nil {
		return fmt.Errorf("invalid KRATOS_PUBLIC_URL: %w", err)
	}

	store, err := session.Open(ctx, backend.repo, cfg.SessionStoreKey,
		session.WithRecorder(collector),
		session.WithCredentialJar(jar, providerURL),
	)
	if err != nil {
		return fmt.Errorf("failed to load session store: %w", err)
	}
	if _, ok := store.Get(); ok {
		slog.Info("restored persisted session")
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.SessionSweepInterval > 0 {
		sweeper := sweep.NewSweeper(store, slog.Default())
		go sweeper.Start(sweepCtx, cfg.SessionSweepInterval)
	}

	// 3. IdPと履歴APIのクライアント（Cookie Jarを共有する）
	httpClient := &http.Client{Jar: jar}

	flows := auth.NewKratosClient(httpClient, cfg.KratosPublicURL,
		auth.WithTimeout(cfg.ProviderTimeout),
		auth.WithFlowRecorder(collector),
		auth.WithLogger(slog.Default()),
	)
	authService := auth.NewService(flows, store, slog.Default())

	historyClient := history.NewClient(httpClient, history.Config{
		BaseURL: cfg.HistoryAPIURL,
		RoomID:  cfg.ChatRoomID,
		Timeout: cfg.HistoryTimeout,
	}, security.NewMessageSanitizer(), collector, slog.Default())

	// 4. ナビゲーションガード
	guard := navigation.NewGuard(store, navigation.WithRecorder(collector))

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewAuthRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Guard:             guard,
		Sessions:          store,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		Logger:         slog.Default(),
		AuthService:    authService,
		HistoryLoader:  historyClient,
		HealthCheck:    backend.health,
		MetricsHandler: metrics.Handler(reg),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("frontend host starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down frontend host...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("frontend host stopped gracefully")
	return nil
}

// sessionBackend はセッションストアの永続化先と、その疎通確認・解放処理をまとめたもの。
type sessionBackend struct {
	repo   repository.SessionRecordRepository
	health handler.HealthCheckFunc
	close  func() error
}

// Close はバックエンドの接続を解放する。
func (b *sessionBackend) Close() {
	if b.close == nil {
		return
	}
	if err := b.close(); err != nil {
		slog.Warn("failed to close session backend", slog.String("error", err.Error()))
	}
}

// openSessionBackend は設定されたバックエンドに接続し、セッションレコードのリポジトリを返す。
func openSessionBackend(ctx context.Context, cfg *config.Config) (*sessionBackend, error) {
	switch cfg.SessionStoreBackend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return &sessionBackend{
			repo:   repository.NewRedisSessionRecordRepo(client),
			health: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close:  client.Close,
		}, nil

	case config.StoreBackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return &sessionBackend{
			repo:   repository.NewPostgresSessionRecordRepo(db),
			health: db.PingContext,
			close:  db.Close,
		}, nil

	default:
		slog.Info("using file session store", slog.String("dir", cfg.SessionFileDir))
		return &sessionBackend{
			repo: repository.NewFileSessionRecordRepo(cfg.SessionFileDir),
		}, nil
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// postgresバックエンド以外では何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.SessionStoreBackend != config.StoreBackendPostgres {
		slog.Info("session store does not use a database, nothing to migrate",
			slog.String("session_store", cfg.SessionStoreBackend),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runResetSession は保存済みのセッションを破棄する。
func runResetSession(cfg *config.Config) error {
	ctx := context.Background()

	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store := session.New(backend.repo, cfg.SessionStoreKey)
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}

	slog.Info("persisted session cleared", slog.String("key", cfg.SessionStoreKey))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
