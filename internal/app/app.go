// Package app はコマンドの実行と依存関係のワイヤリングを行う。
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
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/hitoshi/commentboard/internal/auth"
	"github.com/hitoshi/commentboard/internal/comment"
	"github.com/hitoshi/commentboard/internal/config"
	"github.com/hitoshi/commentboard/internal/database"
	"github.com/hitoshi/commentboard/internal/handler"
	"github.com/hitoshi/commentboard/internal/logger"
	"github.com/hitoshi/commentboard/internal/metrics"
	"github.com/hitoshi/commentboard/internal/middleware"
	"github.com/hitoshi/commentboard/internal/repository"
	"github.com/hitoshi/commentboard/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定ファイル側のログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// stores はバックエンドごとに生成したリポジトリ群。
type stores struct {
	backend  database.Backend
	users    repository.UserRepository
	sessions repository.SessionRepository
	comments repository.CommentRepository
	pinger   handler.Pinger
	close    func(ctx context.Context) error
}

// openStores は DATABASE_URL のスキームに応じてリポジトリを生成し、接続を確認する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	backend, err := database.DetectBackend(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	switch backend {
	case database.BackendMongo:
		client, db, err := database.OpenMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		if err := database.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}
		return &stores{
			backend:  backend,
			users:    repository.NewMongoUserRepo(db),
			sessions: repository.NewMongoSessionRepo(db),
			comments: repository.NewMongoCommentRepo(db),
			pinger:   database.MongoPinger{Client: client},
			close:    client.Disconnect,
		}, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &stores{
			backend:  backend,
			users:    repository.NewPostgresUserRepo(db),
			sessions: repository.NewPostgresSessionRepo(db),
			comments: repository.NewPostgresCommentRepo(db),
			pinger:   db,
			close:    func(context.Context) error { return db.Close() },
		}, nil
	}
}

// initSentry は SENTRY_DSN が設定されていればSentryを初期化する。
// 戻り値のミドルウェアは未設定時 nil。
func initSentry(cfg *config.Config) (func(http.Handler) http.Handler, func(), error) {
	if cfg.SentryDSN == "" {
		return nil, func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	}); err != nil {
		return nil, func() {}, fmt.Errorf("failed to init sentry: %w", err)
	}

	h := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return h.Handle, func() { sentry.Flush(2 * time.Second) }, nil
}

// newOAuthProvider はGoogle OAuthプロバイダーを生成する。
// GOOGLE_JWKS_URL が空でなければIDトークンを署名検証する。
func newOAuthProvider(ctx context.Context, cfg *config.Config) (auth.OAuthProvider, func(), error) {
	oauthCfg := auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}

	closeFn := func() {}
	if cfg.GoogleJWKSURL != "" {
		verifier, err := auth.NewGoogleIDTokenVerifier(ctx, cfg.GoogleJWKSURL, cfg.GoogleClientID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init id token verifier: %w", err)
		}
		oauthCfg.Verifier = verifier
		closeFn = verifier.Close
	}

	return auth.NewGoogleOAuthProvider(oauthCfg), closeFn, nil
}

// serverDeps はHTTPハンドラー構築に必要な外部依存。
type serverDeps struct {
	stores        *stores
	oauth         auth.OAuthProvider
	registry      *prometheus.Registry
	errorReporter func(http.Handler) http.Handler
	logger        *slog.Logger
}

// newServerHandler はサービス層を組み立ててルーターを返す。
func newServerHandler(cfg *config.Config, deps serverDeps) http.Handler {
	collector := metrics.NewCollector(deps.registry)

	authService := auth.NewService(
		deps.oauth, deps.stores.users, deps.stores.sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	commentService := comment.NewService(
		deps.stores.comments, deps.stores.users, collector,
	)

	var csrf *middleware.CSRFConfig
	if cfg.CSRFEnabled {
		csrf = &middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			CookieSameSite: cfg.CookieSameSite,
		}
	}

	return handler.NewRouter(&handler.RouterDeps{
		Logger:             deps.logger,
		SessionFinder:      deps.stores.sessions,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRF:               csrf,
		ErrorReporter:      deps.errorReporter,

		Metrics:  collector,
		Gatherer: deps.registry,

		AuthService: authService,
		StateIssuer: auth.NewStateSigner(cfg.SessionSecret, 10*time.Minute),
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:         cfg.BaseURL,
			LoginFailureURL: cfg.LoginFailureURL,
			CookieDomain:    cfg.CookieDomain,
			CookieSecure:    cfg.CookieSecure,
			CookieSameSite:  cfg.CookieSameSite,
			SessionMaxAge:   cfg.SessionMaxAge,
		},

		CommentService: commentService,
		Pinger:         deps.stores.pinger,
	})
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. エラー監視
	errorReporter, flush, err := initSentry(cfg)
	if err != nil {
		return err
	}
	defer flush()

	// 2. 永続化層
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores(st)

	slog.Info("database connection established", slog.String("backend", string(st.backend)))

	// 3. OAuthプロバイダー
	provider, closeProvider, err := newOAuthProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: newServerHandler(cfg, serverDeps{
			stores:        st,
			oauth:         provider,
			registry:      registry,
			errorReporter: errorReporter,
			logger:        slog.Default(),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

func closeStores(st *stores) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.close(ctx); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// runMigrate はPostgreSQLのマイグレーションを適用する。
// MongoDBの場合はインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	backend, err := database.DetectBackend(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("backend", string(backend)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if backend == database.BackendMongo {
		client, db, err := database.OpenMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		defer client.Disconnect(context.Background())

		if err := database.EnsureIndexes(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("mongodb indexes ensured")
		return nil
	}

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCleanup は期限切れセッションを1回削除して終了する。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores(st)

	job := cleanup.NewCleanupJob(st.sessions, slog.Default())
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報とクエリを除去する。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	masked := *u
	masked.User = nil
	masked.RawQuery = ""
	s := masked.String()
	if u.User != nil {
		s = strings.Replace(s, "://", "://***@", 1)
	}
	return s
}
