package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/commentboard/internal/metrics"
	"github.com/hitoshi/commentboard/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	SessionFinder      middleware.SessionFinder
	CORSAllowedOrigins []string
	// CSRF が nil の場合はCSRF検証を行わない
	CSRF *middleware.CSRFConfig
	// ErrorReporter はパニックを外部に報告するミドルウェア（Sentry等）。nil可。
	ErrorReporter func(http.Handler) http.Handler

	// 計測
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	StateIssuer StateIssuer
	AuthConfig  AuthHandlerConfig

	// コメント
	CommentService CommentServiceInterface

	// ヘルスチェック
	Pinger Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ErrorReporter → Logging → SecurityHeaders → CORS → Metrics → (CSRF) → ルート
//
// コメント更新系ルートのみSessionミドルウェアを通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.ErrorReporter != nil {
		r.Use(deps.ErrorReporter)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metrics.Middleware(deps.Metrics))
	}
	if deps.CSRF != nil {
		r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
	}

	var recorder LoginRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	authHandler := NewAuthHandler(deps.AuthService, deps.StateIssuer, recorder, deps.AuthConfig)
	commentHandler := NewCommentHandler(deps.CommentService)

	// --- 運用エンドポイント ---
	r.Get("/", Root)
	r.Get("/health", Health(deps.Pinger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証ルート（OAuthフロー） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login-start", authHandler.LoginStart)
		r.Get("/login-callback", authHandler.LoginCallback)
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
		r.Get("/current-user", authHandler.CurrentUser)
	})

	r.Route("/api", func(r chi.Router) {
		// 認証不要
		r.Get("/get-comments", commentHandler.GetComments)
		if deps.CSRF != nil {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF).ServeHTTP)
		}

		// 認証が必要なルート
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))

			r.Post("/add-comment", commentHandler.AddComment)
			r.Put("/like-comment/{id}", commentHandler.LikeComment)
			r.Put("/add-reply/{id}", commentHandler.AddReply)
			r.Delete("/delete-comment/{id}", commentHandler.DeleteComment)
		})
	})

	return r
}
