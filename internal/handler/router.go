package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kakeibo/internal/ledger"
	"github.com/hitoshi/kakeibo/internal/middleware"
	"github.com/hitoshi/kakeibo/internal/store"
)

// HealthChecker はヘルスチェックに必要なインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証・統合
	AuthService      AuthServiceInterface
	AuthMetrics      AuthMetrics
	AuthConfig       AuthHandlerConfig
	MergeCoordinator MergeCoordinatorInterface
	MergeMetrics     MergeMetrics

	// 台帳
	LedgerService ExpenseServiceInterface
	StreamService *ledger.Service
	Notifier      store.ChangeNotifier

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → SessionMiddleware → RateLimit(General)
//
// 認証ルート（/auth/*）と運用ルート（/health, /metrics）は
// セッション・レート制限ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// ログアウト時にセッション単位でストリームを停止するためのレジストリ。
	// AuthHandlerとStreamHandlerで共有する。
	streamRegistry := NewStreamRegistry()

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthMetrics, streamRegistry, deps.AuthConfig)
	mergeHandler := NewMergeHandler(deps.MergeCoordinator, deps.MergeMetrics, deps.AuthConfig)
	expenseHandler := NewExpenseHandler(deps.LedgerService)
	streamHandler := NewStreamHandler(deps.StreamService, deps.Notifier, streamRegistry, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// 認証ルート（パスワード認証・OAuthフロー・アカウント統合）
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.PasswordLogin)
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)

		// アカウント統合（統合トークンCookieで認可されるため、セッション不要）
		r.Post("/merge", mergeHandler.Resolve)
		r.Delete("/merge", mergeHandler.Abandon)

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 支出台帳
		r.Route("/api/expenses", func(r chi.Router) {
			r.Get("/", expenseHandler.List)

			// POST /api/expenses - 支出作成（書き込み専用レート制限を追加）
			r.With(deps.RateLimiter.WriteMiddleware()).Post("/", expenseHandler.Add)

			// GET /api/expenses/stream - LedgerViewのライブ配信（SSE）
			r.Get("/stream", streamHandler.Stream)

			r.Delete("/{id}", expenseHandler.Delete)
		})
	})

	return r
}
