package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/appauth/internal/middleware"
	"github.com/hitoshi/appauth/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler

	// コールバック
	CallbackSession CallbackSession
	Sanitizer       security.MessageSanitizer
	CallbackConfig  CallbackHandlerConfig

	// 制御API
	AuthService AuthServiceInterface
	AuthState   AuthStateInterface
	Location    LocationReader
}

// NewRouter はループバックホストのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SessionContext → Logging → SecurityHeaders
//
// AppleのコールバックはApple側のオリジンからPOSTされるため、オリジン検査の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewMessageSanitizer()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSessionContextMiddleware(deps.AuthState))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	callbackHandler := NewCallbackHandler(deps.CallbackSession, sanitizer, deps.CallbackConfig)
	controlHandler := NewControlHandler(deps.AuthService, deps.AuthState, deps.Location)

	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Appleのform_post
	r.Post("/auth/apple/callback", callbackHandler.AppleCallback)

	// --- ループバックのオリジンからのみ状態を変更できるルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoopbackOriginMiddleware())

		r.Route(callbackHandler.config.CallbackPath, func(r chi.Router) {
			r.Get("/", callbackHandler.Page)
			r.Post("/complete", callbackHandler.Complete)
			r.Post("/cancel", callbackHandler.Cancel)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/state", controlHandler.State)
			r.Post("/signout", controlHandler.SignOut)

			// サインイン試行はクライアントごとにレート制限する
			r.Group(func(r chi.Router) {
				if deps.RateLimiter != nil {
					r.Use(deps.RateLimiter.SignInMiddleware())
				}
				r.Post("/signin/google", controlHandler.SignInWithGoogle)
				r.Post("/signin/google/token", controlHandler.SignInWithGoogleToken)
				r.Post("/signin/apple", controlHandler.SignInWithApple)
			})
		})
	})

	return r
}
