package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/appauth/internal/auth"
	"github.com/hitoshi/appauth/internal/backend"
	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/config"
	"github.com/hitoshi/appauth/internal/database"
	"github.com/hitoshi/appauth/internal/gate"
	"github.com/hitoshi/appauth/internal/handler"
	"github.com/hitoshi/appauth/internal/metrics"
	"github.com/hitoshi/appauth/internal/middleware"
	"github.com/hitoshi/appauth/internal/model"
	"github.com/hitoshi/appauth/internal/repository"
	"github.com/hitoshi/appauth/internal/security"
	"github.com/hitoshi/appauth/internal/store"
	"github.com/hitoshi/appauth/internal/worker/cleanup"
	"github.com/hitoshi/appauth/internal/worker/refresh"
)

// StackOptions はStackの構築時にテストから差し替える依存関係。
type StackOptions struct {
	// Opener はブラウザを開く関数。nilの場合はシステムブラウザを使用する。
	Opener browser.Opener
	// HTTPClient は認証バックエンドへのHTTPクライアント。
	HTTPClient *http.Client
	// Registry はメトリクスの登録先。nilの場合は新規に生成する。
	Registry *prometheus.Registry
}

// Stack はホストを構成する依存関係一式。
type Stack struct {
	Config      *config.Config
	DB          *sql.DB
	Backend     *backend.Client
	Browser     *browser.Session
	Service     *auth.Service
	Store       *store.Store
	Gate        *gate.Gate
	Navigator   *gate.MemoryNavigator
	Registry    *prometheus.Registry
	Metrics     *metrics.Collector
	RateLimiter *middleware.RateLimiter
	Refresher   *refresh.Refresher
	Cleanup     *cleanup.SessionCleanupJob
	Router      http.Handler

	logger    *slog.Logger
	eventsSub *backend.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedirectURI はOAuthコールバックのリダイレクトURIを返す。
// APP_SCHEMEが設定されている場合はカスタムスキームのディープリンク、
// 未設定の場合はループバックホストのコールバックページを使用する。
func RedirectURI(cfg *config.Config) string {
	if cfg.AppScheme != "" {
		return auth.MakeRedirectURI(cfg.AppScheme, cfg.AuthCallbackPath)
	}
	return auth.MakeRedirectURI("http", cfg.LoopbackHost()+cfg.CallbackPath())
}

// NewStack は設定から全依存関係をワイヤリングする。
// DATABASE_URLが設定されている場合はPostgreSQLにセッションを保存する。
func NewStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts StackOptions) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{Config: cfg, logger: logger}

	// 1. セッションストレージ
	var storage backend.Storage
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.DB = db
		storage = repository.NewPostgresSessionStorage(db)
		logger.Info("データベースに接続しました")
	} else {
		storage = backend.NewMemoryStorage()
		logger.Info("セッションをメモリ上に保存します")
	}

	// 2. メトリクス
	s.Registry = opts.Registry
	if s.Registry == nil {
		s.Registry = prometheus.NewRegistry()
		s.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.Metrics = metrics.NewCollector(s.Registry)

	// 3. 認証バックエンド
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.BackendTimeout}
	}
	s.Backend = backend.NewClient(backend.Config{
		URL:        cfg.AuthURL,
		AnonKey:    cfg.AuthAnonKey,
		StorageKey: cfg.StorageKey,
		HTTPClient: httpClient,
	}, storage)
	s.eventsSub = s.Backend.OnAuthStateChange(func(event backend.Event, _ *model.Session) {
		s.Metrics.RecordSessionEvent(string(event))
	})

	// 4. サインインフロー
	s.Browser = browser.NewSession(opts.Opener, logger)
	var apple auth.AppleProvider
	if cfg.AppleEnabled() {
		apple = auth.NewAppleWebProvider(auth.AppleWebConfig{
			ClientID:    cfg.AppleClientID,
			RedirectURL: cfg.AppleRedirectURL,
		}, s.Browser)
	}
	s.Service = auth.NewService(s.Backend, apple, s.Browser, s.Metrics,
		auth.ServiceConfig{RedirectURI: RedirectURI(cfg)}, logger)

	// 5. 認証状態とルーティング
	routes := gate.Routes{
		Unauthenticated: cfg.EntryUnauthenticated,
		Protected:       cfg.EntryProtected,
	}
	s.Store = store.New(s.Backend, logger)
	s.Navigator = gate.NewMemoryNavigator(cfg.EntryUnauthenticated, routes)
	s.Gate = gate.New(s.Store, s.Navigator, routes, logger)
	s.Navigator.OnChange(s.Gate.Evaluate)

	// 6. バックグラウンドジョブ
	s.Refresher = refresh.NewRefresher(s.Backend, s.Metrics, logger)
	s.Refresher.Margin = cfg.RefreshMargin
	if s.DB != nil {
		s.Cleanup = cleanup.NewSessionCleanupJob(s.DB, cfg.StorageKey, logger)
		s.Cleanup.RetentionDays = cfg.SessionRetentionDays
	}

	// 7. ルーター
	s.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitSignIn), s.Metrics)
	s.Router = handler.NewRouter(&handler.RouterDeps{
		Logger:          logger,
		RateLimiter:     s.RateLimiter,
		MetricsHandler:  metrics.Handler(s.Registry),
		CallbackSession: s.Browser,
		Sanitizer:       security.NewMessageSanitizer(),
		CallbackConfig: handler.CallbackHandlerConfig{
			CallbackPath:     cfg.CallbackPath(),
			AppleRedirectURL: cfg.AppleRedirectURL,
		},
		AuthService: s.Service,
		AuthState:   s.Store,
		Location:    s.Navigator,
	})

	return s, nil
}

// Start は認証状態を初期化し、ルーティングとバックグラウンドジョブを開始する。
// withWorkersがfalseの場合はリフレッシュとクリーンアップを起動しない。
func (s *Stack) Start(ctx context.Context, withWorkers bool) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.Gate.Attach()
	if err := s.Store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize auth store: %w", err)
	}

	if !withWorkers {
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Refresher.Start(ctx, s.Config.AutoRefreshInterval)
	}()

	if s.Cleanup != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Cleanup.Start(ctx, s.Config.CleanupInterval)
		}()
	}
	return nil
}

// Close はバックグラウンドジョブを停止し、購読とリソースを解放する。
func (s *Stack) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.Gate.Close()
	s.Store.Close()
	s.eventsSub.Unsubscribe()
	s.RateLimiter.Stop()

	if n := s.Backend.ListenerCount(); n > 0 {
		s.logger.Warn("終了後もセッション変更通知の購読が残っています", slog.Int("listeners", n))
	}

	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.logger.Error("データベース接続のクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}
