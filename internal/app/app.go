package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/appauth/internal/config"
	"github.com/hitoshi/appauth/internal/database"
	"github.com/hitoshi/appauth/internal/logger"
	"github.com/hitoshi/appauth/internal/model"
)

const (
	defaultServerPort   = "53682"
	defaultCallbackPath = "auth/callback"
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

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck と complete は軽量サブコマンドのため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		return runHealthcheck(getEnv("SERVER_PORT", defaultServerPort))
	case CommandComplete:
		if len(args) < 2 || args[1] == "" {
			return errors.New("usage: complete <callback-url>")
		}
		return runComplete(
			getEnv("SERVER_PORT", defaultServerPort),
			strings.Trim(getEnv("AUTH_CALLBACK_PATH", defaultCallbackPath), "/"),
			args[1],
		)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("addr", cfg.LoopbackHost()),
		slog.String("redirect_uri", RedirectURI(cfg)),
	)

	// SIGINTまたはSIGTERMでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandSignInGoogle, CommandSignInApple:
		return runSignIn(ctx, w, cfg, cmd)
	case CommandSignOut:
		return runSignOut(ctx, w, cfg)
	case CommandStatus:
		return runStatus(ctx, w, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はループバックホストを起動する。
// 全依存関係をワイヤリングし、HTTPサーバーとバックグラウンドジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	stack, err := NewStack(ctx, cfg, slog.Default(), StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Start(ctx, true); err != nil {
		return err
	}

	shutdown, err := startServer(cfg, stack.Router)
	if err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down loopback host...")

	if err := shutdown(); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("loopback host stopped gracefully")
	return nil
}

// runSignIn はコールバック受信用にホストを一時的に起動し、サインインを1回実行する。
// 結果をJSONで出力し、キャンセル以外の失敗はエラーとして返す。
func runSignIn(ctx context.Context, w io.Writer, cfg *config.Config, cmd Command) error {
	stack, err := NewStack(ctx, cfg, slog.Default(), StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Start(ctx, false); err != nil {
		return err
	}

	shutdown, err := startServer(cfg, stack.Router)
	if err != nil {
		return err
	}
	defer shutdown()

	slog.Info("ブラウザでサインインを完了してください")

	var result model.AuthResult
	if cmd == CommandSignInApple {
		result = stack.Service.SignInWithApple(ctx)
	} else {
		result = stack.Service.SignInWithGoogle(ctx)
	}
	return writeResult(w, result)
}

// runSignOut はサインアウトを実行し、結果を出力する。
func runSignOut(ctx context.Context, w io.Writer, cfg *config.Config) error {
	stack, err := NewStack(ctx, cfg, slog.Default(), StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Start(ctx, false); err != nil {
		return err
	}

	result := stack.Service.SignOut(ctx)
	if result.Success {
		stack.Store.ClearAuth()
	}
	return writeResult(w, result)
}

// statusOutput はstatusコマンドの出力。トークンは含めない。
type statusOutput struct {
	IsAuthenticated bool        `json:"is_authenticated"`
	User            *model.User `json:"user,omitempty"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	Route           string      `json:"route"`
}

// runStatus は保存済みセッションから認証状態を復元し、出力する。
func runStatus(ctx context.Context, w io.Writer, cfg *config.Config) error {
	stack, err := NewStack(ctx, cfg, slog.Default(), StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Start(ctx, false); err != nil {
		return err
	}

	snap := stack.Store.Snapshot()
	out := statusOutput{
		IsAuthenticated: snap.IsAuthenticated,
		User:            snap.User,
		Route:           stack.Navigator.Path(),
	}
	if snap.Session != nil && !snap.Session.ExpiresAt.IsZero() {
		expiresAt := snap.Session.ExpiresAt
		out.ExpiresAt = &expiresAt
	}
	return json.NewEncoder(w).Encode(out)
}

// resultOutput はサインイン・サインアウトの結果の出力。
type resultOutput struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Kind      model.FailureKind `json:"kind,omitempty"`
	Cancelled bool              `json:"cancelled,omitempty"`
}

// writeResult は結果を出力する。キャンセルはエラーとして扱わない。
func writeResult(w io.Writer, result model.AuthResult) error {
	if err := json.NewEncoder(w).Encode(resultOutput{
		Success:   result.Success,
		Error:     result.Error,
		Kind:      result.Kind,
		Cancelled: result.Cancelled,
	}); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if result.ShouldAlert() {
		return errors.New(result.Error)
	}
	return nil
}

// startServer はループバックアドレスでHTTPサーバーを起動し、停止関数を返す。
// サインインのリクエストは完了まで応答を保留するため、書き込みタイムアウトを長く取る。
func startServer(cfg *config.Config, router http.Handler) (func() error, error) {
	server := &http.Server{
		Addr:              cfg.LoopbackHost(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	go func() {
		slog.Info("loopback host starting",
			slog.String("addr", server.Addr),
		)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration version %d is dirty", version)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/health", port)
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

// runComplete はOSから渡されたディープリンクを起動中のホストへ中継する。
// カスタムスキームのハンドラーとして登録して使用する。
func runComplete(port, callbackPath, callbackURL string) error {
	body, err := json.Marshal(map[string]string{"url": callbackURL})
	if err != nil {
		return fmt.Errorf("failed to encode callback: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%s/%s/complete", port, callbackPath)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to deliver callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
