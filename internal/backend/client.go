// Package backend は認証バックエンド（GoTrue互換REST API）のクライアントを提供する。
// セッションの永続化とセッション変更通知の配送もこのパッケージが担う。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/appauth/internal/model"
)

const (
	defaultStorageKey = "sb-session"
	// expiryMargin は期限切れ直前のトークンを期限切れとみなす余裕時間。
	expiryMargin = 10 * time.Second
)

// Config は認証バックエンドクライアントの設定。
type Config struct {
	URL        string // 例: https://xyz.supabase.co
	AnonKey    string
	StorageKey string

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
	Now        func() time.Time
}

// IDTokenCredentials はIDトークンによるサインインの入力。
type IDTokenCredentials struct {
	Provider    model.Provider
	Token       string
	AccessToken string // 任意
	Nonce       string // 任意。生のnonceを渡す
}

// OAuthOptions はOAuthフロー開始時のオプション。
type OAuthOptions struct {
	RedirectTo          string
	Scopes              string
	SkipBrowserRedirect bool
}

// OAuthResponse はOAuthフロー開始の結果。
type OAuthResponse struct {
	Provider model.Provider
	URL      string
}

// Client は認証バックエンドのクライアント。
// 現在のセッションはStorageに保存し、変更時にリスナーへ通知する。
type Client struct {
	config  Config
	storage Storage
	events  *dispatcher

	// refreshMu はリフレッシュトークンの二重使用を防ぐ。
	refreshMu sync.Mutex
}

// NewClient はClientを生成する。
func NewClient(config Config, storage Storage) *Client {
	if config.StorageKey == "" {
		config.StorageKey = defaultStorageKey
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	config.URL = strings.TrimRight(config.URL, "/")
	return &Client{
		config:  config,
		storage: storage,
		events:  &dispatcher{},
	}
}

// OnAuthStateChange はセッション変更通知を購読する。
// 通知はバックエンドが発行した順に同期的に配送される。
func (c *Client) OnAuthStateChange(fn Listener) *Subscription {
	return c.events.add(fn)
}

// ListenerCount は現在の購読数を返す。
func (c *Client) ListenerCount() int {
	return c.events.count()
}

// GetSession は保存済みのセッションを返す。
// 期限切れの場合はリフレッシュを試み、失敗した場合はセッションを破棄してエラーを返す。
// セッションが存在しない場合はnil, nilを返す。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	session, err := c.StoredSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if !session.ExpiresWithin(c.config.Now(), expiryMargin) {
		return session, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh expired session: %w", err)
	}
	return refreshed, nil
}

// StoredSession はリフレッシュを行わずに保存済みのセッションを返す。
func (c *Client) StoredSession(ctx context.Context) (*model.Session, error) {
	data, err := c.storage.Load(ctx, c.config.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		slog.Warn("読み取れない保存済みセッションを破棄しました", slog.String("error", err.Error()))
		_ = c.storage.Remove(ctx, c.config.StorageKey)
		return nil, nil
	}
	return &session, nil
}

// SignInWithIDToken はIDプロバイダーが発行したIDトークンをセッションに交換する。
func (c *Client) SignInWithIDToken(ctx context.Context, creds IDTokenCredentials) (*model.Session, error) {
	body := map[string]string{
		"provider": string(creds.Provider),
		"id_token": creds.Token,
	}
	if creds.AccessToken != "" {
		body["access_token"] = creds.AccessToken
	}
	if creds.Nonce != "" {
		body["nonce"] = creds.Nonce
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=id_token", "", body, &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(c.config.Now())
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.events.emit(EventSignedIn, session)
	return session, nil
}

// SignInWithOAuth はOAuthフローの認可URLを生成する。
// クライアント自身がブラウザを開くことはないため、SkipBrowserRedirectの値に関わらずURLを返す。
func (c *Client) SignInWithOAuth(_ context.Context, provider model.Provider, opts OAuthOptions) (*OAuthResponse, error) {
	if c.config.URL == "" {
		return &OAuthResponse{Provider: provider}, nil
	}

	params := url.Values{"provider": {string(provider)}}
	if opts.RedirectTo != "" {
		params.Set("redirect_to", opts.RedirectTo)
	}
	if opts.Scopes != "" {
		params.Set("scopes", opts.Scopes)
	}
	if opts.SkipBrowserRedirect {
		params.Set("skip_http_redirect", "true")
	}

	return &OAuthResponse{
		Provider: provider,
		URL:      c.config.URL + "/auth/v1/authorize?" + params.Encode(),
	}, nil
}

// SetSession は外部から受け取ったトークンを現在のセッションとして設定する。
// アクセストークンが期限切れの場合はリフレッシュトークンで更新する。
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrNoSession
	}

	claims, err := parseAccessClaims(accessToken)
	if err != nil {
		return nil, err
	}

	now := c.config.Now()
	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if !expiresAt.IsZero() && !now.Add(expiryMargin).Before(expiresAt) {
		session, err := c.refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		c.events.emit(EventTokenRefreshed, session)
		return session, nil
	}

	var user userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return nil, err
	}

	session := &model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user.toUser(),
	}
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.events.emit(EventSignedIn, session)
	return session, nil
}

// RefreshSession は保存済みセッションのリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context) (*model.Session, error) {
	current, err := c.StoredSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}

	session, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		if IsRejected(err) {
			// リフレッシュトークンが無効化されている場合のみセッションを破棄する
			c.removeSession(ctx)
			c.events.emit(EventSignedOut, nil)
		}
		return nil, err
	}
	c.events.emit(EventTokenRefreshed, session)
	return session, nil
}

// SignOut はサーバー側のセッションを無効化し、ローカルのセッションを破棄する。
// サーバー呼び出しが失敗した場合もローカルのセッションは破棄する。
func (c *Client) SignOut(ctx context.Context) error {
	current, err := c.StoredSession(ctx)
	if err != nil {
		return err
	}

	var serverErr error
	if current != nil && current.AccessToken != "" {
		serverErr = c.do(ctx, http.MethodPost, "/auth/v1/logout?scope=global", current.AccessToken, nil, nil)
		var apiErr *APIError
		if errors.As(serverErr, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
			// 既に無効なセッションはサインアウト済みとみなす
			serverErr = nil
		}
	}

	c.removeSession(ctx)
	c.events.emit(EventSignedOut, nil)

	return serverErr
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	var resp sessionResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(c.config.Now())
	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (c *Client) saveSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.storage.Save(ctx, c.config.StorageKey, data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (c *Client) removeSession(ctx context.Context) {
	if err := c.storage.Remove(ctx, c.config.StorageKey); err != nil {
		slog.Error("保存済みセッションの削除に失敗しました", slog.String("error", err.Error()))
	}
}

// do は認証バックエンドにJSONリクエストを送信する。
// bearerが空の場合はAPIキーをAuthorizationヘッダーに使用する。
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = c.config.AnonKey
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return eb.toAPIError(resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse auth backend response: %w", err)
	}
	return nil
}
