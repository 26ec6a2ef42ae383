package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/appauth/internal/browser"
)

const defaultAppleAuthURL = "https://appleid.apple.com/auth/authorize"

// AppleScope はApple Sign-Inで要求するスコープ。
type AppleScope string

const (
	AppleScopeFullName AppleScope = "name"
	AppleScopeEmail    AppleScope = "email"
)

// Appleの認証エラーコード
const (
	AppleErrRequestCanceled = "ERR_REQUEST_CANCELED"
	AppleErrRequestFailed   = "ERR_REQUEST_FAILED"
	AppleErrInvalidResponse = "ERR_INVALID_RESPONSE"
)

// AppleError はApple認証の失敗を表す。
type AppleError struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *AppleError) Error() string {
	return e.Message
}

// AppleRequest はApple認証の要求内容。NonceにはハッシュしたNonceを渡す。
type AppleRequest struct {
	Scopes []AppleScope
	Nonce  string
}

// AppleCredential はApple認証で得られた資格情報。
type AppleCredential struct {
	User              string
	IdentityToken     string
	AuthorizationCode string
	Email             string
	FullName          string
}

// AppleProvider はApple認証の資格情報を取得するインターフェース。
type AppleProvider interface {
	// IsAvailable はこの環境でApple認証が利用可能かを返す。
	IsAvailable(ctx context.Context) bool
	// SignIn は認証画面を表示し、完了またはキャンセルまで待機する。
	SignIn(ctx context.Context, req AppleRequest) (*AppleCredential, error)
}

// BrowserSession はブラウザによる認証セッションを開くインターフェース。
type BrowserSession interface {
	OpenAuthSession(ctx context.Context, authURL, redirectURI string) (browser.Result, error)
}

// AppleWebConfig はApple認証（Web）の設定。
type AppleWebConfig struct {
	ClientID    string // Services ID
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL string
}

// AppleWebProvider はブラウザ経由でApple認証を行うAppleProvider実装。
// ネイティブのサインインシートを持たないデスクトップ・CLIホストで使用する。
// Appleはform_postでリダイレクト先にid_tokenを送信する。
type AppleWebProvider struct {
	config  AppleWebConfig
	browser BrowserSession
}

// NewAppleWebProvider はAppleWebProviderを生成する。
func NewAppleWebProvider(config AppleWebConfig, browser BrowserSession) *AppleWebProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultAppleAuthURL
	}
	return &AppleWebProvider{config: config, browser: browser}
}

// IsAvailable はClient IDとリダイレクトURLが設定されている場合にtrueを返す。
func (p *AppleWebProvider) IsAvailable(_ context.Context) bool {
	return p.config.ClientID != "" && p.config.RedirectURL != "" && p.browser != nil
}

// GetAuthorizeURL はApple認証URLを生成する。
func (p *AppleWebProvider) GetAuthorizeURL(req AppleRequest, state string) string {
	scopes := make([]string, len(req.Scopes))
	for i, s := range req.Scopes {
		scopes[i] = string(s)
	}
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code id_token"},
		"response_mode": {"form_post"},
		"state":         {state},
	}
	if len(scopes) > 0 {
		params.Set("scope", strings.Join(scopes, " "))
	}
	if req.Nonce != "" {
		params.Set("nonce", req.Nonce)
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// appleUser はAppleが初回サインイン時のみ送信するユーザー情報。
type appleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email"`
}

// appleIdentityClaims はAppleのIDトークンから読み取るクレーム。
type appleIdentityClaims struct {
	Email string `json:"email,omitempty"`
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// SignIn はブラウザでApple認証を行い、form_postの内容から資格情報を組み立てる。
func (p *AppleWebProvider) SignIn(ctx context.Context, req AppleRequest) (*AppleCredential, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	result, err := p.browser.OpenAuthSession(ctx, p.GetAuthorizeURL(req, state), p.config.RedirectURL)
	if err != nil {
		return nil, err
	}

	switch result.Type {
	case browser.ResultSuccess:
	case browser.ResultCancel, browser.ResultDismiss:
		return nil, &AppleError{Code: AppleErrRequestCanceled, Message: "The user canceled the authorization attempt"}
	default:
		return nil, &AppleError{Code: AppleErrRequestFailed, Message: fmt.Sprintf("The authorization attempt failed: %s", result.Type)}
	}

	u, err := url.Parse(result.URL)
	if err != nil {
		return nil, &AppleError{Code: AppleErrInvalidResponse, Message: "Invalid authorization response"}
	}
	form := u.Query()

	if e := form.Get("error"); e != "" {
		if e == "user_cancelled_authorize" {
			return nil, &AppleError{Code: AppleErrRequestCanceled, Message: "The user canceled the authorization attempt"}
		}
		return nil, &AppleError{Code: AppleErrRequestFailed, Message: e}
	}
	if form.Get("state") != state {
		return nil, &AppleError{Code: AppleErrInvalidResponse, Message: "Authorization state mismatch"}
	}

	cred := &AppleCredential{
		IdentityToken:     form.Get("id_token"),
		AuthorizationCode: form.Get("code"),
	}

	if raw := form.Get("user"); raw != "" {
		var user appleUser
		if err := json.Unmarshal([]byte(raw), &user); err == nil {
			cred.Email = user.Email
			cred.FullName = strings.TrimSpace(user.Name.FirstName + " " + user.Name.LastName)
		}
	}

	if cred.IdentityToken == "" {
		return cred, nil
	}

	claims := &appleIdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(cred.IdentityToken, claims); err != nil {
		return nil, &AppleError{Code: AppleErrInvalidResponse, Message: "Invalid identity token"}
	}
	if req.Nonce != "" && claims.Nonce != req.Nonce {
		return nil, ErrNonceMismatch
	}
	cred.User = claims.Subject
	if cred.Email == "" {
		cred.Email = claims.Email
	}

	return cred, nil
}

// ErrNonceMismatch はIDトークンのnonceが今回の試行と一致しない場合のエラー。
var ErrNonceMismatch = errors.New("identity token nonce does not match this sign-in attempt")

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// isAppleCancellation はApple認証のエラーがユーザーによるキャンセルかを判定する。
// プラットフォームによりエラーコードまたはメッセージで通知される。
func isAppleCancellation(err error) bool {
	var appleErr *AppleError
	if errors.As(err, &appleErr) && appleErr.Code == AppleErrRequestCanceled {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancelled") || strings.Contains(msg, "canceled")
}

// compile-time interface check
var _ AppleProvider = (*AppleWebProvider)(nil)
