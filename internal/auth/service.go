// Package auth はApple・Googleのサインインフローとサインアウトを提供する。
//
// すべての公開フローは呼び出し元から見て全域関数であり、エラーをmodel.AuthResultに変換して返す。
// 認証状態の更新はバックエンドのセッション変更通知に委ね、フロー自身は状態を書き換えない。
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/appauth/internal/backend"
	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/model"
	"github.com/hitoshi/appauth/internal/nonce"
)

// Backend はサインインフローが必要とする認証バックエンドの操作。
// backend.Clientの部分集合として定義する。
type Backend interface {
	SignInWithIDToken(ctx context.Context, creds backend.IDTokenCredentials) (*model.Session, error)
	SignInWithOAuth(ctx context.Context, provider model.Provider, opts backend.OAuthOptions) (*backend.OAuthResponse, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context) error
}

// Recorder はサインイン結果を記録するインターフェース。
type Recorder interface {
	RecordSignIn(provider model.Provider, result model.AuthResult)
	RecordSignOut(result model.AuthResult)
}

// ServiceConfig はサインインフローの設定。
type ServiceConfig struct {
	// RedirectURI はOAuthコールバックのディープリンク。MakeRedirectURIで生成する。
	RedirectURI string
}

// Service はサインイン・サインアウトのフローを提供する。
type Service struct {
	backend  Backend
	apple    AppleProvider
	browser  BrowserSession
	recorder Recorder
	config   ServiceConfig
	logger   *slog.Logger
}

// NewService はServiceを生成する。appleがnilの場合Apple認証は利用不可として扱う。
func NewService(b Backend, apple AppleProvider, browser BrowserSession, recorder Recorder, config ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  b,
		apple:    apple,
		browser:  browser,
		recorder: recorder,
		config:   config,
		logger:   logger,
	}
}

// SignInWithApple はApple認証で取得したIDトークンをバックエンドのセッションに交換する。
func (s *Service) SignInWithApple(ctx context.Context) (result model.AuthResult) {
	defer s.finish(model.ProviderApple, &result)

	// 1. 利用可否の確認（端末の恒久的な条件のため再試行しない）
	if s.apple == nil || !s.apple.IsAvailable(ctx) {
		return model.Failed(model.FailureUnavailable, model.MsgAppleUnavailable)
	}

	// 2. nonceの生成。生の値はバックエンドに、ハッシュはAppleに渡す
	pair := nonce.NewPair()

	// 3. 資格情報の要求（ユーザーが完了またはキャンセルするまで待機）
	cred, err := s.apple.SignIn(ctx, AppleRequest{
		Scopes: []AppleScope{AppleScopeFullName, AppleScopeEmail},
		Nonce:  pair.Hashed,
	})
	if err != nil {
		if isAppleCancellation(err) {
			return model.CancelledResult()
		}
		if errors.Is(err, ErrNonceMismatch) {
			return model.Failed(model.FailureMissingCredential, model.MsgNonceMismatch)
		}
		var appleErr *AppleError
		if errors.As(err, &appleErr) {
			if appleErr.Code == AppleErrInvalidResponse {
				return model.Failed(model.FailureMissingCredential, errorMessage(err))
			}
			return model.Failed(model.FailureRejected, errorMessage(err))
		}
		return model.Failed(model.FailureInternal, errorMessage(err))
	}

	// 4. IDトークンの確認
	if cred == nil || cred.IdentityToken == "" {
		return model.Failed(model.FailureMissingCredential, model.MsgNoIdentityToken)
	}

	// 5. バックエンドとのトークン交換
	if _, err := s.backend.SignInWithIDToken(ctx, backend.IDTokenCredentials{
		Provider: model.ProviderApple,
		Token:    cred.IdentityToken,
		Nonce:    pair.Raw,
	}); err != nil {
		return backendFailure(err)
	}

	// 6. 状態の反映はセッション変更通知に任せる
	return model.OK()
}

// SignInWithGoogle はブラウザでOAuthフローを行い、コールバックのトークンをセッションとして設定する。
func (s *Service) SignInWithGoogle(ctx context.Context) (result model.AuthResult) {
	defer s.finish(model.ProviderGoogle, &result)

	// 1. リダイレクトURI
	redirectURI := s.config.RedirectURI

	// 2. 認可URLの取得（バックエンド自身にはリダイレクトさせない）
	resp, err := s.backend.SignInWithOAuth(ctx, model.ProviderGoogle, backend.OAuthOptions{
		RedirectTo:          redirectURI,
		SkipBrowserRedirect: true,
	})
	if err != nil {
		return backendFailure(err)
	}

	// 3. URLの確認
	if resp == nil || resp.URL == "" {
		return model.Failed(model.FailureMissingCredential, model.MsgNoOAuthURL)
	}

	if s.browser == nil {
		return model.Failed(model.FailureInternal, model.MsgAuthFailed)
	}

	// 4. ブラウザセッション（リダイレクト、閉じる、キャンセルまで待機）
	res, err := s.browser.OpenAuthSession(ctx, resp.URL, redirectURI)
	if err != nil {
		return model.Failed(model.FailureInternal, errorMessage(err))
	}

	switch res.Type {
	case browser.ResultSuccess:
		// 5. コールバックURLの解析
		cb := ParseCallback(res.URL)
		switch cb.Kind {
		case CallbackTokens:
			if _, err := s.backend.SetSession(ctx, cb.AccessToken, cb.RefreshToken); err != nil {
				return backendFailure(err)
			}
			return model.OK()
		case CallbackError:
			return model.Failed(model.FailureRejected, cb.ErrorDescription)
		default:
			return model.Failed(model.FailureMissingCredential, model.MsgNoTokens)
		}
	case browser.ResultCancel, browser.ResultDismiss:
		// 6. キャンセルは正常な結果として扱う
		return model.CancelledResult()
	default:
		// 7. その他の結果
		return model.Failed(model.FailureInternal, model.MsgAuthFailed)
	}
}

// SignInWithGoogleToken はネイティブSDKが取得したGoogleのIDトークンを直接セッションに交換する。
// ブラウザによるフローは行わない。
func (s *Service) SignInWithGoogleToken(ctx context.Context, idToken, accessToken string) (result model.AuthResult) {
	defer s.finish(model.ProviderGoogle, &result)

	if idToken == "" {
		return model.Failed(model.FailureInvalidRequest, model.MsgMissingIDToken)
	}

	if _, err := s.backend.SignInWithIDToken(ctx, backend.IDTokenCredentials{
		Provider:    model.ProviderGoogle,
		Token:       idToken,
		AccessToken: accessToken,
	}); err != nil {
		return backendFailure(err)
	}
	return model.OK()
}

// SignOut はバックエンドのセッションを破棄する。
func (s *Service) SignOut(ctx context.Context) (result model.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("サインアウト処理でpanicが発生しました", slog.Any("panic", r))
			result = model.Failed(model.FailureInternal, model.MsgUnexpected)
		}
		if s.recorder != nil {
			s.recorder.RecordSignOut(result)
		}
		s.logger.Info("サインアウトが完了しました", slog.String("outcome", result.Outcome()))
	}()

	if err := s.backend.SignOut(ctx); err != nil {
		return backendFailure(err)
	}
	return model.OK()
}

// finish はフロー境界でpanicを回収し、結果を記録する。
func (s *Service) finish(provider model.Provider, result *model.AuthResult) {
	if r := recover(); r != nil {
		s.logger.Error("サインイン処理でpanicが発生しました",
			slog.String("provider", string(provider)),
			slog.Any("panic", r),
		)
		*result = model.Failed(model.FailureInternal, model.MsgUnexpected)
	}

	attrs := []any{
		slog.String("provider", string(provider)),
		slog.String("outcome", result.Outcome()),
	}
	if result.ShouldAlert() {
		attrs = append(attrs, slog.String("error", result.Error))
		s.logger.Warn("サインインに失敗しました", attrs...)
	} else {
		s.logger.Info("サインインが完了しました", attrs...)
	}

	if s.recorder != nil {
		s.recorder.RecordSignIn(provider, *result)
	}
}

// backendFailure はバックエンド呼び出しのエラーを分類済みの失敗結果に変換する。
// メッセージはサーバーのものをそのまま使う。
func backendFailure(err error) model.AuthResult {
	msg := backend.Message(err)
	var apiErr *backend.APIError
	switch {
	case backend.IsRejected(err):
		return model.Failed(model.FailureRejected, msg)
	case errors.Is(err, backend.ErrInvalidToken), errors.Is(err, backend.ErrNoSession):
		return model.Failed(model.FailureMissingCredential, msg)
	case errors.As(err, &apiErr), errors.Is(err, backend.ErrUnreachable):
		return model.Failed(model.FailureBackendUnavailable, msg)
	default:
		return model.Failed(model.FailureInternal, msg)
	}
}

// errorMessage は未分類のエラーを利用者向けメッセージに変換する。
func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return model.MsgUnexpected
	}
	return err.Error()
}
