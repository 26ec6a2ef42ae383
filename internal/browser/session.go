// Package browser はOS標準ブラウザを使った認証セッションを提供する。
//
// 認可URLをシステムブラウザで開き、リダイレクト先（ループバックのコールバック）に
// 戻ってくるまで呼び出し元を待機させる。同時に進行できるセッションは1つのみ。
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	sysbrowser "github.com/pkg/browser"
)

// ResultType は認証セッションの終了種別。
type ResultType string

const (
	// ResultSuccess はリダイレクトURIへの遷移で終了したことを示す。
	ResultSuccess ResultType = "success"
	// ResultCancel はユーザーがキャンセルしたことを示す。
	ResultCancel ResultType = "cancel"
	// ResultDismiss はセッションが閉じられたことを示す。
	ResultDismiss ResultType = "dismiss"
	// ResultLocked は別のセッションが進行中で開始できなかったことを示す。
	ResultLocked ResultType = "locked"
)

// Result は認証セッションの結果。URLはResultSuccessの場合のみ設定される。
type Result struct {
	Type ResultType
	URL  string
}

// ErrNoPendingSession は待機中のセッションがない状態でコールバックを受けた場合のエラー。
var ErrNoPendingSession = errors.New("no auth session is pending")

// ErrRedirectMismatch はコールバックURLが待機中セッションのリダイレクトURIと一致しない場合のエラー。
var ErrRedirectMismatch = errors.New("callback does not match the pending redirect URI")

// Opener は指定URLをブラウザで開く関数。
type Opener func(url string) error

type pendingSession struct {
	id          string
	redirectURI string
	done        chan Result
}

// Session はループバックのコールバックで完了する認証セッションを管理する。
type Session struct {
	open   Opener
	logger *slog.Logger

	mu      sync.Mutex
	pending *pendingSession
}

// NewSession はSessionを生成する。openがnilの場合はシステムブラウザを使用する。
func NewSession(open Opener, logger *slog.Logger) *Session {
	if open == nil {
		open = sysbrowser.OpenURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{open: open, logger: logger}
}

// OpenAuthSession は認可URLをブラウザで開き、セッションの終了を待つ。
// コールバック受信でsuccess、キャンセル操作でcancel、ctxの終了でdismissを返す。
func (s *Session) OpenAuthSession(ctx context.Context, authURL, redirectURI string) (Result, error) {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return Result{Type: ResultLocked}, nil
	}
	p := &pendingSession{
		id:          uuid.New().String(),
		redirectURI: redirectURI,
		done:        make(chan Result, 1),
	}
	s.pending = p
	s.mu.Unlock()

	defer s.clear(p)

	s.logger.Info("認証セッションを開始します",
		slog.String("session_id", p.id),
		slog.String("redirect_uri", redirectURI),
	)

	if err := s.open(authURL); err != nil {
		return Result{}, fmt.Errorf("failed to open browser: %w", err)
	}

	select {
	case r := <-p.done:
		s.logger.Info("認証セッションが完了しました",
			slog.String("session_id", p.id),
			slog.String("type", string(r.Type)),
		)
		return r, nil
	case <-ctx.Done():
		s.logger.Info("認証セッションが閉じられました", slog.String("session_id", p.id))
		return Result{Type: ResultDismiss}, nil
	}
}

// Complete はリダイレクト先で受け取ったURLでセッションを完了する。
// URLは待機中セッションのリダイレクトURIそのもの、またはその直後が?、#、/で続くものに限る。
func (s *Session) Complete(callbackURL string) error {
	return s.deliver(Result{Type: ResultSuccess, URL: callbackURL}, func(p *pendingSession) error {
		if !matchesRedirect(callbackURL, p.redirectURI) {
			return ErrRedirectMismatch
		}
		return nil
	})
}

// Cancel はユーザー操作によりセッションをキャンセルする。
func (s *Session) Cancel() error {
	return s.deliver(Result{Type: ResultCancel}, nil)
}

// Pending は待機中のセッションがあるかを返す。
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// deliver は待機中セッションに結果を渡す。checkは同じロックの中で待機中セッションに対して評価する。
func (s *Session) deliver(r Result, check func(p *pendingSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoPendingSession
	}
	if check != nil {
		if err := check(s.pending); err != nil {
			return err
		}
	}
	s.pending.done <- r
	s.pending = nil
	return nil
}

// matchesRedirect はcallbackURLがredirectURIを指しているかを返す。
func matchesRedirect(callbackURL, redirectURI string) bool {
	if !strings.HasPrefix(callbackURL, redirectURI) {
		return false
	}
	rest := callbackURL[len(redirectURI):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case '?', '#', '/':
		return true
	}
	return false
}

func (s *Session) clear(p *pendingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == p {
		s.pending = nil
	}
}
