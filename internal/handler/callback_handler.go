// Package handler はループバックホストのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/appauth/internal/auth"
	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/security"
)

// CallbackSession はブラウザ認証セッションの完了操作。
// browser.Sessionが実装する。
type CallbackSession interface {
	Complete(callbackURL string) error
	Cancel() error
	Pending() bool
}

// CallbackHandlerConfig はコールバックハンドラーの設定。
type CallbackHandlerConfig struct {
	// CallbackPath はOAuthのリダイレクト先パス（例: /auth/callback）。
	CallbackPath string
	// AppleRedirectURL はApple認証のリダイレクトURL。form_postの内容をこのURLのクエリとして中継する。
	AppleRedirectURL string
}

// CallbackHandler はブラウザからのコールバックを認証セッションへ中継するHTTPハンドラー。
type CallbackHandler struct {
	session   CallbackSession
	sanitizer security.MessageSanitizer
	config    CallbackHandlerConfig
}

// NewCallbackHandler はCallbackHandlerを生成する。
func NewCallbackHandler(session CallbackSession, sanitizer security.MessageSanitizer, config CallbackHandlerConfig) *CallbackHandler {
	if config.CallbackPath == "" {
		config.CallbackPath = "/auth/callback"
	}
	return &CallbackHandler{
		session:   session,
		sanitizer: sanitizer,
		config:    config,
	}
}

func (h *CallbackHandler) completePath() string { return h.config.CallbackPath + "/complete" }
func (h *CallbackHandler) cancelPath() string   { return h.config.CallbackPath + "/cancel" }

// Page はリダイレクト先のページを返す。
// GET /auth/callback
func (h *CallbackHandler) Page(w http.ResponseWriter, r *http.Request) {
	if !h.session.Pending() {
		renderPage(w, http.StatusConflict, pageData{
			Title:   "サインイン",
			Message: "進行中のサインインはありません。アプリからやり直してください。",
		})
		return
	}

	message := "サインイン処理を完了しています…"
	// クエリのエラーはサーバー側でも読めるため先に表示する
	if cb := auth.ParseCallback(r.URL.String()); cb.Kind == auth.CallbackError {
		message = h.sanitizer.Sanitize(cb.ErrorDescription)
	}

	renderPage(w, http.StatusOK, pageData{
		Title:        "サインイン",
		Message:      message,
		Relay:        true,
		CompletePath: h.completePath(),
		CancelPath:   h.cancelPath(),
	})
}

type completeRequest struct {
	URL string `json:"url"`
}

// Complete はページから中継されたURL（フラグメントを含む）でセッションを完了する。
// POST /auth/callback/complete
func (h *CallbackHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "invalid callback", http.StatusBadRequest)
		return
	}

	if err := h.session.Complete(req.URL); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cancel はユーザー操作で認証セッションをキャンセルする。
// POST /auth/callback/cancel
func (h *CallbackHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Cancel(); err != nil && !errors.Is(err, browser.ErrNoPendingSession) {
		slog.Error("認証セッションのキャンセルに失敗しました", slog.String("error", err.Error()))
	}
	renderPage(w, http.StatusOK, pageData{
		Title:   "サインイン",
		Message: "サインインをキャンセルしました。このウィンドウを閉じてください。",
	})
}

// AppleCallback はAppleからのform_postを受け取り、リダイレクトURLのクエリとして中継する。
// POST /auth/apple/callback
func (h *CallbackHandler) AppleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	callbackURL := h.config.AppleRedirectURL + "?" + r.PostForm.Encode()
	if err := h.session.Complete(callbackURL); err != nil {
		if errors.Is(err, browser.ErrNoPendingSession) {
			renderPage(w, http.StatusConflict, pageData{
				Title:   "Appleでサインイン",
				Message: "進行中のサインインはありません。アプリからやり直してください。",
			})
			return
		}
		h.writeSessionError(w, err)
		return
	}

	message := "サインイン処理を完了しました。このウィンドウを閉じてください。"
	if e := r.PostForm.Get("error"); e != "" {
		message = "サインインは完了しませんでした: " + h.sanitizer.Sanitize(e)
	}
	renderPage(w, http.StatusOK, pageData{
		Title:   "Appleでサインイン",
		Message: message,
	})
}

// writeSessionError はセッション操作のエラーをHTTPステータスに対応づける。
func (h *CallbackHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, browser.ErrNoPendingSession):
		http.Error(w, "no sign-in in progress", http.StatusConflict)
	case errors.Is(err, browser.ErrRedirectMismatch):
		slog.Warn("リダイレクトURIと一致しないコールバックを拒否しました")
		http.Error(w, "callback does not match", http.StatusBadRequest)
	default:
		slog.Error("コールバックの処理に失敗しました", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
