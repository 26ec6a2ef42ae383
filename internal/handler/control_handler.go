package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/appauth/internal/middleware"
	"github.com/hitoshi/appauth/internal/model"
)

// AuthServiceInterface は制御APIが必要とするサインインフロー。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	SignInWithApple(ctx context.Context) model.AuthResult
	SignInWithGoogle(ctx context.Context) model.AuthResult
	SignInWithGoogleToken(ctx context.Context, idToken, accessToken string) model.AuthResult
	SignOut(ctx context.Context) model.AuthResult
}

// AuthStateInterface は制御APIが参照・更新する認証状態。
// store.Storeが実装する。
type AuthStateInterface interface {
	Snapshot() model.Snapshot
	ClearAuth()
}

// LocationReader はホストの現在地を返す。
type LocationReader interface {
	Path() string
}

// ControlHandler はUIからサインインフローを起動する制御APIのHTTPハンドラー。
type ControlHandler struct {
	service  AuthServiceInterface
	state    AuthStateInterface
	location LocationReader
}

// NewControlHandler はControlHandlerを生成する。locationはnilでもよい。
func NewControlHandler(service AuthServiceInterface, state AuthStateInterface, location LocationReader) *ControlHandler {
	return &ControlHandler{
		service:  service,
		state:    state,
		location: location,
	}
}

type resultResponse struct {
	Success bool `json:"success"`
}

type googleTokenRequest struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token,omitempty"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// stateResponse は認証状態のレスポンス。トークンは含めない。
type stateResponse struct {
	IsLoading       bool          `json:"is_loading"`
	IsAuthenticated bool          `json:"is_authenticated"`
	User            *userResponse `json:"user"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	Route           string        `json:"route,omitempty"`
}

// SignInWithGoogle はブラウザでのGoogleサインインを実行し、完了まで応答を保留する。
// POST /api/signin/google
func (h *ControlHandler) SignInWithGoogle(w http.ResponseWriter, r *http.Request) {
	writeAuthResult(w, h.service.SignInWithGoogle(r.Context()))
}

// SignInWithApple はAppleサインインを実行し、完了まで応答を保留する。
// POST /api/signin/apple
func (h *ControlHandler) SignInWithApple(w http.ResponseWriter, r *http.Request) {
	writeAuthResult(w, h.service.SignInWithApple(r.Context()))
}

// SignInWithGoogleToken はネイティブSDKが取得したIDトークンでサインインする。
// POST /api/signin/google/token
func (h *ControlHandler) SignInWithGoogleToken(w http.ResponseWriter, r *http.Request) {
	var req googleTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディを解析できません"))
		return
	}
	if req.IDToken == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("id_tokenは必須です"))
		return
	}

	writeAuthResult(w, h.service.SignInWithGoogleToken(r.Context(), req.IDToken, req.AccessToken))
}

// SignOut はサインアウトし、成功した場合は認証状態を初期化する。
// POST /api/signout
func (h *ControlHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	result := h.service.SignOut(r.Context())
	if result.Success {
		h.state.ClearAuth()
	}
	writeAuthResult(w, result)
}

// State は現在の認証状態と現在地を返す。
// GET /api/state
func (h *ControlHandler) State(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()

	resp := stateResponse{
		IsLoading:       snap.IsLoading,
		IsAuthenticated: snap.IsAuthenticated,
	}
	if snap.User != nil {
		resp.User = &userResponse{
			ID:    snap.User.ID,
			Email: snap.User.Email,
			Name:  snap.User.Name,
		}
	}
	if snap.Session != nil && !snap.Session.ExpiresAt.IsZero() {
		expiresAt := snap.Session.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	if h.location != nil {
		resp.Route = h.location.Path()
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health はヘルスチェックに応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeAuthResult はAuthResultを制御APIのレスポンスに変換する。
// キャンセルは正常な結果として200で返す。
func writeAuthResult(w http.ResponseWriter, result model.AuthResult) {
	if result.Success {
		writeJSON(w, http.StatusOK, resultResponse{Success: true})
		return
	}
	authErr := model.NewAuthErrorFromResult(result)
	middleware.WriteErrorResponse(w, mapAuthErrorToHTTPStatus(authErr), authErr)
}

// mapAuthErrorToHTTPStatus はエラーコードをHTTPステータスに対応づける。
func mapAuthErrorToHTTPStatus(authErr *model.AuthError) int {
	switch authErr.Code {
	case model.ErrCodeCancelled:
		return http.StatusOK
	case model.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeMissingCredential, model.ErrCodeBackendDown:
		return http.StatusBadGateway
	case model.ErrCodeBackendRejected:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
