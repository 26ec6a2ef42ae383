package handler

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/security"
)

const testAppleRedirect = "https://relay.example.com/auth/apple/callback"

func newTestCallbackHandler(session CallbackSession) *CallbackHandler {
	return NewCallbackHandler(session, security.NewMessageSanitizer(), CallbackHandlerConfig{
		CallbackPath:     "/auth/callback",
		AppleRedirectURL: testAppleRedirect,
	})
}

func TestCallbackHandler_Page_RelaysLocation(t *testing.T) {
	h := newTestCallbackHandler(&mockCallbackSession{pending: true})

	w := httptest.NewRecorder()
	h.Page(w, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "window.location.href") {
		t.Error("page must relay window.location.href")
	}
	if !strings.Contains(body, "fetch(") {
		t.Error("page must post the location to the host")
	}
	if !strings.Contains(body, `action="/auth/callback/cancel"`) {
		t.Error("page must offer a cancel action")
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "script-src 'nonce-") {
		t.Errorf("CSP = %q, want script nonce", csp)
	}
}

func TestCallbackHandler_Page_SanitizesQueryError(t *testing.T) {
	h := newTestCallbackHandler(&mockCallbackSession{pending: true})

	q := url.Values{"error_description": {`<script>alert(1)</script>Email link is invalid`}}
	w := httptest.NewRecorder()
	h.Page(w, httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil))

	body := w.Body.String()
	if strings.Contains(body, "alert(1)") {
		t.Error("error text must be sanitized")
	}
	if !strings.Contains(body, "Email link is invalid") {
		t.Error("sanitized error text must be shown")
	}
}

func TestCallbackHandler_Page_NoPendingSession(t *testing.T) {
	h := newTestCallbackHandler(&mockCallbackSession{})

	w := httptest.NewRecorder()
	h.Page(w, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if strings.Contains(w.Body.String(), "window.location.href") {
		t.Error("page must not relay without a pending session")
	}
}

func TestCallbackHandler_Complete(t *testing.T) {
	session := &mockCallbackSession{pending: true}
	h := newTestCallbackHandler(session)

	body := `{"url":"http://127.0.0.1:53682/auth/callback#access_token=A&refresh_token=B"}`
	w := httptest.NewRecorder()
	h.Complete(w, httptest.NewRequest(http.MethodPost, "/auth/callback/complete", strings.NewReader(body)))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if len(session.completed) != 1 || session.completed[0] != "http://127.0.0.1:53682/auth/callback#access_token=A&refresh_token=B" {
		t.Errorf("completed = %v", session.completed)
	}
}

func TestCallbackHandler_Complete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		session    *mockCallbackSession
		wantStatus int
	}{
		{"invalid json", `{`, &mockCallbackSession{pending: true}, http.StatusBadRequest},
		{"missing url", `{}`, &mockCallbackSession{pending: true}, http.StatusBadRequest},
		{"no pending session", `{"url":"x"}`, &mockCallbackSession{}, http.StatusConflict},
		{
			"redirect mismatch",
			`{"url":"https://evil.example.com"}`,
			&mockCallbackSession{pending: true, completeFn: func(string) error { return browser.ErrRedirectMismatch }},
			http.StatusBadRequest,
		},
		{
			"unexpected",
			`{"url":"x"}`,
			&mockCallbackSession{pending: true, completeFn: func(string) error { return errors.New("boom") }},
			http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestCallbackHandler(tt.session)
			w := httptest.NewRecorder()
			h.Complete(w, httptest.NewRequest(http.MethodPost, "/auth/callback/complete", strings.NewReader(tt.body)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestCallbackHandler_Cancel(t *testing.T) {
	session := &mockCallbackSession{pending: true}
	h := newTestCallbackHandler(session)

	w := httptest.NewRecorder()
	h.Cancel(w, httptest.NewRequest(http.MethodPost, "/auth/callback/cancel", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if session.cancelCalls != 1 {
		t.Errorf("cancel calls = %d, want 1", session.cancelCalls)
	}
}

func TestCallbackHandler_AppleCallback_RelaysFormAsQuery(t *testing.T) {
	session := &mockCallbackSession{pending: true}
	h := newTestCallbackHandler(session)

	form := url.Values{
		"state":    {"state-1"},
		"code":     {"auth-code"},
		"id_token": {"header.payload.sig"},
		"user":     {`{"email":"taro@example.com"}`},
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/apple/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.AppleCallback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(session.completed) != 1 {
		t.Fatalf("completed = %v", session.completed)
	}
	got := session.completed[0]
	if !strings.HasPrefix(got, testAppleRedirect+"?") {
		t.Errorf("callback URL = %q, want prefix %q", got, testAppleRedirect)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid callback URL: %v", err)
	}
	for k, v := range form {
		if u.Query().Get(k) != v[0] {
			t.Errorf("%s = %q, want %q", k, u.Query().Get(k), v[0])
		}
	}
}

func TestCallbackHandler_AppleCallback_ErrorIsSanitized(t *testing.T) {
	session := &mockCallbackSession{pending: true}
	h := newTestCallbackHandler(session)

	form := url.Values{"error": {"<b>user_cancelled_authorize</b>"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/apple/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.AppleCallback(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	if strings.Contains(string(body), "<b>") {
		t.Error("error must be sanitized")
	}
	if !strings.Contains(string(body), "user_cancelled_authorize") {
		t.Error("error text must be shown")
	}
}

func TestCallbackHandler_AppleCallback_NoPendingSession(t *testing.T) {
	h := newTestCallbackHandler(&mockCallbackSession{})

	req := httptest.NewRequest(http.MethodPost, "/auth/apple/callback", strings.NewReader("code=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.AppleCallback(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}
