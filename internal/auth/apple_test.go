package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/appauth/internal/backend"
	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/model"
	"github.com/hitoshi/appauth/internal/nonce"
)

const testAppleRedirect = "http://127.0.0.1:53682/auth/apple/callback"

func newTestAppleProvider(br BrowserSession) *AppleWebProvider {
	return NewAppleWebProvider(AppleWebConfig{
		ClientID:    "com.example.appauth.web",
		RedirectURL: testAppleRedirect,
		AuthURL:     "https://appleid.example.com/auth/authorize",
	}, br)
}

func signAppleToken(t *testing.T, sub, email, hashedNonce string) string {
	t.Helper()
	claims := appleIdentityClaims{
		Email: email,
		Nonce: hashedNonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "https://appleid.apple.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// formPostBrowser はAppleのform_postを模してstateを引き継いだコールバックURLを返す。
func formPostBrowser(t *testing.T, fields url.Values) *mockBrowser {
	return &mockBrowser{openFn: func(_ context.Context, authURL, redirectURI string) (browser.Result, error) {
		if redirectURI != testAppleRedirect {
			t.Errorf("redirectURI = %q, want %q", redirectURI, testAppleRedirect)
		}
		u, err := url.Parse(authURL)
		if err != nil {
			t.Fatalf("invalid authorize URL: %v", err)
		}
		form := url.Values{}
		for k, v := range fields {
			form[k] = v
		}
		if form.Get("state") == "" {
			form.Set("state", u.Query().Get("state"))
		}
		return browser.Result{Type: browser.ResultSuccess, URL: redirectURI + "?" + form.Encode()}, nil
	}}
}

func TestAppleWebProvider_IsAvailable(t *testing.T) {
	br := &mockBrowser{}
	if !newTestAppleProvider(br).IsAvailable(context.Background()) {
		t.Error("expected provider to be available")
	}

	p := NewAppleWebProvider(AppleWebConfig{RedirectURL: testAppleRedirect}, br)
	if p.IsAvailable(context.Background()) {
		t.Error("expected provider without client ID to be unavailable")
	}

	p = NewAppleWebProvider(AppleWebConfig{ClientID: "id", RedirectURL: testAppleRedirect}, nil)
	if p.IsAvailable(context.Background()) {
		t.Error("expected provider without browser to be unavailable")
	}
}

func TestAppleWebProvider_GetAuthorizeURL(t *testing.T) {
	p := newTestAppleProvider(&mockBrowser{})
	pair := nonce.NewPair()

	raw := p.GetAuthorizeURL(AppleRequest{
		Scopes: []AppleScope{AppleScopeFullName, AppleScopeEmail},
		Nonce:  pair.Hashed,
	}, "state-123")

	if !strings.HasPrefix(raw, "https://appleid.example.com/auth/authorize?") {
		t.Fatalf("unexpected URL: %s", raw)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	checks := map[string]string{
		"client_id":     "com.example.appauth.web",
		"redirect_uri":  testAppleRedirect,
		"response_type": "code id_token",
		"response_mode": "form_post",
		"scope":         "name email",
		"state":         "state-123",
		"nonce":         pair.Hashed,
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestAppleWebProvider_DefaultAuthURL(t *testing.T) {
	p := NewAppleWebProvider(AppleWebConfig{ClientID: "id", RedirectURL: testAppleRedirect}, &mockBrowser{})
	if !strings.HasPrefix(p.GetAuthorizeURL(AppleRequest{}, "s"), defaultAppleAuthURL+"?") {
		t.Error("expected default Apple authorize URL")
	}
}

func TestAppleWebProvider_SignIn_Success(t *testing.T) {
	pair := nonce.NewPair()
	token := signAppleToken(t, "001234.abcdef", "relay@privaterelay.appleid.com", pair.Hashed)

	br := formPostBrowser(t, url.Values{
		"id_token": {token},
		"code":     {"auth-code"},
		"user":     {`{"name":{"firstName":"Taro","lastName":"Yamada"},"email":"taro@example.com"}`},
	})
	p := newTestAppleProvider(br)

	cred, err := p.SignIn(context.Background(), AppleRequest{
		Scopes: []AppleScope{AppleScopeFullName, AppleScopeEmail},
		Nonce:  pair.Hashed,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.IdentityToken != token {
		t.Error("identity token not propagated")
	}
	if cred.AuthorizationCode != "auth-code" {
		t.Errorf("code = %q", cred.AuthorizationCode)
	}
	if cred.User != "001234.abcdef" {
		t.Errorf("user = %q", cred.User)
	}
	if cred.Email != "taro@example.com" {
		t.Errorf("email = %q, want the first-login user email", cred.Email)
	}
	if cred.FullName != "Taro Yamada" {
		t.Errorf("full name = %q", cred.FullName)
	}
}

func TestAppleWebProvider_SignIn_EmailFromToken(t *testing.T) {
	pair := nonce.NewPair()
	token := signAppleToken(t, "sub", "token@example.com", pair.Hashed)
	p := newTestAppleProvider(formPostBrowser(t, url.Values{"id_token": {token}}))

	cred, err := p.SignIn(context.Background(), AppleRequest{Nonce: pair.Hashed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Email != "token@example.com" {
		t.Errorf("email = %q", cred.Email)
	}
}

func TestAppleWebProvider_SignIn_NoIdentityToken(t *testing.T) {
	p := newTestAppleProvider(formPostBrowser(t, url.Values{"code": {"auth-code"}}))

	cred, err := p.SignIn(context.Background(), AppleRequest{Nonce: "hash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.IdentityToken != "" {
		t.Error("expected empty identity token")
	}
}

func TestAppleWebProvider_SignIn_NonceMismatch(t *testing.T) {
	token := signAppleToken(t, "sub", "", nonce.Hash("other-attempt"))
	p := newTestAppleProvider(formPostBrowser(t, url.Values{"id_token": {token}}))

	_, err := p.SignIn(context.Background(), AppleRequest{Nonce: nonce.Hash("this-attempt")})
	if !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("err = %v, want ErrNonceMismatch", err)
	}
}

func TestAppleWebProvider_SignIn_StateMismatch(t *testing.T) {
	p := newTestAppleProvider(formPostBrowser(t, url.Values{"state": {"forged"}, "id_token": {"x"}}))

	_, err := p.SignIn(context.Background(), AppleRequest{})
	var appleErr *AppleError
	if !errors.As(err, &appleErr) || appleErr.Code != AppleErrInvalidResponse {
		t.Errorf("err = %v, want ERR_INVALID_RESPONSE", err)
	}
}

func TestAppleWebProvider_SignIn_InvalidToken(t *testing.T) {
	p := newTestAppleProvider(formPostBrowser(t, url.Values{"id_token": {"not-a-jwt"}}))

	_, err := p.SignIn(context.Background(), AppleRequest{})
	var appleErr *AppleError
	if !errors.As(err, &appleErr) || appleErr.Code != AppleErrInvalidResponse {
		t.Errorf("err = %v, want ERR_INVALID_RESPONSE", err)
	}
}

func TestAppleWebProvider_SignIn_Cancellation(t *testing.T) {
	tests := []struct {
		name string
		br   *mockBrowser
	}{
		{
			name: "user_cancelled_authorize",
			br:   formPostBrowser(t, url.Values{"error": {"user_cancelled_authorize"}}),
		},
		{
			name: "browser cancel",
			br: &mockBrowser{openFn: func(context.Context, string, string) (browser.Result, error) {
				return browser.Result{Type: browser.ResultCancel}, nil
			}},
		},
		{
			name: "browser dismiss",
			br: &mockBrowser{openFn: func(context.Context, string, string) (browser.Result, error) {
				return browser.Result{Type: browser.ResultDismiss}, nil
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAppleProvider(tt.br).SignIn(context.Background(), AppleRequest{})
			if !isAppleCancellation(err) {
				t.Errorf("err = %v, want cancellation", err)
			}
		})
	}
}

func TestAppleWebProvider_SignIn_Failures(t *testing.T) {
	tests := []struct {
		name string
		br   *mockBrowser
	}{
		{
			name: "apple error",
			br:   formPostBrowser(t, url.Values{"error": {"invalid_request"}}),
		},
		{
			name: "locked",
			br: &mockBrowser{openFn: func(context.Context, string, string) (browser.Result, error) {
				return browser.Result{Type: browser.ResultLocked}, nil
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestAppleProvider(tt.br).SignIn(context.Background(), AppleRequest{})
			var appleErr *AppleError
			if !errors.As(err, &appleErr) || appleErr.Code != AppleErrRequestFailed {
				t.Errorf("err = %v, want ERR_REQUEST_FAILED", err)
			}
			if isAppleCancellation(err) {
				t.Error("failure must not be treated as cancellation")
			}
		})
	}
}

// サービス経由でWeb版Apple認証が通しで動作することを確認する。
func TestSignInWithApple_WebProviderEndToEnd(t *testing.T) {
	var sentHash string
	br := &mockBrowser{openFn: func(_ context.Context, authURL, redirectURI string) (browser.Result, error) {
		u, _ := url.Parse(authURL)
		sentHash = u.Query().Get("nonce")
		form := url.Values{
			"state":    {u.Query().Get("state")},
			"id_token": {signAppleToken(t, "sub", "", sentHash)},
		}
		return browser.Result{Type: browser.ResultSuccess, URL: redirectURI + "?" + form.Encode()}, nil
	}}

	var rawNonce string
	b := &mockBackend{}
	b.signInWithIDTokenFn = func(_ context.Context, creds backend.IDTokenCredentials) (*model.Session, error) {
		rawNonce = creds.Nonce
		return &model.Session{}, nil
	}

	svc := newTestService(b, newTestAppleProvider(br), nil, nil)
	result := svc.SignInWithApple(context.Background())

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if nonce.Hash(rawNonce) != sentHash {
		t.Error("backend nonce does not hash to the value sent to Apple")
	}
}
