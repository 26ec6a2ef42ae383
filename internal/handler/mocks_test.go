package handler

import (
	"context"
	"sync"

	"github.com/hitoshi/appauth/internal/browser"
	"github.com/hitoshi/appauth/internal/model"
	"github.com/hitoshi/appauth/internal/store"
)

// --- モック定義 ---

type mockCallbackSession struct {
	mu          sync.Mutex
	pending     bool
	completeFn  func(url string) error
	completed   []string
	cancelCalls int
}

func (m *mockCallbackSession) Complete(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, url)
	if m.completeFn != nil {
		return m.completeFn(url)
	}
	if !m.pending {
		return browser.ErrNoPendingSession
	}
	return nil
}

func (m *mockCallbackSession) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if !m.pending {
		return browser.ErrNoPendingSession
	}
	return nil
}

func (m *mockCallbackSession) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

type mockAuthService struct {
	signInWithAppleFn       func(ctx context.Context) model.AuthResult
	signInWithGoogleFn      func(ctx context.Context) model.AuthResult
	signInWithGoogleTokenFn func(ctx context.Context, idToken, accessToken string) model.AuthResult
	signOutFn               func(ctx context.Context) model.AuthResult
}

func (m *mockAuthService) SignInWithApple(ctx context.Context) model.AuthResult {
	if m.signInWithAppleFn != nil {
		return m.signInWithAppleFn(ctx)
	}
	return model.OK()
}

func (m *mockAuthService) SignInWithGoogle(ctx context.Context) model.AuthResult {
	if m.signInWithGoogleFn != nil {
		return m.signInWithGoogleFn(ctx)
	}
	return model.OK()
}

func (m *mockAuthService) SignInWithGoogleToken(ctx context.Context, idToken, accessToken string) model.AuthResult {
	if m.signInWithGoogleTokenFn != nil {
		return m.signInWithGoogleTokenFn(ctx, idToken, accessToken)
	}
	return model.OK()
}

func (m *mockAuthService) SignOut(ctx context.Context) model.AuthResult {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return model.OK()
}

type mockLocation struct {
	path string
}

func (m *mockLocation) Path() string { return m.path }

// --- compile-time interface checks ---
var _ CallbackSession = (*mockCallbackSession)(nil)
var _ CallbackSession = (*browser.Session)(nil)
var _ AuthServiceInterface = (*mockAuthService)(nil)
var _ AuthStateInterface = (*store.Store)(nil)
