package model

import (
	"testing"
	"time"
)

func TestSnapshotFromSession_NilIsUnauthenticated(t *testing.T) {
	snap := SnapshotFromSession(nil)

	if snap.IsAuthenticated {
		t.Error("expected IsAuthenticated=false for nil session")
	}
	if snap.Session != nil || snap.User != nil {
		t.Errorf("expected nil session and user, got %+v", snap)
	}
	if snap.IsLoading {
		t.Error("expected IsLoading=false")
	}
}

func TestSnapshotFromSession_UserIsProjectionOfSession(t *testing.T) {
	session := &Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		User:         User{ID: "user-1", Email: "user@example.com", Name: "User"},
	}

	snap := SnapshotFromSession(session)

	if !snap.IsAuthenticated {
		t.Fatal("expected IsAuthenticated=true")
	}
	if snap.User == nil || snap.User.ID != "user-1" {
		t.Fatalf("user = %+v, want id user-1", snap.User)
	}
	if snap.Session != session {
		t.Error("expected snapshot to reference the given session")
	}
}

func TestSession_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"zero expiry", time.Time{}, time.Minute, false},
		{"far future", now.Add(time.Hour), time.Minute, false},
		{"inside margin", now.Add(30 * time.Second), time.Minute, true},
		{"already expired", now.Add(-time.Second), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			if got := s.ExpiresWithin(now, tt.margin); got != tt.want {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthResult_ShouldAlert(t *testing.T) {
	tests := []struct {
		name   string
		result AuthResult
		want   bool
	}{
		{"success", OK(), false},
		{"cancelled", CancelledResult(), false},
		{"failure", Failed(FailureInternal, "boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.ShouldAlert(); got != tt.want {
				t.Errorf("ShouldAlert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCancelledResult_UniformMessage(t *testing.T) {
	r := CancelledResult()
	if r.Success {
		t.Error("expected Success=false")
	}
	if r.Error != "Sign-in was cancelled" {
		t.Errorf("Error = %q, want %q", r.Error, "Sign-in was cancelled")
	}
	if !r.Cancelled {
		t.Error("expected Cancelled=true")
	}
}

func TestNewAuthErrorFromResult_Categories(t *testing.T) {
	tests := []struct {
		name     string
		result   AuthResult
		wantCode string
	}{
		{"unavailable", Failed(FailureUnavailable, MsgAppleUnavailable), ErrCodeUnavailable},
		{"missing identity token", Failed(FailureMissingCredential, MsgNoIdentityToken), ErrCodeMissingCredential},
		{"missing oauth url", Failed(FailureMissingCredential, MsgNoOAuthURL), ErrCodeMissingCredential},
		{"cancelled", CancelledResult(), ErrCodeCancelled},
		{"unexpected", Failed(FailureInternal, MsgUnexpected), ErrCodeUnknown},
		{"backend message", Failed(FailureRejected, "Invalid login credentials"), ErrCodeBackendRejected},
		{"backend unavailable", Failed(FailureBackendUnavailable, "request to auth backend failed: connection refused"), ErrCodeBackendDown},
		{"missing id token input", Failed(FailureInvalidRequest, MsgMissingIDToken), ErrCodeInvalidRequest},
		{"browser open failure", Failed(FailureInternal, "failed to open browser: exec: \"xdg-open\": executable file not found"), ErrCodeUnknown},
		{"session storage failure", Failed(FailureInternal, "failed to save session: connection refused"), ErrCodeUnknown},
		{"unclassified", AuthResult{Error: "Invalid login credentials"}, ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := NewAuthErrorFromResult(tt.result)
			if apiErr == nil {
				t.Fatal("expected non-nil error")
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Message != tt.result.Error {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.result.Error)
			}
		})
	}

	if NewAuthErrorFromResult(OK()) != nil {
		t.Error("expected nil for success result")
	}
}
