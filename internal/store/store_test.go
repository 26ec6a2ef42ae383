package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/appauth/internal/backend"
	"github.com/hitoshi/appauth/internal/model"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- モック定義 ---

type fakeSource struct {
	mu         sync.Mutex
	session    *model.Session
	err        error
	listeners  []backend.Listener
	getCalls   int
	subscribed bool
}

func (f *fakeSource) GetSession(_ context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return f.session, f.err
}

func (f *fakeSource) OnAuthStateChange(fn backend.Listener) *backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	f.subscribed = true
	return &backend.Subscription{ID: "fake"}
}

func (f *fakeSource) emit(event backend.Event, session *model.Session) {
	f.mu.Lock()
	listeners := append([]backend.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(event, session)
	}
}

var _ SessionSource = (*fakeSource)(nil)
var _ SessionSource = (*backend.Client)(nil)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testSession(id string) *model.Session {
	return &model.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.User{ID: id, Email: id + "@example.com"},
	}
}

func TestNew_StartsLoading(t *testing.T) {
	s := New(&fakeSource{}, newTestLogger())

	snap := s.Snapshot()
	if !snap.IsLoading {
		t.Error("new store must be loading")
	}
	if snap.IsAuthenticated || snap.Session != nil || snap.User != nil {
		t.Errorf("new store must be unauthenticated: %+v", snap)
	}
}

func TestInitialize_WithSession(t *testing.T) {
	src := &fakeSource{session: testSession("user-1")}
	s := New(src, newTestLogger())
	defer s.Close()

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := s.Snapshot()
	if snap.IsLoading {
		t.Error("isLoading must be false after initialize")
	}
	if !snap.IsAuthenticated {
		t.Error("isAuthenticated must be true when a session exists")
	}
	if snap.User == nil || snap.User.ID != "user-1" {
		t.Errorf("user = %+v, want user-1", snap.User)
	}
	if !src.subscribed {
		t.Error("store must subscribe to session changes")
	}
}

func TestInitialize_WithoutSession(t *testing.T) {
	s := New(&fakeSource{}, newTestLogger())
	defer s.Close()

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := s.Snapshot()
	if snap.IsLoading || snap.IsAuthenticated {
		t.Errorf("snapshot = %+v, want loaded and unauthenticated", snap)
	}
}

func TestInitialize_FetchErrorOnlyClearsLoading(t *testing.T) {
	src := &fakeSource{session: testSession("ignored"), err: errors.New("network unreachable")}
	s := New(src, newTestLogger())
	defer s.Close()

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("fetch failure must not propagate: %v", err)
	}

	snap := s.Snapshot()
	if snap != (model.Snapshot{}) {
		t.Errorf("snapshot = %+v, want unauthenticated default", snap)
	}
	if !src.subscribed {
		t.Error("store must still subscribe after a failed fetch")
	}
}

func TestInitialize_OnlyOnce(t *testing.T) {
	src := &fakeSource{}
	s := New(src, newTestLogger())
	defer s.Close()

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Initialize(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize err = %v, want ErrAlreadyInitialized", err)
	}
	if src.getCalls != 1 {
		t.Errorf("GetSession called %d times, want 1", src.getCalls)
	}
}

func TestInitialize_AfterClose(t *testing.T) {
	s := New(&fakeSource{}, newTestLogger())
	s.Close()

	if err := s.Initialize(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNotifications_OverwriteInOrder(t *testing.T) {
	src := &fakeSource{}
	s := New(src, newTestLogger())
	defer s.Close()

	var seen []string
	s.Subscribe(func(snap model.Snapshot) {
		if snap.User == nil {
			seen = append(seen, "")
			return
		}
		seen = append(seen, snap.User.ID)
	})

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src.emit(backend.EventSignedIn, testSession("a"))
	src.emit(backend.EventTokenRefreshed, testSession("a"))
	src.emit(backend.EventSignedOut, nil)
	src.emit(backend.EventSignedIn, testSession("b"))

	want := []string{"", "a", "a", "", "b"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	snap := s.Snapshot()
	if !snap.IsAuthenticated || snap.User.ID != "b" {
		t.Errorf("final snapshot = %+v", snap)
	}
}

func TestClearAuth_AlwaysUnauthenticated(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Store)
	}{
		{"from loading", func(*Store) {}},
		{"from authenticated", func(s *Store) { s.SetSession(testSession("u")) }},
		{"from unauthenticated", func(s *Store) { s.ClearAuth() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeSource{}, newTestLogger())
			tt.setup(s)

			s.ClearAuth()

			snap := s.Snapshot()
			if snap.Session != nil || snap.User != nil || snap.IsAuthenticated || snap.IsLoading {
				t.Errorf("snapshot = %+v, want unauthenticated default", snap)
			}
		})
	}
}

func TestSetSession_Overwrites(t *testing.T) {
	s := New(&fakeSource{}, newTestLogger())

	s.SetSession(testSession("u1"))
	snap := s.Snapshot()
	if !snap.IsAuthenticated || snap.IsLoading || snap.User.ID != "u1" {
		t.Errorf("snapshot = %+v", snap)
	}

	s.SetSession(nil)
	if s.Snapshot().IsAuthenticated {
		t.Error("SetSession(nil) must yield unauthenticated")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := New(&fakeSource{}, newTestLogger())

	calls := 0
	unsubscribe := s.Subscribe(func(model.Snapshot) { calls++ })

	s.SetSession(testSession("u"))
	unsubscribe()
	unsubscribe()
	s.ClearAuth()

	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
}

func TestClose_IgnoresLaterNotifications(t *testing.T) {
	src := &fakeSource{}
	s := New(src, newTestLogger())
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Close()
	s.Close()
	src.emit(backend.EventSignedIn, testSession("late"))

	if s.Snapshot().IsAuthenticated {
		t.Error("notifications after Close must be ignored")
	}
}

// 実際のバックエンドクライアントに対して購読の解除を確認する。
func TestClose_UnsubscribesFromBackend(t *testing.T) {
	storage := backend.NewMemoryStorage()
	data, err := json.Marshal(testSession("stored"))
	if err != nil {
		t.Fatalf("failed to marshal session: %v", err)
	}
	if err := storage.Save(context.Background(), "sb-session", data); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	client := backend.NewClient(backend.Config{URL: "http://127.0.0.1:1", AnonKey: "anon"}, storage)
	s := New(client, newTestLogger())

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Snapshot().IsAuthenticated {
		t.Error("stored session must authenticate the store")
	}
	if got := client.ListenerCount(); got != 1 {
		t.Errorf("ListenerCount = %d, want 1", got)
	}

	s.Close()

	if got := client.ListenerCount(); got != 0 {
		t.Errorf("ListenerCount after Close = %d, want 0", got)
	}
}

func TestConcurrentMutations_SnapshotIsConsistent(t *testing.T) {
	src := &fakeSource{}
	s := New(src, newTestLogger())
	defer s.Close()
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetSession(testSession("c"))
		}()
		go func() {
			defer wg.Done()
			s.ClearAuth()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.IsAuthenticated != (snap.Session != nil) || (snap.User != nil) != (snap.Session != nil) {
		t.Errorf("inconsistent snapshot: %+v", snap)
	}
}
