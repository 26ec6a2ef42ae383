// Package store は認証状態のスナップショットを保持する状態コンテナを提供する。
//
// Storeはプロセスごとに1つ明示的に生成し、ルーティングやUI層へ参照で渡す。
// スナップショットの更新はInitialize、SetSession、ClearAuthと
// バックエンドのセッション変更通知のみが行い、常に丸ごと置き換える。
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/appauth/internal/backend"
	"github.com/hitoshi/appauth/internal/model"
)

// ErrAlreadyInitialized はInitializeが2回以上呼ばれた場合のエラー。
var ErrAlreadyInitialized = errors.New("auth store is already initialized")

// ErrClosed はClose後にInitializeが呼ばれた場合のエラー。
var ErrClosed = errors.New("auth store is closed")

// SessionSource はStoreが参照するバックエンドの操作。
type SessionSource interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn backend.Listener) *backend.Subscription
}

// Observer はスナップショットの変更を受け取るコールバック。
// Observer内からStoreを更新してはならない。
type Observer = func(snapshot model.Snapshot)

type observerEntry struct {
	id string
	fn Observer
}

// Store は認証状態のスナップショットを保持する。
type Store struct {
	source SessionSource
	logger *slog.Logger

	mu          sync.RWMutex
	snapshot    model.Snapshot
	observers   []observerEntry
	sub         *backend.Subscription
	initialized bool
	closed      bool

	// notifyMu は更新と通知を直列化し、Observerが更新順にスナップショットを受け取るようにする。
	notifyMu sync.Mutex
}

// New はStoreを生成する。初期スナップショットはロード中。
func New(source SessionSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:   source,
		logger:   logger,
		snapshot: model.LoadingSnapshot(),
	}
}

// Initialize は現在のセッションを1度取得してスナップショットに反映し、
// 以降のセッション変更通知を購読する。
// セッション取得の失敗は伝播させず、ロード中を解除して未認証のままとする。
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.initialized = true
	s.mu.Unlock()

	session, err := s.source.GetSession(ctx)
	if err != nil {
		s.logger.Warn("セッションの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		session = nil
	}
	s.replace(model.SnapshotFromSession(session))

	sub := s.source.OnAuthStateChange(s.handleAuthStateChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("認証状態を初期化しました",
		slog.Bool("is_authenticated", session != nil),
	)
	return nil
}

// handleAuthStateChange は通知のたびに差分を取らずスナップショットを上書きする。
func (s *Store) handleAuthStateChange(event backend.Event, session *model.Session) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	s.logger.Debug("セッション変更通知を受信しました",
		slog.String("event", string(event)),
		slog.String("user_id", session.UserID()),
	)
	s.replace(model.SnapshotFromSession(session))
}

// SetSession はスナップショットを指定のセッションで直接上書きする。
func (s *Store) SetSession(session *model.Session) {
	s.replace(model.SnapshotFromSession(session))
}

// ClearAuth はスナップショットを未認証の初期状態に戻す。
func (s *Store) ClearAuth() {
	s.replace(model.Snapshot{})
}

// Snapshot は現在のスナップショットを返す。
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Subscribe はObserverを登録し、登録解除用の関数を返す。
// 解除関数は複数回呼び出しても安全。
func (s *Store) Subscribe(fn Observer) func() {
	id := uuid.New().String()

	s.mu.Lock()
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Close はバックエンドの購読を解除し、以降の通知を無視する。
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.observers = nil
	s.mu.Unlock()

	sub.Unsubscribe()
}

// replace はスナップショットを丸ごと置き換え、Observerへ通知する。
func (s *Store) replace(next model.Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.snapshot = next
	observers := make([]observerEntry, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(next)
	}
}
