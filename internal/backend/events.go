package backend

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/appauth/internal/model"
)

// Event はセッション変更通知の種別。
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener はセッション変更通知を受け取るコールバック。
// サインアウト時のsessionはnil。
type Listener func(event Event, session *model.Session)

// Subscription はOnAuthStateChangeの購読ハンドル。
type Subscription struct {
	ID         string
	dispatcher *dispatcher
}

// Unsubscribe は購読を解除する。複数回呼び出しても安全。
func (s *Subscription) Unsubscribe() {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.remove(s.ID)
}

type listenerEntry struct {
	id string
	fn Listener
}

// dispatcher はリスナー一覧を管理し、通知を発行順に配送する。
type dispatcher struct {
	mu        sync.Mutex
	listeners []listenerEntry

	// emitMu は通知配送を直列化し、発行順と適用順を一致させる。
	emitMu sync.Mutex
}

func (d *dispatcher) add(fn Listener) *Subscription {
	id := uuid.New().String()
	d.mu.Lock()
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()
	return &Subscription{ID: id, dispatcher: d}
}

func (d *dispatcher) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// emit は全リスナーへ同期的に通知を配送する。
func (d *dispatcher) emit(event Event, session *model.Session) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	snapshot := make([]listenerEntry, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	for _, l := range snapshot {
		l.fn(event, session)
	}
}
