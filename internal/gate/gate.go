// Package gate は認証状態に応じて保護領域と未認証領域の間のナビゲーションを決定する。
package gate

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/appauth/internal/model"
)

// Area は現在地の分類。
type Area int

const (
	AreaOther Area = iota
	AreaUnauthenticated
	AreaProtected
)

// String はAreaの名前を返す。
func (a Area) String() string {
	switch a {
	case AreaUnauthenticated:
		return "unauthenticated"
	case AreaProtected:
		return "protected"
	default:
		return "other"
	}
}

// Routes は各領域の入口となる画面。
type Routes struct {
	Unauthenticated string
	Protected       string
}

// Navigator はホストのナビゲーション操作。
type Navigator interface {
	CurrentArea() Area
	Navigate(route string)
}

// SnapshotSource はGateが購読するスナップショットの供給元。store.Storeが実装する。
type SnapshotSource interface {
	Snapshot() model.Snapshot
	Subscribe(fn func(model.Snapshot)) func()
}

// Decide は遷移規則を評価し、遷移先と遷移の要否を返す。
//
//   - ロード中は遷移しない
//   - 未認証で未認証領域の外にいる場合は未認証の入口へ
//   - 認証済みで未認証領域にいる場合は保護領域の入口へ
//
// 認証済みでどちらの領域にもいない場合はその場に留まる。
func Decide(snap model.Snapshot, area Area, routes Routes) (string, bool) {
	if snap.IsLoading {
		return "", false
	}
	if !snap.IsAuthenticated {
		if area != AreaUnauthenticated {
			return routes.Unauthenticated, true
		}
		return "", false
	}
	if area == AreaUnauthenticated {
		return routes.Protected, true
	}
	return "", false
}

// Gate はスナップショットの変更ごとに遷移規則を評価し、必要なら1度だけ遷移する。
type Gate struct {
	source SnapshotSource
	nav    Navigator
	routes Routes
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// New はGateを生成する。Attachするまで評価は行わない。
func New(source SnapshotSource, nav Navigator, routes Routes, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		source: source,
		nav:    nav,
		routes: routes,
		logger: logger,
	}
}

// Attach はスナップショットの購読を開始し、現在の状態で1度評価する。
func (g *Gate) Attach() {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.mu.Unlock()
		return
	}
	g.unsubscribe = g.source.Subscribe(g.evaluate)
	g.mu.Unlock()

	g.Evaluate()
}

// Evaluate は現在のスナップショットと現在地で遷移規則を評価する。
// ナビゲーション側で現在地が変わったときにも呼び出す。
func (g *Gate) Evaluate() {
	g.evaluate(g.source.Snapshot())
}

func (g *Gate) evaluate(snap model.Snapshot) {
	area := g.nav.CurrentArea()
	route, ok := Decide(snap, area, g.routes)
	if !ok {
		return
	}
	g.logger.Info("認証状態に応じて画面を遷移します",
		slog.String("from_area", area.String()),
		slog.String("to", route),
		slog.Bool("is_authenticated", snap.IsAuthenticated),
	)
	g.nav.Navigate(route)
}

// Close は購読を解除する。
func (g *Gate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
