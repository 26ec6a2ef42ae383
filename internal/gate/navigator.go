package gate

import (
	"strings"
	"sync"
)

// MemoryNavigator はパスを保持するだけのNavigator実装。
// ホストがUIを持たない場合の現在地として使う。
type MemoryNavigator struct {
	mu        sync.RWMutex
	path      string
	history   []string
	areas     map[string]Area
	listeners []func()
}

// NewMemoryNavigator は各領域の入口パスを前置詞としてMemoryNavigatorを生成する。
func NewMemoryNavigator(start string, routes Routes) *MemoryNavigator {
	return &MemoryNavigator{
		path: start,
		areas: map[string]Area{
			routes.Unauthenticated: AreaUnauthenticated,
			routes.Protected:       AreaProtected,
		},
	}
}

// Path は現在のパスを返す。
func (n *MemoryNavigator) Path() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.path
}

// History はNavigateで遷移したパスを順に返す。
func (n *MemoryNavigator) History() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.history...)
}

// CurrentArea は現在のパスの領域を返す。
func (n *MemoryNavigator) CurrentArea() Area {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.classify(n.path)
}

// Navigate はGateからの遷移を記録する。
func (n *MemoryNavigator) Navigate(route string) {
	n.mu.Lock()
	n.path = route
	n.history = append(n.history, route)
	n.mu.Unlock()
}

// Visit は利用者による移動を反映し、OnChangeのリスナーを呼び出す。
func (n *MemoryNavigator) Visit(path string) {
	n.mu.Lock()
	n.path = path
	listeners := append([]func(){}, n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnChange はVisitによる現在地の変更を購読する。
func (n *MemoryNavigator) OnChange(fn func()) {
	n.mu.Lock()
	n.listeners = append(n.listeners, fn)
	n.mu.Unlock()
}

func (n *MemoryNavigator) classify(path string) Area {
	for prefix, area := range n.areas {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return area
		}
	}
	return AreaOther
}

var _ Navigator = (*MemoryNavigator)(nil)
