// Package presence はルームごとの入力中ユーザーを管理します
// タイムアウトはクライアント側の責務で、サーバーは stop と切断だけを信頼します
package presence

import (
	"sort"
	"sync"
)

// Tracker はルームコードごとの入力中の表示名の集合です
type Tracker struct {
	mu     sync.Mutex
	typing map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]map[string]struct{})}
}

// Start は name を入力中にして、ルームの入力中一覧を返します
func (t *Tracker) Start(room, name string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.typing[room]
	if !ok {
		set = make(map[string]struct{})
		t.typing[room] = set
	}
	set[name] = struct{}{}
	return sorted(set)
}

// Stop は name を入力中から外して、ルームの入力中一覧を返します
func (t *Tracker) Stop(room, name string) []string {
	names, _ := t.Remove(room, name)
	return names
}

// Remove は Stop と同じですが、name が入力中だった場合は true も返します
func (t *Tracker) Remove(room, name string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.typing[room]
	_, was := set[name]
	if was {
		delete(set, name)
		if len(set) == 0 {
			delete(t.typing, room)
		}
	}
	return sorted(set), was
}

// Clear はルームの入力中一覧を破棄します
func (t *Tracker) Clear(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, room)
}

// Names はルームの入力中一覧を返します
func (t *Tracker) Names(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sorted(t.typing[room])
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
