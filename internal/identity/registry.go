// Package identity はトークンと接続の対応、およびプロフィールを管理します
package identity

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SteamVC/pairchat/internal/idgen"
	"github.com/SteamVC/pairchat/internal/models"
)

// Registry はトークンごとのプロフィールと、トークン⇔接続の双方向の対応を保持します
// 1つのトークンに紐づく接続は常に最大1つです
type Registry struct {
	clk clockwork.Clock

	mu       sync.Mutex
	profiles map[string]*models.Identity
	links    association
}

// association はトークン⇔接続の対応です。両方向を必ず同時に更新します
type association struct {
	byToken map[string]string
	byConn  map[string]string
}

func (a *association) bind(token, conn string) (previous string) {
	previous = a.byToken[token]
	if previous != "" {
		delete(a.byConn, previous)
	}
	if old, ok := a.byConn[conn]; ok && old != token {
		delete(a.byToken, old)
	}
	a.byToken[token] = conn
	a.byConn[conn] = token
	return previous
}

func (a *association) unbind(conn string) (token string, ok bool) {
	token, ok = a.byConn[conn]
	if !ok {
		return "", false
	}
	delete(a.byConn, conn)
	if a.byToken[token] == conn {
		delete(a.byToken, token)
	}
	return token, true
}

// NewRegistry は空の Registry を作成します
func NewRegistry(clk clockwork.Clock) *Registry {
	return &Registry{
		clk:      clk,
		profiles: make(map[string]*models.Identity),
		links: association{
			byToken: make(map[string]string),
			byConn:  make(map[string]string),
		},
	}
}

// Resolve はトークンのプロフィールを返します。初めてのトークンなら生成します
func (r *Registry) Resolve(token string) models.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.resolveLocked(token)
}

func (r *Registry) resolveLocked(token string) *models.Identity {
	if id, ok := r.profiles[token]; ok {
		return id
	}
	id := &models.Identity{
		Token:       token,
		ID:          idgen.NewULID(),
		DisplayName: RandomName(),
		AvatarColor: RandomAvatarColor(),
		StatusText:  RandomStatus(),
		LastSeenAt:  r.clk.Now(),
	}
	r.profiles[token] = id
	return id
}

// Recall は保存済みのプロフィールを返します
func (r *Registry) Recall(token string) (models.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.profiles[token]
	if !ok {
		return models.Identity{}, false
	}
	return *id, true
}

// Remember は参加時やステータス変更時に確定したプロフィールを保存します
// 公開IDは最初に発行したものを維持します
func (r *Registry) Remember(id models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.resolveLocked(id.Token)
	cur.DisplayName = id.DisplayName
	cur.AvatarColor = id.AvatarColor
	cur.StatusText = id.StatusText
	cur.LastSeenAt = r.clk.Now()
}

// Bind はトークンを接続に結びつけます
// 既に別の接続が結びついていた場合、その接続を previous として返します
func (r *Registry) Bind(token, conn string) (previous string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolveLocked(token).LastSeenAt = r.clk.Now()
	previous = r.links.bind(token, conn)
	return previous, previous != "" && previous != conn
}

// Unbind は接続の対応を解除します
// トークンが既に新しい接続へ移っている場合、その対応は残します
func (r *Registry) Unbind(conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.links.unbind(conn)
	if !ok {
		return
	}
	if id, ok := r.profiles[token]; ok {
		id.LastSeenAt = r.clk.Now()
	}
}

// TokenOf は接続に結びついたトークンを返します
func (r *Registry) TokenOf(conn string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.links.byConn[conn]
	return token, ok
}

func (r *Registry) connOf(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.links.byToken[token]
	return conn, ok
}

// Evict は接続がなく cutoff より前から使われていないプロフィールを削除し、削除数を返します
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for token, id := range r.profiles {
		if _, live := r.links.byToken[token]; live {
			continue
		}
		if id.LastSeenAt.Before(cutoff) {
			delete(r.profiles, token)
			n++
		}
	}
	return n
}

// Len は保持しているプロフィール数を返します
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}
