package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SteamVC/pairchat/internal/identity"
	"github.com/SteamVC/pairchat/internal/metrics"
	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/presence"
	"github.com/SteamVC/pairchat/internal/repo"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

// Notifier は接続へのイベント送信を担当します
// Send はブロックしてはいけません。ルームのロック中に呼ばれます
type Notifier interface {
	Send(conn string, ev models.Event)
	Close(conn string)
}

// Options は ChatService のタイミング設定です
type Options struct {
	SettleDelay time.Duration // 送信から delivered に進めるまでの待ち時間
	RejoinDelay time.Duration // 再参加から未配信メッセージを delivered に進めるまでの待ち時間
	IdentityTTL time.Duration // 接続のないプロフィールを保持する期間
}

// ChatService はルームのセッションとメッセージを扱います
//
// ロックの順序は「ルーム → connRooms」です。connRooms のロック中にルームのロックを取りません
type ChatService struct {
	store   *roomstore.Store
	ids     *identity.Registry
	typing  *presence.Tracker
	clk     clockwork.Clock
	notify  Notifier
	metrics *metrics.Metrics
	dir     *repo.AsyncDirectory
	logger  *slog.Logger
	opts    Options

	mu        sync.Mutex
	connRooms map[string]string // 接続 → 参加中のルームコード

	taskMu  sync.Mutex
	taskSeq uint64
	tasks   map[uint64]time.Time // 予約中の遅延処理 → 実行予定時刻
}

// Deps は ChatService の依存関係です
type Deps struct {
	Store     *roomstore.Store
	Identity  *identity.Registry
	Typing    *presence.Tracker
	Clock     clockwork.Clock
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Directory *repo.AsyncDirectory // nil ならディレクトリへ反映しない
	Logger    *slog.Logger
}

// NewChatService は新しいChatServiceを作成します
func NewChatService(d Deps, opts Options) *ChatService {
	return &ChatService{
		store:     d.Store,
		ids:       d.Identity,
		typing:    d.Typing,
		clk:       d.Clock,
		notify:    d.Notifier,
		metrics:   d.Metrics,
		dir:       d.Directory,
		logger:    d.Logger,
		opts:      opts,
		connRooms: make(map[string]string),
		tasks:     make(map[uint64]time.Time),
	}
}

// schedule は d 後に fn を実行します
// fn はロックを持たずに呼ばれるため、必要なロックは fn の中で取り直します
func (s *ChatService) schedule(d time.Duration, fn func()) {
	s.taskMu.Lock()
	s.taskSeq++
	id := s.taskSeq
	s.tasks[id] = s.clk.Now().Add(d)
	s.taskMu.Unlock()

	s.clk.AfterFunc(d, func() {
		defer func() {
			s.taskMu.Lock()
			delete(s.tasks, id)
			s.taskMu.Unlock()
		}()
		fn()
	})
}

// Scheduled は予約中で未完了の遅延処理の数を返します
func (s *ChatService) Scheduled() int {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return len(s.tasks)
}

// overdue は実行予定時刻が now 以前なのに完了していない遅延処理の数を返します
func (s *ChatService) overdue(now time.Time) int {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	n := 0
	for _, at := range s.tasks {
		if !at.After(now) {
			n++
		}
	}
	return n
}

// RoomOf は接続が参加中のルームコードを返します
func (s *ChatService) RoomOf(conn string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.connRooms[conn]
	return code, ok
}

func (s *ChatService) setRoom(conn, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connRooms[conn] = code
}

// takeRoom は接続のルームを取り出して対応を削除します
func (s *ChatService) takeRoom(conn string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.connRooms[conn]
	delete(s.connRooms, conn)
	return code, ok
}

// broadcast はルームの参加者全員（exclude を除く）にイベントを送ります
// ルームのロック中に呼び出すことで、送信順がログの順序と一致します
func (s *ChatService) broadcast(r *roomstore.Room, exclude string, ev models.Event) {
	for _, conn := range r.Conns(exclude) {
		s.notify.Send(conn, ev)
	}
}

// member は接続がルームの参加者であることを確認します
func member(r *roomstore.Room, conn string) (*models.Participant, error) {
	p, ok := r.Participant(conn)
	if !ok {
		return nil, ErrNotParticipant
	}
	return p, nil
}

// mirror はルームの概要をディレクトリへ反映します
func (s *ChatService) mirror(r *roomstore.Room) {
	if s.dir == nil {
		return
	}
	sum := r.Summarize()
	s.dir.Upsert(repo.RoomSummary{
		Code:             sum.Code,
		ParticipantCount: sum.ParticipantCount,
		MessageCount:     sum.MessageCount,
		LastActivityAt:   sum.LastActivityAt,
	})
}

func (s *ChatService) unmirror(code string) {
	if s.dir != nil {
		s.dir.Remove(code)
	}
}

// normalizeName は表示名の前後の空白を取り除き、最大文字数で切り詰めます
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > roomstore.MaxNameLength {
		name = string(r[:roomstore.MaxNameLength])
	}
	return name
}
