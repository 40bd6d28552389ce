package roomstore

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/SteamVC/pairchat/internal/models"
)

const (
	// MaxParticipants は1ルームの最大参加者数です
	MaxParticipants = 2
	// MaxNameLength は表示名の最大文字数です
	MaxNameLength = 20
)

// Room は1つのルームの参加者とメッセージログを保持します
// メソッドは Store.Join / Store.With のコールバック内、つまりルームのロック中にだけ呼び出せます
type Room struct {
	Code           string
	CreatedAt      time.Time
	LastActivityAt time.Time

	clk          clockwork.Clock
	mu           sync.Mutex
	closed       bool
	participants map[string]*models.Participant
	order        []string
	messages     []*models.Message
	index        map[uint64]*models.Message
	nextID       uint64
}

func newRoom(code string, clk clockwork.Clock) *Room {
	now := clk.Now()
	return &Room{
		Code:           code,
		CreatedAt:      now,
		LastActivityAt: now,
		clk:            clk,
		participants:   make(map[string]*models.Participant),
		index:          make(map[uint64]*models.Message),
	}
}

// Now はストアの時計で現在時刻を返します
func (r *Room) Now() time.Time { return r.clk.Now() }

// Touch は最終アクティビティ日時を更新します
func (r *Room) Touch() { r.LastActivityAt = r.clk.Now() }

// Len は参加者数を返します
func (r *Room) Len() int { return len(r.participants) }

// Participant は接続の参加者情報を返します
func (r *Room) Participant(conn string) (*models.Participant, bool) {
	p, ok := r.participants[conn]
	return p, ok
}

// Participants は参加順の参加者一覧を返します
func (r *Room) Participants() []*models.Participant {
	out := make([]*models.Participant, 0, len(r.order))
	for _, conn := range r.order {
		out = append(out, r.participants[conn])
	}
	return out
}

// Views はクライアント向けの参加者一覧を返します
func (r *Room) Views() []models.ParticipantView {
	out := make([]models.ParticipantView, 0, len(r.order))
	for _, p := range r.Participants() {
		out = append(out, p.View())
	}
	return out
}

// Conns は exclude 以外の参加者の接続一覧を返します
func (r *Room) Conns(exclude string) []string {
	out := make([]string, 0, len(r.order))
	for _, conn := range r.order {
		if conn != exclude {
			out = append(out, conn)
		}
	}
	return out
}

// Add は参加者を追加します
// 表示名が他の参加者と重複する場合はランダムな接尾辞を付けて p.DisplayName を書き換えます
// 接尾辞を付けた名前も MaxNameLength 文字に収まるよう、元の名前を切り詰めます
func (r *Room) Add(p *models.Participant) error {
	if _, ok := r.participants[p.ConnID]; ok {
		return fmt.Errorf("connection %s already in room %s", p.ConnID, r.Code)
	}
	if len(r.participants) >= MaxParticipants {
		return ErrRoomFull
	}
	base := p.DisplayName
	for r.nameTaken(p.DisplayName) {
		suffix := fmt.Sprintf("_%d", rand.IntN(99))
		p.DisplayName = truncate(base, MaxNameLength-len(suffix)) + suffix
	}
	r.participants[p.ConnID] = p
	r.order = append(r.order, p.ConnID)
	r.Touch()
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (r *Room) nameTaken(name string) bool {
	for _, p := range r.participants {
		if p.DisplayName == name {
			return true
		}
	}
	return false
}

// Remove は参加者を削除します
func (r *Room) Remove(conn string) (*models.Participant, bool) {
	p, ok := r.participants[conn]
	if !ok {
		return nil, false
	}
	delete(r.participants, conn)
	for i, c := range r.order {
		if c == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.Touch()
	return p, true
}

// Append はメッセージに連番のIDを振ってログに追加します
func (r *Room) Append(m *models.Message) *models.Message {
	r.nextID++
	m.ID = r.nextID
	m.RoomCode = r.Code
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.clk.Now()
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	r.messages = append(r.messages, m)
	r.index[m.ID] = m
	r.Touch()
	return m
}

// Message はIDでメッセージを探します
func (r *Room) Message(id uint64) (*models.Message, bool) {
	m, ok := r.index[id]
	return m, ok
}

// Messages はログ順のメッセージを返します。要素はログ本体を指します
func (r *Room) Messages() []*models.Message {
	return r.messages
}

// Snapshot はログ全体の複製を返します
func (r *Room) Snapshot() []models.Message {
	out := make([]models.Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Clone())
	}
	return out
}
