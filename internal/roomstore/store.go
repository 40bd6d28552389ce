// Package roomstore はルームの生成・参加・退出・アイドル削除を管理します
//
// ルームごとにロックを持ち、参加者とメッセージログはそのロックの中でだけ変更されます
// ストア全体のマップのロックとルームのロックを同時に保持することはありません
package roomstore

import (
	"errors"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
)

var roomCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCode はルームコードが6桁の数字かどうかを返します
func ValidCode(code string) bool { return roomCodePattern.MatchString(code) }

// Store はアクティブなルームの集合です
type Store struct {
	clk   clockwork.Clock
	mu    sync.Mutex
	rooms map[string]*Room
}

// New は空の Store を作成します
func New(clk clockwork.Clock) *Store {
	return &Store{clk: clk, rooms: make(map[string]*Room)}
}

// Join はルームを取得または作成し、ロックを保持したまま fn を実行します
func (s *Store) Join(code string, fn func(*Room) error) error {
	if !ValidCode(code) {
		return ErrInvalidRoomCode
	}
	r, err := s.acquire(code, true)
	if err != nil {
		return err
	}
	return s.run(r, fn)
}

// With は既存のルームのロックを保持したまま fn を実行します
// ルームが存在しなければ ErrRoomNotFound を返し、ルームを作成することはありません
func (s *Store) With(code string, fn func(*Room) error) error {
	r, err := s.acquire(code, false)
	if err != nil {
		return err
	}
	return s.run(r, fn)
}

// acquire はロック済みのルームを返します
// 削除処理と競合して閉じられたルームを掴んだ場合はやり直します
func (s *Store) acquire(code string, create bool) (*Room, error) {
	for {
		s.mu.Lock()
		r, ok := s.rooms[code]
		if !ok {
			if !create {
				s.mu.Unlock()
				return nil, ErrRoomNotFound
			}
			r = newRoom(code, s.clk)
			s.rooms[code] = r
		}
		s.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r, nil
		}
		r.mu.Unlock()
		s.forget(r)
	}
}

// run は fn を実行し、参加者がいなくなったルームをその場で閉じて削除します
func (s *Store) run(r *Room, fn func(*Room) error) error {
	err := fn(r)
	empty := len(r.participants) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()
	if empty {
		s.forget(r)
	}
	return err
}

func (s *Store) forget(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[r.Code] == r {
		delete(s.rooms, r.Code)
	}
}

// Reaped はアイドル削除されたルームと、削除した時点の参加者です
type Reaped struct {
	Code  string
	Conns []string
	Names []string
}

// Reap は最終アクティビティから ttl 以上経過したルームを削除し、削除したルームを返します
// 判定と削除はルームのロック内で行うため、参加処理中のルームを消すことはありません
// 参加者の一覧も同じロック内で取得するため、同じコードで作り直されたルームの参加者は含まれません
func (s *Store) Reap(ttl time.Duration) []Reaped {
	cutoff := s.clk.Now().Add(-ttl)

	s.mu.Lock()
	candidates := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		candidates = append(candidates, r)
	}
	s.mu.Unlock()

	var reaped []Reaped
	for _, r := range candidates {
		r.mu.Lock()
		expired := !r.closed && r.LastActivityAt.Before(cutoff)
		var rec Reaped
		if expired {
			r.closed = true
			rec.Code = r.Code
			for _, p := range r.Participants() {
				rec.Conns = append(rec.Conns, p.ConnID)
				rec.Names = append(rec.Names, p.DisplayName)
			}
		}
		r.mu.Unlock()
		if expired {
			s.forget(r)
			reaped = append(reaped, rec)
		}
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i].Code < reaped[j].Code })
	return reaped
}

// Exists はルームが存在するかどうかを返します
func (s *Store) Exists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[code]
	return ok
}

// IfAbsent はルームが存在しない場合に限り、ストアのロックを保持したまま fn を実行します
// fn の実行中に同じコードのルームが作られることはありません。fn からストアを呼んではいけません
func (s *Store) IfAbsent(code string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	fn()
	return true
}

// Len はルーム数を返します
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Summary はルームの概要です
type Summary struct {
	Code             string    `json:"code"`
	ParticipantCount int       `json:"participantCount"`
	MessageCount     int       `json:"messageCount"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

// Summarize はロック中のルームの概要を返します
func (r *Room) Summarize() Summary {
	return Summary{
		Code:             r.Code,
		ParticipantCount: len(r.participants),
		MessageCount:     len(r.messages),
		CreatedAt:        r.CreatedAt,
		LastActivityAt:   r.LastActivityAt,
	}
}

// Summary はルームの概要を返します
func (s *Store) Summary(code string) (Summary, bool) {
	var sum Summary
	if err := s.With(code, func(r *Room) error {
		sum = r.Summarize()
		return nil
	}); err != nil {
		return Summary{}, false
	}
	return sum, true
}
