// Package models はアプリケーションで使用するデータ構造を定義します
package models

import (
	"fmt"
	"time"
)

// Identity はトークンに紐づく永続的なユーザー情報です
type Identity struct {
	Token       string    `json:"-"`           // クライアントが保持する秘密のトークン
	ID          string    `json:"userId"`      // 他の参加者に見せる公開ID
	DisplayName string    `json:"name"`        // 表示名
	AvatarColor string    `json:"avatarColor"` // アバターの色
	StatusText  string    `json:"status"`      // ステータス文言
	LastSeenAt  time.Time `json:"lastSeen"`    // 最終接続日時
}

// Participant は接続ごとのルーム参加情報です
type Participant struct {
	ConnID      string
	Token       string
	UserID      string
	DisplayName string
	AvatarColor string
	StatusText  string
	JoinedAt    time.Time
	LastSeenAt  time.Time
}

// View はクライアントに送る参加者情報を返します
func (p *Participant) View() ParticipantView {
	return ParticipantView{
		UserID:      p.UserID,
		Name:        p.DisplayName,
		AvatarColor: p.AvatarColor,
		Status:      p.StatusText,
		IsOnline:    true,
		LastSeen:    p.LastSeenAt,
	}
}

// ParticipantView は参加者一覧の1要素です
type ParticipantView struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	AvatarColor string    `json:"avatarColor"`
	Status      string    `json:"status"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Kind はメッセージの種類です
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindFile    Kind = "file"
	KindVoice   Kind = "voice"
	KindSystem  Kind = "system"
	KindDeleted Kind = "deleted"
)

// IsMedia はメディアを伴う種類かどうかを返します
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindFile, KindVoice:
		return true
	}
	return false
}

// Sendable はクライアントが送信できる種類かどうかを返します
func (k Kind) Sendable() bool {
	return k == KindText || k.IsMedia()
}

// Status は配信状態です。値の大小が状態の進み具合を表します
type Status uint8

const (
	StatusNone Status = iota // システムメッセージ用
	StatusSent
	StatusDelivered
	StatusSeen
)

var statusNames = [...]string{"", "sent", "delivered", "seen"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Media はクライアントがエンコードしたメディアをそのまま運びます
type Media struct {
	Data     string  `json:"data"`
	Name     string  `json:"name,omitempty"`
	MimeType string  `json:"mimeType,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// DeletedPlaceholder は全員から削除されたメッセージの本文です
const DeletedPlaceholder = "This message was deleted"

// Message はルームのメッセージログの1件です
type Message struct {
	ID            uint64              `json:"id"`
	RoomCode      string              `json:"roomCode"`
	SenderToken   string              `json:"-"`
	SenderID      string              `json:"senderId,omitempty"`
	SenderName    string              `json:"senderName,omitempty"`
	AvatarColor   string              `json:"avatarColor,omitempty"`
	Kind          Kind                `json:"kind"`
	Body          string              `json:"body"`
	Media         *Media              `json:"media,omitempty"`
	ReplyToID     uint64              `json:"replyToId,omitempty"`
	ForwardedFrom string              `json:"forwardedFrom,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	Edited        bool                `json:"edited"`
	EditedAt      *time.Time          `json:"editedAt,omitempty"`
	Status        Status              `json:"status,omitempty"`
	Reactions     map[string][]string `json:"reactions"`
}

// Advance は状態を to へ進めます。後退や同じ状態への遷移は行わず false を返します
func (m *Message) Advance(to Status) bool {
	if m.Status == StatusNone || to <= m.Status {
		return false
	}
	m.Status = to
	return true
}

// React は name を emoji のリアクションに追加します。追加した場合 true を返します
func (m *Message) React(emoji, name string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, n := range m.Reactions[emoji] {
		if n == name {
			return false
		}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], name)
	return true
}

// Clone はブロードキャスト用の複製を返します
// 送信キューに積んだ後でログ側が変更されても影響しません
func (m *Message) Clone() Message {
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		c.EditedAt = &at
	}
	c.Reactions = CloneReactions(m.Reactions)
	return c
}

// CloneReactions はリアクションのマップを深くコピーします
func CloneReactions(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for emoji, names := range src {
		out[emoji] = append([]string(nil), names...)
	}
	return out
}
