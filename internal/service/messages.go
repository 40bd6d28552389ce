package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

// SendRequest は send-message の内容です
type SendRequest struct {
	RoomCode string
	Body     string
	Kind     models.Kind
	Media    *models.Media
	ReplyTo  uint64
}

// VoiceRequest は send-voice-message の内容です
type VoiceRequest struct {
	RoomCode        string
	AudioBlob       string
	DurationSeconds float64
}

// SendMessage はメッセージをルームに追加して全員に配信します
func (s *ChatService) SendMessage(conn string, req SendRequest) (uint64, error) {
	kind := req.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !kind.Sendable() {
		return 0, fmt.Errorf("send message: kind %q: %w", kind, ErrInvalidMessage)
	}
	body := strings.TrimSpace(req.Body)
	switch {
	case kind == models.KindText && body == "":
		return 0, fmt.Errorf("send message: empty body: %w", ErrInvalidMessage)
	case kind.IsMedia() && (req.Media == nil || req.Media.Data == ""):
		return 0, fmt.Errorf("send message: %s without media: %w", kind, ErrInvalidMessage)
	}

	var media *models.Media
	if kind.IsMedia() {
		m := *req.Media
		media = &m
	}
	return s.post(conn, req.RoomCode, &models.Message{
		Kind:      kind,
		Body:      body,
		Media:     media,
		ReplyToID: req.ReplyTo,
	})
}

// SendVoice はボイスメッセージをルームに追加して全員に配信します
func (s *ChatService) SendVoice(conn string, req VoiceRequest) (uint64, error) {
	if req.AudioBlob == "" || req.DurationSeconds < 0 {
		return 0, fmt.Errorf("send voice message: %w", ErrInvalidMessage)
	}
	secs := strconv.FormatFloat(req.DurationSeconds, 'f', -1, 64)
	return s.post(conn, req.RoomCode, &models.Message{
		Kind: models.KindVoice,
		Body: fmt.Sprintf("Voice message (%ss)", secs),
		Media: &models.Media{
			Data:     req.AudioBlob,
			Duration: req.DurationSeconds,
		},
	})
}

// post は送信者の情報を埋めてメッセージを追加し、配信と delivered への遷移を予約します
func (s *ChatService) post(conn, code string, m *models.Message) (uint64, error) {
	var id uint64
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, err := member(r, conn)
		if err != nil {
			return err
		}
		if m.ReplyToID != 0 {
			if _, ok := r.Message(m.ReplyToID); !ok {
				return fmt.Errorf("reply to %d: %w", m.ReplyToID, ErrMessageNotFound)
			}
		}
		m.SenderToken = p.Token
		m.SenderID = p.UserID
		m.SenderName = p.DisplayName
		m.AvatarColor = p.AvatarColor
		id = s.append(r, m)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("send message to room %s: %w", code, err)
	}
	return id, nil
}

// append は sent 状態のメッセージをログに追加し、全員に配信します。ルームのロック中に呼び出します
func (s *ChatService) append(r *roomstore.Room, m *models.Message) uint64 {
	m.Status = models.StatusSent
	r.Append(m)
	s.broadcast(r, "", models.Event{Type: models.EventNewMessage, Payload: m.Clone()})
	s.metrics.Messages.WithLabelValues(string(m.Kind)).Inc()
	s.mirror(r)
	s.scheduleDelivered(r.Code, m.ID)
	return m.ID
}

// Edit はテキストメッセージの本文を書き換えます。送信者本人のみ実行できます
func (s *ChatService) Edit(conn, code string, id uint64, newBody string) error {
	if strings.TrimSpace(newBody) == "" {
		return fmt.Errorf("edit message %d: empty body: %w", id, ErrInvalidMessage)
	}
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, m, err := target(r, conn, id)
		if err != nil {
			return err
		}
		if m.SenderToken != p.Token {
			return ErrUnauthorized
		}
		if m.Kind != models.KindText {
			return ErrNotEditable
		}
		now := r.Now()
		m.Body = newBody
		m.Edited = true
		m.EditedAt = &now
		r.Touch()
		s.broadcast(r, "", models.Event{Type: models.EventMessageEdited, Payload: models.MessageEditedPayload{
			ID:       m.ID,
			NewBody:  newBody,
			EditedAt: now,
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("edit message %d in room %s: %w", id, code, err)
	}
	return nil
}

// Delete はメッセージを削除します
// forEveryone が false の場合は状態を変えず、要求した接続にだけ通知します
// true の場合は送信者本人のみ実行でき、本文を置き換えてメディアを消し、全員に通知します
func (s *ChatService) Delete(conn, code string, id uint64, forEveryone bool) error {
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, m, err := target(r, conn, id)
		if err != nil {
			return err
		}
		if !forEveryone {
			s.notify.Send(conn, models.Event{Type: models.EventMessageDeleted, Payload: models.MessageDeletedPayload{
				ID: m.ID,
			}})
			return nil
		}
		if m.SenderToken != p.Token {
			return ErrUnauthorized
		}
		if m.Kind == models.KindDeleted {
			return nil
		}
		m.Kind = models.KindDeleted
		m.Body = models.DeletedPlaceholder
		m.Media = nil
		r.Touch()
		s.broadcast(r, "", models.Event{Type: models.EventMessageDeleted, Payload: models.MessageDeletedPayload{
			ID:          m.ID,
			ForEveryone: true,
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete message %d in room %s: %w", id, code, err)
	}
	return nil
}

// React はリアクションを追加し、変化があればリアクション全体を全員に通知します
func (s *ChatService) React(conn, code string, id uint64, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("react to message %d: empty emoji: %w", id, ErrInvalidMessage)
	}
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, m, err := target(r, conn, id)
		if err != nil {
			return err
		}
		if !m.React(emoji, p.DisplayName) {
			return nil
		}
		r.Touch()
		s.broadcast(r, "", models.Event{Type: models.EventReactionUpdate, Payload: models.ReactionUpdatePayload{
			ID:        m.ID,
			Reactions: models.CloneReactions(m.Reactions),
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("react to message %d in room %s: %w", id, code, err)
	}
	return nil
}

// Forward は fromCode のメッセージを toCode に転送します
// 実行者はどちらかのルームの参加者である必要があります
// 2つのルームのロックを同時に保持しないよう、コピーを取ってから転送先のロックを取ります
func (s *ChatService) Forward(conn, fromCode, toCode string, id uint64) (uint64, error) {
	var (
		src      models.Message
		inSource bool
	)
	err := s.store.With(fromCode, func(r *roomstore.Room) error {
		m, ok := r.Message(id)
		if !ok {
			return ErrMessageNotFound
		}
		if m.Kind == models.KindSystem || m.Kind == models.KindDeleted {
			return ErrNotForwardable
		}
		_, inSource = r.Participant(conn)
		src = m.Clone()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("forward message %d from room %s: %w", id, fromCode, err)
	}

	token, _ := s.ids.TokenOf(conn)
	actor, known := s.ids.Recall(token)

	var newID uint64
	err = s.store.With(toCode, func(r *roomstore.Room) error {
		fwd := &models.Message{
			Kind:          src.Kind,
			Body:          src.Body,
			Media:         src.Media,
			ForwardedFrom: src.SenderName,
		}
		if p, ok := r.Participant(conn); ok {
			fwd.SenderToken = p.Token
			fwd.SenderID = p.UserID
			fwd.SenderName = p.DisplayName
			fwd.AvatarColor = p.AvatarColor
		} else if inSource && known {
			fwd.SenderToken = actor.Token
			fwd.SenderID = actor.ID
			fwd.SenderName = actor.DisplayName
			fwd.AvatarColor = actor.AvatarColor
		} else {
			return ErrNotParticipant
		}
		newID = s.append(r, fwd)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("forward message %d to room %s: %w", id, toCode, err)
	}
	return newID, nil
}

// target は参加者とメッセージを取得します
func target(r *roomstore.Room, conn string, id uint64) (*models.Participant, *models.Message, error) {
	p, err := member(r, conn)
	if err != nil {
		return nil, nil, err
	}
	m, ok := r.Message(id)
	if !ok {
		return nil, nil, ErrMessageNotFound
	}
	return p, m, nil
}
