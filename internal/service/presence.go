package service

import (
	"fmt"
	"strings"

	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

const maxStatusLength = 100

// TypingStart は入力中の表示名を追加し、他の参加者に入力中の一覧を送ります
func (s *ChatService) TypingStart(conn, code string) error {
	return s.typingChange(conn, code, s.typing.Start)
}

// TypingStop は入力中の表示名を削除し、他の参加者に入力中の一覧を送ります
func (s *ChatService) TypingStop(conn, code string) error {
	return s.typingChange(conn, code, s.typing.Stop)
}

func (s *ChatService) typingChange(conn, code string, apply func(room, name string) []string) error {
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, err := member(r, conn)
		if err != nil {
			return err
		}
		names := apply(code, p.DisplayName)
		s.broadcast(r, conn, models.Event{Type: models.EventUserTyping, Payload: models.UserTypingPayload{
			TypingNames: names,
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("typing in room %s: %w", code, err)
	}
	return nil
}

// UpdateStatus は参加者とプロフィールのステータス文言を更新し、他の参加者に通知します
func (s *ChatService) UpdateStatus(conn, code, status string) error {
	status = strings.TrimSpace(status)
	if status == "" || len([]rune(status)) > maxStatusLength {
		return fmt.Errorf("update status: %w", ErrInvalidMessage)
	}
	var token string
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, err := member(r, conn)
		if err != nil {
			return err
		}
		p.StatusText = status
		token = p.Token
		s.broadcast(r, conn, models.Event{Type: models.EventUserStatusUpdated, Payload: models.UserStatusPayload{
			Name:   p.DisplayName,
			Status: status,
		}})
		return nil
	})
	if err != nil {
		return fmt.Errorf("update status in room %s: %w", code, err)
	}
	if id, ok := s.ids.Recall(token); ok {
		id.StatusText = status
		s.ids.Remember(id)
	}
	return nil
}
