package service

import (
	"errors"
	"fmt"

	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

// scheduleDelivered は SettleDelay 後にメッセージを delivered に進める処理を予約します
// タイマーはルームコードとIDだけを持ち、実行時にロックを取り直して存在を確認します
func (s *ChatService) scheduleDelivered(code string, id uint64) {
	s.schedule(s.opts.SettleDelay, func() { s.markDelivered(code, id) })
}

func (s *ChatService) markDelivered(code string, id uint64) {
	err := s.store.With(code, func(r *roomstore.Room) error {
		m, ok := r.Message(id)
		if !ok {
			return nil
		}
		s.advance(r, m, models.StatusDelivered)
		return nil
	})
	if err != nil && !errors.Is(err, ErrRoomNotFound) {
		s.logger.Error("mark delivered failed", "room", code, "id", id, "error", err)
	}
}

// promoteOnRejoin は再参加したユーザー以外が送った sent のメッセージを delivered に進めます
func (s *ChatService) promoteOnRejoin(code, token string) {
	_ = s.store.With(code, func(r *roomstore.Room) error {
		for _, m := range r.Messages() {
			if m.SenderToken == "" || m.SenderToken == token || m.Status != models.StatusSent {
				continue
			}
			s.advance(r, m, models.StatusDelivered)
		}
		return nil
	})
}

// Seen は message-seen を処理します
// 送信者本人による通知と、既に seen のメッセージへの通知は何もしません
func (s *ChatService) Seen(conn, code string, id uint64) error {
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, m, err := target(r, conn, id)
		if err != nil {
			return err
		}
		if m.SenderToken == p.Token {
			return nil
		}
		s.advance(r, m, models.StatusSeen)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark message %d seen in room %s: %w", id, code, err)
	}
	return nil
}

// advance は状態を進め、進んだ場合は全員に通知します。ルームのロック中に呼び出します
func (s *ChatService) advance(r *roomstore.Room, m *models.Message, to models.Status) {
	if !m.Advance(to) {
		return
	}
	s.metrics.StatusTransitions.WithLabelValues(to.String()).Inc()
	s.broadcast(r, "", models.Event{Type: models.EventMessageStatusUpdate, Payload: models.StatusUpdatePayload{
		ID:     m.ID,
		Status: to,
	}})
}
