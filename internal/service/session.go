package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/SteamVC/pairchat/internal/idgen"
	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

// JoinRequest は join-room の内容です
type JoinRequest struct {
	Code        string
	DesiredName string
	Token       string
}

// Identify はトークンを接続に結びつけ、プロフィールを identified として返します
// トークンが空なら新しいトークンを発行します
func (s *ChatService) Identify(conn, token string) models.Identity {
	token = s.bind(conn, token)
	id := s.ids.Resolve(token)
	s.notify.Send(conn, models.Event{Type: models.EventIdentified, Payload: models.IdentifiedPayload{
		Token:       id.Token,
		UserID:      id.ID,
		Name:        id.DisplayName,
		AvatarColor: id.AvatarColor,
		Status:      id.StatusText,
	}})
	return id
}

// bind は接続にトークンを結びつけ、実際に使うトークンを返します
// 同じトークンの古い接続が残っていれば、退出処理をしてから閉じます
func (s *ChatService) bind(conn, token string) string {
	if token == "" {
		if cur, ok := s.ids.TokenOf(conn); ok {
			return cur
		}
		token = idgen.NewToken()
	}
	if cur, ok := s.ids.TokenOf(conn); ok && cur != token {
		// 別のユーザーとして名乗り直す場合は元のルームから退出する
		s.leaveRoom(conn)
	}
	prev, replaced := s.ids.Bind(token, conn)
	if replaced {
		s.logger.Info("identity rebound to new connection", "old_conn", prev, "conn", conn)
		s.leaveRoom(prev)
		s.notify.Close(prev)
	}
	return token
}

// Join は接続をルームに参加させます
// 処理の流れ:
// 1. トークンを接続に結びつける（古い接続は退出させる）
// 2. 別のルームに参加中なら退出する
// 3. プロフィールを決定してルームに追加し、room-joined のスナップショットを作る
// 4. システムメッセージを追加し、参加者に room-joined、他の参加者に user-joined と new-message を送る
// 5. RejoinDelay 後に未配信のメッセージを delivered に進める
func (s *ChatService) Join(conn string, req JoinRequest) error {
	token := s.bind(conn, req.Token)

	if cur, ok := s.RoomOf(conn); ok && cur != req.Code {
		s.leaveRoom(conn)
	}

	profile := s.profileFor(token, req.DesiredName)

	var joined bool
	err := s.store.Join(req.Code, func(r *roomstore.Room) error {
		if p, ok := r.Participant(conn); ok {
			// 同じルームへの再送。状態は変えずにスナップショットだけ送る
			s.notify.Send(conn, s.roomJoined(r, p))
			return nil
		}

		now := r.Now()
		p := &models.Participant{
			ConnID:      conn,
			Token:       token,
			UserID:      profile.ID,
			DisplayName: profile.DisplayName,
			AvatarColor: profile.AvatarColor,
			StatusText:  profile.StatusText,
			JoinedAt:    now,
			LastSeenAt:  now,
		}
		if err := r.Add(p); err != nil {
			return err
		}
		s.setRoom(conn, r.Code)

		// スナップショットは参加のシステムメッセージを追加する前の状態
		joinedEv := s.roomJoined(r, p)
		sys := r.Append(&models.Message{
			Kind: models.KindSystem,
			Body: fmt.Sprintf("%s joined the chat", p.DisplayName),
		})
		s.metrics.Messages.WithLabelValues(string(models.KindSystem)).Inc()

		s.notify.Send(conn, joinedEv)
		s.broadcast(r, conn, models.Event{Type: models.EventUserJoined, Payload: models.UserJoinedPayload{
			Name:             p.DisplayName,
			ParticipantCount: r.Len(),
			Participants:     r.Views(),
		}})
		s.broadcast(r, conn, models.Event{Type: models.EventNewMessage, Payload: sys.Clone()})
		s.mirror(r)

		s.logger.Info("user joined room", "room", r.Code, "name", p.DisplayName, "participants", r.Len())
		joined = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("join room %s: %w", req.Code, err)
	}
	if joined {
		s.ids.Remember(profile)
		code := req.Code
		s.schedule(s.opts.RejoinDelay, func() { s.promoteOnRejoin(code, token) })
	}
	return nil
}

// profileFor は参加に使うプロフィールを決めます
// 保存済みのプロフィールがあれば色とステータスを引き継ぎ、希望の表示名があればそれを使います
func (s *ChatService) profileFor(token, desired string) models.Identity {
	profile := s.ids.Resolve(token)
	if name := normalizeName(desired); name != "" {
		profile.DisplayName = name
	}
	return profile
}

func (s *ChatService) roomJoined(r *roomstore.Room, p *models.Participant) models.Event {
	return models.Event{Type: models.EventRoomJoined, Payload: models.RoomJoinedPayload{
		Code:             r.Code,
		Token:            p.Token,
		UserID:           p.UserID,
		Name:             p.DisplayName,
		AvatarColor:      p.AvatarColor,
		Status:           p.StatusText,
		Messages:         r.Snapshot(),
		ParticipantCount: r.Len(),
		Participants:     r.Views(),
		TypingNames:      s.typing.Names(r.Code),
	}}
}

// Leave は leave-room を処理します
func (s *ChatService) Leave(conn, code string) error {
	if cur, ok := s.RoomOf(conn); !ok || cur != code {
		return fmt.Errorf("leave room %s: %w", code, ErrNotParticipant)
	}
	s.leaveRoom(conn)
	return nil
}

// Disconnect は切断時の後片付けを行います
// トークンの対応を解除し、ルームから退出させます
func (s *ChatService) Disconnect(conn string) {
	s.ids.Unbind(conn)
	s.leaveRoom(conn)
}

// leaveRoom は接続を参加中のルームから外し、残りの参加者に通知します
// 最後の参加者が抜けたルームはその場で削除されます
func (s *ChatService) leaveRoom(conn string) {
	code, ok := s.takeRoom(conn)
	if !ok {
		return
	}

	var remaining int
	err := s.store.With(code, func(r *roomstore.Room) error {
		p, ok := r.Remove(conn)
		if !ok {
			remaining = r.Len()
			return nil
		}
		remaining = r.Len()
		s.broadcast(r, conn, models.Event{Type: models.EventUserLeft, Payload: models.UserLeftPayload{
			ParticipantCount: remaining,
		}})
		if names, changed := s.typing.Remove(code, p.DisplayName); changed {
			s.broadcast(r, conn, models.Event{Type: models.EventUserTyping, Payload: models.UserTypingPayload{
				TypingNames: names,
			}})
		}
		if remaining > 0 {
			s.mirror(r)
		}
		s.logger.Info("user left room", "room", code, "name", p.DisplayName, "participants", remaining)
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		// 既にアイドル削除されている
		return
	}
	if remaining == 0 {
		s.store.IfAbsent(code, func() {
			s.typing.Clear(code)
			s.unmirror(code)
		})
		s.logger.Info("room deleted", "room", code)
	}
}

// OnSweep はアイドル削除の後に呼ばれ、削除されたルームに関する状態を片付けます
// 片付けるのは削除時点の参加者だけです。同じコードで作り直されたルームの状態には触れません
func (s *ChatService) OnSweep(now time.Time, reaped []roomstore.Reaped) {
	for _, rec := range reaped {
		s.mu.Lock()
		for _, conn := range rec.Conns {
			if s.connRooms[conn] == rec.Code {
				delete(s.connRooms, conn)
			}
		}
		s.mu.Unlock()

		gone := s.store.IfAbsent(rec.Code, func() {
			s.typing.Clear(rec.Code)
			s.unmirror(rec.Code)
		})
		if !gone {
			for _, name := range rec.Names {
				s.typing.Remove(rec.Code, name)
			}
		}
	}
	if len(reaped) > 0 {
		s.metrics.RoomsReaped.Add(float64(len(reaped)))
	}

	if n := s.ids.Evict(now.Add(-s.opts.IdentityTTL)); n > 0 {
		s.metrics.IdentitiesEvicted.Add(float64(n))
		s.logger.Info("evicted idle identities", "count", n)
	}
}
