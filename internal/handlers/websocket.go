package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/SteamVC/pairchat/internal/idgen"
	"github.com/SteamVC/pairchat/internal/metrics"
	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client は1つのWebSocket接続を表します
type Client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// GatewayConfig は WebSocket ゲートウェイの設定です
type GatewayConfig struct {
	AllowedOrigins  []string
	MaxMessageBytes int64
	SendQueue       int
	RateRPS         float64
	RateBurst       int
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.ChatService
	hub      *Hub
	val      *Validator
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(svc *service.ChatService, hub *Hub, val *Validator, cfg GatewayConfig, logger *slog.Logger, m *metrics.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		svc:      svc,
		hub:      hub,
		val:      val,
		cfg:      cfg,
		upgrader: createUpgrader(cfg.AllowedOrigins),
		logger:   logger,
		metrics:  m,
	}
}

// createUpgrader は許可したオリジンだけを受け付けるアップグレーダーを作成します
// Origin ヘッダーのないリクエスト（ブラウザ以外のクライアント）は受け付けます
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// HandleWebSocket は GET /ws を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. クライアントの登録と書き込みループの開始
// 3. メッセージ受信ループ（1接続につき1イベントずつ順に処理）
// 4. 切断時の退出処理とクリーンアップ
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:      idgen.NewULID(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.RateRPS), h.cfg.RateBurst),
		send:    make(chan []byte, h.cfg.SendQueue),
	}
	h.hub.register(client)
	h.logger.Info("websocket connected", "conn", client.id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(client)
	}()

	h.readPump(client)

	h.svc.Disconnect(client.id)
	h.hub.unregister(client)
	<-done
	h.logger.Info("websocket disconnected", "conn", client.id)
}

func (h *WebSocketHandler) readPump(c *Client) {
	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			h.reply(c, "", errInvalidRequest)
			continue
		}
		if !c.limiter.Allow() {
			h.metrics.RateLimited.Inc()
			h.reply(c, env.Type, errTooManyRequests)
			continue
		}
		if err := h.dispatch(c, env); err != nil {
			h.reply(c, env.Type, err)
		}
	}
}

// writePump は送信キューのイベントを書き込み、定期的に ping を送ります
// キューが閉じられたら close フレームを送って接続を閉じます
func (h *WebSocketHandler) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	errInvalidRequest  = errors.New("invalid request")
	errTooManyRequests = errors.New("too many requests")
)

// decode はペイロードをデコードして検証します
func (h *WebSocketHandler) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidRequest
	}
	if errs := h.val.ValidateStruct(dst); len(errs) > 0 {
		h.logger.Debug("payload validation failed", "errors", joinErrors(errs))
		return errInvalidRequest
	}
	return nil
}

// dispatch はイベントの種類に応じてサービス層を呼び出します
func (h *WebSocketHandler) dispatch(c *Client, env envelope) error {
	switch env.Type {
	case inPing:
		h.hub.Send(c.id, models.Event{Type: models.EventPong})
		return nil

	case inIdentify:
		var p identifyPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		h.svc.Identify(c.id, normalizeID(p.Token))
		return nil

	case inJoinRoom:
		var p joinPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.Join(c.id, service.JoinRequest{
			Code:        normalizeID(p.Code),
			DesiredName: p.DesiredName,
			Token:       normalizeID(p.Token),
		})

	case inLeaveRoom:
		var p roomPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.Leave(c.id, p.RoomCode)

	case inSendMessage:
		var p sendPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.SendMessage(c.id, service.SendRequest{
			RoomCode: p.RoomCode,
			Body:     p.Body,
			Kind:     p.Kind,
			Media:    p.Media,
			ReplyTo:  p.ReplyTo,
		})
		return err

	case inSendVoice:
		var p voicePayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.SendVoice(c.id, service.VoiceRequest{
			RoomCode:        p.RoomCode,
			AudioBlob:       p.AudioBlob,
			DurationSeconds: p.DurationSeconds,
		})
		return err

	case inEditMessage:
		var p editPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.Edit(c.id, p.RoomCode, p.ID, p.NewBody)

	case inDeleteMessage:
		var p deletePayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.Delete(c.id, p.RoomCode, p.ID, p.ForEveryone)

	case inAddReaction:
		var p reactionPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.React(c.id, p.RoomCode, p.ID, p.Emoji)

	case inMessageSeen:
		var p seenPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.Seen(c.id, p.RoomCode, p.ID)

	case inTypingStart, inTypingStop:
		var p roomPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		if env.Type == inTypingStart {
			return h.svc.TypingStart(c.id, p.RoomCode)
		}
		return h.svc.TypingStop(c.id, p.RoomCode)

	case inUpdateStatus:
		var p statusPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		return h.svc.UpdateStatus(c.id, p.RoomCode, p.Status)

	case inForward:
		var p forwardPayload
		if err := h.decode(env.Payload, &p); err != nil {
			return err
		}
		_, err := h.svc.Forward(c.id, p.FromCode, p.ToCode, p.ID)
		return err

	default:
		h.logger.Debug("unknown message type", "conn", c.id, "type", env.Type)
		return errInvalidRequest
	}
}

// reply はエラーを error イベントとして送信元の接続にだけ送ります
func (h *WebSocketHandler) reply(c *Client, eventType string, err error) {
	label := eventType
	if label == "" {
		label = "unknown"
	}
	h.metrics.Errors.WithLabelValues(label).Inc()
	h.logger.Debug("event failed", "conn", c.id, "type", eventType, "error", err)
	h.hub.Send(c.id, models.Event{Type: models.EventError, Payload: models.ErrorPayload{Message: errorMessage(err)}})
}

// errorMessage はエラーをクライアント向けの文言に変換します
func errorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRoomCode):
		return "Invalid room code. Please enter 6 digits."
	case errors.Is(err, service.ErrRoomFull):
		return "Room is full. Maximum 2 participants allowed."
	case errors.Is(err, service.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, service.ErrNotParticipant):
		return "User not in room"
	case errors.Is(err, service.ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, service.ErrUnauthorized):
		return "You can only change your own messages"
	case errors.Is(err, service.ErrNotEditable):
		return "Only text messages can be edited"
	case errors.Is(err, service.ErrNotForwardable):
		return "This message cannot be forwarded"
	case errors.Is(err, service.ErrInvalidMessage):
		return "Invalid message"
	case errors.Is(err, errTooManyRequests):
		return "Too many requests"
	case errors.Is(err, errInvalidRequest):
		return "Invalid request"
	default:
		return "Internal server error"
	}
}
