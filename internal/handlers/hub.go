package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/SteamVC/pairchat/internal/metrics"
	"github.com/SteamVC/pairchat/internal/models"
)

// Hub は接続IDごとのクライアントを管理し、送信キューにイベントを積みます
// service.Notifier を実装します
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub は空の Hub を作成します
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger, metrics: m}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) client(conn string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[conn]
	return c, ok
}

// Len は接続中のクライアント数を返します
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send はイベントを接続の送信キューに積みます。キューが満杯なら破棄します
func (h *Hub) Send(conn string, ev models.Event) {
	c, ok := h.client(conn)
	if !ok {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if !c.enqueue(b) {
		h.metrics.DroppedEvents.Inc()
		h.logger.Warn("send queue full, dropping event", "conn", conn, "type", ev.Type)
	}
}

// Close は接続を閉じます。書き込みループが close フレームを送ってから切断します
func (h *Hub) Close(conn string) {
	if c, ok := h.client(conn); ok {
		c.close()
	}
}

// CloseAll は全ての接続を閉じ、各接続の切断処理が終わるか ctx が終了するまで待ちます
// http.Server.Shutdown はアップグレード済みの接続を閉じないため、終了時に呼び出します
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
