package repo

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AsyncDirectory は RoomDirectory への書き込みをバックグラウンドで行います
// 呼び出し側は外部I/Oを待たず、キューが満杯なら更新を捨てます
type AsyncDirectory struct {
	dir     RoomDirectory
	ttl     time.Duration
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan update
	wg     sync.WaitGroup
}

type update struct {
	summary RoomSummary
	remove  bool
}

// NewAsyncDirectory はワーカーを起動して AsyncDirectory を返します
func NewAsyncDirectory(dir RoomDirectory, ttl time.Duration, queueSize int, logger *slog.Logger) *AsyncDirectory {
	a := &AsyncDirectory{
		dir:     dir,
		ttl:     ttl,
		logger:  logger,
		timeout: 3 * time.Second,
		queue:   make(chan update, queueSize),
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Upsert はルームの概要の更新を予約します
func (a *AsyncDirectory) Upsert(room RoomSummary) {
	a.enqueue(update{summary: room})
}

// Remove はルームの削除を予約します
func (a *AsyncDirectory) Remove(code string) {
	a.enqueue(update{summary: RoomSummary{Code: code}, remove: true})
}

func (a *AsyncDirectory) enqueue(u update) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- u:
	default:
		a.logger.Warn("room directory queue full, dropping update", "room", u.summary.Code)
	}
}

func (a *AsyncDirectory) loop() {
	defer a.wg.Done()
	for u := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		var err error
		if u.remove {
			err = a.dir.RemoveRoom(ctx, u.summary.Code)
		} else {
			err = a.dir.UpsertRoom(ctx, u.summary, a.ttl)
		}
		cancel()
		if err != nil {
			a.logger.Error("room directory update failed", "room", u.summary.Code, "error", err)
		}
	}
}

// Close は残りの更新を書き出してからワーカーを停止します
func (a *AsyncDirectory) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
