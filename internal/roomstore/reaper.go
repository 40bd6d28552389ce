package roomstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/jonboulle/clockwork"
)

// Reaper は cron 式のスケジュールでアイドルなルームを削除します
type Reaper struct {
	Store  *Store
	Clock  clockwork.Clock
	Cron   string
	TTL    time.Duration
	Logger *slog.Logger
	// OnSweep は毎回の削除処理の後に、削除したルームを渡して呼ばれます
	OnSweep func(now time.Time, reaped []Reaped)
}

// SweepOnce は1回分の削除処理を行います
func (rp *Reaper) SweepOnce() []Reaped {
	reaped := rp.Store.Reap(rp.TTL)
	for _, rec := range reaped {
		rp.Logger.Info("room expired due to inactivity", "room", rec.Code, "participants", len(rec.Conns))
	}
	if rp.OnSweep != nil {
		rp.OnSweep(rp.Clock.Now(), reaped)
	}
	return reaped
}

// Run は ctx が終了するまでスケジュールに従って SweepOnce を繰り返します
func (rp *Reaper) Run(ctx context.Context) {
	rp.Logger.Info("reaper started", "cron", rp.Cron, "ttl", rp.TTL)
	for {
		now := rp.Clock.Now()
		next, err := gronx.NextTickAfter(rp.Cron, now, false)
		if err != nil {
			rp.Logger.Error("reaper next tick failed", "cron", rp.Cron, "error", err)
			next = now.Add(time.Minute)
		}

		if !rp.wait(ctx, next.Sub(now)) {
			rp.Logger.Info("reaper stopped")
			return
		}
		rp.SweepOnce()
	}
}

func (rp *Reaper) wait(ctx context.Context, d time.Duration) bool {
	t := rp.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
