package repo

import (
	"context"
	"time"
)

// RoomSummary はディレクトリに公開するルームの概要です
type RoomSummary struct {
	Code             string    `json:"code"`
	ParticipantCount int       `json:"participantCount"`
	MessageCount     int       `json:"messageCount"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

// RoomDirectory はアクティブなルームの概要を外部に公開します
// 書き込み専用のミラーで、サーバーはここから状態を読み戻しません
type RoomDirectory interface {
	UpsertRoom(ctx context.Context, room RoomSummary, ttl time.Duration) error
	RemoveRoom(ctx context.Context, code string) error
}

// NopDirectory は何もしない RoomDirectory です
type NopDirectory struct{}

func (NopDirectory) UpsertRoom(context.Context, RoomSummary, time.Duration) error { return nil }
func (NopDirectory) RemoveRoom(context.Context, string) error                    { return nil }
