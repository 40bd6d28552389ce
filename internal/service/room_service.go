// Package service はビジネスロジックを担当します
// ルームへの参加・退出、メッセージの送信・編集・削除、配信状態の遷移などの処理を提供します
package service

import (
	"github.com/SteamVC/pairchat/internal/idgen"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

// RoomService はルームコードの発行と概要の参照を提供します
type RoomService struct {
	store *roomstore.Store
	idg   IDGenerator // ルームコード生成器
}

// IDGenerator はユニークなIDを生成するインターフェース
type IDGenerator interface {
	New() (string, error) // 新しいIDを生成
}

// roomCodeGen はIDGeneratorの実装
type roomCodeGen struct{}

// New は新しいルームコードを生成します
func (roomCodeGen) New() (string, error) { return idgen.NewRoomCode() }

// NewRoomCodeGenerator は6桁のルームコードを生成する IDGenerator を返します
func NewRoomCodeGenerator() IDGenerator {
	return roomCodeGen{}
}

// NewRoomService は新しいRoomServiceを作成します
func NewRoomService(store *roomstore.Store, idg IDGenerator) *RoomService {
	return &RoomService{store: store, idg: idg}
}

// NewCode は現在使われていないルームコードを発行します
// ルーム自体は最初の参加時に作成されるため、ここでは予約しません
func (s *RoomService) NewCode() (string, error) {
	const maxRetries = 10 // 生成の最大リトライ回数

	for i := 0; i < maxRetries; i++ {
		code, err := s.idg.New()
		if err != nil {
			return "", err
		}
		// 重複チェック
		if !s.store.Exists(code) {
			return code, nil
		}
	}
	return "", ErrRoomIDGenerationFailed
}

// Get は指定されたルームの概要を取得します
// 戻り値: 概要、存在フラグ
func (s *RoomService) Get(code string) (roomstore.Summary, bool, error) {
	if !roomstore.ValidCode(code) {
		return roomstore.Summary{}, false, ErrInvalidRoomCode
	}
	sum, ok := s.store.Summary(code)
	return sum, ok, nil
}
