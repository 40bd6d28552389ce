package service

import (
	"errors"

	"github.com/SteamVC/pairchat/internal/roomstore"
)

// カスタムエラー定義
var (
	ErrInvalidRoomCode        = roomstore.ErrInvalidRoomCode
	ErrRoomNotFound           = roomstore.ErrRoomNotFound
	ErrRoomFull               = roomstore.ErrRoomFull
	ErrMessageNotFound        = errors.New("message not found")
	ErrNotParticipant         = errors.New("not a participant of the room")
	ErrUnauthorized           = errors.New("unauthorized: not the message sender")
	ErrNotEditable            = errors.New("message cannot be edited")
	ErrNotForwardable         = errors.New("message cannot be forwarded")
	ErrInvalidMessage         = errors.New("invalid message")
	ErrRoomIDGenerationFailed = errors.New("failed to generate unique room code after multiple attempts")
)
