package handlers

import (
	"encoding/json"

	"github.com/SteamVC/pairchat/internal/models"
)

// 受信イベントの種類
const (
	inIdentify      = "identify"
	inJoinRoom      = "join-room"
	inLeaveRoom     = "leave-room"
	inSendMessage   = "send-message"
	inSendVoice     = "send-voice-message"
	inEditMessage   = "edit-message"
	inDeleteMessage = "delete-message"
	inAddReaction   = "add-reaction"
	inMessageSeen   = "message-seen"
	inTypingStart   = "typing-start"
	inTypingStop    = "typing-stop"
	inUpdateStatus  = "update-status"
	inForward       = "forward-message"
	inPing          = "ping"
)

// envelope はクライアントから受信するメッセージの構造です
// Payload は type に応じて後からデコードします
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type identifyPayload struct {
	Token string `json:"token" validate:"omitempty,max=128"`
}

// joinPayload のルームコードはサービス層で検証し、専用のエラーメッセージを返します
type joinPayload struct {
	Code        string `json:"code"`
	DesiredName string `json:"desiredName" validate:"omitempty,max=200"`
	Token       string `json:"token" validate:"omitempty,max=128"`
}

type roomPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
}

type sendPayload struct {
	RoomCode string        `json:"roomCode" validate:"required"`
	Body     string        `json:"body"`
	Kind     models.Kind   `json:"kind" validate:"omitempty,oneof=text image video file voice"`
	Media    *models.Media `json:"media"`
	ReplyTo  uint64        `json:"replyTo"`
}

type voicePayload struct {
	RoomCode        string  `json:"roomCode" validate:"required"`
	AudioBlob       string  `json:"audioBlob" validate:"required"`
	DurationSeconds float64 `json:"durationSeconds" validate:"gte=0"`
}

type editPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	ID       uint64 `json:"id" validate:"required"`
	NewBody  string `json:"newBody" validate:"required"`
}

type deletePayload struct {
	RoomCode    string `json:"roomCode" validate:"required"`
	ID          uint64 `json:"id" validate:"required"`
	ForEveryone bool   `json:"forEveryone"`
}

type reactionPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	ID       uint64 `json:"id" validate:"required"`
	Emoji    string `json:"emoji" validate:"required,max=32"`
}

type seenPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	ID       uint64 `json:"id" validate:"required"`
}

type statusPayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
	Status   string `json:"status" validate:"required"`
}

type forwardPayload struct {
	FromCode string `json:"fromCode" validate:"required,roomcode"`
	ToCode   string `json:"toCode" validate:"required,roomcode"`
	ID       uint64 `json:"id" validate:"required"`
}
