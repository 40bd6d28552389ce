package models

import "time"

// 送信イベントの種類
const (
	EventIdentified          = "identified"
	EventRoomJoined          = "room-joined"
	EventNewMessage          = "new-message"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventUserTyping          = "user-typing"
	EventMessageStatusUpdate = "message-status-update"
	EventReactionUpdate      = "reaction-update"
	EventMessageEdited       = "message-edited"
	EventMessageDeleted      = "message-deleted"
	EventUserStatusUpdated   = "user-status-updated"
	EventError               = "error"
	EventPong                = "pong"
)

// Event はサーバーからクライアントへ送るメッセージです
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type IdentifiedPayload struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	AvatarColor string `json:"avatarColor"`
	Status      string `json:"status"`
}

type RoomJoinedPayload struct {
	Code             string            `json:"code"`
	Token            string            `json:"token"`
	UserID           string            `json:"userId"`
	Name             string            `json:"name"`
	AvatarColor      string            `json:"avatarColor"`
	Status           string            `json:"status"`
	Messages         []Message         `json:"messages"`
	ParticipantCount int               `json:"participantCount"`
	Participants     []ParticipantView `json:"participants"`
	TypingNames      []string          `json:"typingNames"`
}

type UserJoinedPayload struct {
	Name             string            `json:"name"`
	ParticipantCount int               `json:"participantCount"`
	Participants     []ParticipantView `json:"participants"`
}

type UserLeftPayload struct {
	ParticipantCount int `json:"participantCount"`
}

type UserTypingPayload struct {
	TypingNames []string `json:"typingNames"`
}

type StatusUpdatePayload struct {
	ID     uint64 `json:"id"`
	Status Status `json:"status"`
}

type ReactionUpdatePayload struct {
	ID        uint64              `json:"id"`
	Reactions map[string][]string `json:"reactions"`
}

type MessageEditedPayload struct {
	ID       uint64    `json:"id"`
	NewBody  string    `json:"newBody"`
	EditedAt time.Time `json:"editedAt"`
}

type MessageDeletedPayload struct {
	ID          uint64 `json:"id"`
	ForEveryone bool   `json:"forEveryone"`
}

type UserStatusPayload struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
