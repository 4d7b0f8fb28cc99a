// Package protocol defines the wire event vocabulary. Field names are the
// durable contract with clients; payload bodies the server does not need
// to read stay json.RawMessage and are forwarded untouched.
package protocol

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/dkeye/Chatter/internal/core"
	"github.com/dkeye/Chatter/internal/domain"
)

type Kind string

// Inbound kinds.
const (
	KindJoinConversation  Kind = "join-conversation"
	KindLeaveConversation Kind = "leave-conversation"
	KindSendMessage       Kind = "send-message"
	KindTypingStart       Kind = "typing-start"
	KindTypingStop        Kind = "typing-stop"
	KindMarkRead          Kind = "mark-read"
	KindDeleteMessage     Kind = "delete-message"
	KindEditMessage       Kind = "edit-message"
	KindCallUser          Kind = "call-user"
	KindAcceptCall        Kind = "accept-call"
	KindRejectCall        Kind = "reject-call"
	KindEndCall           Kind = "end-call"
	KindICECandidate      Kind = "ice-candidate"
	KindUpdateStatus      Kind = "update-status"
)

// Outbound kinds. Most mirror the inbound name; send-message and call-user
// are renamed on the way out, matching what clients listen for.
const (
	KindNewMessage          Kind = "new-message"
	KindMessageNotification Kind = "message-notification"
	KindIncomingCall        Kind = "incoming-call"
	KindCallAccepted        Kind = "call-accepted"
	KindCallRejected        Kind = "call-rejected"
	KindCallEnded           Kind = "call-ended"
	KindUserOnline          Kind = "user-online"
	KindUserOffline         Kind = "user-offline"
	KindUserStatusChanged   Kind = "user-status-changed"
	KindPresenceSnapshot    Kind = "presence-snapshot"
	KindConversationJoined  Kind = "conversation-joined"
	KindConversationLeft    Kind = "conversation-left"
	KindError               Kind = "error"
)

// DecodeKind peeks at the type tag without decoding the payload.
func DecodeKind(data []byte) (Kind, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

func Marshal(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	return core.Frame(b), err
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Outbound event shapes. The server is the sole authority for senderId,
// from, readBy, editedBy, deletedBy and every timestamp.

type NewMessage struct {
	Type           Kind            `json:"type"`
	ConversationID domain.RoomID   `json:"conversationId"`
	SenderID       domain.UserID   `json:"senderId"`
	Message        json.RawMessage `json:"message"`
	Timestamp      time.Time       `json:"timestamp"`
}

type Typing struct {
	Type           Kind          `json:"type"`
	ConversationID domain.RoomID `json:"conversationId"`
	UserID         domain.UserID `json:"userId"`
}

type MarkRead struct {
	Type           Kind          `json:"type"`
	ConversationID domain.RoomID `json:"conversationId"`
	MessageIDs     []string      `json:"messageIds"`
	ReadBy         domain.UserID `json:"readBy"`
	Timestamp      time.Time     `json:"timestamp"`
}

type MessageDeleted struct {
	Type           Kind          `json:"type"`
	ConversationID domain.RoomID `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	DeletedBy      domain.UserID `json:"deletedBy"`
	Timestamp      time.Time     `json:"timestamp"`
}

type MessageEdited struct {
	Type           Kind            `json:"type"`
	ConversationID domain.RoomID   `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	NewContent     json.RawMessage `json:"newContent"`
	EditedBy       domain.UserID   `json:"editedBy"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CallSignal carries one WebRTC negotiation hop. SignalData and Candidate
// are opaque to the server.
type CallSignal struct {
	Type       Kind            `json:"type"`
	From       domain.UserID   `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	CallType   string          `json:"callType,omitempty"`
}

type UserOnline struct {
	Type   Kind          `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type UserOffline struct {
	Type     Kind          `json:"type"`
	UserID   domain.UserID `json:"userId"`
	LastSeen time.Time     `json:"lastSeen"`
}

type UserStatusChanged struct {
	Type   Kind          `json:"type"`
	UserID domain.UserID `json:"userId"`
	Status domain.Status `json:"status"`
}

type PresenceState struct {
	UserID   domain.UserID `json:"userId"`
	Status   domain.Status `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}

type PresenceSnapshot struct {
	Type  Kind            `json:"type"`
	Users []PresenceState `json:"users"`
}

type ConversationAck struct {
	Type           Kind          `json:"type"`
	ConversationID domain.RoomID `json:"conversationId"`
}

type Error struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

// NewError keeps error frames consistent across handlers.
func NewError(msg string) Error {
	return Error{Type: KindError, Error: msg}
}
