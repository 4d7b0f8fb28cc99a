package domain

// RoomID names a broadcast scope: a conversation or a group chat.
type RoomID string
