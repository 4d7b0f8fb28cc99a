// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen = 36
	MaxStatusLen = 36
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrStatusEmpty   = errors.New("status empty")
	ErrStatusTooLong = errors.New("status too long")
)

type (
	UserID string
	Role   string
)

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the verified identity bound to a connection.
// It is resolved once, at handshake time, and never mutated afterwards.
type User struct {
	ID   UserID `json:"id"`
	Role Role   `json:"role"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, role Role) (*User, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if role == "" {
		role = RoleUser
	}
	return &User{ID: id, Role: role}, nil
}
