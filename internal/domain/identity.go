// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Identity is an authenticated user known to the system, independent of
// any particular live connection. ConnID is non-empty iff Status is online.
type Identity struct {
	ID         UserID `json:"id"`
	Username   string `json:"username"`
	Token      string `json:"-"`
	ConnID     string `json:"-"`
	PairedWith UserID `json:"-"`
	Status     Status `json:"status"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
// The token is an opaque unique value, stable for the identity's lifetime.
func NewIdentity(username string) (*Identity, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Identity{
		ID:       UserID(uuid.NewString()),
		Username: username,
		Token:    uuid.NewString(),
		Status:   StatusOffline,
	}, nil
}

func (i *Identity) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	i.Username = username
	return nil
}

// Online attaches a live connection. Offline detaches it and drops the
// pairing mirror; both keep the status/conn invariant in one place.
func (i *Identity) Online(connID string) {
	i.ConnID = connID
	i.Status = StatusOnline
}

func (i *Identity) Offline() {
	i.ConnID = ""
	i.PairedWith = ""
	i.Status = StatusOffline
}
