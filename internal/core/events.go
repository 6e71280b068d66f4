package core

import (
	"encoding/json"

	"github.com/dkeye/Duet/internal/domain"
)

// Events pushed by the engine. Each carries its own "type" so adapters can
// marshal them straight onto the wire.

// UserDTO is a read-only view of an identity (no token or transport fields).
type UserDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
	Status   domain.Status `json:"status"`
}

type PairFoundEvent struct {
	Type         string        `json:"type"`
	PairedWith   string        `json:"pairedWith"`
	PairedWithID domain.UserID `json:"pairedWithId"`
}

type PairDisconnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type UserListEvent struct {
	Type  string    `json:"type"`
	Users []UserDTO `json:"users"`
}

// UserPresenceEvent is both user-connected and user-disconnected.
type UserPresenceEvent struct {
	Type string `json:"type"`
	UserDTO
}

type IncomingCallEvent struct {
	Type       string        `json:"type"`
	CallID     domain.CallID `json:"callId"`
	CallerName string        `json:"callerName"`
	CallerID   domain.UserID `json:"callerId"`
}

type CallInitiatedEvent struct {
	Type     string        `json:"type"`
	CallID   domain.CallID `json:"callId"`
	TargetID domain.UserID `json:"targetId"`
}

type CallEndedEvent struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
}

// SignalEvent is the relayed envelope. Signal and Candidate are opaque to
// the engine and forwarded without interpretation; absent parts marshal as
// explicit nulls.
type SignalEvent struct {
	Type      string          `json:"type"`
	SenderID  domain.UserID   `json:"senderId"`
	Signal    json.RawMessage `json:"signal"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
