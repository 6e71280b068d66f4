package domain

import "time"

type CallID string

type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

// Call is a logical negotiation session between two identities, tracked
// independently of the underlying connections. Offer/answer snapshots are
// kept for a cold reconnect of the negotiation.
type Call struct {
	ID        CallID     `json:"callId"`
	CallerID  UserID     `json:"callerId"`
	CalleeID  UserID     `json:"calleeId"`
	Status    CallStatus `json:"status"`
	OfferSDP  string     `json:"-"`
	AnswerSDP string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func NewCall(id CallID, caller, callee UserID) *Call {
	now := time.Now()
	return &Call{
		ID:        id,
		CallerID:  caller,
		CalleeID:  callee,
		Status:    CallPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Between reports whether the call involves exactly the two given identities,
// in either direction.
func (c *Call) Between(a, b UserID) bool {
	return (c.CallerID == a && c.CalleeID == b) || (c.CallerID == b && c.CalleeID == a)
}

// Involves reports whether the identity is the caller or the callee.
func (c *Call) Involves(id UserID) bool {
	return c.CallerID == id || c.CalleeID == id
}

// Counterpart returns the other party of the call.
func (c *Call) Counterpart(id UserID) UserID {
	if c.CallerID == id {
		return c.CalleeID
	}
	return c.CallerID
}
