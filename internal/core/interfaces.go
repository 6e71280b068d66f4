package core

import (
	"context"
	"errors"

	"github.com/dkeye/Duet/internal/domain"
)

// Frame is a raw binary payload.
type Frame []byte

// ConnID is the opaque identifier of one live transport session.
type ConnID string

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Session binds an authenticated Identity to its transport endpoint.
// This is what the registry stores and the engine addresses events to.
type Session interface {
	Identity() *domain.Identity
	Signal() SignalConnection
}

// Directory is the durable store of identities. Implementations must never
// be called while the registry's critical section is held.
type Directory interface {
	FindByToken(ctx context.Context, token string) (*domain.Identity, error)
	FindByID(ctx context.Context, id domain.UserID) (*domain.Identity, error)
	// FindFreeOnlineOther returns any online identity other than exclude
	// that is not mirrored as paired, or ErrNotFound.
	FindFreeOnlineOther(ctx context.Context, exclude domain.UserID) (*domain.Identity, error)
	Save(ctx context.Context, identity *domain.Identity) error
	ListOthers(ctx context.Context, exclude domain.UserID) ([]*domain.Identity, error)
}

// CallRepository mirrors call lifecycle records. Create fails with
// ErrDuplicate on a call id collision.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	Update(ctx context.Context, call *domain.Call) error
}
