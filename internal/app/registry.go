package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Session   core.Session
	Peer      core.ConnID
	CreatedAt time.Time
	Cancel    context.CancelFunc
}

// Registry owns every live connection and the symmetric pairing relation
// between them. All mutation goes through one mutex per instance; this is
// the single serialization point for register/pair/unpair/remove and the
// claim-or-wait matchmaking step.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	order []core.ConnID // registration order, the documented claim scan order
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

// Register adds a connection. It is the only operation that fails on
// presence: a second registration of the same id is ErrDuplicateConnection.
func (r *Registry) Register(cid core.ConnID, sess core.Session, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[cid]; ok {
		return ErrDuplicateConnection
	}
	r.conns[cid] = &connEntry{Session: sess, CreatedAt: time.Now(), Cancel: cancel}
	r.order = append(r.order, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("registered connection")
	return nil
}

func (r *Registry) Lookup(cid core.ConnID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Pair links two registered connections symmetrically. A missing side is a
// no-op; a side that already has a partner, or a self-pair, is ErrAlreadyPaired.
func (r *Registry) Pair(a, b core.ConnID) error {
	if a == b {
		return ErrAlreadyPaired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ea, ok := r.conns[a]
	if !ok {
		return nil
	}
	eb, ok := r.conns[b]
	if !ok {
		return nil
	}
	if ea.Peer != "" || eb.Peer != "" {
		return ErrAlreadyPaired
	}
	ea.Peer = b
	eb.Peer = a
	log.Info().Str("module", "app.registry").Str("cid", string(a)).Str("peer", string(b)).Msg("paired")
	return nil
}

// Unpair removes the link on both sides if present, no-op otherwise.
func (r *Registry) Unpair(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unpairLocked(cid)
}

func (r *Registry) unpairLocked(cid core.ConnID) {
	e, ok := r.conns[cid]
	if !ok || e.Peer == "" {
		return
	}
	if pe, ok := r.conns[e.Peer]; ok && pe.Peer == cid {
		pe.Peer = ""
	}
	e.Peer = ""
}

// Remove deregisters a connection, implicitly unpairing it first. The former
// peer id is returned so callers can notify it.
func (r *Registry) Remove(cid core.ConnID) (peer core.ConnID, had bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return "", false
	}
	peer = e.Peer
	r.unpairLocked(cid)
	delete(r.conns, cid)
	for i, id := range r.order {
		if id == cid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("removed connection")
	return peer, true
}

// PeerOf resolves the counterpart of a connection.
func (r *Registry) PeerOf(cid core.ConnID) (core.Session, core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.Peer == "" {
		return nil, "", false
	}
	pe, ok := r.conns[e.Peer]
	if !ok {
		return nil, "", false
	}
	return pe.Session, e.Peer, true
}

// ClaimFree atomically finds the first free connection in registration order
// and pairs it with cid. Find-then-pair under one lock: two concurrent
// joiners can never claim the same candidate. Connections of the same
// identity are skipped.
func (r *Registry) ClaimFree(cid core.ConnID) (core.Session, core.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	me, ok := r.conns[cid]
	if !ok || me.Peer != "" {
		return nil, "", false
	}
	for _, id := range r.order {
		if id == cid {
			continue
		}
		e := r.conns[id]
		if e.Peer != "" {
			continue
		}
		if e.Session.Identity().ID == me.Session.Identity().ID {
			continue
		}
		e.Peer = cid
		me.Peer = id
		log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("peer", string(id)).Msg("claimed free connection")
		return e.Session, id, true
	}
	return nil, "", false
}

// Rebind replaces a connection id in place, keeping any pairing link, and
// cancels the old entry's worker. Used when an identity reconnects within
// the grace window.
func (r *Registry) Rebind(old, cid core.ConnID, sess core.Session, cancel context.CancelFunc) (peer core.ConnID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.conns[old]
	if !found {
		return "", false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	if pe, pok := r.conns[e.Peer]; pok && pe.Peer == old {
		pe.Peer = cid
	}
	delete(r.conns, old)
	r.conns[cid] = &connEntry{Session: sess, Peer: e.Peer, CreatedAt: e.CreatedAt, Cancel: cancel}
	for i, id := range r.order {
		if id == old {
			r.order[i] = cid
			break
		}
	}
	log.Info().Str("module", "app.registry").Str("old", string(old)).Str("cid", string(cid)).Msg("rebound connection")
	return e.Peer, true
}

// FindByIdentity returns the live session of an identity, if any.
func (r *Registry) FindByIdentity(uid domain.UserID) (core.Session, core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cid := range r.order {
		e := r.conns[cid]
		if e.Session.Identity().ID == uid {
			return e.Session, cid, true
		}
	}
	return nil, "", false
}

type regSnap struct {
	CID     core.ConnID
	Session core.Session
}

// Snapshot returns the live sessions in registration order, for broadcasts.
func (r *Registry) Snapshot() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.conns))
	for _, cid := range r.order {
		out = append(out, regSnap{CID: cid, Session: r.conns[cid].Session})
	}
	return out
}
