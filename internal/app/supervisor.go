package app

import (
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Policy selects what happens when a connection drops.
type Policy string

const (
	// PolicyImmediate releases the pairing and marks the identity offline
	// right away.
	PolicyImmediate Policy = "immediate"
	// PolicyGrace defers the release by a cancellable deadline so the same
	// identity can reconnect without peers ever observing it offline.
	PolicyGrace Policy = "grace"
)

// ReleaseFunc performs the immediate-release behavior for an identity whose
// connection is gone for good.
type ReleaseFunc func(identity *domain.Identity, cid core.ConnID)

type pendingDisconnect struct {
	identity *domain.Identity
	cid      core.ConnID
	timer    *time.Timer
	gen      uint64
}

// Supervisor owns the disconnect grace deadlines. At most one pending
// deadline exists per identity; a new disconnect while one is pending
// replaces it. Generation tokens make cancellation race-free against a
// concurrently firing timer.
type Supervisor struct {
	mu      sync.Mutex
	policy  Policy
	grace   time.Duration
	gen     uint64
	pending map[domain.UserID]*pendingDisconnect
	release ReleaseFunc
}

func NewSupervisor(policy Policy, grace time.Duration) *Supervisor {
	return &Supervisor{
		policy:  policy,
		grace:   grace,
		pending: make(map[domain.UserID]*pendingDisconnect),
	}
}

// OnRelease installs the release callback. Must be set before the first
// disconnect is handled.
func (s *Supervisor) OnRelease(fn ReleaseFunc) { s.release = fn }

// OnDisconnect either releases now (immediate policy) or schedules the
// cancellable transition to offline.
func (s *Supervisor) OnDisconnect(identity *domain.Identity, cid core.ConnID) {
	if s.policy != PolicyGrace {
		s.release(identity, cid)
		return
	}

	s.mu.Lock()
	if prev, ok := s.pending[identity.ID]; ok {
		prev.timer.Stop()
	}
	s.gen++
	p := &pendingDisconnect{identity: identity, cid: cid, gen: s.gen}
	gen := s.gen
	p.timer = time.AfterFunc(s.grace, func() { s.fire(identity.ID, gen) })
	s.pending[identity.ID] = p
	s.mu.Unlock()

	log.Info().Str("module", "app.supervisor").Str("user", string(identity.ID)).
		Dur("grace", s.grace).Msg("disconnect deferred")
}

func (s *Supervisor) fire(uid domain.UserID, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[uid]
	if !ok || p.gen != gen {
		// A reconnect or a newer disconnect won the race.
		s.mu.Unlock()
		return
	}
	delete(s.pending, uid)
	s.mu.Unlock()

	log.Info().Str("module", "app.supervisor").Str("user", string(uid)).Msg("grace deadline fired")
	s.release(p.identity, p.cid)
}

// TryResume cancels a pending deadline for the identity, if any, and returns
// the connection id the identity held before it dropped.
func (s *Supervisor) TryResume(uid domain.UserID) (core.ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[uid]
	if !ok {
		return "", false
	}
	p.timer.Stop()
	delete(s.pending, uid)
	log.Info().Str("module", "app.supervisor").Str("user", string(uid)).Msg("reconnected within grace window")
	return p.cid, true
}
