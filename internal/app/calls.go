package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CallTracker records call lifecycle per call id and mirrors it to the call
// repository when one is configured. Status mutation is serialized through
// the tracker mutex; repository writes happen outside of it.
type CallTracker struct {
	mu    sync.Mutex
	calls map[domain.CallID]*domain.Call
	repo  core.CallRepository // may be nil
}

func NewCallTracker(repo core.CallRepository) *CallTracker {
	return &CallTracker{calls: make(map[domain.CallID]*domain.Call), repo: repo}
}

// Start tracks a new pending call. ErrDuplicateCall if the id is already
// tracked or collides in the repository; a repository outage rolls the
// reservation back and leaves no trace in memory.
func (t *CallTracker) Start(ctx context.Context, id domain.CallID, caller, callee domain.UserID) (*domain.Call, error) {
	t.mu.Lock()
	if _, ok := t.calls[id]; ok {
		t.mu.Unlock()
		return nil, ErrDuplicateCall
	}
	call := domain.NewCall(id, caller, callee)
	t.calls[id] = call
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.Create(ctx, call); err != nil {
			t.mu.Lock()
			delete(t.calls, id)
			t.mu.Unlock()
			if errors.Is(err, core.ErrDuplicate) {
				return nil, ErrDuplicateCall
			}
			log.Error().Err(err).Str("module", "app.calls").Str("call", string(id)).Msg("call create failed")
			return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
		}
	}
	log.Info().Str("module", "app.calls").Str("call", string(id)).
		Str("caller", string(caller)).Str("callee", string(callee)).Msg("call started")
	return call, nil
}

// End transitions a call to ended. Unknown or already ended ids are a no-op
// so duplicate end signals are tolerated.
func (t *CallTracker) End(ctx context.Context, id domain.CallID) (*domain.Call, bool) {
	t.mu.Lock()
	call, ok := t.calls[id]
	if !ok || call.Status == domain.CallEnded {
		t.mu.Unlock()
		log.Debug().Str("module", "app.calls").Str("call", string(id)).Msg("end for unknown or ended call")
		return nil, false
	}
	call.Status = domain.CallEnded
	call.UpdatedAt = time.Now()
	t.mu.Unlock()

	t.mirror(ctx, call)
	log.Info().Str("module", "app.calls").Str("call", string(id)).Msg("call ended")
	return call, true
}

// OnSignal is the implicit accept: the first successfully relayed signal
// between the two parties of a pending call makes it active. Offer/answer
// payloads are snapshotted onto the record on the way through; the relayed
// bytes themselves are never touched.
func (t *CallTracker) OnSignal(ctx context.Context, a, b domain.UserID, signal json.RawMessage) {
	t.mu.Lock()
	var call *domain.Call
	for _, c := range t.calls {
		if c.Status != domain.CallEnded && c.Between(a, b) {
			call = c
			break
		}
	}
	if call == nil {
		t.mu.Unlock()
		return
	}
	changed := false
	if call.Status == domain.CallPending {
		call.Status = domain.CallActive
		changed = true
		log.Info().Str("module", "app.calls").Str("call", string(call.ID)).Msg("call active")
	}
	if sdp := parseSDP(signal); sdp != nil {
		switch sdp.Type {
		case webrtc.SDPTypeOffer:
			call.OfferSDP = sdp.SDP
			changed = true
		case webrtc.SDPTypeAnswer:
			call.AnswerSDP = sdp.SDP
			changed = true
		}
	}
	if changed {
		call.UpdatedAt = time.Now()
	}
	t.mu.Unlock()

	if changed {
		t.mirror(ctx, call)
	}
}

// EndAllFor ends every live call involving the identity and returns them,
// so counterparts can be notified. Used on disconnection without reconnect.
func (t *CallTracker) EndAllFor(ctx context.Context, uid domain.UserID) []*domain.Call {
	t.mu.Lock()
	var ended []*domain.Call
	for _, c := range t.calls {
		if c.Status != domain.CallEnded && c.Involves(uid) {
			c.Status = domain.CallEnded
			c.UpdatedAt = time.Now()
			ended = append(ended, c)
		}
	}
	t.mu.Unlock()

	for _, c := range ended {
		t.mirror(ctx, c)
		log.Info().Str("module", "app.calls").Str("call", string(c.ID)).Str("user", string(uid)).Msg("call ended on disconnect")
	}
	return ended
}

func (t *CallTracker) Get(id domain.CallID) (*domain.Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	return c, ok
}

// mirror pushes the current record to the repository, best effort.
func (t *CallTracker) mirror(ctx context.Context, call *domain.Call) {
	if t.repo == nil {
		return
	}
	if err := t.repo.Update(ctx, call); err != nil {
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(call.ID)).Msg("call mirror failed")
	}
}

func parseSDP(signal json.RawMessage) *webrtc.SessionDescription {
	if len(signal) == 0 {
		return nil
	}
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(signal, &sdp); err != nil || sdp.SDP == "" {
		return nil
	}
	return &sdp
}
