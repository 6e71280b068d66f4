package orch

import (
	"context"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// OnConnect enters an authenticated connection into the engine: it either
// resumes an identity that dropped within the grace window, or registers the
// connection and runs matchmaking.
func (o *Orchestrator) OnConnect(ctx context.Context, cid core.ConnID, sess core.Session, cancel context.CancelFunc) error {
	identity := sess.Identity()

	if old, ok := o.Super.TryResume(identity.ID); ok {
		if o.resume(ctx, old, cid, sess, cancel) {
			return nil
		}
		// The old connection vanished under us; fall through to a fresh join.
	}

	if err := o.Registry.Register(cid, sess, cancel); err != nil {
		return err
	}

	identity.Online(string(cid))
	o.save(ctx, sess, identity)

	if peerSess, _, ok := o.Registry.ClaimFree(cid); ok {
		o.afterPair(ctx, sess, peerSess)
	} else {
		log.Info().Str("module", "orch").Str("user", string(identity.ID)).Msg("no free pair, waiting")
	}

	o.sendUserList(ctx, sess)
	o.broadcastOthers(identity.ID, core.UserPresenceEvent{Type: "user-connected", UserDTO: dto(identity)})
	return nil
}

// resume swaps the dropped connection for the new one. The pairing survives
// and peers never observe the identity offline.
func (o *Orchestrator) resume(ctx context.Context, old, cid core.ConnID, sess core.Session, cancel context.CancelFunc) bool {
	if _, ok := o.Registry.Rebind(old, cid, sess, cancel); !ok {
		return false
	}
	identity := sess.Identity()
	identity.Online(string(cid))

	if peerSess, _, ok := o.Registry.PeerOf(cid); ok {
		peer := peerSess.Identity()
		identity.PairedWith = peer.ID
		o.emit(sess, core.PairFoundEvent{Type: "pair-found", PairedWith: peer.Username, PairedWithID: peer.ID})
	}
	o.save(ctx, sess, identity)
	o.sendUserList(ctx, sess)
	log.Info().Str("module", "orch").Str("user", string(identity.ID)).Str("cid", string(cid)).Msg("resumed session")
	return true
}

// afterPair mirrors the fresh pairing to the directory and tells both sides.
func (o *Orchestrator) afterPair(ctx context.Context, a, b core.Session) {
	ia, ib := a.Identity(), b.Identity()
	ia.PairedWith = ib.ID
	ib.PairedWith = ia.ID
	o.save(ctx, a, ia)
	o.save(ctx, b, ib)

	o.emit(a, core.PairFoundEvent{Type: "pair-found", PairedWith: ib.Username, PairedWithID: ib.ID})
	o.emit(b, core.PairFoundEvent{Type: "pair-found", PairedWith: ia.Username, PairedWithID: ia.ID})
	log.Info().Str("module", "orch").Str("a", string(ia.ID)).Str("b", string(ib.ID)).Msg("pair created")
}

// OnDisconnect hands the dropped connection to the supervisor. Duplicate
// disconnects for an already removed connection are a no-op.
func (o *Orchestrator) OnDisconnect(ctx context.Context, cid core.ConnID) {
	sess, ok := o.Registry.Lookup(cid)
	if !ok {
		return
	}
	o.Super.OnDisconnect(sess.Identity(), cid)
}

// release is the immediate-release behavior: unpair, notify the counterpart,
// end live calls, mark offline, broadcast. Runs either straight from
// OnDisconnect or from a grace deadline firing, so it carries its own context.
func (o *Orchestrator) release(identity *domain.Identity, cid core.ConnID) {
	ctx := context.Background()

	peerSess, _, hadPeer := o.Registry.PeerOf(cid)
	o.Registry.Remove(cid)

	if hadPeer {
		o.emit(peerSess, core.PairDisconnectedEvent{Type: "pair-disconnected", Message: identity.Username + " disconnected"})
		peer := peerSess.Identity()
		peer.PairedWith = ""
		o.save(ctx, nil, peer)
	}

	for _, call := range o.Calls.EndAllFor(ctx, identity.ID) {
		if s, _, ok := o.Registry.FindByIdentity(call.Counterpart(identity.ID)); ok {
			o.emit(s, core.CallEndedEvent{Type: "call-ended", CallID: call.ID})
		}
	}

	identity.Offline()
	o.save(ctx, nil, identity)
	o.broadcastOthers(identity.ID, core.UserPresenceEvent{Type: "user-disconnected", UserDTO: dto(identity)})
	log.Info().Str("module", "orch").Str("user", string(identity.ID)).Msg("released connection")
}

// save mirrors identity state to the directory. A directory outage never
// touches in-memory state; the triggering client just hears about it.
func (o *Orchestrator) save(ctx context.Context, sess core.Session, identity *domain.Identity) {
	if err := o.Directory.Save(ctx, identity); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(identity.ID)).Msg("directory save failed")
		if sess != nil {
			o.emitCallError(sess, "server error")
		}
	}
}

func (o *Orchestrator) sendUserList(ctx context.Context, sess core.Session) {
	others, err := o.Directory.ListOthers(ctx, sess.Identity().ID)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("directory list failed")
		o.emitCallError(sess, "server error")
		return
	}
	users := make([]core.UserDTO, 0, len(others))
	for _, u := range others {
		users = append(users, dto(u))
	}
	o.emit(sess, core.UserListEvent{Type: "user-list", Users: users})
}
