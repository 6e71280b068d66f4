package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartCall initiates a call toward the target identity. Every failure
// degrades to a call-error on the caller's channel; nothing here is allowed
// to disturb other connections.
func (o *Orchestrator) StartCall(ctx context.Context, cid core.ConnID, callID domain.CallID, targetID domain.UserID, callerName string) {
	sess, ok := o.Registry.Lookup(cid)
	if !ok {
		return
	}
	caller := sess.Identity()
	if callerName == "" {
		callerName = caller.Username
	}

	target, err := o.Directory.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			o.emitCallError(sess, app.ErrCalleeUnreachable.Error())
		} else {
			log.Error().Err(err).Str("module", "orch").Str("target", string(targetID)).Msg("directory lookup failed")
			o.emitCallError(sess, "server error")
		}
		return
	}

	calleeSess, _, ok := o.Registry.FindByIdentity(target.ID)
	if !ok {
		o.emitCallError(sess, app.ErrCalleeUnreachable.Error())
		return
	}

	call, err := o.Calls.Start(ctx, callID, caller.ID, target.ID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDuplicateCall):
			o.emitCallError(sess, "call already exists")
		default:
			o.emitCallError(sess, "server error")
		}
		return
	}

	o.emit(calleeSess, core.IncomingCallEvent{Type: "incoming-call", CallID: call.ID, CallerName: callerName, CallerID: caller.ID})
	o.emit(sess, core.CallInitiatedEvent{Type: "call-initiated", CallID: call.ID, TargetID: target.ID})
}

// EndCall ends a tracked call and notifies the counterpart only; the
// initiator gets no echo. A duplicate end is a logged no-op, and ending with
// no pair degrades to a call-error on the sender.
func (o *Orchestrator) EndCall(ctx context.Context, cid core.ConnID, callID domain.CallID) {
	sess, ok := o.Registry.Lookup(cid)
	if !ok {
		return
	}
	peerSess, _, ok := o.Registry.PeerOf(cid)
	if !ok {
		o.emitCallError(sess, app.ErrNoPeer.Error())
		return
	}
	if _, ended := o.Calls.End(ctx, callID); ended {
		o.emit(peerSess, core.CallEndedEvent{Type: "call-ended", CallID: callID})
	}
}
