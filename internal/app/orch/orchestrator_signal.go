package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
)

// Signal forwards a negotiation payload to the sender's counterpart. The
// payload is opaque and forwarded byte for byte; only its envelope gains the
// sender's identity. Per-sender ordering holds because each connection's
// reads are handled by a single worker and writes go through one channel.
func (o *Orchestrator) Signal(ctx context.Context, cid core.ConnID, signal, candidate json.RawMessage) {
	sess, ok := o.Registry.Lookup(cid)
	if !ok {
		return
	}
	peerSess, _, ok := o.Registry.PeerOf(cid)
	if !ok {
		o.emitCallError(sess, app.ErrNoPeer.Error())
		return
	}

	o.emit(peerSess, core.SignalEvent{
		Type:      "signal",
		SenderID:  sess.Identity().ID,
		Signal:    signal,
		Candidate: candidate,
	})

	// The first relayed signal is the implicit accept for a pending call.
	o.Calls.OnSignal(ctx, sess.Identity().ID, peerSess.Identity().ID, signal)
}
