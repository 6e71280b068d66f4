package orch

import (
	"encoding/json"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator wires the registry, directory, call tracker and disconnect
// supervisor together and exposes the per-event entry points the transport
// adapter calls into.
type Orchestrator struct {
	Registry  *app.Registry
	Directory core.Directory
	Calls     *app.CallTracker
	Super     *app.Supervisor
}

func New(reg *app.Registry, dir core.Directory, calls *app.CallTracker, super *app.Supervisor) *Orchestrator {
	o := &Orchestrator{
		Registry:  reg,
		Directory: dir,
		Calls:     calls,
		Super:     super,
	}
	super.OnRelease(o.release)
	return o
}

// emit marshals and pushes one event to a session, best effort. Delivery is
// fire-and-forget; a full or closed channel only drops this event.
func (o *Orchestrator) emit(sess core.Session, v any) {
	if sess == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("emit marshal")
		return
	}
	if err := sess.Signal().TrySend(core.Frame(b)); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("user", string(sess.Identity().ID)).Msg("event dropped")
	}
}

func (o *Orchestrator) emitCallError(sess core.Session, msg string) {
	o.emit(sess, core.CallErrorEvent{Type: "call-error", Message: msg})
}

// broadcastOthers sends an event to every live session except those of the
// given identity.
func (o *Orchestrator) broadcastOthers(uid domain.UserID, v any) {
	for _, snap := range o.Registry.Snapshot() {
		if snap.Session.Identity().ID == uid {
			continue
		}
		o.emit(snap.Session, v)
	}
}

func dto(i *domain.Identity) core.UserDTO {
	return core.UserDTO{ID: i.ID, Username: i.Username, Status: i.Status}
}
