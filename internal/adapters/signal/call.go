package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

func (ctl *SignalWSController) handleStartCall(
	ctx context.Context,
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type startCallPayload struct {
		Type         string        `json:"type"`
		CallID       domain.CallID `json:"callId"`
		TargetUserID domain.UserID `json:"targetUserId"`
		CallerName   string        `json:"callerName"`
	}
	var p startCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad start-call payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.CallID == "" || p.TargetUserID == "" {
		ctl.sendError(conn, "missing callId or targetUserId")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("call", string(p.CallID)).Msg("start-call")
	ctl.Orch.StartCall(ctx, cid, p.CallID, p.TargetUserID, p.CallerName)
}

func (ctl *SignalWSController) handleEndCall(
	ctx context.Context,
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type endCallPayload struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"callId"`
	}
	var p endCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end-call payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.CallID == "" {
		ctl.sendError(conn, "missing callId")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("call", string(p.CallID)).Msg("end-call")
	ctl.Orch.EndCall(ctx, cid, p.CallID)
}
