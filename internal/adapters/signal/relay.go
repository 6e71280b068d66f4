package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

func (ctl *SignalWSController) handleRelay(
	ctx context.Context,
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type signalPayload struct {
		Type      string          `json:"type"`
		Signal    json.RawMessage `json:"signal"`
		Candidate json.RawMessage `json:"candidate"`
	}
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	ctl.Orch.Signal(ctx, cid, p.Signal, p.Candidate)
}
