package handlers

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/aristath/greenfolio/internal/modules/optimization"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// defaultStreamBatch is the number of samples per message when the client does not set one.
const defaultStreamBatch = 256

// maxCloseReason is the longest close reason a websocket frame can carry.
const maxCloseReason = 120

// StreamMessage is one message sent on the frontier stream. Batches carry
// Samples; the final message has Done set and the total Count.
type StreamMessage struct {
	Samples []optimization.Record `json:"samples,omitempty"`
	Done    bool                  `json:"done,omitempty"`
	Count   int                   `json:"count,omitempty"`
}

// HandleFrontierStream handles GET /api/optimizer/frontier/stream.
// The client sends one FrontierRequest as JSON; the server answers with
// sample batches in generation order, then a Done message, then closes.
// Pareto and Top are ignored because they need the whole run.
func (h *Handler) HandleFrontierStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept frontier stream")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	ctx := r.Context()

	var req FrontierRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read frontier stream request")
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	if req.Count < 0 {
		conn.Close(websocket.StatusPolicyViolation, "count must be non-negative")
		return
	}
	if req.Batch <= 0 {
		req.Batch = defaultStreamBatch
	}

	u, err := h.buildUniverse(&req.Universe)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, closeReason(err))
		return
	}
	ids := u.IDs()

	err = h.service.StreamFrontier(ctx, u, req.Count, req.Seed, req.Batch, func(batch []optimization.FrontierSample) error {
		records, err := optimization.FrontierRecords(batch, ids)
		if err != nil {
			return err
		}
		return h.send(ctx, conn, StreamMessage{Samples: records})
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Frontier stream aborted")
		code := websocket.StatusInternalError
		if statusFor(err) == http.StatusBadRequest {
			code = websocket.StatusPolicyViolation
		}
		conn.Close(code, closeReason(err))
		return
	}

	if err := h.send(ctx, conn, StreamMessage{Done: true, Count: req.Count}); err != nil {
		h.log.Warn().Err(err).Msg("Failed to send frontier stream summary")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	return wsjson.Write(ctx, conn, msg)
}

func closeReason(err error) string {
	reason := err.Error()
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
