// ABOUTME: Websocket transport for turns: one JSON frame in, one JSON frame out.
// ABOUTME: Frames on a connection are processed in order; errors are reported in the reply frame.

package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// wsRequest is a turn request frame. RequestID is echoed in the reply and
// generated when absent.
type wsRequest struct {
	RequestID string `json:"request_id,omitempty"`
	TurnRequest
}

// wsResponse is the reply frame for one wsRequest.
type wsResponse struct {
	RequestID string `json:"request_id"`
	TurnResponse
	Code  int    `json:"code"` // HTTP-equivalent status
	Error string `json:"error,omitempty"`
}

// handleWS handles GET /api/ws.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowOrigins,
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(MaxRequestBodySize)
	g.logger.Debug("websocket client connected", "remote", r.RemoteAddr)
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		var req wsRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Debug("websocket read ended", "error", err)
			return
		}
		if err := wsjson.Write(ctx, conn, g.serveWSFrame(ctx, req)); err != nil {
			g.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (g *Gateway) serveWSFrame(ctx context.Context, req wsRequest) wsResponse {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp, err := g.RunTurn(ctx, req.TurnRequest)
	out := wsResponse{RequestID: req.RequestID, TurnResponse: resp, Code: http.StatusOK}
	if err != nil {
		out.Code = statusFor(err)
		out.Error = clientMessage(err)
	}
	return out
}
