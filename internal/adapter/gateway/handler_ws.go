package gateway

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"modelrelay/internal/domain"
)

// wsWriteTimeout bounds one frame write.
const wsWriteTimeout = 10 * time.Second

// handleConversationWS reads one conversation request frame and answers with one
// JSON frame per chunk, then closes normally. Closing the socket early cancels the
// relay.
func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxRequestBody)

	s.metrics.RequestsTotal.Add(1)
	s.metrics.WSConnections.Add(1)

	ctx := r.Context()
	var body conversationRequest
	if err := wsjson.Read(ctx, ws, &body); err != nil {
		s.metrics.ErrorsTotal.Add(1)
		ws.Close(websocket.StatusUnsupportedData, "invalid request frame")
		return
	}
	if msg := body.validate(); msg != "" {
		s.metrics.ErrorsTotal.Add(1)
		ws.Close(websocket.StatusUnsupportedData, msg)
		return
	}
	req := body.toRequest(r, s.deps.DefaultModel)

	// The client sends nothing more; CloseRead cancels ctx when it goes away.
	ctx = ws.CloseRead(ctx)

	for c := range s.deps.Relay.Stream(ctx, req) {
		if c.Kind == domain.ChunkError {
			s.metrics.ErrorsTotal.Add(1)
		}
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, ws, c)
		cancel()
		if err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
		s.metrics.ChunksSent.Add(1)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}
