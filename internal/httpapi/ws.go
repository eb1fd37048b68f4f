package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mstefanon/nimbus/internal/memory"
	"github.com/mstefanon/nimbus/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 5 * time.Minute
	wsReadLimit    = 1 << 20
)

// wsConn serializes websocket writes; the reply stream and error events may
// race otherwise.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// handleChatWS runs the streaming chat loop: one client_query in, a stream
// of assistant_text_delta out, closed by assistant_reply or error_event.
// Queries on one connection are handled in order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	raw.SetReadLimit(wsReadLimit)
	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = conn.writeJSON(protocol.NewErrorEvent("", "invalid_client_message", false, err.Error()))
			continue
		}
		query, ok := parsed.(protocol.ClientQuery)
		if !ok {
			continue
		}

		s.answerOne(r, conn, userID, query)
	}
}

func (s *Server) answerOne(r *http.Request, conn *wsConn, userID string, query protocol.ClientQuery) {
	onDelta := func(delta string) error {
		return conn.writeJSON(protocol.NewTextDelta(query.QueryID, delta))
	}

	reply, err := s.router.Answer(r.Context(), userID, query.Text, onDelta)
	if err != nil {
		code := "invalid_request"
		retryable := false
		if errors.Is(err, memory.ErrStoreUnavailable) {
			code = "store_unavailable"
			retryable = true
		}
		_ = conn.writeJSON(protocol.NewErrorEvent(query.QueryID, code, retryable, err.Error()))
		return
	}
	_ = conn.writeJSON(protocol.NewReply(query.QueryID, reply))
}
