package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/commonplace-systems/commonplace/internal/room"
	"github.com/commonplace-systems/commonplace/internal/wire"
)

// wsBufferSize is the per-connection outgoing message buffer.
const wsBufferSize = 64

// wsUpgrader allows any origin, matching the teacher's public-endpoint
// CheckOrigin. Subprotocols lists both sync dialects this server
// understands; gorilla negotiates the first one the client also
// offers.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{wire.SubprotocolYWebSocket, wire.SubprotocolCommonplace},
}

// handleWebSocket upgrades to a binary WebSocket sync session for one
// document, joining the document's room for the connection's
// lifetime. Only binary frames are accepted; a text frame ends the
// connection. gorilla leaves Subprotocol() empty when the client
// offered none of wsUpgrader.Subprotocols, so a client that asks for
// an unsupported dialect (or none at all) is closed immediately with
// a protocol-error code rather than silently defaulted to y-websocket.
// GET /ws/:doc_id
func (s *Server) handleWebSocket(c echo.Context) error {
	docID := c.Param("doc_id")
	if _, err := s.docStore.GetDocument(docID); err != nil {
		return docNotFound(c, docID)
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for %s: %v", docID, err)
		return nil
	}
	defer ws.Close()

	var protocol wire.ProtocolMode
	switch ws.Subprotocol() {
	case wire.SubprotocolYWebSocket:
		protocol = wire.ModeYWebSocket
	case wire.SubprotocolCommonplace:
		protocol = wire.ModeCommonplace
	default:
		log.Printf("WebSocket rejected for %s: unsupported subprotocol %q", docID, ws.Subprotocol())
		closeMsg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol")
		ws.WriteMessage(websocket.CloseMessage, closeMsg)
		return nil
	}

	conn := room.NewWsConnection(docID, protocol, wsBufferSize)
	r := s.rooms.GetOrCreateRoom(docID)
	r.AddConnection(conn)
	defer func() {
		r.RemoveConnection(conn.ID)
		s.rooms.CleanupEmptyRooms()
	}()

	if sv, err := r.GetStateVector(); err == nil {
		ws.WriteMessage(websocket.BinaryMessage, wire.EncodeSyncStep1(sv))
	}

	ctx := c.Request().Context()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				return // text frames rejected
			}
			conn.Touch()
			if err := s.handleWsFrame(r, conn, data); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-conn.Outgoing():
			if !ok {
				return nil
			}
			if msg.Close {
				return nil
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, msg.Binary); err != nil {
				return nil
			}
		case <-disconnected:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// handleWsFrame decodes and dispatches one inbound binary frame.
func (s *Server) handleWsFrame(r *room.Room, conn *room.WsConnection, data []byte) error {
	msg, err := wire.Decode(data)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case wire.MessageSync:
		switch msg.Sync {
		case wire.SyncStep1:
			reply, err := r.HandleSyncStep1(msg.StateVector)
			if err != nil {
				return err
			}
			conn.TrySendBinary(reply)
		case wire.SyncStep2, wire.SyncUpdate:
			return r.HandleUpdate(conn.ID, msg.Update)
		}
	case wire.MessageAwareness:
		r.BroadcastExcept(conn.ID, wire.EncodeAwareness(msg.Awareness))
	case wire.MessageRedEvent:
		r.BroadcastExcept(conn.ID, wire.EncodeRedEvent(msg.EventType, msg.Payload))
	}
	return nil
}
