package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/commonplace-systems/commonplace/internal/node"
)

const sseHeartbeatInterval = 30 * time.Second

// handleSSE streams a document's blue-port edits as named Server-Sent
// Events, with a heartbeat every 30 seconds so idle proxies don't
// close the connection.
// GET /sse/documents/:id
func (s *Server) handleSSE(c echo.Context) error {
	id := c.Param("id")
	d, err := s.docStore.GetDocument(id)
	if err != nil {
		return docNotFound(c, id)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	conn := node.NewConnectionNode(d.Node)
	defer conn.Shutdown()

	sub := conn.SubscribeBlue()
	ctx := c.Request().Context()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	edits := make(chan node.Edit)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			e, err := sub.Recv()
			if err != nil {
				return
			}
			select {
			case edits <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case e, ok := <-edits:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: edit\ndata: {\"docId\":%q,\"commitId\":%q}\n\n", e.DocID, e.CommitID); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
