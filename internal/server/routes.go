package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/commonplace-systems/commonplace/internal/broker"
	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/crdt"
	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/node"
)

// registerRoutes sets up all HTTP/WebSocket/SSE routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/docs", s.handleCreateDoc)
	s.echo.GET("/docs/:id", s.handleGetDoc)
	s.echo.PUT("/docs/:id", s.handleUpdateDoc)
	s.echo.DELETE("/docs/:id", s.handleDeleteDoc)
	s.echo.GET("/docs/:id/head", s.handleDocHead)

	s.echo.GET("/documents", s.handleListDocuments)
	s.echo.GET("/documents/:id/changes", s.handleDocChanges)

	s.echo.GET("/fs-root", s.handleFsRoot)

	s.echo.POST("/commands/*", s.handleCommand)

	s.echo.GET("/sse/documents/:id", s.handleSSE)
	s.echo.GET("/ws/:doc_id", s.handleWebSocket)
}

// handleHealth answers the orchestrator's liveness probe.
func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleCreateDoc creates a document whose content type is derived
// from the request's Content-Type header.
// POST /docs
func (s *Server) handleCreateDoc(c echo.Context) error {
	mime := c.Request().Header.Get("Content-Type")
	ct, ok := docstore.FromMime(mime)
	if !ok {
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{
			"error":   "UnsupportedMediaType",
			"message": "unsupported Content-Type: " + mime,
		})
	}

	d := s.docStore.CreateDocument(ct)
	return c.JSON(http.StatusOK, map[string]string{"id": d.ID})
}

// handleGetDoc returns a document's current content, with the
// Content-Type header matching its stored content type.
// GET /docs/:id
func (s *Server) handleGetDoc(c echo.Context) error {
	id := c.Param("id")
	d, err := s.docStore.GetDocument(id)
	if err != nil {
		return docNotFound(c, id)
	}
	c.Response().Header().Set("Content-Type", d.ContentType.ToMime())
	return c.String(http.StatusOK, d.Doc.Content())
}

type updateDocRequest struct {
	Update []byte `json:"update"` // base64, decoded automatically by encoding/json
}

// handleUpdateDoc applies a CRDT update to a document.
// PUT /docs/:id
func (s *Server) handleUpdateDoc(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.docStore.GetDocument(id); err != nil {
		return docNotFound(c, id)
	}

	var req updateDocRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "invalid JSON body",
		})
	}

	if err := s.docStore.ApplyUpdate(id, req.Update); err != nil {
		log.Printf("Error applying update to %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "failed to apply update",
		})
	}
	return c.NoContent(http.StatusOK)
}

// handleDeleteDoc removes a document.
// DELETE /docs/:id
func (s *Server) handleDeleteDoc(c echo.Context) error {
	id := c.Param("id")
	if err := s.docStore.DeleteDocument(id); err != nil {
		return docNotFound(c, id)
	}
	return c.NoContent(http.StatusNoContent)
}

type docHeadResponse struct {
	CID     string `json:"cid,omitempty"`
	Content string `json:"content,omitempty"`
}

// handleDocHead returns a document's content rehydrated at a commit,
// or its current state if no at_commit query parameter is given.
// GET /docs/:id/head?at_commit=<cid>
func (s *Server) handleDocHead(c echo.Context) error {
	id := c.Param("id")

	atCommit := c.QueryParam("at_commit")
	if atCommit == "" {
		d, err := s.docStore.GetDocument(id)
		if err != nil {
			return docNotFound(c, id)
		}
		return c.JSON(http.StatusOK, docHeadResponse{Content: d.Doc.Content()})
	}

	if s.commits == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "CommitNotFound",
			"message": "no commit history is configured",
		})
	}

	if _, err := s.commits.Get(c.Request().Context(), atCommit); err != nil {
		if errors.Is(err, commitstore.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error":   "CommitNotFound",
				"message": "commit not found: " + atCommit,
			})
		}
		log.Printf("Error getting commit %s: %v", atCommit, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "failed to read commit",
		})
	}

	content, err := s.rehydrateAt(c.Request().Context(), id, atCommit)
	if err != nil {
		log.Printf("Error rehydrating %s at %s: %v", id, atCommit, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "failed to rehydrate document",
		})
	}
	return c.JSON(http.StatusOK, docHeadResponse{CID: atCommit, Content: content})
}

// rehydrateAt replays a document's commit log in order, stopping once
// atCommit has been applied, and returns the resulting content. The
// document's current content type is used if the document still
// exists; otherwise JSON is assumed.
func (s *Server) rehydrateAt(ctx context.Context, docID, atCommit string) (string, error) {
	ct := docstore.ContentJSON
	if d, err := s.docStore.GetDocument(docID); err == nil {
		ct = d.ContentType
	}

	commits, err := s.commits.ListForDoc(ctx, docID)
	if err != nil {
		return "", err
	}

	replay := crdt.NewDoc("", ct.ToCrdtType())
	for _, cm := range commits {
		if err := replay.ApplyUpdate(cm.UpdateBytes); err != nil {
			return "", err
		}
		if cm.CommitID == atCommit {
			break
		}
	}
	return replay.Content(), nil
}

// handleListDocuments returns every known document id.
// GET /documents
func (s *Server) handleListDocuments(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"documents": s.docStore.ListDocuments(),
	})
}

type changeEntry struct {
	DocID    string `json:"doc_id"`
	CommitID string `json:"commit_id"`
	Ts       int64  `json:"ts"`
	URL      string `json:"url"`
}

// handleDocChanges returns a document's commit log, oldest first.
// GET /documents/:id/changes
func (s *Server) handleDocChanges(c echo.Context) error {
	id := c.Param("id")
	if s.commits == nil {
		return c.JSON(http.StatusOK, map[string]any{"changes": []changeEntry{}})
	}

	commits, err := s.commits.ListForDoc(c.Request().Context(), id)
	if err != nil {
		log.Printf("Error listing changes for %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "failed to list changes",
		})
	}

	changes := make([]changeEntry, len(commits))
	for i, cm := range commits {
		changes[i] = changeEntry{
			DocID:    cm.DocID,
			CommitID: cm.CommitID,
			Ts:       cm.Ts.Unix(),
			URL:      "/docs/" + cm.DocID + "/head?at_commit=" + cm.CommitID,
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Ts < changes[j].Ts })

	return c.JSON(http.StatusOK, map[string]any{"changes": changes})
}

// handleFsRoot reports the configured fs-root document id, or 404 if
// the server wasn't started with one.
// GET /fs-root
func (s *Server) handleFsRoot(c echo.Context) error {
	if s.reconciler == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "NoFsRoot",
			"message": "server was not started with an fs-root",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"id": s.reconciler.FsRootID()})
}

type commandRequest struct {
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source,omitempty"`
}

// handleCommand accepts a local HTTP stand-in for a broker-delivered
// commands/<path>/<verb> topic, resolves the path to a document id
// with the broker's PathResolver (a derivation from the path alone,
// without reading the fs-root schema), and delivers the verb as a red-port
// event on that document's node. The MQTT broker itself would reach
// this same dispatch from its own subscribe loop; this endpoint exists
// so command injection can be exercised without one.
// POST /commands/<path>/<verb>
func (s *Server) handleCommand(c echo.Context) error {
	if s.resolver == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "NoFsRoot",
			"message": "server was not started with an fs-root, commands cannot be resolved",
		})
	}

	topic := "commands/" + c.Param("*")
	parsed, err := broker.ParseCommandTopic(topic)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidTopic",
			"message": err.Error(),
		})
	}

	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "invalid JSON body",
		})
	}

	docID := s.resolver.Resolve(parsed.Path)
	d, err := s.docStore.GetDocument(docID)
	if err != nil {
		return docNotFound(c, docID)
	}

	evt := node.Event{Source: node.NodeId(req.Source), EventType: parsed.Verb, Payload: req.Payload}
	if err := d.Node.ReceiveEvent(evt); err != nil {
		log.Printf("Error delivering command %s to %s: %v", topic, docID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "failed to deliver command",
		})
	}
	return c.NoContent(http.StatusOK)
}

func docNotFound(c echo.Context, id string) error {
	return c.JSON(http.StatusNotFound, map[string]string{
		"error":   "DocumentNotFound",
		"message": "document not found: " + id,
	})
}
