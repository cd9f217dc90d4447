package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loiht2/payload-forge/controller"
	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/models"
)

// OpenSession handles POST /api/v1/sessions
func (h *Handler) OpenSession(c *gin.Context) {
	var req models.OpenSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, err)
			return
		}
	}

	ctx, cancel := h.context(c)
	defer cancel()
	session, err := h.sessions.Open(ctx, req.TemplateID, controller.Mode(req.Mode))
	if err != nil {
		respondError(c, "Failed to open session", err)
		return
	}
	c.JSON(http.StatusCreated, session.Snapshot())
}

// GetSession handles GET /api/v1/sessions/:sid
func (h *Handler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// CloseSession handles DELETE /api/v1/sessions/:sid; pending auto-saves are flushed first
func (h *Handler) CloseSession(c *gin.Context) {
	sid := c.Param("sid")
	if !h.sessions.Close(sid) {
		respondError(c, "Session not found", sessionNotFound(sid))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session closed"})
}

// SetSessionValues handles PUT /api/v1/sessions/:sid/values
func (h *Handler) SetSessionValues(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	values, ok := bindValues(c)
	if !ok {
		return
	}
	session.SetValues(values)
	c.JSON(http.StatusOK, session.Snapshot())
}

// SetSessionMetadata handles PUT /api/v1/sessions/:sid/metadata
func (h *Handler) SetSessionMetadata(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	session.SetMetadata(req.Name, req.Description)
	c.JSON(http.StatusOK, session.Snapshot())
}

// SelectSessionCluster handles POST /api/v1/sessions/:sid/cluster.
// Production clusters come back as pendingCluster until confirmed.
func (h *Handler) SelectSessionCluster(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.ClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	pending, err := session.SelectCluster(req.Cluster)
	if err != nil {
		respondError(c, "Invalid cluster", err)
		return
	}
	status := http.StatusOK
	if pending {
		status = http.StatusAccepted
	}
	c.JSON(status, session.Snapshot())
}

// ConfirmSessionCluster handles POST /api/v1/sessions/:sid/cluster/confirm
func (h *Handler) ConfirmSessionCluster(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.ConfirmClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := session.ConfirmCluster(req.Confirmation); err != nil {
		respondError(c, "Cluster selection not confirmed", err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// CancelSessionCluster handles POST /api/v1/sessions/:sid/cluster/cancel
func (h *Handler) CancelSessionCluster(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.CancelCluster()
	c.JSON(http.StatusOK, session.Snapshot())
}

// SaveSession handles POST /api/v1/sessions/:sid/save
func (h *Handler) SaveSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	if _, err := session.Save(ctx); err != nil {
		respondError(c, "Failed to save template", err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// SearchSessionArtifacts handles POST /api/v1/sessions/:sid/artifacts.
// A search overtaken by a newer one in the same session answers 409.
func (h *Handler) SearchSessionArtifacts(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.ArtifactSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()

	urls, err := session.SearchArtifacts(ctx, req.Version)
	if err != nil {
		respondError(c, "Artifact search failed", err)
		return
	}
	c.JSON(http.StatusOK, models.ArtifactSearchResponse{Version: session.Snapshot().ArtifactVersion, URLs: urls})
}

// SelectSessionArtifact handles POST /api/v1/sessions/:sid/artifacts/select
func (h *Handler) SelectSessionArtifact(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.SelectArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := session.SelectArtifact(req.URL); err != nil {
		respondError(c, "Invalid artifact", err)
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// ExportSession handles GET /api/v1/sessions/:sid/export
func (h *Handler) ExportSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	name, body, err := session.Export()
	if err != nil {
		respondError(c, "Payload is invalid", err)
		return
	}
	attachment(c, name, body)
}

func (h *Handler) session(c *gin.Context) (*controller.Controller, bool) {
	sid := c.Param("sid")
	session, ok := h.sessions.Get(sid)
	if !ok {
		respondError(c, "Session not found", sessionNotFound(sid))
		return nil, false
	}
	return session, true
}

func sessionNotFound(sid string) error {
	return &forgeerrors.NotFoundError{Type: "session", Value: sid}
}
