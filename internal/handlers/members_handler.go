package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/membership"
	"github.com/tullo/moddash/internal/models"
)

// set resolves the :kind toggle of the active guild.
func (h *DashboardHandler) set(c *gin.Context) (*membership.Toggle, bool) {
	kind, err := models.ParseSetKind(c.Param("kind"))
	if err != nil {
		respondError(c, h.log, apperr.NewValidationError("kind", err.Error()))
		return nil, false
	}
	g, ok := h.guild(c)
	if !ok {
		return nil, false
	}
	t, err := g.Set(kind)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	return t, true
}

// GetMembers returns a membership set.
func (h *DashboardHandler) GetMembers(c *gin.Context) {
	t, ok := h.set(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newMembersView(t.State()))
}

// LoadMembers re-reads a membership set from the moderation service.
func (h *DashboardHandler) LoadMembers(c *gin.Context) {
	t, ok := h.set(c)
	if !ok {
		return
	}
	if err := t.Load(c.Request.Context()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newMembersView(t.State()))
}

type toggleRequest struct {
	ID string `json:"id" binding:"required"`
}

// ToggleMember flips one id in or out of the set.
func (h *DashboardHandler) ToggleMember(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	t, ok := h.set(c)
	if !ok {
		return
	}
	dir, err := t.Toggle(c.Request.Context(), req.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"direction": dir, "members": newMembersView(t.State())})
}

// bulkRequest adds IDs, or removes them when Remove is set. Text is an
// uploaded word list and is split before use.
type bulkRequest struct {
	IDs    []string `json:"ids"`
	Text   string   `json:"text"`
	Remove bool     `json:"remove"`
}

// BulkMembers adds or removes many ids in one command.
func (h *DashboardHandler) BulkMembers(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	t, ok := h.set(c)
	if !ok {
		return
	}

	ids := req.IDs
	if req.Text != "" {
		words, err := membership.ParseWordList(strings.NewReader(req.Text))
		if err != nil {
			respondError(c, h.log, apperr.NewValidationError("text", err.Error()))
			return
		}
		ids = append(ids, words...)
	}

	ctx := c.Request.Context()
	if req.Remove {
		if err := t.Remove(ctx, ids); err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": newMembersView(t.State())})
		return
	}

	added, err := t.BulkAdd(ctx, ids)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "members": newMembersView(t.State())})
}

// ClearMembers empties the set once confirmed.
func (h *DashboardHandler) ClearMembers(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	t, ok := h.set(c)
	if !ok {
		return
	}
	if err := t.Clear(c.Request.Context(), req.confirmer()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": newMembersView(t.State())})
}

