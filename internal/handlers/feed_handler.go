package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/apperr"
)

// GetFeed returns the visible violation window.
func (h *DashboardHandler) GetFeed(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newFeedView(g.Feed.State()))
}

// LoadFeedPage replaces the window with page :n.
func (h *DashboardHandler) LoadFeedPage(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		respondError(c, h.log, apperr.NewValidationError("page", "must be a number"))
		return
	}
	g, ok := h.guild(c)
	if !ok {
		return
	}
	if err := g.Feed.LoadPage(c.Request.Context(), n); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newFeedView(g.Feed.State()))
}

// RefreshFeed reloads the current page.
func (h *DashboardHandler) RefreshFeed(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	if err := g.Feed.Refresh(c.Request.Context()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newFeedView(g.Feed.State()))
}
