package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/export"
)

// ExportCSV downloads the newest violations as a CSV file. The body is
// buffered so a failed fetch never produces a partial download.
func (h *DashboardHandler) ExportCSV(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := g.Export.Run(c.Request.Context(), g.ID, &buf); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(time.Now())))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
