package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/escalation"
	"github.com/tullo/moddash/internal/models"
)

// GetConfig returns the working copy and its save status.
func (h *DashboardHandler) GetConfig(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newConfigView(g.Config.State()))
}

// LoadConfig re-reads the remote configuration, discarding local edits.
// Saving is refused until a load has succeeded.
func (h *DashboardHandler) LoadConfig(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	if err := g.Config.Load(c.Request.Context()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newConfigView(g.Config.State()))
}

// PatchConfig edits the working copy. Thresholds accept numbers or text;
// text is parsed and clamped like form input. Nothing is applied when any
// field is malformed.
func (h *DashboardHandler) PatchConfig(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	g, ok := h.guild(c)
	if !ok {
		return
	}

	edits, err := parseConfigEdits(g.Config, body)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	for _, edit := range edits {
		edit()
	}
	c.JSON(http.StatusOK, newConfigView(g.Config.State()))
}

func parseConfigEdits(m *escalation.Machine, body map[string]json.RawMessage) ([]func(), error) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var edits []func()
	verr := &apperr.ValidationError{}
	invalid := func(field, msg string) {
		verr.Errors = append(verr.Errors, apperr.FieldError{Field: field, Message: msg})
	}

	for _, key := range keys {
		raw := body[key]
		switch key {
		case "enabled":
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				invalid(key, "must be a boolean")
				continue
			}
			edits = append(edits, func() { m.SetEnabled(v) })
		case models.FieldActionType:
			var v models.ActionType
			if err := json.Unmarshal(raw, &v); err != nil || !v.Valid() {
				invalid(key, "unknown action type")
				continue
			}
			edits = append(edits, func() { _ = m.SetActionType(v) })
		case models.FieldTimeoutAfterCount:
			edit, ok := thresholdEdit(raw, m.SetTimeoutAfterCount, m.SetTimeoutAfterCountText)
			if !ok {
				invalid(key, "must be a number")
				continue
			}
			edits = append(edits, edit)
		case models.FieldTimeoutMinutes:
			edit, ok := thresholdEdit(raw, m.SetTimeoutMinutes, m.SetTimeoutMinutesText)
			if !ok {
				invalid(key, "must be a number")
				continue
			}
			edits = append(edits, edit)
		case models.FieldKickAfterCount:
			edit, ok := thresholdEdit(raw, m.SetKickAfterCount, m.SetKickAfterCountText)
			if !ok {
				invalid(key, "must be a number")
				continue
			}
			edits = append(edits, edit)
		case "log_channel_id":
			if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				edits = append(edits, func() { m.SetLogChannel(nil) })
				continue
			}
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				invalid(key, "must be a string or null")
				continue
			}
			edits = append(edits, func() { m.SetLogChannel(&id) })
		default:
			invalid(key, "unknown field")
		}
	}

	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return edits, nil
}

func thresholdEdit(raw json.RawMessage, set func(int) int, setText func(string) int) (func(), bool) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return func() { setText(text) }, true
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false
	}
	return func() { set(n) }, true
}

// SaveConfig validates and commits the working copy.
func (h *DashboardHandler) SaveConfig(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	if err := g.Config.Save(c.Request.Context()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newConfigView(g.Config.State()))
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

func (r confirmRequest) confirmer() models.Confirmer {
	return models.ConfirmFunc(func(string) bool { return r.Confirm })
}

// ResetConfig restores the factory defaults once confirmed.
func (h *DashboardHandler) ResetConfig(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	g, ok := h.guild(c)
	if !ok {
		return
	}
	if err := g.Config.Reset(req.confirmer()); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newConfigView(g.Config.State()))
}

type logChannelView struct {
	escalation.ChannelStatus
	Error string `json:"error,omitempty"`
}

// GetLogChannel resolves the configured log channel against the channel list.
func (h *DashboardHandler) GetLogChannel(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	st := g.Config.LogChannelStatus(g.Channels())
	c.JSON(http.StatusOK, logChannelView{ChannelStatus: st, Error: errString(st.Err)})
}
