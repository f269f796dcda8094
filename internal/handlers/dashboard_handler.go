package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tullo/moddash/internal/auth"
	"github.com/tullo/moddash/internal/escalation"
	"github.com/tullo/moddash/internal/feed"
	"github.com/tullo/moddash/internal/membership"
	"github.com/tullo/moddash/internal/middleware"
	"github.com/tullo/moddash/internal/models"
	"github.com/tullo/moddash/internal/session"
)

// Probe reads guild data that is not held in session state.
type Probe interface {
	TestFilter(ctx context.Context, guildID, message string) (*models.FilterResult, error)
	GetStats(ctx context.Context, guildID string) (*models.GuildStats, error)
}

type DashboardHandler struct {
	sessions *session.Registry
	probe    Probe
	log      *slog.Logger
}

func NewDashboardHandler(sessions *session.Registry, probe Probe, log *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		sessions: sessions,
		probe:    probe,
		log:      log.With("component", "handlers"),
	}
}

type feedView struct {
	feed.State
	Error string `json:"error,omitempty"`
}

type configView struct {
	escalation.State
	Error          string `json:"error,omitempty"`
	ReconcileError string `json:"reconcile_error,omitempty"`
}

type membersView struct {
	membership.State
	Error string `json:"error,omitempty"`
}

type guildView struct {
	GuildID string                         `json:"guild_id"`
	Feed    feedView                       `json:"feed"`
	Config  configView                     `json:"config"`
	Members map[models.SetKind]membersView `json:"members"`
	Error   string                         `json:"error,omitempty"`
}

func newFeedView(st feed.State) feedView {
	return feedView{State: st, Error: errString(st.Err)}
}

func newConfigView(st escalation.State) configView {
	return configView{State: st, Error: errString(st.Err), ReconcileError: errString(st.ReconcileErr)}
}

func newMembersView(st membership.State) membersView {
	return membersView{State: st, Error: errString(st.Err)}
}

func newGuildView(g *session.Guild) guildView {
	v := guildView{
		GuildID: g.ID,
		Feed:    newFeedView(g.Feed.State()),
		Config:  newConfigView(g.Config.State()),
		Members: make(map[models.SetKind]membersView, len(session.SetKinds)),
	}
	for _, kind := range session.SetKinds {
		if set, err := g.Set(kind); err == nil {
			v.Members[kind] = newMembersView(set.State())
		}
	}
	return v
}

func (h *DashboardHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.UserIDKey)
	if !exists {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	uid, ok := v.(uuid.UUID)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return uid, true
}

// guild resolves the caller's active guild, writing the error response when
// there is none.
func (h *DashboardHandler) guild(c *gin.Context) (*session.Guild, bool) {
	uid, ok := h.userID(c)
	if !ok {
		return nil, false
	}
	g, err := h.sessions.For(uid).Current()
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	return g, true
}

type selectGuildRequest struct {
	GuildID string `json:"guild_id" binding:"required"`
}

// SelectGuild enters a guild, leaving the previous one.
func (h *DashboardHandler) SelectGuild(c *gin.Context) {
	var req selectGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	if claims, ok := c.Get(middleware.ClaimsKey); ok {
		if cl, ok := claims.(*auth.Claims); ok && !cl.AllowsGuild(req.GuildID) {
			ErrorResponse(c, http.StatusForbidden, "Guild not permitted")
			return
		}
	}

	g, err := h.sessions.For(uid).Switch(c.Request.Context(), req.GuildID)
	if g == nil {
		respondError(c, h.log, err)
		return
	}
	view := newGuildView(g)
	if err != nil {
		view.Error = err.Error()
	}
	c.JSON(http.StatusOK, view)
}

// GetSession returns the whole active guild state.
func (h *DashboardHandler) GetSession(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newGuildView(g))
}

// EndSession leaves the active guild.
func (h *DashboardHandler) EndSession(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}
	h.sessions.End(uid)
	c.Status(http.StatusNoContent)
}

// ListChannels returns the guild's text channels, loading them on first use.
func (h *DashboardHandler) ListChannels(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	channels := g.Channels()
	if channels == nil {
		if err := g.LoadCatalog(c.Request.Context()); err != nil {
			respondError(c, h.log, err)
			return
		}
		channels = g.Channels()
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// ListRoles returns the guild's assignable roles, loading them on first use.
func (h *DashboardHandler) ListRoles(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	roles := g.Roles()
	if roles == nil {
		if err := g.LoadCatalog(c.Request.Context()); err != nil {
			respondError(c, h.log, err)
			return
		}
		roles = g.Roles()
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

type testFilterRequest struct {
	Message string `json:"message" binding:"required"`
}

// TestFilter probes a message against the guild's filter.
func (h *DashboardHandler) TestFilter(c *gin.Context) {
	var req testFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	g, ok := h.guild(c)
	if !ok {
		return
	}
	res, err := h.probe.TestFilter(c.Request.Context(), g.ID, req.Message)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetStats returns the guild's moderation summary.
func (h *DashboardHandler) GetStats(c *gin.Context) {
	g, ok := h.guild(c)
	if !ok {
		return
	}
	stats, err := h.probe.GetStats(c.Request.Context(), g.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
