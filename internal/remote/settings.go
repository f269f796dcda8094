package remote

import (
	"context"
	"net/http"

	"github.com/tullo/moddash/internal/models"
)

type settingsDoc struct {
	Enabled           *bool             `json:"enabled"`
	ActionType        models.ActionType `json:"action_type"`
	TimeoutAfterCount *int              `json:"timeout_after_swears"`
	TimeoutMinutes    *int              `json:"timeout_minutes"`
	KickAfterCount    *int              `json:"kick_after_swears"`
	LogChannelID      flexID            `json:"log_channel_id"`
	BypassRoles       []flexID          `json:"bypass_roles"`
	BypassChannels    []flexID          `json:"bypass_channels"`
	CustomWords       []string          `json:"custom_words"`
	WhitelistWords    []string          `json:"whitelist_words"`
}

type settingsResponse struct {
	envelope
	Settings settingsDoc `json:"settings"`
}

// toSettings applies the same defaults the service uses for missing keys.
func (d *settingsDoc) toSettings() *models.GuildSettings {
	cfg := models.DefaultModerationConfig()
	if d.Enabled != nil {
		cfg.Enabled = *d.Enabled
	}
	if d.ActionType != "" {
		cfg.ActionType = d.ActionType
	}
	if d.TimeoutAfterCount != nil {
		cfg.TimeoutAfterCount = *d.TimeoutAfterCount
	}
	if d.TimeoutMinutes != nil {
		cfg.TimeoutMinutes = *d.TimeoutMinutes
	}
	if d.KickAfterCount != nil {
		cfg.KickAfterCount = *d.KickAfterCount
	}
	cfg.LogChannelID = optionalID(d.LogChannelID)

	words := d.CustomWords
	if words == nil {
		words = []string{}
	}
	whitelist := d.WhitelistWords
	if whitelist == nil {
		whitelist = []string{}
	}
	return &models.GuildSettings{
		Config:         cfg,
		BypassRoles:    flexIDs(d.BypassRoles),
		BypassChannels: flexIDs(d.BypassChannels),
		CustomWords:    words,
		WhitelistWords: whitelist,
	}
}

// GetSettings reads the guild's full settings document.
func (c *Client) GetSettings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	var resp settingsResponse
	if err := c.do(ctx, "load settings", http.MethodGet, guildPath(guildID, "/settings"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settings.toSettings(), nil
}

// GetConfig reads only the escalation configuration.
func (c *Client) GetConfig(ctx context.Context, guildID string) (models.ModerationConfig, error) {
	s, err := c.GetSettings(ctx, guildID)
	if err != nil {
		return models.ModerationConfig{}, err
	}
	return s.Config, nil
}

// UpdateConfig writes the whole configuration object. Success only means the
// write was accepted; the stored values may still be normalized afterwards.
func (c *Client) UpdateConfig(ctx context.Context, guildID string, cfg models.ModerationConfig) error {
	return c.do(ctx, "save settings", http.MethodPut, guildPath(guildID, "/settings"), nil, cfg, nil)
}
