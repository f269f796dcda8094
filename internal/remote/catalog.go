package remote

import (
	"context"
	"net/http"
	"sort"

	"github.com/tullo/moddash/internal/models"
)

type channelRow struct {
	ID       flexID  `json:"id"`
	Name     string  `json:"name"`
	Type     int     `json:"type"`
	Category *string `json:"category"`
	Position int     `json:"position"`
}

type channelsResponse struct {
	envelope
	Channels []channelRow `json:"channels"`
}

// GetChannels lists the guild's text channels in position order.
func (c *Client) GetChannels(ctx context.Context, guildID string) ([]models.Channel, error) {
	var resp channelsResponse
	if err := c.do(ctx, "load channels", http.MethodGet, guildPath(guildID, "/channels/available"), nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Channel, 0, len(resp.Channels))
	for _, row := range resp.Channels {
		if row.Type != models.ChannelTypeText {
			continue
		}
		ch := models.Channel{ID: string(row.ID), Name: row.Name, Type: row.Type, Position: row.Position}
		if row.Category != nil {
			ch.Category = *row.Category
		}
		out = append(out, ch)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

type roleRow struct {
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	MemberCount int    `json:"memberCount"`
}

type rolesResponse struct {
	envelope
	Roles []roleRow `json:"roles"`
}

// GetRoles lists bypass-eligible roles, highest position first.
func (c *Client) GetRoles(ctx context.Context, guildID string) ([]models.Role, error) {
	var resp rolesResponse
	if err := c.do(ctx, "load roles", http.MethodGet, guildPath(guildID, "/roles/available"), nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Role, 0, len(resp.Roles))
	for _, row := range resp.Roles {
		if row.Name == models.EveryoneRole {
			continue
		}
		out = append(out, models.Role{
			ID:       string(row.ID),
			Name:     row.Name,
			Color:    row.Color,
			Position: row.Position,
			Members:  row.MemberCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position > out[j].Position })
	return out, nil
}

type filterResponse struct {
	envelope
	models.FilterResult
}

// TestFilter asks the service whether message would be blocked.
func (c *Client) TestFilter(ctx context.Context, guildID, message string) (*models.FilterResult, error) {
	var resp filterResponse
	body := map[string]string{"message": message}
	if err := c.do(ctx, "test filter", http.MethodPost, guildPath(guildID, "/test-filter"), nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.BlockedWords == nil {
		resp.BlockedWords = []string{}
	}
	return &resp.FilterResult, nil
}

type statsResponse struct {
	envelope
	Stats models.GuildStats `json:"stats"`
}

// GetStats reads the overview statistics.
func (c *Client) GetStats(ctx context.Context, guildID string) (*models.GuildStats, error) {
	var resp statsResponse
	if err := c.do(ctx, "load stats", http.MethodGet, guildPath(guildID, "/stats"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Stats, nil
}
