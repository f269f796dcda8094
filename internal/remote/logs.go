package remote

import (
	"context"
	"net/http"

	"github.com/tullo/moddash/internal/models"
)

type logRow struct {
	ID           flexID   `json:"id"`
	UserID       flexID   `json:"user_id"`
	Username     string   `json:"username"`
	UserAvatar   *string  `json:"user_avatar"`
	ChannelName  string   `json:"channel_name"`
	BlockedWords []string `json:"blocked_words"`
	Timestamp    string   `json:"timestamp"`
	ActionTaken  string   `json:"action_taken"`
}

type logsResponse struct {
	envelope
	Logs    []logRow `json:"logs"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

// GetLogs fetches one page (1-indexed) of the guild's violation history,
// newest first.
func (c *Client) GetLogs(ctx context.Context, guildID string, page, limit int) (*models.FeedPage, error) {
	var resp logsResponse
	if err := c.do(ctx, "load logs", http.MethodGet, guildPath(guildID, "/logs"), pageQuery(page, limit), nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.ViolationEvent, 0, len(resp.Logs))
	for _, row := range resp.Logs {
		terms := row.BlockedWords
		if terms == nil {
			terms = []string{}
		}
		items = append(items, models.ViolationEvent{
			ID:           string(row.ID),
			ActorID:      string(row.UserID),
			ActorName:    row.Username,
			ActorAvatar:  row.UserAvatar,
			ChannelName:  row.ChannelName,
			BlockedTerms: terms,
			OccurredAt:   row.Timestamp,
			ActionTaken:  row.ActionTaken,
		})
	}

	if resp.Page <= 0 {
		resp.Page = page
	}
	if resp.Limit <= 0 {
		resp.Limit = limit
	}
	return &models.FeedPage{
		Items:      items,
		Page:       resp.Page,
		PageSize:   resp.Limit,
		TotalCount: resp.Total,
		HasMore:    resp.HasMore,
	}, nil
}
