package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tullo/moddash/internal/models"
)

type wordsRequest struct {
	Words []string `json:"words"`
	Type  string   `json:"type"`
}

type wordsResponse struct {
	envelope
	CustomWords    []string `json:"custom_words"`
	WhitelistWords []string `json:"whitelist_words"`
}

// GetMembers reads the authoritative membership set of the given kind.
func (c *Client) GetMembers(ctx context.Context, guildID string, kind models.SetKind) ([]string, error) {
	switch kind {
	case models.SetKindWord:
		var resp wordsResponse
		if err := c.do(ctx, "load words", http.MethodGet, guildPath(guildID, "/words"), nil, nil, &resp); err != nil {
			return nil, err
		}
		if resp.CustomWords == nil {
			return []string{}, nil
		}
		return resp.CustomWords, nil
	case models.SetKindRole, models.SetKindChannel:
		s, err := c.GetSettings(ctx, guildID)
		if err != nil {
			return nil, err
		}
		return s.Set(kind), nil
	}
	return nil, fmt.Errorf("unknown set kind %q", kind)
}

// AddMembers adds ids to the set. Words go in one request; roles and
// channels are accepted one id per request, so they are sent in order and
// the first failure stops the batch.
func (c *Client) AddMembers(ctx context.Context, guildID string, kind models.SetKind, ids []string) error {
	return c.mutateMembers(ctx, http.MethodPost, guildID, kind, ids)
}

// RemoveMembers removes ids from the set.
func (c *Client) RemoveMembers(ctx context.Context, guildID string, kind models.SetKind, ids []string) error {
	return c.mutateMembers(ctx, http.MethodDelete, guildID, kind, ids)
}

func (c *Client) mutateMembers(ctx context.Context, method, guildID string, kind models.SetKind, ids []string) error {
	verb := "add"
	if method == http.MethodDelete {
		verb = "remove"
	}

	switch kind {
	case models.SetKindWord:
		body := wordsRequest{Words: ids, Type: "custom"}
		return c.do(ctx, verb+" words", method, guildPath(guildID, "/words"), nil, body, nil)
	case models.SetKindRole:
		for _, id := range ids {
			body := map[string]string{"role_id": id}
			if err := c.do(ctx, verb+" bypass role", method, guildPath(guildID, "/roles"), nil, body, nil); err != nil {
				return err
			}
		}
		return nil
	case models.SetKindChannel:
		for _, id := range ids {
			body := map[string]string{"channel_id": id}
			if err := c.do(ctx, verb+" bypass channel", method, guildPath(guildID, "/channels"), nil, body, nil); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown set kind %q", kind)
}
