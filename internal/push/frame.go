package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tullo/moddash/internal/models"
)

var errEmptyEvent = errors.New("frame has no event name")

// decodeFrame turns one wire frame into a PushEvent. The guild is taken from
// the payload's guild_id, or from its room name for join/leave acks.
func decodeFrame(data []byte) (models.PushEvent, error) {
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.PushEvent{}, err
	}
	if msg.Event == "" {
		return models.PushEvent{}, errEmptyEvent
	}
	return models.PushEvent{
		Type:    msg.Event,
		GuildID: guildOf(msg.Payload),
		Payload: msg.Payload,
	}, nil
}

func encodeRoomFrame(event, guildID string) ([]byte, error) {
	payload, err := json.Marshal(models.WSRoomPayload{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.WSMessage{Event: event, Payload: payload})
}

func guildOf(payload json.RawMessage) string {
	var probe struct {
		GuildID json.RawMessage `json:"guild_id"`
		Room    string          `json:"room"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &probe) != nil {
		return ""
	}

	raw := bytes.TrimSpace(probe.GuildID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	default:
		// numeric snowflake; keep the digits as sent
		return string(raw)
	}

	if id, ok := strings.CutPrefix(probe.Room, "guild_"); ok {
		return id
	}
	return ""
}
