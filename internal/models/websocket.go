package models

import "encoding/json"

// Push channel event types
const (
	EventJoinGuildRoom      = "join_guild_room"
	EventLeaveGuildRoom     = "leave_guild_room"
	EventJoinedRoom         = "joined_room"
	EventLeftRoom           = "left_room"
	EventFilterActionLogged = "filter_action_logged"
	EventSettingsUpdated    = "settings_updated"
	EventWordsUpdated       = "words_updated"
	EventStatsUpdated       = "stats_updated"
	EventError              = "error"
)

// WSMessage is the envelope for every frame on the push channel.
type WSMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// WSRoomPayload is sent with join/leave requests and acknowledgements.
type WSRoomPayload struct {
	GuildID string `json:"guild_id"`
	Room    string `json:"room,omitempty"`
}

// WSSettingsPayload accompanies settings_updated. Settings holds only the
// fields the writer sent.
type WSSettingsPayload struct {
	GuildID   string          `json:"guild_id"`
	Settings  json.RawMessage `json:"settings"`
	Timestamp string          `json:"timestamp"`
}

// WSWordsPayload accompanies words_updated.
type WSWordsPayload struct {
	GuildID   string   `json:"guild_id"`
	Action    string   `json:"action"` // added, removed
	Words     []string `json:"words"`
	WordType  string   `json:"word_type"`
	Timestamp string   `json:"timestamp"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PushEvent is a decoded frame routed to a guild room.
type PushEvent struct {
	Type    string
	GuildID string
	Payload json.RawMessage
}

// RoomName is the server-side room for a guild.
func RoomName(guildID string) string {
	return "guild_" + guildID
}
