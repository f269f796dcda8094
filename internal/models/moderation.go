package models

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ActionTag is the normalized moderation action recorded on a violation.
type ActionTag string

const (
	ActionDelete            ActionTag = "delete"
	ActionDeleteTimeout     ActionTag = "delete+timeout"
	ActionDeleteTimeoutKick ActionTag = "delete+timeout+kick"
	ActionTimeout           ActionTag = "timeout"
	ActionKick              ActionTag = "kick"
	ActionBan               ActionTag = "ban"
	ActionUnknown           ActionTag = "unknown"
)

// actionAliases maps every spelling the service has ever logged to a tag.
var actionAliases = map[string]ActionTag{
	"delete":                  ActionDelete,
	"delete_only":             ActionDelete,
	"only delete":             ActionDelete,
	"delete + timeout":        ActionDeleteTimeout,
	"delete_timeout":          ActionDeleteTimeout,
	"delete+timeout":          ActionDeleteTimeout,
	"delete + timeout + kick": ActionDeleteTimeoutKick,
	"delete_timeout_kick":     ActionDeleteTimeoutKick,
	"delete+timeout+kick":     ActionDeleteTimeoutKick,
	"timeout":                 ActionTimeout,
	"kick":                    ActionKick,
	"ban":                     ActionBan,
}

// ParseActionTag never fails: unrecognized strings map to ActionUnknown.
func ParseActionTag(s string) ActionTag {
	if tag, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return tag
	}
	return ActionUnknown
}

// InvalidDate is displayed in place of an unparseable timestamp.
const InvalidDate = "Invalid date"

// DisplayTimeLayout is the human-readable timestamp format used by the feed
// and the CSV export.
const DisplayTimeLayout = "Jan 02, 2006 15:04:05"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ViolationEvent is one detected moderation incident.
type ViolationEvent struct {
	ID           string   `json:"id"`
	ActorID      string   `json:"user_id"`
	ActorName    string   `json:"username"`
	ActorAvatar  *string  `json:"user_avatar,omitempty"`
	ChannelName  string   `json:"channel_name"`
	BlockedTerms []string `json:"blocked_words"`
	OccurredAt   string   `json:"timestamp"`
	ActionTaken  string   `json:"action_taken"`
}

// Action returns the normalized action tag.
func (v ViolationEvent) Action() ActionTag {
	return ParseActionTag(v.ActionTaken)
}

// Time parses OccurredAt. The second return value is false when the raw
// value is not a point in time.
func (v ViolationEvent) Time() (time.Time, bool) {
	raw := strings.TrimSpace(v.OccurredAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayTime formats OccurredAt for humans, or returns InvalidDate.
func (v ViolationEvent) DisplayTime() string {
	t, ok := v.Time()
	if !ok {
		return InvalidDate
	}
	return t.Format(DisplayTimeLayout)
}

// AvatarURL returns the actor's avatar or a deterministic default derived
// from the actor id.
func (v ViolationEvent) AvatarURL() string {
	if v.ActorAvatar != nil && *v.ActorAvatar != "" && *v.ActorAvatar != "None" {
		return *v.ActorAvatar
	}
	return fmt.Sprintf("https://cdn.discordapp.com/embed/avatars/%d.png", defaultAvatarIndex(v.ActorID))
}

func defaultAvatarIndex(actorID string) uint64 {
	if n, err := strconv.ParseUint(actorID, 10, 64); err == nil {
		return n % 5
	}
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return uint64(h.Sum32() % 5)
}

// ViolationPush is the payload of a filter_action_logged push event. Field
// names differ slightly from the paginated log rows.
type ViolationPush struct {
	ID           string   `json:"id"`
	GuildID      string   `json:"guild_id"`
	UserID       string   `json:"user_id"`
	UserName     string   `json:"user_name"`
	UserAvatar   *string  `json:"user_avatar,omitempty"`
	ChannelName  string   `json:"channel_name"`
	BlockedWords []string `json:"blocked_words"`
	ActionTaken  string   `json:"action_taken"`
	Timestamp    string   `json:"timestamp"`
}

var syntheticIDs atomic.Uint64

// ToEvent fills the defaults a push payload may omit. now is used both for a
// missing id (unix millis plus a process-wide sequence) and a missing
// timestamp.
func (p *ViolationPush) ToEvent(now time.Time) ViolationEvent {
	evt := ViolationEvent{
		ID:           p.ID,
		ActorID:      p.UserID,
		ActorName:    p.UserName,
		ActorAvatar:  p.UserAvatar,
		ChannelName:  p.ChannelName,
		BlockedTerms: p.BlockedWords,
		OccurredAt:   p.Timestamp,
		ActionTaken:  p.ActionTaken,
	}
	if evt.ID == "" {
		evt.ID = strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(syntheticIDs.Add(1), 10)
	}
	if evt.ActorName == "" {
		evt.ActorName = "Unknown User"
	}
	if evt.ChannelName == "" {
		evt.ChannelName = "Unknown Channel"
	}
	if evt.BlockedTerms == nil {
		evt.BlockedTerms = []string{}
	}
	if evt.OccurredAt == "" {
		evt.OccurredAt = now.UTC().Format(time.RFC3339)
	}
	if evt.ActionTaken == "" {
		evt.ActionTaken = "delete"
	}
	return evt
}
