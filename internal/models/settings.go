package models

import (
	"fmt"

	"github.com/tullo/moddash/internal/apperr"
)

// ActionType selects the escalation tier.
type ActionType string

const (
	ActionTypeDeleteOnly        ActionType = "delete_only"
	ActionTypeDeleteTimeout     ActionType = "delete_timeout"
	ActionTypeDeleteTimeoutKick ActionType = "delete_timeout_kick"
)

// Valid reports whether a is one of the known tiers.
func (a ActionType) Valid() bool {
	switch a {
	case ActionTypeDeleteOnly, ActionTypeDeleteTimeout, ActionTypeDeleteTimeoutKick:
		return true
	}
	return false
}

// UsesTimeout reports whether the timeout thresholds apply.
func (a ActionType) UsesTimeout() bool {
	return a == ActionTypeDeleteTimeout || a == ActionTypeDeleteTimeoutKick
}

// UsesKick reports whether the kick threshold applies.
func (a ActionType) UsesKick() bool {
	return a == ActionTypeDeleteTimeoutKick
}

// Threshold bounds.
const (
	MinSwearCount     = 1
	MaxSwearCount     = 50
	MinTimeoutMinutes = 1
	MaxTimeoutMinutes = 1440
)

// Field names as they appear on the wire and in validation errors.
const (
	FieldActionType        = "action_type"
	FieldTimeoutAfterCount = "timeout_after_swears"
	FieldTimeoutMinutes    = "timeout_minutes"
	FieldKickAfterCount    = "kick_after_swears"
)

// ModerationConfig is the per-guild escalation configuration.
type ModerationConfig struct {
	Enabled           bool       `json:"enabled"`
	ActionType        ActionType `json:"action_type"`
	TimeoutAfterCount int        `json:"timeout_after_swears"`
	TimeoutMinutes    int        `json:"timeout_minutes"`
	KickAfterCount    int        `json:"kick_after_swears"`
	// LogChannelID nil means logging is disabled.
	LogChannelID *string `json:"log_channel_id"`
}

// DefaultModerationConfig returns the factory defaults.
func DefaultModerationConfig() ModerationConfig {
	return ModerationConfig{
		Enabled:           true,
		ActionType:        ActionTypeDeleteOnly,
		TimeoutAfterCount: 3,
		TimeoutMinutes:    5,
		KickAfterCount:    5,
		LogChannelID:      nil,
	}
}

// Clone returns a deep copy.
func (c ModerationConfig) Clone() ModerationConfig {
	if c.LogChannelID != nil {
		id := *c.LogChannelID
		c.LogChannelID = &id
	}
	return c
}

// Equal compares two configurations field by field.
func (c ModerationConfig) Equal(o ModerationConfig) bool {
	if c.Enabled != o.Enabled || c.ActionType != o.ActionType ||
		c.TimeoutAfterCount != o.TimeoutAfterCount || c.TimeoutMinutes != o.TimeoutMinutes ||
		c.KickAfterCount != o.KickAfterCount {
		return false
	}
	if c.LogChannelID == nil || o.LogChannelID == nil {
		return c.LogChannelID == nil && o.LogChannelID == nil
	}
	return *c.LogChannelID == *o.LogChannelID
}

// Validate checks ranges for the fields relevant to the action type, and the
// kick-above-timeout ordering for the full escalation tier.
func (c *ModerationConfig) Validate() error {
	var errs []apperr.FieldError

	if !c.ActionType.Valid() {
		errs = append(errs, apperr.FieldError{Field: FieldActionType, Message: fmt.Sprintf("unknown action type %q", c.ActionType)})
	}
	if c.ActionType.UsesTimeout() {
		if c.TimeoutAfterCount < MinSwearCount || c.TimeoutAfterCount > MaxSwearCount {
			errs = append(errs, apperr.FieldError{Field: FieldTimeoutAfterCount, Message: "must be 1-50"})
		}
		if c.TimeoutMinutes < MinTimeoutMinutes || c.TimeoutMinutes > MaxTimeoutMinutes {
			errs = append(errs, apperr.FieldError{Field: FieldTimeoutMinutes, Message: "must be 1-1440 minutes"})
		}
	}
	if c.ActionType.UsesKick() {
		if c.KickAfterCount < MinSwearCount || c.KickAfterCount > MaxSwearCount {
			errs = append(errs, apperr.FieldError{Field: FieldKickAfterCount, Message: "must be 1-50"})
		} else if c.KickAfterCount <= c.TimeoutAfterCount {
			errs = append(errs, apperr.FieldError{Field: FieldKickAfterCount, Message: "must be higher than the timeout threshold"})
		}
	}

	if len(errs) > 0 {
		return &apperr.ValidationError{Errors: errs}
	}
	return nil
}

// GuildSettings is the full settings document the remote service returns:
// the escalation configuration plus the membership sets embedded in it.
type GuildSettings struct {
	Config         ModerationConfig
	BypassRoles    []string
	BypassChannels []string
	CustomWords    []string
	WhitelistWords []string
}

// Set returns the membership set of the given kind.
func (s *GuildSettings) Set(kind SetKind) []string {
	switch kind {
	case SetKindRole:
		return s.BypassRoles
	case SetKindChannel:
		return s.BypassChannels
	case SetKindWord:
		return s.CustomWords
	}
	return nil
}
