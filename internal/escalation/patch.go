package escalation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tullo/moddash/internal/models"
)

// settingsPatch holds the fields a settings_updated push carried. A nil
// pointer means the field was absent; clearLogChannel records an explicit
// null log channel.
type settingsPatch struct {
	enabled           *bool
	actionType        *models.ActionType
	timeoutAfterCount *int
	timeoutMinutes    *int
	kickAfterCount    *int
	logChannelID      *string
	clearLogChannel   bool
}

func decodeSettingsPatch(payload json.RawMessage) (*settingsPatch, error) {
	var body models.WSSettingsPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if len(body.Settings) > 0 {
		if err := json.Unmarshal(body.Settings, &fields); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
	}

	p := &settingsPatch{}
	for key, raw := range fields {
		var err error
		switch key {
		case "enabled":
			p.enabled = new(bool)
			err = json.Unmarshal(raw, p.enabled)
		case models.FieldActionType:
			var t models.ActionType
			if err = json.Unmarshal(raw, &t); err == nil && t.Valid() {
				p.actionType = &t
			}
		case models.FieldTimeoutAfterCount:
			p.timeoutAfterCount = new(int)
			err = json.Unmarshal(raw, p.timeoutAfterCount)
		case models.FieldTimeoutMinutes:
			p.timeoutMinutes = new(int)
			err = json.Unmarshal(raw, p.timeoutMinutes)
		case models.FieldKickAfterCount:
			p.kickAfterCount = new(int)
			err = json.Unmarshal(raw, p.kickAfterCount)
		case "log_channel_id":
			p.logChannelID, p.clearLogChannel, err = decodeChannelID(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("settings.%s: %w", key, err)
		}
	}
	return p, nil
}

// decodeChannelID accepts a string, a bare numeric snowflake, or null.
func decodeChannelID(raw json.RawMessage) (*string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, true, nil
	}
	var id string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, false, err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, false, err
		}
		id = n.String()
	}
	if id == "" {
		return nil, true, nil
	}
	return &id, false, nil
}

func (p *settingsPatch) empty() bool {
	return p.enabled == nil && p.actionType == nil && p.timeoutAfterCount == nil &&
		p.timeoutMinutes == nil && p.kickAfterCount == nil && p.logChannelID == nil && !p.clearLogChannel
}

func (p *settingsPatch) apply(cfg *models.ModerationConfig) {
	if p.enabled != nil {
		cfg.Enabled = *p.enabled
	}
	if p.actionType != nil {
		cfg.ActionType = *p.actionType
	}
	if p.timeoutAfterCount != nil {
		cfg.TimeoutAfterCount = *p.timeoutAfterCount
	}
	if p.timeoutMinutes != nil {
		cfg.TimeoutMinutes = *p.timeoutMinutes
	}
	if p.kickAfterCount != nil {
		cfg.KickAfterCount = *p.kickAfterCount
	}
	switch {
	case p.logChannelID != nil:
		id := *p.logChannelID
		cfg.LogChannelID = &id
	case p.clearLogChannel:
		cfg.LogChannelID = nil
	}
}
