package models

import "encoding/json"

// ChannelTypeText is the only channel type a log channel or bypass channel
// may have.
const ChannelTypeText = 0

// Channel is a guild channel as listed by the remote service.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Category string `json:"category,omitempty"`
	Position int    `json:"position"`
}

// Role is a guild role as listed by the remote service.
type Role struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    int    `json:"color"`
	Position int    `json:"position"`
	Members  int    `json:"memberCount"`
}

// EveryoneRole is the implicit role every member holds; it can't be bypassed.
const EveryoneRole = "@everyone"

// FilterResult is the outcome of probing a message against the guild filter.
type FilterResult struct {
	WouldBlock   bool     `json:"would_block"`
	BlockedWords []string `json:"blocked_words"`
}

// GuildStats summarizes moderation activity for the overview screen.
type GuildStats struct {
	TotalViolations int            `json:"total_violations"`
	ViolationsToday int            `json:"violations_today"`
	ActiveUsers     int            `json:"active_users"`
	DaysAnalyzed    int            `json:"days_analyzed"`
	ActionBreakdown map[string]int `json:"action_breakdown,omitempty"`
	// TopWords is passed through untouched; its shape is owned by the service.
	TopWords json.RawMessage `json:"top_words,omitempty"`
}
