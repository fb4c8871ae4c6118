package models

import (
	"time"
)

type Platform string

const (
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
)

// DiscordEventMeta carries the interaction handles Discord needs for
// followup replies after the deferred acknowledgement
type DiscordEventMeta struct {
	InteractionToken string `json:"interaction_token"`
	ApplicationID    string `json:"application_id"`
}

// MessageEvent is a normalized inbound message from a chat platform.
// EventKey is the platform's delivery identifier (Slack envelope event_id,
// Discord interaction ID) and is the key replays are deduplicated on.
type MessageEvent struct {
	Platform   Platform          `json:"platform"`
	EventKey   string            `json:"event_key"`
	ChannelID  string            `json:"channel_id"`
	ThreadID   string            `json:"thread_id"`
	MessageTS  string            `json:"message_ts,omitempty"`
	SenderID   string            `json:"sender_id"`
	Text       string            `json:"text"`
	ReceivedAt time.Time         `json:"received_at"`
	Discord    *DiscordEventMeta `json:"discord,omitempty"`
}

// DedupKey returns the store key for this event. Keys are scoped per
// platform so identifiers from different platforms can never collide.
func (e *MessageEvent) DedupKey() string {
	return string(e.Platform) + ":" + e.EventKey
}
