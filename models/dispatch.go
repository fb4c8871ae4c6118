package models

// ReplyRef identifies where a completion result should be delivered.
// InteractionToken is only set for Discord events that still hold an
// open deferred interaction.
type ReplyRef struct {
	Platform         Platform `json:"platform"`
	EventKey         string   `json:"event_key"`
	ChannelID        string   `json:"channel_id"`
	ThreadID         string   `json:"thread_id"`
	InteractionToken string   `json:"interaction_token,omitempty"`
}
