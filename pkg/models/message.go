package models

import (
	"time"
)

// Message is one raw chat message as delivered by a message source.
type Message struct {
	Platform string    `json:"platform"`
	ID       int64     `json:"id"`
	AuthorID *int64    `json:"author_id,omitempty"`
	Date     time.Time `json:"date"`
	Text     string    `json:"text"`
	// MediaOnly marks messages that carry attachments without usable text.
	MediaOnly bool `json:"media_only,omitempty"`
}
