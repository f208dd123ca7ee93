package domain

import "time"

// Notification is an out-of-band message targeted at a single user
// rather than a conversation. Delivered to whichever of the user's
// connections are open on this instance.
type Notification struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Link      string         `json:"link,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}
