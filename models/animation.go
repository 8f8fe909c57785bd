package models

import "time"

// Animation is one tournament entrant. ID is the platform's stable unique
// file identifier, so the same GIF forwarded by different users maps to a
// single Animation; FileID is the handle accepted when sending it back out.
type Animation struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	FileSize  int64     `json:"file_size"`
	MimeType  string    `json:"mime_type"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"created_at"`

	// Original filenames seen across submissions of this animation.
	Filenames []string `json:"filenames,omitempty"`
}
