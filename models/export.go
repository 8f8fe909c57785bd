package models

// MatchView is one entry of the public matches document: the persisted match
// with participants and winner resolved to sendable file identifiers.
type MatchView struct {
	Next         *int       `json:"next"`
	Winner       *string    `json:"winner"`
	Votes        *Votes     `json:"votes,omitempty"`
	Duration     int        `json:"duration"`
	Participants [2]*string `json:"participants"`
}

// AnimationView is one entry of the public gifs document, keyed by animation
// ID in the full export.
type AnimationView struct {
	ID        string   `json:"id"`
	File      string   `json:"file"`
	Filenames []string `json:"filenames"`
	MimeType  string   `json:"mime_type"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Duration  int      `json:"duration"`
}

// StatusView summarizes the tournament for the public status endpoint and the
// live update stream.
type StatusView struct {
	Phase        Phase   `json:"phase"`
	CurrentMatch *int    `json:"current_match,omitempty"`
	Round        *string `json:"round,omitempty"`
	Description  string  `json:"description"`
}
