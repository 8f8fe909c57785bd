package models

import (
	"encoding/json"
	"fmt"
)

// Votes holds the final tally of a resolved match, first option first. It
// unmarshals strictly: anything but a two-element integer array is rejected
// rather than truncated.
type Votes [2]int

func (v *Votes) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("votes must have exactly 2 entries, got %d", len(raw))
	}
	v[0], v[1] = raw[0], raw[1]
	return nil
}

// Match is one node of the 255-match single elimination bracket.
//
// The serialized form is a long-lived wire format shared with the public
// bracket page, so names and optionality are fixed: Winner and Next serialize
// as explicit nulls while unset, Votes only appears once the match has been
// resolved. Participants are not stored; they are derived from the seeding
// (leaf matches) or from feeder winners (later rounds).
type Match struct {
	Next     *int    `json:"next"`
	Winner   *string `json:"winner"`
	Votes    *Votes  `json:"votes,omitempty"`
	Duration int     `json:"duration"`
}

func (m Match) Resolved() bool {
	return m.Winner != nil
}
