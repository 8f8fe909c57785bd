// Package brackets holds the single elimination bracket itself: the fixed
// 255-match graph over a full field of 256 entries, seed assignment, and the
// per-round durations and labels. The bracket is always full and matches are
// resolved strictly in index order, so the whole structure can be described
// by one next-pointer per match.
package brackets

import (
	"fmt"

	"github.com/pettinen/gifdome/models"
)

const (
	// Entries is the fixed field size.
	Entries = 256

	// MatchCount is the total number of matches: 128 first-round matches
	// (indices 0..127) plus 127 later-round matches (128..254).
	MatchCount = 255

	// FirstRoundMatches is the number of leaf matches. Index 128 is the
	// first match whose participants come from feeder winners.
	FirstRoundMatches = 128

	// FinalIndex is the root of the bracket, the only match with no next.
	FinalIndex = 254
)

// seedSpread is the order in which seed positions are spread over a round so
// that the strongest entries meet as late as possible. The doubling starts
// from [0 2 1 3], which reproduces the layout the bracket page renders.
func seedSpread(n int) []int {
	seq := []int{0, 2, 1, 3}
	for len(seq) < n {
		limit := 2*len(seq) - 1
		grown := make([]int, 0, 2*len(seq))
		for _, s := range seq {
			grown = append(grown, s, limit-s)
		}
		seq = grown
	}
	return seq[:n]
}

// leafNext maps each first-round match to the second-round match it feeds.
// First-round matches order[j] and 127-order[j] both feed match 128+j.
var leafNext = func() [FirstRoundMatches]int {
	var next [FirstRoundMatches]int
	for j, s := range seedSpread(FirstRoundMatches / 2) {
		next[s] = FirstRoundMatches + j
		next[FirstRoundMatches-1-s] = FirstRoundMatches + j
	}
	return next
}()

// MatchOptions controls bracket materialization. A positive DurationOverride
// replaces every per-round duration; accelerated test tournaments run with a
// few seconds here.
type MatchOptions struct {
	DurationOverride int
}

// NewMatches materializes the full bracket with no winners recorded.
func NewMatches(opts MatchOptions) []models.Match {
	matches := make([]models.Match, MatchCount)
	for i := range matches {
		switch {
		case i < FirstRoundMatches:
			next := leafNext[i]
			matches[i].Next = &next
		case i < FinalIndex:
			next := i/2 + FirstRoundMatches
			matches[i].Next = &next
		}
		matches[i].Duration = MatchDuration(i)
		if opts.DurationOverride > 0 {
			matches[i].Duration = opts.DurationOverride
		}
	}
	return matches
}

// Participants returns the two slots of a match. First-round matches read the
// seeding directly; later matches take the winners of their two feeders in
// ascending feeder order, nil while a feeder is unresolved.
func Participants(index int, matches []models.Match, seeding []string) [2]*string {
	var out [2]*string
	if index < 0 || index >= MatchCount {
		return out
	}
	if index < FirstRoundMatches {
		if len(seeding) != Entries {
			return out
		}
		a, b := seeding[2*index], seeding[2*index+1]
		out[0], out[1] = &a, &b
		return out
	}
	slot := 0
	for i := range matches {
		if matches[i].Next != nil && *matches[i].Next == index {
			if slot < 2 {
				out[slot] = matches[i].Winner
			}
			slot++
		}
	}
	return out
}

// ValidateMatches checks the structural invariants of a persisted match
// array: exactly 255 entries, every non-final match feeding a strictly later
// match in the 128..254 range, the final feeding nothing, every later-round
// match fed by exactly two, and positive durations.
func ValidateMatches(matches []models.Match) error {
	if len(matches) != MatchCount {
		return fmt.Errorf("expected %d matches, got %d", MatchCount, len(matches))
	}
	feeders := make(map[int]int, MatchCount-FirstRoundMatches)
	for i := range matches {
		m := matches[i]
		if m.Duration <= 0 {
			return fmt.Errorf("match %d: duration %d is not positive", i, m.Duration)
		}
		if i == FinalIndex {
			if m.Next != nil {
				return fmt.Errorf("final match has next %d", *m.Next)
			}
			continue
		}
		if m.Next == nil {
			return fmt.Errorf("match %d has no next", i)
		}
		if *m.Next <= i || *m.Next < FirstRoundMatches || *m.Next > FinalIndex {
			return fmt.Errorf("match %d has invalid next %d", i, *m.Next)
		}
		feeders[*m.Next]++
	}
	for index := FirstRoundMatches; index <= FinalIndex; index++ {
		if feeders[index] != 2 {
			return fmt.Errorf("match %d is fed by %d matches, want 2", index, feeders[index])
		}
	}
	return nil
}
