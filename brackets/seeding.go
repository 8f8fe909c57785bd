package brackets

import (
	"errors"
	"fmt"
)

var ErrSeedCount = errors.New("seeding requires exactly 256 entries")

// AssignSeeds pairs a ranked field into first-round slots so that the
// strongest entry meets the weakest: first-round match i plays seeding[2i]
// against seeding[2i+1], with pairs (ranked[0], ranked[255]),
// (ranked[1], ranked[254]) and so on. Ranking ties must already be broken by
// the caller; the assignment itself is deterministic.
func AssignSeeds(ranked []string) ([]string, error) {
	if len(ranked) != Entries {
		return nil, fmt.Errorf("%w: got %d", ErrSeedCount, len(ranked))
	}
	seeding := make([]string, Entries)
	for i := 0; i < Entries/2; i++ {
		seeding[2*i] = ranked[i]
		seeding[2*i+1] = ranked[Entries-1-i]
	}
	return seeding, nil
}
