package brackets

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignSeeds(t *testing.T) {
	ranked := make([]string, Entries)
	for i := range ranked {
		ranked[i] = "r" + strconv.Itoa(i)
	}

	seeding, err := AssignSeeds(ranked)
	require.NoError(t, err)
	require.Len(t, seeding, Entries)

	// Strongest meets weakest, second strongest the second weakest.
	assert.Equal(t, "r0", seeding[0])
	assert.Equal(t, "r255", seeding[1])
	assert.Equal(t, "r1", seeding[2])
	assert.Equal(t, "r254", seeding[3])
	assert.Equal(t, "r127", seeding[254])
	assert.Equal(t, "r128", seeding[255])

	for i := 0; i < Entries/2; i++ {
		assert.Equal(t, ranked[i], seeding[2*i], "pair %d", i)
		assert.Equal(t, ranked[Entries-1-i], seeding[2*i+1], "pair %d", i)
	}
}

func TestAssignSeedsIsPermutation(t *testing.T) {
	ranked := make([]string, Entries)
	for i := range ranked {
		ranked[i] = "r" + strconv.Itoa(i)
	}
	seeding, err := AssignSeeds(ranked)
	require.NoError(t, err)

	seen := make(map[string]bool, Entries)
	for _, id := range seeding {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, Entries)
}

func TestAssignSeedsRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 255, 257, 512} {
		_, err := AssignSeeds(make([]string, n))
		assert.ErrorIs(t, err, ErrSeedCount, "length %d", n)
	}
}

// The first seed must be unbeatable by layout: whichever match it reaches, it
// can only ever meet the second seed in the finale.
func TestTopSeedsMeetInFinale(t *testing.T) {
	ranked := make([]string, Entries)
	for i := range ranked {
		ranked[i] = "r" + strconv.Itoa(i)
	}
	seeding, err := AssignSeeds(ranked)
	require.NoError(t, err)
	matches := NewMatches(MatchOptions{})

	path := func(entry string) []int {
		var start int
		for i := 0; i < Entries; i++ {
			if seeding[i] == entry {
				start = i / 2
				break
			}
		}
		route := []int{start}
		for cur := start; matches[cur].Next != nil; {
			cur = *matches[cur].Next
			route = append(route, cur)
		}
		return route
	}

	first := path("r0")
	second := path("r1")
	common := -1
	seen := make(map[int]bool)
	for _, m := range first {
		seen[m] = true
	}
	for _, m := range second {
		if seen[m] {
			common = m
			break
		}
	}
	assert.Equal(t, FinalIndex, common)
}
