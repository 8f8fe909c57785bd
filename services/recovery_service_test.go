package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/repositories"
)

func TestValidateStartupInitializesFirstRun(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	require.NoError(t, h.recovery.ValidateStartup(ctx))

	phase, ok, err := h.state.Phase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PhaseNotStarted, phase)
}

func TestValidateStartupCompletesUnfinishedReset(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)

	// The reset sentinel went in but the process died before the wipe.
	require.NoError(t, h.state.SetPhase(ctx, models.PhaseReset))
	require.NoError(t, h.recovery.ValidateStartup(ctx))

	phase, ok, err := h.state.Phase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PhaseNotStarted, phase)

	_, ok, err = h.state.GroupID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	matches, err := h.state.Matches(ctx)
	require.NoError(t, err)
	assert.Nil(t, matches)
	counts, err := h.submissions.Counts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestValidateStartupRejectsUnknownPhase(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, repositories.KeyState, []byte("intermission")))

	err := h.recovery.ValidateStartup(ctx)
	assert.ErrorIs(t, err, ErrIntegrity)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyState, integrity.Key)
}

func TestValidateStartupRejectsMalformedMatches(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)
	require.NoError(t, h.store.Set(ctx, repositories.KeyMatches, []byte("{not json")))

	err := h.recovery.ValidateStartup(ctx)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestValidateStartupPresenceRules(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		stage func(t *testing.T, h *testHarness)
		key   string
	}{
		{
			name: "group id before start",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseNotStarted))
				require.NoError(t, h.state.SetGroupID(ctx, groupChatID))
			},
			key: repositories.KeyGroupID,
		},
		{
			name: "matches before start",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseNotStarted))
				require.NoError(t, h.state.SetMatches(ctx, brackets.NewMatches(brackets.MatchOptions{})))
			},
			key: repositories.KeyMatches,
		},
		{
			name: "no group while taking submissions",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseTakingSubmissions))
			},
			key: repositories.KeyGroupID,
		},
		{
			name: "current match while taking submissions",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseTakingSubmissions))
				require.NoError(t, h.state.SetGroupID(ctx, groupChatID))
				require.NoError(t, h.state.SetCurrentMatch(ctx, 0))
			},
			key: repositories.KeyCurrentMatch,
		},
		{
			name: "poll fields while taking submissions",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseTakingSubmissions))
				require.NoError(t, h.state.SetGroupID(ctx, groupChatID))
				require.NoError(t, h.state.SetVoterCount(ctx, 3))
			},
			key: repositories.KeyCurrentPoll,
		},
		{
			name: "no matches during voting",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseVoting))
				require.NoError(t, h.state.SetGroupID(ctx, groupChatID))
				require.NoError(t, h.state.SetCurrentMatch(ctx, 0))
			},
			key: repositories.KeyMatches,
		},
		{
			name: "no seeding after the end",
			stage: func(t *testing.T, h *testHarness) {
				require.NoError(t, h.state.SetPhase(ctx, models.PhaseEnded))
				require.NoError(t, h.state.SetGroupID(ctx, groupChatID))
				require.NoError(t, h.state.SetMatches(ctx, brackets.NewMatches(brackets.MatchOptions{})))
			},
			key: repositories.KeySeeding,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, defaultOptions())
			tc.stage(t, h)

			err := h.recovery.ValidateStartup(ctx)
			assert.ErrorIs(t, err, ErrIntegrity)
			var integrity *IntegrityError
			require.ErrorAs(t, err, &integrity)
			assert.Equal(t, tc.key, integrity.Key)
		})
	}
}

func TestValidateStartupAcceptsHealthyVotingState(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)

	require.NoError(t, h.recovery.ValidateStartup(ctx))

	// Still healthy after a match has been resolved.
	h.messenger.stopPollTallies = [2]int{8, 1}
	require.NoError(t, h.progression.Advance(ctx))
	require.NoError(t, h.recovery.ValidateStartup(ctx))
}

func TestValidateStartupRejectsCurrentMatchOutOfRange(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)
	require.NoError(t, h.state.SetCurrentMatch(ctx, 300))

	err := h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyCurrentMatch, integrity.Key)
}

func TestValidateStartupRejectsWinnerAheadOfCurrentMatch(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	ids := h.startVoting(t)

	matches := h.matches(t)
	winner := ids[5]
	matches[5].Winner = &winner
	require.NoError(t, h.state.SetMatches(ctx, matches))

	err := h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyMatches, integrity.Key)
}

func TestValidateStartupRejectsGapBehindCurrentMatch(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)
	h.messenger.stopPollTallies = [2]int{8, 1}
	require.NoError(t, h.progression.Advance(ctx))

	matches := h.matches(t)
	matches[0].Winner = nil
	matches[0].Votes = nil
	require.NoError(t, h.state.SetMatches(ctx, matches))

	err := h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyMatches, integrity.Key)
}

func TestValidateStartupRejectsForeignWinner(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	ids := h.startVoting(t)

	// ids[7] plays in match 7, not in match 0.
	matches := h.matches(t)
	intruder := ids[7]
	matches[0].Winner = &intruder
	require.NoError(t, h.state.SetMatches(ctx, matches))

	err := h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyMatches, integrity.Key)
}

func TestValidateStartupRejectsDuplicateSeeding(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.startVoting(t)

	seeding, err := h.state.Seeding(ctx)
	require.NoError(t, err)
	seeding[1] = seeding[0]
	require.NoError(t, h.state.SetSeeding(ctx, seeding))

	err = h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeySeeding, integrity.Key)
}

func TestValidateStartupRejectsUnresolvedMatchAfterEnd(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.stageFinale(t)
	require.NoError(t, h.state.SetPhase(ctx, models.PhaseEnded))

	err := h.recovery.ValidateStartup(ctx)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, repositories.KeyMatches, integrity.Key)
}

func TestValidateStartupAcceptsEndedState(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	h.stageFinale(t)
	h.messenger.stopPollTallies = [2]int{9, 4}
	require.NoError(t, h.progression.Advance(ctx))

	require.NoError(t, h.recovery.ValidateStartup(ctx))
}
