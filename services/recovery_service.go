package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/repositories"
)

// RecoveryService validates the persisted state at startup, before the bot
// takes any traffic.
type RecoveryService interface {
	// ValidateStartup checks the persisted state against the invariants of
	// its phase. A first run initializes the phase key; an unfinished reset
	// is completed. Any violation comes back wrapping ErrIntegrity and the
	// process is expected to refuse to start.
	ValidateStartup(ctx context.Context) error
}

type recoveryService struct {
	state      repositories.StateRepository
	tournament TournamentService
	logger     *slog.Logger
}

func NewRecoveryService(state repositories.StateRepository, tournament TournamentService, logger *slog.Logger) RecoveryService {
	return &recoveryService{state: state, tournament: tournament, logger: logger}
}

func (s *recoveryService) ValidateStartup(ctx context.Context) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info("no persisted state, initializing")
		if err := s.state.SetPhase(ctx, models.PhaseNotStarted); err != nil {
			return err
		}
		phase = models.PhaseNotStarted
	}
	if phase == models.PhaseReset {
		// A reset was requested but never finished. Complete it, then
		// validate the wiped state like any other.
		s.logger.Warn("unfinished reset found, completing it")
		if err := s.tournament.Reset(ctx); err != nil {
			return fmt.Errorf("complete reset: %w", err)
		}
		return s.ValidateStartup(ctx)
	}
	if !phase.Valid() {
		return violation(repositories.KeyState, fmt.Sprintf("unknown phase %q", phase))
	}

	st, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	pollFieldsPresent := st.CurrentPoll != nil || st.CurrentPollStart != nil || st.CurrentVoterCount != nil

	switch phase {
	case models.PhaseNotStarted:
		if st.GroupID != nil {
			return violation(repositories.KeyGroupID, "present before start")
		}
		if st.CurrentMatch != nil {
			return violation(repositories.KeyCurrentMatch, "present before start")
		}
		if pollFieldsPresent {
			return violation(repositories.KeyCurrentPoll, "poll fields present before start")
		}
		if st.Matches != nil {
			return violation(repositories.KeyMatches, "present before start")
		}
		if st.Seeding != nil {
			return violation(repositories.KeySeeding, "present before start")
		}

	case models.PhaseTakingSubmissions:
		if st.GroupID == nil {
			return violation(repositories.KeyGroupID, "missing while taking submissions")
		}
		if st.CurrentMatch != nil {
			return violation(repositories.KeyCurrentMatch, "present while taking submissions")
		}
		if pollFieldsPresent {
			return violation(repositories.KeyCurrentPoll, "poll fields present while taking submissions")
		}
		if st.Matches != nil {
			return violation(repositories.KeyMatches, "present while taking submissions")
		}
		if st.Seeding != nil {
			return violation(repositories.KeySeeding, "present while taking submissions")
		}

	case models.PhaseVoting:
		if st.GroupID == nil {
			return violation(repositories.KeyGroupID, "missing during voting")
		}
		if st.CurrentMatch == nil {
			return violation(repositories.KeyCurrentMatch, "missing during voting")
		}
		if st.Matches == nil {
			return violation(repositories.KeyMatches, "missing during voting")
		}
		if st.Seeding == nil {
			return violation(repositories.KeySeeding, "missing during voting")
		}
		if err := checkBracket(st, false); err != nil {
			return err
		}

	case models.PhaseEnded:
		if st.GroupID == nil {
			return violation(repositories.KeyGroupID, "missing after the end")
		}
		if st.Matches == nil {
			return violation(repositories.KeyMatches, "missing after the end")
		}
		if st.Seeding == nil {
			return violation(repositories.KeySeeding, "missing after the end")
		}
		if err := checkBracket(st, true); err != nil {
			return err
		}
	}

	s.logger.Info("persisted state validated", slog.String("phase", string(phase)))
	return nil
}

// checkBracket verifies the structural invariants of a seeded bracket: a
// well-formed match graph, a full distinct seeding, winners forming a prefix
// up to the current match, and every winner being a participant of its match.
func checkBracket(st *models.TournamentState, ended bool) error {
	if err := brackets.ValidateMatches(st.Matches); err != nil {
		return violation(repositories.KeyMatches, err.Error())
	}
	if len(st.Seeding) != brackets.Entries {
		return violation(repositories.KeySeeding,
			fmt.Sprintf("expected %d entries, got %d", brackets.Entries, len(st.Seeding)))
	}
	seen := make(map[string]bool, len(st.Seeding))
	for _, id := range st.Seeding {
		if seen[id] {
			return violation(repositories.KeySeeding, "duplicate entry "+id)
		}
		seen[id] = true
	}

	if ended {
		for i := range st.Matches {
			if !st.Matches[i].Resolved() {
				return violation(repositories.KeyMatches,
					fmt.Sprintf("match %d unresolved after the end", i))
			}
		}
	} else {
		index := *st.CurrentMatch
		if index < 0 || index > brackets.FinalIndex {
			return violation(repositories.KeyCurrentMatch,
				fmt.Sprintf("index %d out of range", index))
		}
		for i := range st.Matches {
			resolved := st.Matches[i].Resolved()
			if i < index && !resolved {
				return violation(repositories.KeyMatches,
					fmt.Sprintf("match %d unresolved behind the current match", i))
			}
			if i > index && resolved {
				return violation(repositories.KeyMatches,
					fmt.Sprintf("match %d resolved ahead of the current match", i))
			}
		}
	}

	for i := range st.Matches {
		winner := st.Matches[i].Winner
		if winner == nil {
			continue
		}
		pair := brackets.Participants(i, st.Matches, st.Seeding)
		if pair[0] == nil || pair[1] == nil || (*winner != *pair[0] && *winner != *pair[1]) {
			return violation(repositories.KeyMatches,
				fmt.Sprintf("match %d winner is not one of its participants", i))
		}
	}
	return nil
}

func violation(key, reason string) error {
	return &IntegrityError{Key: key, Reason: reason}
}
