package services

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/rendering"
	"github.com/pettinen/gifdome/repositories"
	"github.com/pettinen/gifdome/transport"
	"github.com/pettinen/gifdome/utils"
)

const (
	emojiA = "\U0001F170️"
	emojiB = "\U0001F171️"

	// adminRushIndex is the first match from which /next is restricted to
	// admins. From the quarterfinals on, polls run their full course unless
	// an admin intervenes.
	adminRushIndex = 248

	advanceKey = "advance"
)

// Broadcaster pushes live bracket events to connected page clients.
// *brackets.Hub satisfies it.
type Broadcaster interface {
	Broadcast(event brackets.Event)
}

type pollOpenedPayload struct {
	Match    int    `json:"match"`
	Round    string `json:"round"`
	Duration int    `json:"duration"`
}

type matchResolvedPayload struct {
	Match  int          `json:"match"`
	Winner string       `json:"winner"`
	Votes  models.Votes `json:"votes"`
}

type phasePayload struct {
	Phase models.Phase `json:"phase"`
}

// ProgressionService drives the voting phase: it opens polls, closes them,
// records winners and moves the current match pointer forward, one match at a
// time until the finale resolves.
type ProgressionService interface {
	// Advance closes the current poll, records the winner and opens the next
	// poll (or ends the tournament after the finale). All gates are assumed
	// to have been checked by the caller.
	Advance(ctx context.Context) error

	// HandlePollUpdate ingests a poll state change from the chat platform,
	// persists the voter count and advances when the poll has run its course.
	HandlePollUpdate(ctx context.Context, update *transport.PollUpdate) error

	// ManualAdvance is the /next command: Advance behind the duration and
	// minimum vote gates, with late rounds restricted to admins.
	ManualAdvance(ctx context.Context, actor transport.User) error

	// CheckExpiry advances if the current poll has outlived its duration
	// with a decisive result. Called periodically by the scheduler.
	CheckExpiry(ctx context.Context) error
}

// ProgressionConfig carries the operator tunables of the voting phase.
type ProgressionConfig struct {
	// Admins may rush polls from the quarterfinals on.
	Admins []string

	// MinVotes is the minimum voter count before a poll may close.
	MinVotes int

	// DurationOverride, when positive, replaces every per-round poll
	// duration with a fixed number of seconds.
	DurationOverride int

	// AutovoteUntil, when positive, resolves every match below this index
	// with a random pick and no poll. Accelerated test tournaments only.
	AutovoteUntil int
}

type observedTallies struct {
	pollID string
	votes  [2]int
}

type progressionService struct {
	state       repositories.StateRepository
	animations  repositories.AnimationRepository
	submissions repositories.SubmissionRepository
	messenger   transport.Messenger
	renderer    rendering.Renderer
	exporter    ExportService
	broadcaster Broadcaster
	logger      *slog.Logger

	admins        map[string]bool
	minVotes      int
	matchOptions  brackets.MatchOptions
	autovoteUntil int

	advances singleflight.Group

	// lastSeen caches the option tallies from the latest poll update. Stopping
	// an already closed poll returns no tallies, so this cache is the only way
	// to resolve such a match without manual attention.
	mu       sync.Mutex
	lastSeen *observedTallies

	now      func() time.Time
	coin     func() (int, error)
	autopick func(n int) int
}

func NewProgressionService(
	state repositories.StateRepository,
	animations repositories.AnimationRepository,
	submissions repositories.SubmissionRepository,
	messenger transport.Messenger,
	renderer rendering.Renderer,
	exporter ExportService,
	broadcaster Broadcaster,
	logger *slog.Logger,
	cfg ProgressionConfig,
) ProgressionService {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, username := range cfg.Admins {
		admins[username] = true
	}
	return &progressionService{
		state:         state,
		animations:    animations,
		submissions:   submissions,
		messenger:     messenger,
		renderer:      renderer,
		exporter:      exporter,
		broadcaster:   broadcaster,
		logger:        logger,
		admins:        admins,
		minVotes:      cfg.MinVotes,
		matchOptions:  brackets.MatchOptions{DurationOverride: cfg.DurationOverride},
		autovoteUntil: cfg.AutovoteUntil,
		now:           time.Now,
		coin:          secureCoin,
		autopick:      rand.Intn,
	}
}

// Advance serializes concurrent triggers: a manual /next racing the expiry
// scheduler collapses into a single run and both callers get its result.
func (s *progressionService) Advance(ctx context.Context) error {
	_, err, _ := s.advances.Do(advanceKey, func() (any, error) {
		return nil, s.advance(ctx)
	})
	return err
}

func (s *progressionService) advance(ctx context.Context) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if !ok || phase != models.PhaseVoting {
		return ErrWrongPhase
	}
	groupID, ok, err := s.state.GroupID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &IntegrityError{Key: repositories.KeyGroupID, Reason: "missing during voting"}
	}
	seeding, err := s.state.Seeding(ctx)
	if err != nil {
		return err
	}
	if len(seeding) != brackets.Entries {
		return &IntegrityError{
			Key:    repositories.KeySeeding,
			Reason: fmt.Sprintf("expected %d entries, got %d", brackets.Entries, len(seeding)),
		}
	}

	index, ok, err := s.state.CurrentMatch(ctx)
	if err != nil {
		return err
	}
	var matches []models.Match
	if !ok {
		// First advance of the tournament: point at match 0 and materialize
		// the bracket before opening its poll.
		index = 0
		if err := s.state.SetCurrentMatch(ctx, 0); err != nil {
			return err
		}
		matches = brackets.NewMatches(s.matchOptions)
		if err := s.state.SetMatches(ctx, matches); err != nil {
			return err
		}
	} else {
		if matches, err = s.state.Matches(ctx); err != nil {
			return err
		}
		if matches == nil {
			return &IntegrityError{Key: repositories.KeyMatches, Reason: "missing during voting"}
		}
	}
	if index < 0 || index >= len(matches) {
		return &IntegrityError{
			Key:    repositories.KeyCurrentMatch,
			Reason: fmt.Sprintf("index %d out of range", index),
		}
	}

	// Accelerated test tournaments decide their early matches with a die
	// roll and no poll at all.
	for index < s.autovoteUntil && index < brackets.FinalIndex && !matches[index].Resolved() {
		pair := brackets.Participants(index, matches, seeding)
		if pair[0] == nil || pair[1] == nil {
			return &IntegrityError{
				Key:    repositories.KeyMatches,
				Reason: fmt.Sprintf("participants of match %d unresolved", index),
			}
		}
		winner := *pair[s.autopick(2)]
		matches[index].Winner = &winner
		if err := s.state.SetMatches(ctx, matches); err != nil {
			return err
		}
		s.logger.Info("autovoted match",
			slog.Int("match", index),
			slog.String("winner", winner))
		index++
		if err := s.state.SetCurrentMatch(ctx, index); err != nil {
			return err
		}
	}

	current := matches[index]
	resumed := current.Resolved()

	if !resumed {
		pollRef, err := s.state.CurrentPoll(ctx)
		if err != nil {
			return err
		}
		if pollRef == nil {
			// No poll has been opened for this match yet.
			return s.openPoll(ctx, groupID, index, matches, seeding)
		}

		tallies, err := s.closePoll(ctx, groupID, pollRef)
		if err != nil {
			return err
		}

		// Re-check the keys read at entry before mutating anything. A reset
		// or a competing process may have moved the tournament while the
		// poll close was in flight.
		if err := s.confirmUnchanged(ctx, index, pollRef.PollID); err != nil {
			return err
		}

		pair := brackets.Participants(index, matches, seeding)
		if pair[0] == nil || pair[1] == nil {
			return &IntegrityError{
				Key:    repositories.KeyMatches,
				Reason: fmt.Sprintf("participants of match %d unresolved", index),
			}
		}
		winner := *pair[0]
		switch {
		case tallies[0] > tallies[1]:
		case tallies[0] < tallies[1]:
			winner = *pair[1]
		default:
			if _, err := s.messenger.SendMessage(ctx, groupID, "Tossing a coin to determine the winner."); err != nil {
				return fmt.Errorf("announce coin toss: %w", err)
			}
			side, err := s.coin()
			if err != nil {
				return fmt.Errorf("coin toss: %w", err)
			}
			winner = *pair[side]
		}

		votes := models.Votes{tallies[0], tallies[1]}
		matches[index].Winner = &winner
		matches[index].Votes = &votes
		if err := s.state.SetMatches(ctx, matches); err != nil {
			return err
		}
		current = matches[index]
		s.logger.Info("match resolved",
			slog.Int("match", index),
			slog.String("winner", winner),
			slog.Int("votes_a", votes[0]),
			slog.Int("votes_b", votes[1]))
		s.broadcaster.Broadcast(brackets.Event{
			Type:    brackets.EventMatchResolved,
			Payload: matchResolvedPayload{Match: index, Winner: winner, Votes: votes},
		})
	}

	if err := s.exporter.RefreshBracket(ctx); err != nil {
		s.logger.Error("refresh bracket image", slog.Any("error", err))
	}

	// Once the winner is persisted, chat announcements must not strand the
	// bracket: failures here are logged, not returned. On a resumed advance
	// the announcements are assumed to have gone out before the crash.
	if !resumed {
		repeats := 1
		if current.Next == nil {
			repeats = 5
		}
		s.sendWinnerAnimation(ctx, groupID, *current.Winner, repeats)
	}

	if current.Next == nil {
		return s.finish(ctx, groupID)
	}

	if !resumed {
		if _, err := s.messenger.SendMessage(ctx, groupID, "We have a winner!"); err != nil {
			s.logger.Error("announce winner", slog.Any("error", err))
		}
	}

	// Turn over to the next match. Poll keys and cached tallies go first so
	// a crash in between leaves an unambiguous needs-a-poll state.
	if err := s.state.ClearPoll(ctx); err != nil {
		return err
	}
	s.forgetTallies()
	if err := s.state.SetCurrentMatch(ctx, index+1); err != nil {
		return err
	}
	return s.advance(ctx)
}

// openPoll announces the pairing and opens the poll for a match, then
// persists the poll references.
func (s *progressionService) openPoll(ctx context.Context, groupID int64, index int, matches []models.Match, seeding []string) error {
	pair := brackets.Participants(index, matches, seeding)
	if pair[0] == nil || pair[1] == nil {
		return &IntegrityError{
			Key:    repositories.KeyMatches,
			Reason: fmt.Sprintf("participants of match %d unresolved", index),
		}
	}
	fileIDs, err := s.animations.FileIDs(ctx, []string{*pair[0], *pair[1]})
	if err != nil {
		return fmt.Errorf("resolve participants: %w", err)
	}
	fileA, ok := fileIDs[*pair[0]]
	if !ok {
		return fmt.Errorf("%w: %s", repositories.ErrAnimationNotFound, *pair[0])
	}
	fileB, ok := fileIDs[*pair[1]]
	if !ok {
		return fmt.Errorf("%w: %s", repositories.ErrAnimationNotFound, *pair[1])
	}
	countA, err := s.submissions.CountForAnimation(ctx, *pair[0])
	if err != nil {
		return err
	}
	countB, err := s.submissions.CountForAnimation(ctx, *pair[1])
	if err != nil {
		return err
	}

	img, err := s.renderer.RenderVersus(ctx, fileA, fileB)
	if err != nil {
		return fmt.Errorf("render versus image: %w", err)
	}

	duration := matches[index].Duration
	caption := strings.Join([]string{
		`A new battle begins\!`,
		submittedLine(emojiA, countA),
		submittedLine(emojiB, countB),
		fmt.Sprintf(`This poll will stay open for at least %s\.`, utils.FormatDuration(duration)),
	}, "\n")

	announceID, err := s.messenger.SendPhoto(ctx, groupID, img, caption)
	if err != nil {
		return fmt.Errorf("send versus image: %w", err)
	}
	pollID, pollMsgID, err := s.messenger.SendPoll(ctx, groupID, "Which shall win?", [2]string{emojiA, emojiB}, announceID)
	if err != nil {
		return fmt.Errorf("open poll: %w", err)
	}
	if err := s.messenger.PinMessage(ctx, groupID, pollMsgID, false); err != nil {
		s.logger.Error("pin poll message", slog.Any("error", err))
	}

	ref := models.PollRef{PollID: pollID, MessageID: pollMsgID, AnnounceMessageID: announceID}
	if err := s.state.SetCurrentPoll(ctx, ref); err != nil {
		return err
	}
	if err := s.state.SetPollStart(ctx, s.now().Unix()); err != nil {
		return err
	}
	if err := s.state.SetVoterCount(ctx, 0); err != nil {
		return err
	}
	s.forgetTallies()

	s.broadcaster.Broadcast(brackets.Event{
		Type:    brackets.EventPollOpened,
		Payload: pollOpenedPayload{Match: index, Round: brackets.RoundLabel(index), Duration: duration},
	})
	if err := s.exporter.SyncChatDescription(ctx); err != nil {
		s.logger.Error("sync chat description", slog.Any("error", err))
	}
	s.logger.Info("poll opened",
		slog.Int("match", index),
		slog.String("round", brackets.RoundLabel(index)),
		slog.String("poll_id", pollID))
	return nil
}

func submittedLine(emoji string, count int) string {
	if count == 1 {
		return fmt.Sprintf(`GIF %s was submitted once\.`, emoji)
	}
	return fmt.Sprintf(`GIF %s was submitted %d times\.`, emoji, count)
}

// closePoll unpins and stops the current poll and returns its final tallies.
// A poll that turns out to be already closed is recovered from the tallies
// observed in poll updates; without those the match cannot be decided and an
// operator has to step in.
func (s *progressionService) closePoll(ctx context.Context, groupID int64, ref *models.PollRef) ([2]int, error) {
	var none [2]int
	if err := s.messenger.UnpinMessage(ctx, groupID, ref.MessageID); err != nil && !errors.Is(err, transport.ErrNotPinned) {
		return none, fmt.Errorf("unpin poll message: %w", err)
	}
	tallies, err := s.messenger.StopPoll(ctx, groupID, ref.MessageID)
	if err == nil {
		return tallies, nil
	}
	if errors.Is(err, transport.ErrPollAlreadyClosed) {
		if cached, ok := s.recallTallies(ref.PollID); ok {
			s.logger.Warn("poll already closed, using last observed tallies",
				slog.String("poll_id", ref.PollID))
			return cached, nil
		}
		s.logger.Error("poll already closed with no observed tallies",
			slog.String("poll_id", ref.PollID))
		if _, sendErr := s.messenger.SendMessage(ctx, groupID, "Oopsie! This requires some manual attention."); sendErr != nil {
			s.logger.Error("send manual attention notice", slog.Any("error", sendErr))
		}
		return none, fmt.Errorf("%w: poll %s already closed with no observed tallies", ErrManualAttention, ref.PollID)
	}
	return none, fmt.Errorf("stop poll: %w", err)
}

func (s *progressionService) confirmUnchanged(ctx context.Context, index int, pollID string) error {
	current, ok, err := s.state.CurrentMatch(ctx)
	if err != nil {
		return err
	}
	if !ok || current != index {
		return ErrAdvanceSuperseded
	}
	ref, err := s.state.CurrentPoll(ctx)
	if err != nil {
		return err
	}
	if ref == nil || ref.PollID != pollID {
		return ErrAdvanceSuperseded
	}
	return nil
}

func (s *progressionService) sendWinnerAnimation(ctx context.Context, groupID int64, winner string, repeats int) {
	fileID, err := s.animations.FileID(ctx, winner)
	if err != nil {
		s.logger.Error("look up winner animation",
			slog.String("animation", winner),
			slog.Any("error", err))
		return
	}
	for i := 0; i < repeats; i++ {
		if _, err := s.messenger.SendAnimation(ctx, groupID, fileID); err != nil {
			s.logger.Error("send winner animation", slog.Any("error", err))
			return
		}
	}
}

// finish ends the tournament after the finale resolves.
func (s *progressionService) finish(ctx context.Context, groupID int64) error {
	if err := s.state.SetPhase(ctx, models.PhaseEnded); err != nil {
		return err
	}
	s.logger.Info("tournament ended")
	s.broadcaster.Broadcast(brackets.Event{
		Type:    brackets.EventPhaseChanged,
		Payload: phasePayload{Phase: models.PhaseEnded},
	})
	if err := s.exporter.SyncChatDescription(ctx); err != nil {
		s.logger.Error("sync chat description", slog.Any("error", err))
	}
	img, err := s.exporter.Bracket(ctx)
	if err != nil {
		s.logger.Error("render final bracket", slog.Any("error", err))
		return nil
	}
	caption := `Ohi on\! kiitos pelaamisesta vaikka äänestitte VÄÄRIN`
	if _, err := s.messenger.SendPhoto(ctx, groupID, img, caption); err != nil {
		s.logger.Error("send final bracket", slog.Any("error", err))
	}
	return nil
}

func (s *progressionService) HandlePollUpdate(ctx context.Context, update *transport.PollUpdate) error {
	if update.IsClosed {
		return nil
	}
	ref, err := s.state.CurrentPoll(ctx)
	if err != nil {
		return err
	}
	if ref == nil || ref.PollID != update.PollID {
		return nil
	}

	// The voter count and tallies are recorded even when the poll is not
	// ready to close, so a later expiry check can act on them.
	if err := s.state.SetVoterCount(ctx, update.TotalVoterCount); err != nil {
		return err
	}
	s.rememberTallies(update.PollID, update.OptionVotes)

	if update.TotalVoterCount < s.minVotes {
		return nil
	}
	if update.OptionVotes[0] == update.OptionVotes[1] {
		return nil
	}
	start, ok, err := s.state.PollStart(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	duration, ok, err := s.currentDuration(ctx)
	if err != nil {
		return err
	}
	if !ok || s.now().Unix()-start < int64(duration) {
		return nil
	}
	return s.Advance(ctx)
}

func (s *progressionService) ManualAdvance(ctx context.Context, actor transport.User) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if !ok || phase != models.PhaseVoting {
		return ErrWrongPhase
	}

	index, indexKnown, err := s.state.CurrentMatch(ctx)
	if err != nil {
		return err
	}
	if indexKnown && index >= adminRushIndex && !s.admins[actor.Username] {
		return ErrAdminOnly
	}
	if !indexKnown {
		return ErrNoCurrentMatch
	}

	duration, known, err := s.currentDuration(ctx)
	if err != nil {
		return err
	}
	if known {
		start, started, err := s.state.PollStart(ctx)
		if err != nil {
			return err
		}
		if started {
			elapsed := s.now().Unix() - start
			if elapsed < int64(duration) {
				return &PollStillOpenError{Remaining: time.Duration(int64(duration)-elapsed) * time.Second}
			}
		}
	}

	count, counted, err := s.state.VoterCount(ctx)
	if err != nil {
		return err
	}
	if counted && count < s.minVotes {
		return ErrNotEnoughVotes
	}
	return s.Advance(ctx)
}

func (s *progressionService) CheckExpiry(ctx context.Context) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if !ok || phase != models.PhaseVoting {
		return nil
	}
	ref, err := s.state.CurrentPoll(ctx)
	if err != nil {
		return err
	}
	if ref == nil {
		return nil
	}
	start, ok, err := s.state.PollStart(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	duration, ok, err := s.currentDuration(ctx)
	if err != nil {
		return err
	}
	if !ok || s.now().Unix()-start < int64(duration) {
		return nil
	}
	count, ok, err := s.state.VoterCount(ctx)
	if err != nil {
		return err
	}
	if !ok || count < s.minVotes {
		return nil
	}

	// A poll is only closed on a decisive result; a tie keeps it open until
	// a vote breaks it or an admin steps in.
	tallies, ok := s.recallTallies(ref.PollID)
	if !ok || tallies[0] == tallies[1] {
		return nil
	}
	s.logger.Info("poll expired, advancing", slog.String("poll_id", ref.PollID))
	return s.Advance(ctx)
}

func (s *progressionService) currentDuration(ctx context.Context) (int, bool, error) {
	index, ok, err := s.state.CurrentMatch(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	matches, err := s.state.Matches(ctx)
	if err != nil {
		return 0, false, err
	}
	if matches == nil || index < 0 || index >= len(matches) {
		return 0, false, nil
	}
	return matches[index].Duration, true, nil
}

func (s *progressionService) rememberTallies(pollID string, votes [2]int) {
	s.mu.Lock()
	s.lastSeen = &observedTallies{pollID: pollID, votes: votes}
	s.mu.Unlock()
}

func (s *progressionService) recallTallies(pollID string) ([2]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen == nil || s.lastSeen.pollID != pollID {
		return [2]int{}, false
	}
	return s.lastSeen.votes, true
}

func (s *progressionService) forgetTallies() {
	s.mu.Lock()
	s.lastSeen = nil
	s.mu.Unlock()
}

// secureCoin flips a fair coin using the system CSPRNG.
func secureCoin() (int, error) {
	n, err := crand.Int(crand.Reader, big.NewInt(2))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
