package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/repositories"
	"github.com/pettinen/gifdome/transport"
	"github.com/pettinen/gifdome/utils"
)

// SubmissionReceipt summarizes an accepted submission for the reply message.
type SubmissionReceipt struct {
	// New is true when this was the first submission of the animation.
	New bool

	// AnimationSubmissions counts how many users have submitted this
	// animation, the new submission included.
	AnimationSubmissions int

	// UserSubmissions counts how many animations the submitter has sent in,
	// the new submission included.
	UserSubmissions int
}

// TournamentService owns the tournament lifecycle outside the voting phase:
// starting, taking submissions, seeding, the handover to voting, and the
// reset back to square one.
type TournamentService interface {
	// Begin opens the tournament for submissions in the chat the command
	// arrived from.
	Begin(ctx context.Context, msg *transport.IncomingMessage) error

	// SubmitAnimation records an animation sent to the group during the
	// submission phase.
	SubmitAnimation(ctx context.Context, msg *transport.IncomingMessage) (*SubmissionReceipt, error)

	// StageSeeding stores an explicit ranking for the bracket, strongest
	// first, replacing any previously staged one.
	StageSeeding(ctx context.Context, ranked []string) error

	// StartVoting freezes submissions, seeds the bracket and opens the
	// first poll.
	StartVoting(ctx context.Context) error

	// Reset wipes the tournament back to not started.
	Reset(ctx context.Context) error
}

// TournamentConfig carries the submission phase tunables.
type TournamentConfig struct {
	Admins []string

	// SubmissionsPerUser caps how many animations one user may submit.
	// Zero or negative means no cap.
	SubmissionsPerUser int

	// Logo is the welcome photo pinned when the tournament starts.
	// Optional; a plain text welcome is sent without it.
	Logo []byte
}

type tournamentService struct {
	state       repositories.StateRepository
	users       repositories.UserRepository
	animations  repositories.AnimationRepository
	submissions repositories.SubmissionRepository
	seedings    repositories.SeedingRepository
	messenger   transport.Messenger
	exporter    ExportService
	progression ProgressionService
	broadcaster Broadcaster
	logger      *slog.Logger

	admins        map[string]bool
	submissionCap int
	logo          []byte
}

func NewTournamentService(
	state repositories.StateRepository,
	users repositories.UserRepository,
	animations repositories.AnimationRepository,
	submissions repositories.SubmissionRepository,
	seedings repositories.SeedingRepository,
	messenger transport.Messenger,
	exporter ExportService,
	progression ProgressionService,
	broadcaster Broadcaster,
	logger *slog.Logger,
	cfg TournamentConfig,
) TournamentService {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, username := range cfg.Admins {
		admins[username] = true
	}
	return &tournamentService{
		state:         state,
		users:         users,
		animations:    animations,
		submissions:   submissions,
		seedings:      seedings,
		messenger:     messenger,
		exporter:      exporter,
		progression:   progression,
		broadcaster:   broadcaster,
		logger:        logger,
		admins:        admins,
		submissionCap: cfg.SubmissionsPerUser,
		logo:          cfg.Logo,
	}
}

func (s *tournamentService) Begin(ctx context.Context, msg *transport.IncomingMessage) error {
	if !s.admins[msg.From.Username] {
		return ErrAdminOnly
	}
	if !msg.Group() {
		return ErrGroupOnly
	}
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if ok && phase != models.PhaseNotStarted {
		return ErrWrongPhase
	}

	if err := s.state.SetPhase(ctx, models.PhaseTakingSubmissions); err != nil {
		return err
	}
	if err := s.state.SetGroupID(ctx, msg.ChatID); err != nil {
		return err
	}

	welcome := "The Gifdome has started! Send me your dankest GIFs!"
	var welcomeID int
	if len(s.logo) > 0 {
		welcomeID, err = s.messenger.SendPhoto(ctx, msg.ChatID, s.logo, utils.EscapeMarkdownV2(welcome))
	} else {
		welcomeID, err = s.messenger.SendMessage(ctx, msg.ChatID, welcome)
	}
	if err != nil {
		s.logger.Error("send welcome message", slog.Any("error", err))
	} else if err := s.messenger.PinMessage(ctx, msg.ChatID, welcomeID, true); err != nil {
		s.logger.Error("pin welcome message", slog.Any("error", err))
	}

	s.broadcaster.Broadcast(brackets.Event{
		Type:    brackets.EventPhaseChanged,
		Payload: phasePayload{Phase: models.PhaseTakingSubmissions},
	})
	if err := s.exporter.SyncChatDescription(ctx); err != nil {
		s.logger.Error("sync chat description", slog.Any("error", err))
	}
	s.logger.Info("tournament started", slog.Int64("group_id", msg.ChatID))
	return nil
}

func (s *tournamentService) SubmitAnimation(ctx context.Context, msg *transport.IncomingMessage) (*SubmissionReceipt, error) {
	if msg.Animation == nil {
		return nil, errors.New("message carries no animation")
	}
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || phase != models.PhaseTakingSubmissions {
		return nil, ErrWrongPhase
	}
	groupID, ok, err := s.state.GroupID(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || msg.ChatID != groupID {
		return nil, ErrGroupOnly
	}

	user := &models.User{ID: msg.From.ID, FirstName: msg.From.FirstName}
	if msg.From.Username != "" {
		username := msg.From.Username
		user.Username = &username
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, err
	}

	anim := msg.Animation
	if err := s.animations.Upsert(ctx, &models.Animation{
		ID:       anim.FileUniqueID,
		FileID:   anim.FileID,
		FileSize: anim.FileSize,
		MimeType: anim.MimeType,
		Width:    anim.Width,
		Height:   anim.Height,
		Duration: anim.Duration,
	}); err != nil {
		return nil, err
	}
	if anim.FileName != "" {
		if err := s.animations.AddFilename(ctx, anim.FileUniqueID, anim.FileName); err != nil {
			s.logger.Warn("record animation filename", slog.Any("error", err))
		}
	}

	if s.submissionCap > 0 {
		count, err := s.submissions.CountForUser(ctx, msg.From.ID)
		if err != nil {
			return nil, err
		}
		if count >= s.submissionCap {
			return nil, ErrSubmissionLimit
		}
	}

	if err := s.submissions.Create(ctx, msg.From.ID, anim.FileUniqueID); err != nil {
		if errors.Is(err, repositories.ErrSubmissionExists) {
			return nil, ErrAlreadySubmitted
		}
		return nil, err
	}

	animCount, err := s.submissions.CountForAnimation(ctx, anim.FileUniqueID)
	if err != nil {
		return nil, err
	}
	userCount, err := s.submissions.CountForUser(ctx, msg.From.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("animation submitted",
		slog.String("animation", anim.FileUniqueID),
		slog.Int64("user_id", msg.From.ID))
	return &SubmissionReceipt{
		New:                  animCount == 1,
		AnimationSubmissions: animCount,
		UserSubmissions:      userCount,
	}, nil
}

func (s *tournamentService) StageSeeding(ctx context.Context, ranked []string) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if ok && phase != models.PhaseNotStarted && phase != models.PhaseTakingSubmissions {
		return ErrWrongPhase
	}
	if len(ranked) != brackets.Entries {
		return fmt.Errorf("%w: got %d", brackets.ErrSeedCount, len(ranked))
	}
	seen := make(map[string]bool, len(ranked))
	for _, id := range ranked {
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateAnimation, id)
		}
		seen[id] = true
	}
	existing, err := s.animations.ExistingIDs(ctx, ranked)
	if err != nil {
		return err
	}
	for _, id := range ranked {
		if !existing[id] {
			return fmt.Errorf("%w: %s", ErrUnknownAnimation, id)
		}
	}
	if err := s.seedings.Replace(ctx, ranked); err != nil {
		return err
	}
	s.logger.Info("seeding staged", slog.Int("entries", len(ranked)))
	return nil
}

func (s *tournamentService) StartVoting(ctx context.Context) error {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return err
	}
	if !ok || phase != models.PhaseTakingSubmissions {
		return ErrWrongPhase
	}
	groupID, ok, err := s.state.GroupID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &IntegrityError{Key: repositories.KeyGroupID, Reason: "missing during submissions"}
	}

	// A staged ranking wins; without one the submission counts decide,
	// ties broken by submission order.
	ranked, err := s.seedings.Ranked(ctx)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		if ranked, err = s.submissions.RankBySubmitters(ctx, brackets.Entries); err != nil {
			return err
		}
	}
	if len(ranked) != brackets.Entries {
		return ErrNotSeeded
	}
	seeding, err := brackets.AssignSeeds(ranked)
	if err != nil {
		return err
	}
	if err := s.state.SetSeeding(ctx, seeding); err != nil {
		return err
	}
	if err := s.state.SetPhase(ctx, models.PhaseVoting); err != nil {
		return err
	}

	s.broadcaster.Broadcast(brackets.Event{
		Type:    brackets.EventPhaseChanged,
		Payload: phasePayload{Phase: models.PhaseVoting},
	})
	if _, err := s.messenger.SendMessage(ctx, groupID, "Submissions closed, it’s voting time!"); err != nil {
		s.logger.Error("announce voting start", slog.Any("error", err))
	}
	s.logger.Info("voting started")
	return s.progression.Advance(ctx)
}

// Reset marks the reset first: if the process dies while the wipe is in
// progress, startup finds the marker and finishes the job.
func (s *tournamentService) Reset(ctx context.Context) error {
	if err := s.state.SetPhase(ctx, models.PhaseReset); err != nil {
		return err
	}
	if err := s.submissions.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.seedings.Clear(ctx); err != nil {
		return err
	}
	if err := s.state.Reset(ctx); err != nil {
		return err
	}
	if err := s.exporter.ClearBracket(ctx); err != nil {
		s.logger.Error("clear bracket image", slog.Any("error", err))
	}
	s.broadcaster.Broadcast(brackets.Event{
		Type:    brackets.EventPhaseChanged,
		Payload: phasePayload{Phase: models.PhaseNotStarted},
	})
	s.logger.Info("tournament reset")
	return nil
}
