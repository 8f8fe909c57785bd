package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/rendering"
	"github.com/pettinen/gifdome/repositories"
	"github.com/pettinen/gifdome/storage"
	"github.com/pettinen/gifdome/transport"
)

// bracketKey is the fixed object key the rendered bracket image is published
// under. It is overwritten in place as the tournament progresses.
const bracketKey = "bracket.png"

// ExportService produces the public faces of the tournament: the JSON
// documents served over HTTP, the group chat description, and the rendered
// bracket image.
type ExportService interface {
	MatchesDocument(ctx context.Context) ([]models.MatchView, error)
	GifsDocument(ctx context.Context) (map[string]models.AnimationView, error)
	SubmissionsDocument(ctx context.Context) (map[string]int, error)
	Status(ctx context.Context) (models.StatusView, error)

	// SyncChatDescription updates the group chat description to match the
	// current phase. A no-op before a group is known.
	SyncChatDescription(ctx context.Context) error

	// RefreshBracket re-renders the bracket image and publishes it to object
	// storage. A no-op before the round of 128 is reached.
	RefreshBracket(ctx context.Context) error

	// ClearBracket drops the cached bracket image and removes the published
	// object, so a stale composite is not served after a reset.
	ClearBracket(ctx context.Context) error

	// Bracket returns the latest rendered bracket image, rendering it first
	// if none has been produced yet.
	Bracket(ctx context.Context) ([]byte, error)

	// BracketURL is the public URL of the published bracket image.
	BracketURL() string
}

type exportService struct {
	state       repositories.StateRepository
	animations  repositories.AnimationRepository
	submissions repositories.SubmissionRepository
	messenger   transport.Messenger
	renderer    rendering.Renderer
	uploader    storage.FileUploader
	logger      *slog.Logger

	mu         sync.Mutex
	bracketPNG []byte
}

func NewExportService(
	state repositories.StateRepository,
	animations repositories.AnimationRepository,
	submissions repositories.SubmissionRepository,
	messenger transport.Messenger,
	renderer rendering.Renderer,
	uploader storage.FileUploader,
	logger *slog.Logger,
) ExportService {
	return &exportService{
		state:       state,
		animations:  animations,
		submissions: submissions,
		messenger:   messenger,
		renderer:    renderer,
		uploader:    uploader,
		logger:      logger,
	}
}

// MatchesDocument resolves the persisted bracket into the public matches
// document. Participants and winners are translated from animation IDs to
// sendable file identifiers; slots that cannot be resolved yet stay null.
func (s *exportService) MatchesDocument(ctx context.Context) ([]models.MatchView, error) {
	matches, err := s.state.Matches(ctx)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		return []models.MatchView{}, nil
	}
	seeding, err := s.state.Seeding(ctx)
	if err != nil {
		return nil, err
	}

	participants := make([][2]*string, len(matches))
	seen := make(map[string]bool)
	for i := range matches {
		participants[i] = brackets.Participants(i, matches, seeding)
		for _, p := range participants[i] {
			if p != nil {
				seen[*p] = true
			}
		}
		if matches[i].Winner != nil {
			seen[*matches[i].Winner] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	fileIDs, err := s.animations.FileIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve file ids: %w", err)
	}

	views := make([]models.MatchView, len(matches))
	for i := range matches {
		views[i] = models.MatchView{
			Next:     matches[i].Next,
			Winner:   fileRef(fileIDs, matches[i].Winner),
			Votes:    matches[i].Votes,
			Duration: matches[i].Duration,
		}
		for slot, p := range participants[i] {
			views[i].Participants[slot] = fileRef(fileIDs, p)
		}
	}
	return views, nil
}

func fileRef(fileIDs map[string]string, id *string) *string {
	if id == nil {
		return nil
	}
	file, ok := fileIDs[*id]
	if !ok {
		return nil
	}
	return &file
}

func (s *exportService) GifsDocument(ctx context.Context) (map[string]models.AnimationView, error) {
	animations, err := s.animations.List(ctx)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]models.AnimationView, len(animations))
	for _, a := range animations {
		filenames := a.Filenames
		if filenames == nil {
			filenames = []string{}
		}
		doc[a.ID] = models.AnimationView{
			ID:        a.ID,
			File:      a.FileID,
			Filenames: filenames,
			MimeType:  a.MimeType,
			Width:     a.Width,
			Height:    a.Height,
			Duration:  a.Duration,
		}
	}
	return doc, nil
}

func (s *exportService) SubmissionsDocument(ctx context.Context) (map[string]int, error) {
	counts, err := s.submissions.Counts(ctx)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

func (s *exportService) Status(ctx context.Context) (models.StatusView, error) {
	phase, ok, err := s.state.Phase(ctx)
	if err != nil {
		return models.StatusView{}, err
	}
	if !ok {
		phase = models.PhaseNotStarted
	}
	view := models.StatusView{Phase: phase}
	if phase == models.PhaseVoting {
		index, ok, err := s.state.CurrentMatch(ctx)
		if err != nil {
			return models.StatusView{}, err
		}
		if ok {
			round := brackets.RoundLabel(index)
			view.CurrentMatch = &index
			view.Round = &round
		}
	}
	view.Description = describePhase(view)
	return view, nil
}

func describePhase(view models.StatusView) string {
	switch view.Phase {
	case models.PhaseTakingSubmissions:
		return "Send your dankest GIFs!"
	case models.PhaseVoting:
		if view.CurrentMatch == nil || view.Round == nil {
			return "Vote for the ultimate GIF!"
		}
		return fmt.Sprintf(
			"Vote for the ultimate GIF!\nCurrent vote: %d/%d (%s)",
			*view.CurrentMatch+1, brackets.MatchCount, *view.Round,
		)
	case models.PhaseEnded:
		return "This Gifdome has ended."
	default:
		return "The Gifdome aims to find the ultimate GIF by process of elimination."
	}
}

func (s *exportService) SyncChatDescription(ctx context.Context) error {
	groupID, ok, err := s.state.GroupID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	status, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if err := s.messenger.SetChatDescription(ctx, groupID, status.Description); err != nil {
		if errors.Is(err, transport.ErrNotModified) {
			return nil
		}
		return err
	}
	return nil
}

func (s *exportService) RefreshBracket(ctx context.Context) error {
	index, ok, err := s.state.CurrentMatch(ctx)
	if err != nil {
		return err
	}
	if !ok || index < brackets.FirstRoundMatches {
		return nil
	}
	doc, err := s.MatchesDocument(ctx)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal matches document: %w", err)
	}
	png, err := s.renderer.RenderBracket(ctx, raw)
	if err != nil {
		return fmt.Errorf("render bracket: %w", err)
	}

	// Cache before uploading so the bot can still serve the image when
	// object storage is unreachable.
	s.mu.Lock()
	s.bracketPNG = png
	s.mu.Unlock()

	result, err := s.uploader.Upload(ctx, bracketKey, "image/png", bytes.NewReader(png))
	if err != nil {
		return fmt.Errorf("publish bracket: %w", err)
	}
	s.logger.Debug("bracket image published",
		slog.String("key", result.Key),
		slog.Int("bytes", len(png)))
	return nil
}

func (s *exportService) ClearBracket(ctx context.Context) error {
	s.mu.Lock()
	s.bracketPNG = nil
	s.mu.Unlock()
	if err := s.uploader.Delete(ctx, bracketKey); err != nil {
		return fmt.Errorf("remove published bracket: %w", err)
	}
	return nil
}

func (s *exportService) Bracket(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	cached := s.bracketPNG
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	refreshErr := s.RefreshBracket(ctx)
	s.mu.Lock()
	cached = s.bracketPNG
	s.mu.Unlock()
	if cached == nil {
		if refreshErr != nil {
			return nil, refreshErr
		}
		return nil, ErrBracketUnavailable
	}
	return cached, nil
}

func (s *exportService) BracketURL() string {
	return s.uploader.GetPublicURL(bracketKey)
}
