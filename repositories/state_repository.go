package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/pettinen/gifdome/kvstore"
	"github.com/pettinen/gifdome/models"
)

// Tournament state keys. Every field is its own key: writes to different
// fields are individually atomic and the store offers no multi-key
// transactions, so cross-key consistency is checked at startup instead.
const (
	KeyState             = "state"
	KeyGroupID           = "group_id"
	KeyCurrentMatch      = "current_match"
	KeyCurrentPoll       = "current_poll"
	KeyCurrentPollStart  = "current_poll_start"
	KeyCurrentVoterCount = "current_voter_count"
	KeyMatches           = "matches"
	KeySeeding           = "seeding"
)

// PhaseGatedKeys are the keys a reset removes, everything except the phase
// marker itself.
var PhaseGatedKeys = []string{
	KeyGroupID,
	KeyCurrentMatch,
	KeyCurrentPoll,
	KeyCurrentPollStart,
	KeyCurrentVoterCount,
	KeyMatches,
	KeySeeding,
}

var ErrMalformedState = errors.New("malformed state value")

// StateRepository wraps the key-value store with typed accessors for each
// persisted tournament field. Getters report absence instead of failing, so
// the startup validator can check presence and well-formedness separately.
type StateRepository interface {
	Phase(ctx context.Context) (models.Phase, bool, error)
	SetPhase(ctx context.Context, phase models.Phase) error

	GroupID(ctx context.Context) (int64, bool, error)
	SetGroupID(ctx context.Context, id int64) error

	CurrentMatch(ctx context.Context) (int, bool, error)
	SetCurrentMatch(ctx context.Context, index int) error

	CurrentPoll(ctx context.Context) (*models.PollRef, error)
	SetCurrentPoll(ctx context.Context, ref models.PollRef) error

	PollStart(ctx context.Context) (int64, bool, error)
	SetPollStart(ctx context.Context, epoch int64) error

	VoterCount(ctx context.Context) (int, bool, error)
	SetVoterCount(ctx context.Context, count int) error

	// ClearPoll removes all poll-scoped keys at once, after a match has been
	// resolved and before the next poll opens.
	ClearPoll(ctx context.Context) error

	Matches(ctx context.Context) ([]models.Match, error)
	SetMatches(ctx context.Context, matches []models.Match) error

	Seeding(ctx context.Context) ([]string, error)
	SetSeeding(ctx context.Context, seeding []string) error

	Load(ctx context.Context) (*models.TournamentState, error)
	Reset(ctx context.Context) error
}

type kvStateRepository struct {
	store kvstore.Store
}

func NewKVStateRepository(store kvstore.Store) StateRepository {
	return &kvStateRepository{store: store}
}

func (r *kvStateRepository) Phase(ctx context.Context) (models.Phase, bool, error) {
	raw, ok, err := r.store.Get(ctx, KeyState)
	if err != nil || !ok {
		return "", ok, err
	}
	return models.Phase(raw), true, nil
}

func (r *kvStateRepository) SetPhase(ctx context.Context, phase models.Phase) error {
	return r.store.Set(ctx, KeyState, []byte(phase))
}

func (r *kvStateRepository) GroupID(ctx context.Context) (int64, bool, error) {
	return r.getInt64(ctx, KeyGroupID)
}

func (r *kvStateRepository) SetGroupID(ctx context.Context, id int64) error {
	return r.store.Set(ctx, KeyGroupID, []byte(strconv.FormatInt(id, 10)))
}

func (r *kvStateRepository) CurrentMatch(ctx context.Context) (int, bool, error) {
	val, ok, err := r.getInt64(ctx, KeyCurrentMatch)
	return int(val), ok, err
}

func (r *kvStateRepository) SetCurrentMatch(ctx context.Context, index int) error {
	return r.store.Set(ctx, KeyCurrentMatch, []byte(strconv.Itoa(index)))
}

func (r *kvStateRepository) CurrentPoll(ctx context.Context) (*models.PollRef, error) {
	raw, ok, err := r.store.Get(ctx, KeyCurrentPoll)
	if err != nil || !ok {
		return nil, err
	}
	var ref models.PollRef
	if err := strictUnmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedState, KeyCurrentPoll, err)
	}
	return &ref, nil
}

func (r *kvStateRepository) SetCurrentPoll(ctx context.Context, ref models.PollRef) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal poll ref: %w", err)
	}
	return r.store.Set(ctx, KeyCurrentPoll, raw)
}

func (r *kvStateRepository) PollStart(ctx context.Context) (int64, bool, error) {
	return r.getInt64(ctx, KeyCurrentPollStart)
}

func (r *kvStateRepository) SetPollStart(ctx context.Context, epoch int64) error {
	return r.store.Set(ctx, KeyCurrentPollStart, []byte(strconv.FormatInt(epoch, 10)))
}

func (r *kvStateRepository) VoterCount(ctx context.Context) (int, bool, error) {
	val, ok, err := r.getInt64(ctx, KeyCurrentVoterCount)
	return int(val), ok, err
}

func (r *kvStateRepository) SetVoterCount(ctx context.Context, count int) error {
	return r.store.Set(ctx, KeyCurrentVoterCount, []byte(strconv.Itoa(count)))
}

func (r *kvStateRepository) ClearPoll(ctx context.Context) error {
	return r.store.Delete(ctx, KeyCurrentPoll, KeyCurrentPollStart, KeyCurrentVoterCount)
}

func (r *kvStateRepository) Matches(ctx context.Context) ([]models.Match, error) {
	raw, ok, err := r.store.Get(ctx, KeyMatches)
	if err != nil || !ok {
		return nil, err
	}
	var matches []models.Match
	if err := strictUnmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedState, KeyMatches, err)
	}
	return matches, nil
}

func (r *kvStateRepository) SetMatches(ctx context.Context, matches []models.Match) error {
	raw, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	return r.store.Set(ctx, KeyMatches, raw)
}

func (r *kvStateRepository) Seeding(ctx context.Context) ([]string, error) {
	raw, ok, err := r.store.Get(ctx, KeySeeding)
	if err != nil || !ok {
		return nil, err
	}
	var seeding []string
	if err := strictUnmarshal(raw, &seeding); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedState, KeySeeding, err)
	}
	return seeding, nil
}

func (r *kvStateRepository) SetSeeding(ctx context.Context, seeding []string) error {
	raw, err := json.Marshal(seeding)
	if err != nil {
		return fmt.Errorf("marshal seeding: %w", err)
	}
	return r.store.Set(ctx, KeySeeding, raw)
}

func (r *kvStateRepository) Load(ctx context.Context) (*models.TournamentState, error) {
	state := &models.TournamentState{Phase: models.PhaseNotStarted}

	phase, ok, err := r.Phase(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		state.Phase = phase
	}

	if id, ok, err := r.GroupID(ctx); err != nil {
		return nil, err
	} else if ok {
		state.GroupID = &id
	}
	if index, ok, err := r.CurrentMatch(ctx); err != nil {
		return nil, err
	} else if ok {
		state.CurrentMatch = &index
	}
	if state.CurrentPoll, err = r.CurrentPoll(ctx); err != nil {
		return nil, err
	}
	if start, ok, err := r.PollStart(ctx); err != nil {
		return nil, err
	} else if ok {
		state.CurrentPollStart = &start
	}
	if count, ok, err := r.VoterCount(ctx); err != nil {
		return nil, err
	} else if ok {
		state.CurrentVoterCount = &count
	}
	if state.Matches, err = r.Matches(ctx); err != nil {
		return nil, err
	}
	if state.Seeding, err = r.Seeding(ctx); err != nil {
		return nil, err
	}
	return state, nil
}

// Reset wipes the tournament back to not started. The reset sentinel goes in
// first: if the process dies halfway through the deletes, startup sees the
// sentinel and runs the reset again instead of failing validation.
func (r *kvStateRepository) Reset(ctx context.Context) error {
	if err := r.SetPhase(ctx, models.PhaseReset); err != nil {
		return fmt.Errorf("mark reset: %w", err)
	}
	if err := r.store.Delete(ctx, PhaseGatedKeys...); err != nil {
		return fmt.Errorf("delete state keys: %w", err)
	}
	if err := r.SetPhase(ctx, models.PhaseNotStarted); err != nil {
		return fmt.Errorf("finish reset: %w", err)
	}
	return nil
}

func (r *kvStateRepository) getInt64(ctx context.Context, key string) (int64, bool, error) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %s: %w", ErrMalformedState, key, err)
	}
	return val, true, nil
}

// strictUnmarshal rejects unknown fields and trailing garbage, not just
// syntax errors. Persisted state is a wire format; anything unexpected in it
// is treated as corruption.
func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after value")
	}
	return nil
}
