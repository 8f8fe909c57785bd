package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/kvstore"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/repositories"
	"github.com/pettinen/gifdome/storage"
	"github.com/pettinen/gifdome/transport"
)

const groupChatID int64 = -1001234567890

type sentMessage struct {
	chatID int64
	text   string
}

type sentPhoto struct {
	chatID    int64
	data      []byte
	caption   string
	messageID int
}

type sentAnimation struct {
	chatID int64
	fileID string
}

type sentPoll struct {
	chatID    int64
	question  string
	options   [2]string
	replyTo   int
	pollID    string
	messageID int
}

type pinCall struct {
	messageID int
	silent    bool
}

type fakeMessenger struct {
	mu sync.Mutex

	messages     []sentMessage
	photos       []sentPhoto
	animations   []sentAnimation
	polls        []sentPoll
	pinned       []pinCall
	unpinned     []int
	stopped      []int
	descriptions []string

	nextMessageID int
	nextPollSeq   int

	stopPollTallies [2]int
	stopPollErr     error
	onStopPoll      func()

	sendMessageErr error
	sendPhotoErr   error
	sendPollErr    error
	pinErr         error
	unpinErr       error
	descriptionErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{}
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendMessageErr != nil {
		return 0, m.sendMessageErr
	}
	m.nextMessageID++
	m.messages = append(m.messages, sentMessage{chatID: chatID, text: text})
	return m.nextMessageID, nil
}

func (m *fakeMessenger) SendMarkdown(ctx context.Context, chatID int64, text string) (int, error) {
	return m.SendMessage(ctx, chatID, text)
}

func (m *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendPhotoErr != nil {
		return 0, m.sendPhotoErr
	}
	m.nextMessageID++
	m.photos = append(m.photos, sentPhoto{chatID: chatID, data: photo, caption: caption, messageID: m.nextMessageID})
	return m.nextMessageID, nil
}

func (m *fakeMessenger) SendAnimation(ctx context.Context, chatID int64, fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMessageID++
	m.animations = append(m.animations, sentAnimation{chatID: chatID, fileID: fileID})
	return m.nextMessageID, nil
}

func (m *fakeMessenger) SendPoll(ctx context.Context, chatID int64, question string, options [2]string, replyTo int) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendPollErr != nil {
		return "", 0, m.sendPollErr
	}
	m.nextMessageID++
	m.nextPollSeq++
	poll := sentPoll{
		chatID:    chatID,
		question:  question,
		options:   options,
		replyTo:   replyTo,
		pollID:    fmt.Sprintf("poll-%d", m.nextPollSeq),
		messageID: m.nextMessageID,
	}
	m.polls = append(m.polls, poll)
	return poll.pollID, poll.messageID, nil
}

func (m *fakeMessenger) StopPoll(ctx context.Context, chatID int64, messageID int) ([2]int, error) {
	m.mu.Lock()
	m.stopped = append(m.stopped, messageID)
	hook := m.onStopPoll
	err := m.stopPollErr
	tallies := m.stopPollTallies
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return [2]int{}, err
	}
	return tallies, nil
}

func (m *fakeMessenger) PinMessage(ctx context.Context, chatID int64, messageID int, silent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinErr != nil {
		return m.pinErr
	}
	m.pinned = append(m.pinned, pinCall{messageID: messageID, silent: silent})
	return nil
}

func (m *fakeMessenger) UnpinMessage(ctx context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpinned = append(m.unpinned, messageID)
	return m.unpinErr
}

func (m *fakeMessenger) SetChatDescription(ctx context.Context, chatID int64, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.descriptionErr != nil {
		return m.descriptionErr
	}
	m.descriptions = append(m.descriptions, description)
	return nil
}

func (m *fakeMessenger) plainTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, len(m.messages))
	for i, msg := range m.messages {
		texts[i] = msg.text
	}
	return texts
}

func (m *fakeMessenger) photosSnapshot() []sentPhoto {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentPhoto(nil), m.photos...)
}

func (m *fakeMessenger) animationsSnapshot() []sentAnimation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentAnimation(nil), m.animations...)
}

func (m *fakeMessenger) pollsSnapshot() []sentPoll {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentPoll(nil), m.polls...)
}

func (m *fakeMessenger) pinnedSnapshot() []pinCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pinCall(nil), m.pinned...)
}

func (m *fakeMessenger) stoppedSnapshot() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.stopped...)
}

func (m *fakeMessenger) lastDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.descriptions) == 0 {
		return ""
	}
	return m.descriptions[len(m.descriptions)-1]
}

type fakeRenderer struct {
	mu          sync.Mutex
	versusErr   error
	bracketErr  error
	versusCalls [][2]string
	bracketDocs [][]byte
}

func (r *fakeRenderer) RenderVersus(ctx context.Context, left, right string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.versusErr != nil {
		return nil, r.versusErr
	}
	r.versusCalls = append(r.versusCalls, [2]string{left, right})
	return []byte("versus:" + left + ":" + right), nil
}

func (r *fakeRenderer) RenderBracket(ctx context.Context, doc []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bracketErr != nil {
		return nil, r.bracketErr
	}
	r.bracketDocs = append(r.bracketDocs, append([]byte(nil), doc...))
	return []byte("bracket-image"), nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploads: make(map[string][]byte)}
}

func (u *fakeUploader) Upload(ctx context.Context, key, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	u.uploads[key] = data
	return &storage.UploadResult{Key: key, Location: "https://cdn.test/" + key, ETag: "etag"}, nil
}

func (u *fakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.uploads, key)
	return nil
}

func (u *fakeUploader) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (u *fakeUploader) uploaded(key string) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploads[key]
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User)}
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

type fakeAnimationRepo struct {
	mu    sync.Mutex
	anims map[string]*models.Animation
}

func newFakeAnimationRepo() *fakeAnimationRepo {
	return &fakeAnimationRepo{anims: make(map[string]*models.Animation)}
}

func (r *fakeAnimationRepo) Upsert(ctx context.Context, animation *models.Animation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.anims[animation.ID]; ok {
		clone := *animation
		clone.Filenames = existing.Filenames
		r.anims[animation.ID] = &clone
		return nil
	}
	clone := *animation
	r.anims[animation.ID] = &clone
	return nil
}

func (r *fakeAnimationRepo) AddFilename(ctx context.Context, animationID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	anim, ok := r.anims[animationID]
	if !ok {
		return repositories.ErrAnimationNotFound
	}
	for _, existing := range anim.Filenames {
		if existing == filename {
			return nil
		}
	}
	anim.Filenames = append(anim.Filenames, filename)
	return nil
}

func (r *fakeAnimationRepo) FileID(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	anim, ok := r.anims[id]
	if !ok {
		return "", repositories.ErrAnimationNotFound
	}
	return anim.FileID, nil
}

func (r *fakeAnimationRepo) FileIDs(ctx context.Context, ids []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if anim, ok := r.anims[id]; ok {
			out[id] = anim.FileID
		}
	}
	return out, nil
}

func (r *fakeAnimationRepo) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.anims[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *fakeAnimationRepo) List(ctx context.Context) ([]models.Animation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Animation, 0, len(r.anims))
	for _, anim := range r.anims {
		out = append(out, *anim)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAnimationRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.anims), nil
}

type fakeSubmissionRepo struct {
	mu     sync.Mutex
	pairs  map[int64]map[string]bool
	ranked []string
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{pairs: make(map[int64]map[string]bool)}
}

func (r *fakeSubmissionRepo) Create(ctx context.Context, userID int64, animationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.pairs[userID]
	if !ok {
		set = make(map[string]bool)
		r.pairs[userID] = set
	}
	if set[animationID] {
		return repositories.ErrSubmissionExists
	}
	set[animationID] = true
	return nil
}

func (r *fakeSubmissionRepo) CountForUser(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs[userID]), nil
}

func (r *fakeSubmissionRepo) CountForAnimation(ctx context.Context, animationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, set := range r.pairs {
		if set[animationID] {
			count++
		}
	}
	return count, nil
}

func (r *fakeSubmissionRepo) Counts(ctx context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, set := range r.pairs {
		for id := range set {
			counts[id]++
		}
	}
	return counts, nil
}

func (r *fakeSubmissionRepo) RankBySubmitters(ctx context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ranked != nil {
		out := append([]string(nil), r.ranked...)
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	counts := make(map[string]int)
	for _, set := range r.pairs {
		for id := range set {
			counts[id]++
		}
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeSubmissionRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = make(map[int64]map[string]bool)
	return nil
}

type fakeSeedingRepo struct {
	mu     sync.Mutex
	ranked []string
}

func (r *fakeSeedingRepo) Replace(ctx context.Context, ranked []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranked = append([]string(nil), ranked...)
	return nil
}

func (r *fakeSeedingRepo) Ranked(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ranked...), nil
}

func (r *fakeSeedingRepo) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranked = nil
	return nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []brackets.Event
}

func (b *fakeBroadcaster) Broadcast(event brackets.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, len(b.events))
	for i, event := range b.events {
		types[i] = event.Type
	}
	return types
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harnessOptions struct {
	admins             []string
	minVotes           int
	durationOverride   int
	autovoteUntil      int
	submissionsPerUser int
	logo               []byte
}

func defaultOptions() harnessOptions {
	return harnessOptions{
		admins:           []string{"boss"},
		durationOverride: 60,
	}
}

type testHarness struct {
	store       *kvstore.MemoryStore
	state       repositories.StateRepository
	users       *fakeUserRepo
	animations  *fakeAnimationRepo
	submissions *fakeSubmissionRepo
	seedings    *fakeSeedingRepo
	messenger   *fakeMessenger
	renderer    *fakeRenderer
	uploader    *fakeUploader
	broadcaster *fakeBroadcaster
	clock       *fakeClock
	exporter    ExportService
	progression *progressionService
	tournament  TournamentService
	recovery    RecoveryService
}

func newHarness(t *testing.T, opts harnessOptions) *testHarness {
	t.Helper()
	h := &testHarness{
		store:       kvstore.NewMemory(),
		users:       newFakeUserRepo(),
		animations:  newFakeAnimationRepo(),
		submissions: newFakeSubmissionRepo(),
		seedings:    &fakeSeedingRepo{},
		messenger:   newFakeMessenger(),
		renderer:    &fakeRenderer{},
		uploader:    newFakeUploader(),
		broadcaster: &fakeBroadcaster{},
		clock:       newFakeClock(),
	}
	h.state = repositories.NewKVStateRepository(h.store)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h.exporter = NewExportService(h.state, h.animations, h.submissions, h.messenger, h.renderer, h.uploader, logger)
	h.progression = NewProgressionService(
		h.state, h.animations, h.submissions, h.messenger, h.renderer, h.exporter, h.broadcaster, logger,
		ProgressionConfig{
			Admins:           opts.admins,
			MinVotes:         opts.minVotes,
			DurationOverride: opts.durationOverride,
			AutovoteUntil:    opts.autovoteUntil,
		},
	).(*progressionService)
	h.progression.now = h.clock.Now
	h.tournament = NewTournamentService(
		h.state, h.users, h.animations, h.submissions, h.seedings, h.messenger, h.exporter, h.progression, h.broadcaster, logger,
		TournamentConfig{
			Admins:             opts.admins,
			SubmissionsPerUser: opts.submissionsPerUser,
			Logo:               opts.logo,
		},
	)
	h.recovery = NewRecoveryService(h.state, h.tournament, logger)
	return h
}

// registerAnimations seeds the catalog with n distinct animations and returns
// their IDs in order.
func (h *testHarness) registerAnimations(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("anim-%03d", i)
		ids[i] = id
		require.NoError(t, h.animations.Upsert(context.Background(), &models.Animation{
			ID:       id,
			FileID:   fmt.Sprintf("file-%03d", i),
			MimeType: "video/mp4",
			Width:    480,
			Height:   360,
			Duration: 3,
		}))
	}
	return ids
}

// startVoting drives the tournament from scratch to an open poll on match 0,
// seeded with the registered animation IDs in rank order.
func (h *testHarness) startVoting(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()
	ids := h.registerAnimations(t, brackets.Entries)
	require.NoError(t, h.tournament.Begin(ctx, groupMessage("boss")))
	require.NoError(t, h.tournament.StageSeeding(ctx, ids))
	require.NoError(t, h.tournament.StartVoting(ctx))
	return ids
}

func (h *testHarness) currentMatch(t *testing.T) int {
	t.Helper()
	index, ok, err := h.state.CurrentMatch(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return index
}

func (h *testHarness) matches(t *testing.T) []models.Match {
	t.Helper()
	matches, err := h.state.Matches(context.Background())
	require.NoError(t, err)
	return matches
}

func groupMessage(username string) *transport.IncomingMessage {
	return &transport.IncomingMessage{
		ChatID:    groupChatID,
		ChatType:  "supergroup",
		MessageID: 100,
		From:      transport.User{ID: 7, Username: username, FirstName: "Test"},
	}
}

func animationMessage(userID int64, uniqueID, fileID, filename string) *transport.IncomingMessage {
	return &transport.IncomingMessage{
		ChatID:   groupChatID,
		ChatType: "supergroup",
		From:     transport.User{ID: userID, Username: fmt.Sprintf("user%d", userID), FirstName: "Test"},
		Animation: &transport.AnimationFile{
			FileID:       fileID,
			FileUniqueID: uniqueID,
			FileSize:     1 << 20,
			MimeType:     "video/mp4",
			Width:        480,
			Height:       360,
			Duration:     2,
			FileName:     filename,
		},
	}
}
