// Package bot routes incoming chat updates to the tournament services and
// turns their errors into reply messages. It knows nothing about Telegram
// beyond the neutral transport types.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pettinen/gifdome/brackets"
	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/services"
	"github.com/pettinen/gifdome/transport"
	"github.com/pettinen/gifdome/utils"
)

// statsLimit bounds the /stats listing so it stays under the message size
// Telegram accepts.
const statsLimit = 25

// Config carries the dispatcher tunables.
type Config struct {
	// Admins are the chat usernames allowed to run the admin commands.
	Admins []string

	// Logo is the image sent with /help and the welcome message. Optional.
	Logo []byte
}

// Dispatcher consumes transport updates and drives the services.
type Dispatcher struct {
	tournament  services.TournamentService
	progression services.ProgressionService
	exporter    services.ExportService
	messenger   transport.Messenger
	logger      *slog.Logger

	admins map[string]bool
	logo   []byte
}

func New(
	tournament services.TournamentService,
	progression services.ProgressionService,
	exporter services.ExportService,
	messenger transport.Messenger,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	admins := make(map[string]bool, len(cfg.Admins))
	for _, username := range cfg.Admins {
		admins[username] = true
	}
	return &Dispatcher{
		tournament:  tournament,
		progression: progression,
		exporter:    exporter,
		messenger:   messenger,
		logger:      logger,
		admins:      admins,
		logo:        cfg.Logo,
	}
}

// Run consumes updates until the channel closes or the context is canceled.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			d.Dispatch(ctx, update)
		}
	}
}

// Dispatch handles a single update.
func (d *Dispatcher) Dispatch(ctx context.Context, update transport.Update) {
	switch {
	case update.Poll != nil:
		if err := d.progression.HandlePollUpdate(ctx, update.Poll); err != nil {
			d.logger.Error("handle poll update",
				slog.String("poll_id", update.Poll.PollID),
				slog.Any("error", err))
		}
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *transport.IncomingMessage) {
	if msg.Command != "" {
		d.handleCommand(ctx, msg)
		return
	}
	if msg.Animation != nil && !msg.IsReply {
		d.handleSubmission(ctx, msg)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *transport.IncomingMessage) {
	switch msg.Command {
	case "start":
		d.handleStart(ctx, msg)
	case "voting":
		if !d.admins[msg.From.Username] || !msg.Group() {
			return
		}
		d.handleVoting(ctx, msg)
	case "next":
		if !msg.Group() {
			return
		}
		d.handleNext(ctx, msg)
	case "end":
		if !d.admins[msg.From.Username] || !msg.Group() {
			return
		}
		d.handleNext(ctx, msg)
	case "stop":
		if !d.admins[msg.From.Username] || !msg.Group() {
			return
		}
		d.handleStop(ctx, msg)
	case "bracket":
		d.handleBracket(ctx, msg)
	case "help":
		d.handleHelp(ctx, msg)
	case "stats":
		if !d.admins[msg.From.Username] {
			return
		}
		d.handleStats(ctx, msg)
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, msg *transport.IncomingMessage) {
	err := d.tournament.Begin(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrAdminOnly):
		d.reply(ctx, msg, "This bot can be only started by its admins.")
	case errors.Is(err, services.ErrGroupOnly):
		d.reply(ctx, msg, "This bot can be only started in groups.")
	case errors.Is(err, services.ErrWrongPhase):
		d.reply(ctx, msg, "The Gifdome has already begun!")
	default:
		d.logger.Error("start tournament", slog.Any("error", err))
	}
}

func (d *Dispatcher) handleVoting(ctx context.Context, msg *transport.IncomingMessage) {
	err := d.tournament.StartVoting(ctx)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrWrongPhase):
		d.reply(ctx, msg, "The Gifdome must be in submission phase to start voting.")
	case errors.Is(err, services.ErrNotSeeded):
		d.reply(ctx, msg, "Not enough GIFs have been submitted to fill the bracket.")
	default:
		d.logger.Error("start voting", slog.Any("error", err))
	}
}

func (d *Dispatcher) handleNext(ctx context.Context, msg *transport.IncomingMessage) {
	err := d.progression.ManualAdvance(ctx, msg.From)
	var stillOpen *services.PollStillOpenError
	switch {
	case err == nil:
	case errors.Is(err, services.ErrWrongPhase), errors.Is(err, services.ErrNoCurrentMatch):
	case errors.Is(err, services.ErrAdminOnly):
		d.reply(ctx, msg, "Only admins can use /next at this stage.")
	case errors.As(err, &stillOpen):
		remaining := int(stillOpen.Remaining / time.Second)
		d.reply(ctx, msg, fmt.Sprintf("This poll can be closed in %s.", utils.FormatDuration(remaining)))
	case errors.Is(err, services.ErrNotEnoughVotes):
		d.reply(ctx, msg, "Not enough votes to change poll.")
	default:
		// Manual attention and superseded advances have already said or
		// done everything there is to say.
		d.logger.Error("advance match", slog.Any("error", err))
	}
}

func (d *Dispatcher) handleStop(ctx context.Context, msg *transport.IncomingMessage) {
	if err := d.tournament.Reset(ctx); err != nil {
		d.logger.Error("reset tournament", slog.Any("error", err))
		return
	}
	d.reply(ctx, msg, "The Gifdome has been reset.")
}

func (d *Dispatcher) handleSubmission(ctx context.Context, msg *transport.IncomingMessage) {
	receipt, err := d.tournament.SubmitAnimation(ctx, msg)
	switch {
	case err == nil:
		if receipt.New {
			d.reply(ctx, msg, fmt.Sprintf("Thanks for the new GIF! You have submitted %d GIFs.", receipt.UserSubmissions))
		} else {
			d.reply(ctx, msg, fmt.Sprintf("Got it! This GIF has been submitted %d times.", receipt.AnimationSubmissions))
		}
	case errors.Is(err, services.ErrWrongPhase), errors.Is(err, services.ErrGroupOnly):
		// Animations outside the submission window or the group are not
		// the bot's business.
	case errors.Is(err, services.ErrAlreadySubmitted):
		d.reply(ctx, msg, "You have already submitted this GIF.")
	case errors.Is(err, services.ErrSubmissionLimit):
		d.reply(ctx, msg, "You have reached your submission limit.")
	default:
		d.logger.Error("record submission", slog.Any("error", err))
		d.reply(ctx, msg, "Oops, something went wrong.")
	}
}

func (d *Dispatcher) handleBracket(ctx context.Context, msg *transport.IncomingMessage) {
	if !msg.Group() {
		d.reply(ctx, msg, "The bracket is only available in groups.")
		return
	}
	status, err := d.exporter.Status(ctx)
	if err != nil {
		d.logger.Error("read status", slog.Any("error", err))
		return
	}
	if status.Phase != models.PhaseVoting && status.Phase != models.PhaseEnded {
		d.reply(ctx, msg, "The bracket is not available before the voting phase.")
		return
	}
	if status.Phase == models.PhaseVoting &&
		(status.CurrentMatch == nil || *status.CurrentMatch < brackets.FirstRoundMatches) {
		d.reply(ctx, msg, "The bracket is not available before the round of 128.")
		return
	}

	img, err := d.exporter.Bracket(ctx)
	if err != nil {
		d.logger.Error("render bracket", slog.Any("error", err))
		d.reply(ctx, msg, "Oops, something went wrong.")
		return
	}
	if _, err := d.messenger.SendPhoto(ctx, msg.ChatID, img, bracketCaption(d.exporter.BracketURL())); err != nil {
		d.logger.Error("send bracket", slog.Any("error", err))
	}
}

func bracketCaption(url string) string {
	display := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	display = strings.TrimSuffix(display, "/")
	return fmt.Sprintf(`High resolution version available at [%s](%s)\.`, utils.EscapeMarkdownV2(display), url)
}

func (d *Dispatcher) handleHelp(ctx context.Context, msg *transport.IncomingMessage) {
	status, err := d.exporter.Status(ctx)
	if err != nil {
		d.logger.Error("read status", slog.Any("error", err))
		return
	}
	text := helpText(status.Phase)
	if len(d.logo) > 0 {
		_, err = d.messenger.SendPhoto(ctx, msg.ChatID, d.logo, text)
	} else {
		_, err = d.messenger.SendMarkdown(ctx, msg.ChatID, text)
	}
	if err != nil {
		d.logger.Error("send help", slog.Any("error", err))
	}
}

func helpText(phase models.Phase) string {
	text := `Modeled after [XKCD’s Emojidome](https://www.explainxkcd.com/wiki/index.php/2131:_Emojidome), the Gifdome aims to find the ultimate GIF by process of elimination\.`
	switch phase {
	case models.PhaseTakingSubmissions:
		text += "\n\n" + `Currently in submission phase\. The most submitted GIFs advance to the voting phase\.`
	case models.PhaseVoting:
		text += "\n\n" + `Currently in voting phase\. See the pinned message for the latest poll\.`
	case models.PhaseEnded:
		text += "\n\n" + `This Gifdome has ended\.`
	}
	return text
}

func (d *Dispatcher) handleStats(ctx context.Context, msg *transport.IncomingMessage) {
	counts, err := d.exporter.SubmissionsDocument(ctx)
	if err != nil {
		d.logger.Error("read submissions", slog.Any("error", err))
		return
	}
	if len(counts) == 0 {
		d.reply(ctx, msg, "No submissions yet.")
		return
	}
	gifs, err := d.exporter.GifsDocument(ctx)
	if err != nil {
		d.logger.Error("read gifs", slog.Any("error", err))
		return
	}

	type entry struct {
		id    string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for id, count := range counts {
		entries = append(entries, entry{id: id, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].id < entries[j].id
	})

	lines := make([]string, 0, statsLimit+1)
	for i, e := range entries {
		if i == statsLimit {
			lines = append(lines, utils.EscapeMarkdownV2(fmt.Sprintf("…and %d more.", len(entries)-statsLimit)))
			break
		}
		name := e.id
		if gif, ok := gifs[e.id]; ok && len(gif.Filenames) > 0 {
			name = gif.Filenames[0]
		}
		lines = append(lines, fmt.Sprintf(`%d× %s`, e.count, utils.EscapeMarkdownV2(name)))
	}
	if _, err := d.messenger.SendMarkdown(ctx, msg.ChatID, strings.Join(lines, "\n")); err != nil {
		d.logger.Error("send stats", slog.Any("error", err))
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg *transport.IncomingMessage, text string) {
	if _, err := d.messenger.SendMessage(ctx, msg.ChatID, text); err != nil {
		d.logger.Error("send reply",
			slog.String("command", msg.Command),
			slog.Any("error", err))
	}
}
