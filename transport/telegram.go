package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram adapts the Bot API to the Messenger and UpdateSource interfaces.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
	out    chan Update
}

func NewTelegram(token string, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	logger.Info("telegram connected", slog.String("username", bot.Self.UserName))
	return &Telegram{bot: bot, logger: logger, out: make(chan Update, 64)}, nil
}

// Updates starts long polling on first call and translates raw updates into
// the neutral form. Unsupported update kinds are dropped.
func (t *Telegram) Updates() <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	cfg.AllowedUpdates = []string{"message", "poll"}
	raw := t.bot.GetUpdatesChan(cfg)

	go func() {
		defer close(t.out)
		for update := range raw {
			if translated, ok := translateUpdate(update); ok {
				t.out <- translated
			}
		}
	}()
	return t.out
}

func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
}

func translateUpdate(update tgbotapi.Update) (Update, bool) {
	switch {
	case update.Message != nil:
		msg := update.Message
		out := &IncomingMessage{
			ChatID:    msg.Chat.ID,
			ChatType:  msg.Chat.Type,
			MessageID: msg.MessageID,
			Text:      msg.Text,
			IsReply:   msg.ReplyToMessage != nil,
		}
		if msg.From != nil {
			out.From = User{
				ID:        msg.From.ID,
				Username:  msg.From.UserName,
				FirstName: msg.From.FirstName,
			}
		}
		if msg.IsCommand() {
			out.Command = msg.Command()
		}
		if msg.Animation != nil {
			out.Animation = &AnimationFile{
				FileID:       msg.Animation.FileID,
				FileUniqueID: msg.Animation.FileUniqueID,
				FileSize:     int64(msg.Animation.FileSize),
				MimeType:     msg.Animation.MimeType,
				Width:        msg.Animation.Width,
				Height:       msg.Animation.Height,
				Duration:     msg.Animation.Duration,
				FileName:     msg.Animation.FileName,
			}
		}
		return Update{Message: out}, true

	case update.Poll != nil:
		poll := update.Poll
		out := &PollUpdate{
			PollID:          poll.ID,
			IsClosed:        poll.IsClosed,
			TotalVoterCount: poll.TotalVoterCount,
		}
		for i, option := range poll.Options {
			if i < 2 {
				out.OptionVotes[i] = option.VoterCount
			}
		}
		return Update{Poll: out}, true
	}
	return Update{}, false
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, classify("send message", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendMarkdown(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, classify("send markdown message", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "photo.png", Bytes: photo})
	cfg.Caption = caption
	cfg.ParseMode = tgbotapi.ModeMarkdownV2
	sent, err := t.bot.Send(cfg)
	if err != nil {
		return 0, classify("send photo", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendAnimation(ctx context.Context, chatID int64, fileID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := t.bot.Send(tgbotapi.NewAnimation(chatID, tgbotapi.FileID(fileID)))
	if err != nil {
		return 0, classify("send animation", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendPoll(ctx context.Context, chatID int64, question string, options [2]string, replyTo int) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	cfg := tgbotapi.NewPoll(chatID, question, options[0], options[1])
	cfg.ReplyToMessageID = replyTo
	sent, err := t.bot.Send(cfg)
	if err != nil {
		return "", 0, classify("send poll", err)
	}
	if sent.Poll == nil {
		return "", 0, &Error{Op: "send poll", Err: fmt.Errorf("no poll in response")}
	}
	return sent.Poll.ID, sent.MessageID, nil
}

func (t *Telegram) StopPoll(ctx context.Context, chatID int64, messageID int) ([2]int, error) {
	var votes [2]int
	if err := ctx.Err(); err != nil {
		return votes, err
	}
	poll, err := t.bot.StopPoll(tgbotapi.NewStopPoll(chatID, messageID))
	if err != nil {
		return votes, classify("stop poll", err)
	}
	if len(poll.Options) != 2 {
		return votes, &Error{Op: "stop poll", Err: fmt.Errorf("expected 2 options, got %d", len(poll.Options))}
	}
	votes[0] = poll.Options[0].VoterCount
	votes[1] = poll.Options[1].VoterCount
	return votes, nil
}

func (t *Telegram) PinMessage(ctx context.Context, chatID int64, messageID int, silent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.PinChatMessageConfig{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: silent,
	}
	if _, err := t.bot.Request(cfg); err != nil {
		return classify("pin message", err)
	}
	return nil
}

func (t *Telegram) UnpinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.UnpinChatMessageConfig{ChatID: chatID, MessageID: messageID}
	if _, err := t.bot.Request(cfg); err != nil {
		return classify("unpin message", err)
	}
	return nil
}

func (t *Telegram) SetChatDescription(ctx context.Context, chatID int64, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.SetChatDescriptionConfig{ChatID: chatID, Description: description}
	if _, err := t.bot.Request(cfg); err != nil {
		return classify("set chat description", err)
	}
	return nil
}

// classify wraps Bot API failures, mapping the descriptions of
// already-in-target-state conditions onto the package sentinels so the
// engine can branch without knowing Telegram phrasing.
func classify(op string, err error) error {
	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "poll has already been closed"):
		return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrPollAlreadyClosed, err)}
	case strings.Contains(desc, "description is not modified"),
		strings.Contains(desc, "chat_not_modified"):
		return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrNotModified, err)}
	case strings.Contains(desc, "message to unpin not found"),
		strings.Contains(desc, "not pinned"):
		return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrNotPinned, err)}
	}
	return &Error{Op: op, Err: err}
}
