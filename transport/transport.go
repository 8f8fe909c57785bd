// Package transport abstracts the group chat platform the tournament runs
// in. The engine consumes these interfaces and error kinds only; the
// Telegram implementation lives alongside without leaking its types upward.
package transport

import (
	"context"
	"errors"
)

// Idempotent failure kinds. An operation that finds its target already in
// the requested state wraps one of these, and callers treat the condition as
// less than fatal; any other transport error aborts the round in flight.
var (
	ErrPollAlreadyClosed = errors.New("poll has already been closed")
	ErrNotModified       = errors.New("not modified")
	ErrNotPinned         = errors.New("message not pinned")
)

// Error records a failed transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// User identifies the sender of an incoming message.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// AnimationFile describes an animation attached to an incoming message.
type AnimationFile struct {
	FileID       string
	FileUniqueID string
	FileSize     int64
	MimeType     string
	Width        int
	Height       int
	Duration     int
	FileName     string
}

// IncomingMessage is a chat message the bot received. Command holds the bare
// command name without slash or bot mention when the message is one.
type IncomingMessage struct {
	ChatID    int64
	ChatType  string
	MessageID int
	From      User
	Text      string
	Command   string
	IsReply   bool
	Animation *AnimationFile
}

// Group reports whether the message came from a group chat rather than a
// private conversation.
func (m *IncomingMessage) Group() bool {
	return m.ChatType == "group" || m.ChatType == "supergroup"
}

// PollUpdate is a tally change on some poll. PollID may refer to an old
// poll; the engine filters.
type PollUpdate struct {
	PollID          string
	IsClosed        bool
	TotalVoterCount int
	OptionVotes     [2]int
}

// Update is one incoming event, exactly one field set.
type Update struct {
	Message *IncomingMessage
	Poll    *PollUpdate
}

// Messenger is the outgoing surface of the chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (messageID int, err error)
	SendMarkdown(ctx context.Context, chatID int64, text string) (messageID int, err error)
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (messageID int, err error)
	SendAnimation(ctx context.Context, chatID int64, fileID string) (messageID int, err error)
	SendPoll(ctx context.Context, chatID int64, question string, options [2]string, replyTo int) (pollID string, messageID int, err error)
	StopPoll(ctx context.Context, chatID int64, messageID int) ([2]int, error)
	PinMessage(ctx context.Context, chatID int64, messageID int, silent bool) error
	UnpinMessage(ctx context.Context, chatID int64, messageID int) error
	SetChatDescription(ctx context.Context, chatID int64, description string) error
}

// UpdateSource delivers incoming events until closed.
type UpdateSource interface {
	Updates() <-chan Update
	Stop()
}
