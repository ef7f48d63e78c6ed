package transport

import "context"

// Message is an inbound chat message, already stripped of adapter-specific types.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Update struct {
	Message *Message
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo quotes the given message id (0 = none).
	ReplyTo int
}

// Adapter is the chat transport boundary. The core never sees the bot library.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendImage(ctx context.Context, to ChatTarget, image []byte, caption string, opt *SendOptions) (MessageRef, error)
}

// TextSender is the subset of Adapter used by log sinks.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
