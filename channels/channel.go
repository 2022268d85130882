// Package channels defines the chat front-end abstraction. Each channel
// (Telegram today, others later) adapts one messaging platform to a
// unified incoming/outgoing message shape; the Manager aggregates them
// and routes conversations to the assistant.
package channels

import (
	"context"
	"time"
)

// IncomingMessage is one user message arriving from a channel.
type IncomingMessage struct {
	// Channel is the name of the channel the message arrived on.
	Channel string
	// ChatID identifies the conversation for replies.
	ChatID string
	// SenderID identifies the author within the platform.
	SenderID string
	// Content is the plain-text body.
	Content   string
	Timestamp time.Time
}

// OutgoingMessage is a reply sent back through a channel.
type OutgoingMessage struct {
	Content string
}

// Channel is one messaging platform adapter.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the platform connection and starts receiving.
	// It returns once the connection is up; message delivery happens in
	// the background until ctx ends or Disconnect is called.
	Connect(ctx context.Context) error

	// Disconnect stops receiving and closes the Receive channel.
	Disconnect() error

	// Send delivers a message to the given conversation.
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) error

	// Receive returns the stream of incoming messages.
	Receive() <-chan *IncomingMessage
}
