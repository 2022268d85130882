package channels

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler produces the assistant's reply to one incoming message. An
// empty reply with nil error sends nothing.
type Handler func(ctx context.Context, msg *IncomingMessage) (string, error)

// Manager runs multiple channels side by side, feeding every incoming
// message through a single handler and routing replies back to the
// channel they came from.
type Manager struct {
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	channels map[string]Channel
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewManager creates a manager dispatching to handler.
func NewManager(handler Handler, logger *zap.Logger) *Manager {
	return &Manager{
		handler:  handler,
		logger:   logger.With(zap.String("component", "channel_manager")),
		channels: make(map[string]Channel),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return fmt.Errorf("manager already started")
	}
	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", zap.String("channel", name))
	return nil
}

// Start connects every registered channel and begins dispatching. A
// channel that fails to connect fails the whole start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return fmt.Errorf("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	for _, ch := range m.channels {
		if err := ch.Connect(groupCtx); err != nil {
			cancel()
			return fmt.Errorf("connect channel %q: %w", ch.Name(), err)
		}
		ch := ch
		group.Go(func() error {
			m.listen(groupCtx, ch)
			return nil
		})
	}

	m.cancel = cancel
	m.group = group
	return nil
}

func (m *Manager) listen(ctx context.Context, ch Channel) {
	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				return
			}
			m.dispatch(ctx, ch, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ch Channel, msg *IncomingMessage) {
	reply, err := m.handler(ctx, msg)
	if err != nil {
		m.logger.Warn("handler failed",
			zap.String("channel", msg.Channel),
			zap.String("chat_id", msg.ChatID),
			zap.Error(err),
		)
		reply = "Something went wrong handling that message."
	}
	if reply == "" {
		return
	}
	if err := ch.Send(ctx, msg.ChatID, &OutgoingMessage{Content: reply}); err != nil {
		m.logger.Warn("send failed",
			zap.String("channel", msg.Channel),
			zap.String("chat_id", msg.ChatID),
			zap.Error(err),
		)
	}
}

// Stop disconnects every channel and waits for dispatch loops to drain.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, group := m.cancel, m.group
	m.cancel, m.group = nil, nil
	m.mu.Unlock()

	if group == nil {
		return nil
	}

	var firstErr error
	for _, ch := range m.channels {
		if err := ch.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cancel()
	if err := group.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
