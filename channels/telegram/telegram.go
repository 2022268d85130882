// Package telegram adapts the Telegram Bot API to the channels.Channel
// interface using long polling.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/channels"
)

const defaultBaseURL = "https://api.telegram.org"

// Config configures the Telegram channel.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string
	// BaseURL overrides the Bot API endpoint, mainly for tests.
	BaseURL string
	// PollInterval is the pause between empty getUpdates polls.
	PollInterval time.Duration
	// AllowedChats restricts which chat ids the bot answers; empty
	// answers all.
	AllowedChats []int64
}

// Telegram implements channels.Channel over the Bot API.
type Telegram struct {
	cfg      Config
	client   *resty.Client
	logger   *zap.Logger
	messages chan *channels.IncomingMessage

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	offset int64
}

// New creates the channel. Connect must be called before messages flow.
func New(cfg Config, logger *zap.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", cfg.BaseURL, cfg.Token)).
		SetTimeout(65*time.Second)
	return &Telegram{
		cfg:      cfg,
		client:   client,
		logger:   logger.With(zap.String("component", "telegram")),
		messages: make(chan *channels.IncomingMessage, 64),
	}
}

// Name implements channels.Channel.
func (t *Telegram) Name() string { return "telegram" }

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

type getMeResponse struct {
	apiResponse
	Result struct {
		Username string `json:"username"`
	} `json:"result"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date int64  `json:"date"`
		Text string `json:"text"`
	} `json:"message"`
}

type getUpdatesResponse struct {
	apiResponse
	Result []update `json:"result"`
}

// Connect verifies the token via getMe and starts the poll loop.
func (t *Telegram) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return fmt.Errorf("telegram channel already connected")
	}

	var me getMeResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&me).
		ForceContentType("application/json").
		Get("/getMe")
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	if resp.IsError() || !me.OK {
		return fmt.Errorf("telegram getMe rejected: %s", me.Description)
	}
	t.logger.Info("telegram connected", zap.String("bot", me.Result.Username))

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.poll(pollCtx)
	return nil
}

func (t *Telegram) poll(ctx context.Context) {
	defer close(t.done)
	defer close(t.messages)

	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := t.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("poll failed", zap.Error(err))
		}
		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			msg := t.toIncoming(u)
			if msg == nil {
				continue
			}
			select {
			case t.messages <- msg:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(t.cfg.PollInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (t *Telegram) fetchUpdates(ctx context.Context) ([]update, error) {
	var out getUpdatesResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("offset", strconv.FormatInt(t.offset, 10)).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/getUpdates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !out.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", out.Description)
	}
	return out.Result, nil
}

func (t *Telegram) toIncoming(u update) *channels.IncomingMessage {
	if u.Message == nil || u.Message.Text == "" {
		return nil
	}
	if !t.chatAllowed(u.Message.Chat.ID) {
		t.logger.Debug("message from disallowed chat dropped", zap.Int64("chat_id", u.Message.Chat.ID))
		return nil
	}
	return &channels.IncomingMessage{
		Channel:   t.Name(),
		ChatID:    strconv.FormatInt(u.Message.Chat.ID, 10),
		SenderID:  strconv.FormatInt(u.Message.From.ID, 10),
		Content:   u.Message.Text,
		Timestamp: time.Unix(u.Message.Date, 0),
	}
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// Send implements channels.Channel.
func (t *Telegram) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error {
	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id": chatID,
			"text":    msg.Content,
		}).
		SetResult(&out).
		SetError(&out).
		ForceContentType("application/json").
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram sendMessage rejected: %s", out.Description)
	}
	return nil
}

// Receive implements channels.Channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// Disconnect stops polling and closes the message stream.
func (t *Telegram) Disconnect() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	t.logger.Info("telegram disconnected")
	return nil
}
