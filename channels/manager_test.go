package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChannel struct {
	name     string
	failConn bool

	incoming chan *IncomingMessage

	mu   sync.Mutex
	sent map[string][]string
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{
		name:     name,
		incoming: make(chan *IncomingMessage, 8),
		sent:     make(map[string][]string),
	}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.failConn {
		return errors.New("connect refused")
	}
	return nil
}

func (f *fakeChannel) Disconnect() error {
	close(f.incoming)
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, chatID string, msg *OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[chatID] = append(f.sent[chatID], msg.Content)
	return nil
}

func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.incoming }

func (f *fakeChannel) sentTo(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func TestManager_DispatchesAndReplies(t *testing.T) {
	ch := newFakeChannel("fake")
	m := NewManager(func(ctx context.Context, msg *IncomingMessage) (string, error) {
		return "re: " + msg.Content, nil
	}, zaptest.NewLogger(t))

	require.NoError(t, m.Register(ch))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	ch.incoming <- &IncomingMessage{Channel: "fake", ChatID: "42", Content: "hello"}

	require.Eventually(t, func() bool {
		return len(ch.sentTo("42")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"re: hello"}, ch.sentTo("42"))
}

func TestManager_EmptyReplySendsNothing(t *testing.T) {
	ch := newFakeChannel("fake")
	handled := make(chan struct{}, 1)
	m := NewManager(func(ctx context.Context, msg *IncomingMessage) (string, error) {
		handled <- struct{}{}
		return "", nil
	}, zaptest.NewLogger(t))

	require.NoError(t, m.Register(ch))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	ch.incoming <- &IncomingMessage{Channel: "fake", ChatID: "42", Content: "ping"}
	<-handled
	assert.Empty(t, ch.sentTo("42"))
}

func TestManager_HandlerErrorSendsFallback(t *testing.T) {
	ch := newFakeChannel("fake")
	m := NewManager(func(ctx context.Context, msg *IncomingMessage) (string, error) {
		return "", errors.New("boom")
	}, zaptest.NewLogger(t))

	require.NoError(t, m.Register(ch))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	ch.incoming <- &IncomingMessage{Channel: "fake", ChatID: "42", Content: "ping"}

	require.Eventually(t, func() bool {
		return len(ch.sentTo("42")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, ch.sentTo("42")[0], "went wrong")
}

func TestManager_DuplicateRegistration(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	require.NoError(t, m.Register(newFakeChannel("fake")))
	assert.Error(t, m.Register(newFakeChannel("fake")))
}

func TestManager_ConnectFailureFailsStart(t *testing.T) {
	bad := newFakeChannel("bad")
	bad.failConn = true
	m := NewManager(nil, zaptest.NewLogger(t))
	require.NoError(t, m.Register(bad))
	assert.Error(t, m.Start(context.Background()))
}

func TestManager_StopIdempotent(t *testing.T) {
	ch := newFakeChannel("fake")
	m := NewManager(func(ctx context.Context, msg *IncomingMessage) (string, error) {
		return "", nil
	}, zaptest.NewLogger(t))
	require.NoError(t, m.Register(ch))
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestManager_MultipleChannels(t *testing.T) {
	a := newFakeChannel("a")
	b := newFakeChannel("b")
	m := NewManager(func(ctx context.Context, msg *IncomingMessage) (string, error) {
		return "from " + msg.Channel, nil
	}, zaptest.NewLogger(t))
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop() }()

	a.incoming <- &IncomingMessage{Channel: "a", ChatID: "1", Content: "x"}
	b.incoming <- &IncomingMessage{Channel: "b", ChatID: "2", Content: "y"}

	require.Eventually(t, func() bool {
		return len(a.sentTo("1")) == 1 && len(b.sentTo("2")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"from a"}, a.sentTo("1"))
	assert.Equal(t, []string{"from b"}, b.sentTo("2"))
}
