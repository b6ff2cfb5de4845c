package router

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"/start", "start", []string{}, true},
		{"  /STOP@LightsBot  now ", "stop", []string{"now"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.name, name, tt.in)
			assert.Equal(t, tt.args, args, tt.in)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	assert.Equal(t, "start", sanitizeTelegramCommand("/Start"))
	assert.Equal(t, "power_status", sanitizeTelegramCommand("power-status"))
	assert.Equal(t, "", sanitizeTelegramCommand("!!"))
}

func TestDispatchRoutesCommands(t *testing.T) {
	snd := &fakeSender{}
	m := NewCommandManager(logx.Nop(), snd, Options{Workers: 2})

	var mu sync.Mutex
	seen := map[string]int64{}
	done := make(chan struct{}, 4)
	handler := func(ctx context.Context, req *Request) error {
		mu.Lock()
		seen[req.Command] = req.FromID
		mu.Unlock()
		assert.NotEmpty(t, req.ReqID)
		err := req.Reply(ctx, "reply:"+req.Command)
		done <- struct{}{}
		return err
	}
	m.SetCommands(context.Background(), []Command{
		{Name: "start", Description: "subscribe", Handle: handler},
		{Name: "stop", Description: "unsubscribe", Handle: handler},
		{Name: "secret", Hidden: true, Handle: handler},
		{Name: "nohandler"},
	})
	require.Len(t, snd.menu, 2)
	assert.Equal(t, "start", snd.menu[0].Command)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Message, 8)
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.DispatchLoop(ctx, updates) }()

	updates <- kit.Message{ChatID: 1, FromID: 1, Text: "/start"}
	updates <- kit.Message{ChatID: 2, FromID: 2, Text: "not a command"}
	updates <- kit.Message{ChatID: 3, FromID: 3, Text: "/unknown"}
	updates <- kit.Message{ChatID: 4, FromID: 4, Text: "/secret"}

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
	cancel()
	require.NoError(t, <-loopDone)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int64{"start": 1, "secret": 4}, seen)
	assert.ElementsMatch(t, []string{"reply:start", "reply:secret"}, snd.texts())
}

func TestPanicIsRecovered(t *testing.T) {
	snd := &fakeSender{}
	m := NewCommandManager(logx.Nop(), snd, Options{Workers: 1})
	ok := make(chan struct{}, 1)
	m.SetCommands(context.Background(), []Command{
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("bad") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error { ok <- struct{}{}; return nil }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Message, 2)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- kit.Message{Text: "/boom"}
	updates <- kit.Message{Text: "/ok"}
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	h := Chain(func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	err := h(context.Background(), &Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueFullDrops(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeSender{}, Options{Workers: 1, QueueSize: 1})
	m.SetCommands(context.Background(), []Command{
		{Name: "x", Handle: func(ctx context.Context, req *Request) error { return nil }},
	})
	// No dispatch loop: the queue never drains.
	m.route(kit.Message{Text: "/x"})
	m.route(kit.Message{Text: "/x"})
	_, dropped := m.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestSameSenderCommandsRunInOrder(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeSender{}, Options{Workers: 4})

	var mu sync.Mutex
	var applied []string
	done := make(chan struct{}, 2)
	record := func(delay time.Duration) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			time.Sleep(delay)
			mu.Lock()
			applied = append(applied, req.Command)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}
	}
	m.SetCommands(context.Background(), []Command{
		{Name: "start", Handle: record(50 * time.Millisecond)},
		{Name: "stop", Handle: record(0)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Message, 2)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- kit.Message{ChatID: 7, FromID: 7, Text: "/start", IsPrivate: true}
	updates <- kit.Message{ChatID: 7, FromID: 7, Text: "/stop", IsPrivate: true}

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("commands not handled")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "stop"}, applied)
}

func TestShardIsStablePerSender(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeSender{}, Options{Workers: 3})
	for _, id := range []int64{0, 1, 7, 42, -5, 1 << 40} {
		s := m.shard(id)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 3)
		assert.Equal(t, s, m.shard(id))
	}
}
