// Package adapter connects the bot to Telegram through telebot's long poller.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "lightsout/internal/runtime/supervisor"
	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call at construction (tests).
	Offline bool
	// URL overrides the Bot API endpoint.
	URL string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Pointer[chan<- kit.Message]
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout, AllowedUpdates: []string{"message"}},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram.adapter")), bot: b}
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := toMessage(c.Message())
	if m == nil {
		return nil
	}
	a.deliver(*m)
	return nil
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	return &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		IsPrivate:    m.Private(),
	}
}

// deliver forwards to the current consumer without blocking the poll loop.
func (a *Adapter) deliver(m kit.Message) {
	p := a.out.Load()
	if p == nil {
		return
	}
	select {
	case *p <- m:
	default:
		a.dropped.Add(1)
	}
}

// Dropped counts updates discarded because the consumer was full.
func (a *Adapter) Dropped() uint64 { return a.dropped.Load() }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. An early return while the context is
	// live is treated as a failure and restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Int64("dropped_updates", int64(a.dropped.Load())))
	sup.Cancel()

	// A pending getUpdates can hold the loop for the poll timeout; cap the wait.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
	}

	// telebot has no per-call context; bound the call ourselves.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
		done <- result{msg, err}
	}()
	select {
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return kit.MessageRef{}, r.err
		}
		return kit.MessageRef{ChatID: to.ChatID, MessageID: r.msg.ID}, nil
	}
}

// UpdateMenuCommands publishes the command menu (setMyCommands). It only
// calls Telegram when the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	tcmds := make([]tele.Command, 0, len(cmds))
	var key strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		tcmds = append(tcmds, tele.Command{Text: c.Command, Description: d})
		key.WriteString(c.Command + "\x00" + d + "\x00")
	}
	if key.String() == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(tcmds); err != nil {
		return err
	}
	a.menuHash = key.String()
	a.log.Info("menu commands updated", logx.Int("count", len(tcmds)))
	return nil
}

// IsBlocked reports whether err means the user blocked or deleted the bot.
func IsBlocked(err error) bool {
	return errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrNotStartedByUser) || errors.Is(err, tele.ErrChatNotFound)
}
