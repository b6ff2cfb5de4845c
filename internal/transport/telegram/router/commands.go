// Package router turns inbound Telegram messages into command handler calls
// on a bounded worker pool.
package router

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "lightsout/internal/runtime/supervisor"
	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"
)

type Command struct {
	// Name without the leading slash, e.g. "start".
	Name        string
	Description string
	// Hidden commands are routed but not published in the menu.
	Hidden  bool
	Timeout time.Duration // overrides Options.Timeout
	Handle  HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Options struct {
	Workers   int           // default 2
	QueueSize int           // per worker, default 64
	Timeout   time.Duration // default 15s per command
}

type CommandManager struct {
	log    logx.Logger
	sender kit.Sender
	opts   Options

	mu   sync.RWMutex
	cmds map[string]Command

	// One queue per worker. A sender always lands on the same queue, so
	// its commands run in arrival order.
	jobs    []chan func(context.Context)
	dropped atomic.Uint64
	handled atomic.Uint64
}

func NewCommandManager(log logx.Logger, sender kit.Sender, opts Options) *CommandManager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	jobs := make([]chan func(context.Context), opts.Workers)
	for i := range jobs {
		jobs[i] = make(chan func(context.Context), opts.QueueSize)
	}
	return &CommandManager{
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		opts:   opts,
		cmds:   map[string]Command{},
		jobs:   jobs,
	}
}

// SetCommands replaces the routing table and, when the sender supports it,
// publishes the command menu.
func (m *CommandManager) SetCommands(ctx context.Context, cmds []Command) {
	table := make(map[string]Command, len(cmds))
	valid := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		valid = append(valid, c)
	}
	m.mu.Lock()
	m.cmds = table
	m.mu.Unlock()

	if up, ok := m.sender.(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, buildMenu(valid)); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
}

// Stats reports handled and dropped command counts.
func (m *CommandManager) Stats() (handled, dropped uint64) {
	return m.handled.Load(), m.dropped.Load()
}

// DispatchLoop reads messages until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Message) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	for i, queue := range m.jobs {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-queue:
					job(c)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", len(m.jobs)), logx.Int("queue_cap", m.opts.QueueSize))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Stop(wctx)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(msg)
		}
	}
}

func (m *CommandManager) route(msg kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	m.mu.RLock()
	cmd, ok := m.cmds[name]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("unknown command ignored", logx.String("cmd", name), logx.Int64("from_id", msg.FromID))
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		ReqID:   rid,
		Sender:  m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("cmd", name),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.Timeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	job := func(ctx context.Context) {
		_ = final(ctx, req)
		m.handled.Add(1)
	}
	select {
	case m.jobs[m.shard(msg.FromID)] <- job:
	default:
		// No reply: the sender may not be allowed to talk to the bot at all.
		m.dropped.Add(1)
		req.Logger.Warn("command queue full, dropped")
	}
}

// shard maps a sender to its worker queue.
func (m *CommandManager) shard(fromID int64) int {
	return int(uint64(fromID) % uint64(len(m.jobs)))
}
