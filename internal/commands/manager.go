// Package commands turns chat messages into quiz schedule operations.
package commands

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizbot/internal/runtime/supervisor"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string
	Logger       logx.Logger

	sender Sender
}

// Sender is the part of the transport the manager replies through.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Options struct {
	Owners []int64
	// OwnerOnly restricts AccessOwnerOnly commands to Owners. With no owners
	// configured every user is allowed.
	OwnerOnly bool
	// BotUsername makes "/cmd@other_bot" ignored. Empty accepts any suffix.
	BotUsername string
	Workers     int
	QueueSize   int
}

// Manager routes command messages to handlers on a small worker pool.
type Manager struct {
	log    logx.Logger
	sender Sender

	mu        sync.RWMutex
	byName    map[string]*Command
	list      []Command
	owners    []int64
	ownerOnly bool
	botName   string

	workers int
	jobs    chan func(context.Context)
}

func NewManager(sender Sender, log logx.Logger, opt Options) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	return &Manager{
		log:       log.With(logx.String("comp", "commands")),
		sender:    sender,
		byName:    map[string]*Command{},
		owners:    slices.Clone(opt.Owners),
		ownerOnly: opt.OwnerOnly,
		botName:   strings.ToLower(strings.TrimPrefix(opt.BotUsername, "@")),
		workers:   opt.Workers,
		jobs:      make(chan func(context.Context), opt.QueueSize),
	}
}

// SetCommands replaces the command table. /help is always added.
func (m *Manager) SetCommands(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "show commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText())
		},
	})
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Name = sanitizeCommand(c.Name); c.Name != "" && c.Handle != nil {
			list = append(list, c)
		}
	}
	byName := make(map[string]*Command, len(list))
	for i := range list {
		byName[list[i].Name] = &list[i]
	}
	// Aliases never shadow a real command name.
	for i := range list {
		for _, a := range list[i].Aliases {
			if a = sanitizeCommand(a); a != "" && byName[a] == nil {
				byName[a] = &list[i]
			}
		}
	}

	m.mu.Lock()
	m.byName = byName
	m.list = list
	m.mu.Unlock()
}

// SetAccess updates owner checks; safe during config reload.
func (m *Manager) SetAccess(owners []int64, ownerOnly bool) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.ownerOnly = ownerOnly
	m.mu.Unlock()
}

// Menu lists commands for the platform command menu.
func (m *Manager) Menu() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.list))
	for _, c := range m.list {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed.
func (m *Manager) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(m.log))
	for i := 0; i < m.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job(c)
				}
			}
		}, 200*time.Millisecond, 5*time.Second)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return
	}
	name, args, addressed, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	m.mu.RLock()
	botName := m.botName
	cmd := m.byName[name]
	owners := m.owners
	ownerOnly := m.ownerOnly
	m.mu.RUnlock()

	if addressed != "" && botName != "" && addressed != botName {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd == nil {
		// In groups other bots' commands are common; stay quiet unless asked directly.
		if !msg.IsGroup || addressed != "" {
			_, _ = m.sender.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}
	rid := uuid.NewString()[:8]
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         args,
		ReqID:        rid,
		sender:       m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("chat", chat.String()),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	mw := []middleware{logRequest(), recoverPanic()}
	if cmd.Access == AccessOwnerOnly && ownerOnly {
		mw = append(mw, ownersOnly(owners))
	}
	h := chain(cmd.Handle, append(mw, withTimeout(cmd.Timeout))...)

	select {
	case m.jobs <- func(c context.Context) { _ = h(c, req) }:
	default:
		_, _ = m.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}

// parseCommand splits "/name@bot arg1 arg2". addressed is the lowercased
// @bot suffix, if any.
func parseCommand(text string) (name string, args []string, addressed string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, "", false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		addressed = strings.ToLower(word[i+1:])
		word = word[:i]
	}
	name = strings.ToLower(word)
	if name == "" {
		return "", nil, "", false
	}
	return name, parts[1:], addressed, true
}

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}
