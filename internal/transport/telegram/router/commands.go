package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"refebot/internal/config"
	rtsup "refebot/internal/runtime/supervisor"
	kit "refebot/internal/transport"
	logx "refebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Reply texts used by the dispatcher itself.
const (
	textUnknown      = "Comando desconocido. Prueba /help"
	textUnauthorized = "⛔ No tienes permiso para usar este comando."
	textBusy         = "Estoy ocupado, intenta de nuevo en un momento."
	textFailed       = "❌ Ocurrió un error, intenta de nuevo más tarde."
)

// Command is a single slash command. Handlers report user-facing problems
// (usage, not found, forbidden) themselves and return nil; a returned error
// is logged and answered with a generic failure message.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Hidden      bool // registered but left out of /help and the menu

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	From    kit.User
	Command string
	Args    []string
	// ArgText is the raw text after the command word.
	ArgText string
	ReqID   string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

func (r *Request) messageID() int {
	if r == nil || r.Message == nil {
		return 0
	}
	return r.Message.ID
}

// Reply sends an HTML message to the request's chat, quoting the command.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyTo:        r.messageID(),
	})
	return err
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name and aliases -> command
	names []string            // canonical names, sorted

	log     logx.Logger
	adapter kit.Adapter
	cfgm    *config.ConfigManager
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, cfgm *config.ConfigManager) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		cfgm:    cfgm,
		workers: workers,
		jobs:    make(chan func(), 256),
	}
}

// Supervisor returns the dispatcher's supervisor, nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue never blocks and tolerates a closed jobs channel.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Description: "muestra la ayuda",
		Usage:       "/help [comando]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.Config.IsAdmin(req.From.ID)))
		},
	}
	cmds = append(cmds, helper)

	byName := map[string]*Command{}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, dup := byName[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name), logx.String("plugin", c.PluginName))
			continue
		}
		byName[name] = &cc
		names = append(names, name)
	}
	// aliases never shadow a canonical name
	for _, name := range names {
		c := byName[name]
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = c
			}
		}
	}
	sort.Strings(names)

	m.mu.Lock()
	m.cmds = byName
	m.names = names
	m.mu.Unlock()
}

// Commands returns the registered canonical commands in name order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, *m.cmds[n])
	}
	return out
}

// SyncMenu pushes the visible commands to the adapter's command menu, if
// the adapter supports one.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menuEntries(m.Commands()))
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[word]
	return c, ok
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
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
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up.Message)
			}
		}
	}
}

// splitCommand returns the lower-cased command word (without "/" and any
// "@botname" suffix) and the raw argument text.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i:] + " " + rest
		head = head[:i]
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}

func (m *CommandManager) routeMessage(root context.Context, msg *kit.Message) {
	word, rest, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := m.lookup(word)
	if !ok {
		// groups often host other bots; stay quiet there
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(root, chat, textUnknown, &kit.SendOptions{ReplyTo: msg.ID})
		}
		return
	}

	cfg := m.cfgm.Get()
	if cmd.Access == AccessAdminOnly && !cfg.IsAdmin(msg.From.ID) {
		_, _ = m.adapter.SendText(root, chat, textUnauthorized, &kit.SendOptions{ReplyTo: msg.ID})
		return
	}

	rid := requestID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		From:    msg.From,
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		ArgText: rest,
		ReqID:   rid,
		Adapter: m.adapter,
		Config:  cfg,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.From.ID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Wrap(cmd.Handle,
		ApologizeOnError(textFailed),
		Recover(m.log),
		Timing(m.log),
		Deadline(cmd.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, textBusy, &kit.SendOptions{ReplyTo: msg.ID})
	}
}
