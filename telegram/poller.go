package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
)

// Submitter accepts new requests. *genrelay.Relay and *engine.Engine
// implement it.
type Submitter interface {
	Submit(id core.Identifier, backend, prompt string)
}

// PollerOptions configure a Poller.
type PollerOptions struct {
	// Commands maps command names (without slash) to backend names.
	Commands map[string]string

	// AdminID is the only user allowed to run admin commands. Zero disables
	// them.
	AdminID int64

	// BotName filters "/cmd@name" commands addressed to other bots.
	BotName string

	// Overrides holds per-user prompt replacements.
	Overrides *Overrides

	// OverridePrompt is installed by /clown.
	OverridePrompt string

	// PollTimeout is the getUpdates long-poll duration.
	PollTimeout time.Duration

	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration

	// History records plain chat messages and enables /tldr. Optional.
	History core.HistoryStore

	// SummaryBackend receives /tldr prompts.
	SummaryBackend string

	// SummaryWindow limits /tldr to messages newer than this.
	SummaryWindow time.Duration

	// SummaryMaxRunes bounds the transcript part of a /tldr prompt.
	SummaryMaxRunes int

	Logger logging.Logger
}

// Poller long-polls the Bot API and turns commands into requests.
type Poller struct {
	client    *Client
	submitter Submitter
	opts      PollerOptions
}

// NewPoller creates a poller reading updates through client.
func NewPoller(client *Client, submitter Submitter, optFns ...func(o *PollerOptions)) *Poller {
	opts := PollerOptions{
		Commands:        DefaultCommands,
		OverridePrompt:  DefaultOverridePrompt,
		PollTimeout:     30 * time.Second,
		RetryDelay:      5 * time.Second,
		SummaryBackend:  "ollama",
		SummaryWindow:   8 * time.Hour,
		SummaryMaxRunes: 3500,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Overrides == nil {
		opts.Overrides = NewOverrides()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Poller{client: client, submitter: submitter, opts: opts}
}

// Overrides returns the override table.
func (p *Poller) Overrides() *Overrides { return p.opts.Overrides }

// Run polls until ctx is done. Poll failures are logged and retried.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	p.opts.Logger.Info("Telegram polling started", "commands", len(p.opts.Commands), "admin", p.opts.AdminID != 0)

	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, offset, int(p.opts.PollTimeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.opts.Logger.Warn("Telegram poll failed", "error", err, "retry_in", p.opts.RetryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.opts.RetryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message != nil {
				p.HandleMessage(ctx, u.Message)
			}
		}
	}
}

// HandleMessage routes a single message.
func (p *Poller) HandleMessage(ctx context.Context, msg *Message) {
	cmd, ok := ParseCommand(msg.Text, p.opts.BotName)
	if !ok {
		p.record(ctx, msg)
		return
	}
	if msg.From == nil {
		p.opts.Logger.Warn("Command without a sender", "chat", msg.Chat.ID, "command", cmd.Name)
		return
	}

	p.opts.Logger.Debug("Incoming command", "command", cmd.Name, "chat", msg.Chat.ID, "user", msg.From.ID)

	if p.isAdmin(msg.From.ID) && p.handleAdmin(ctx, msg, cmd) {
		return
	}
	if cmd.Name == "help" {
		p.reply(ctx, msg, p.helpText())
		return
	}
	if cmd.Name == "tldr" && p.opts.History != nil {
		p.summarize(ctx, msg)
		return
	}

	backend, ok := p.opts.Commands[cmd.Name]
	if !ok {
		return
	}

	prompt := cmd.Args
	if override, ok := p.opts.Overrides.Get(msg.From.ID); ok {
		prompt = override
	}

	p.submitter.Submit(core.Identifier{
		ConversationID: msg.Chat.ID,
		SubmitterID:    msg.From.ID,
		MessageID:      msg.MessageID,
	}, backend, prompt)
}

func (p *Poller) isAdmin(user int64) bool {
	return p.opts.AdminID != 0 && user == p.opts.AdminID
}

// handleAdmin runs /clown and /unclown. It reports whether cmd was an admin
// command.
func (p *Poller) handleAdmin(ctx context.Context, msg *Message, cmd Command) bool {
	if cmd.Name != "clown" && cmd.Name != "unclown" {
		return false
	}

	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		p.opts.Logger.Warn("Admin command without a replied-to user", "command", cmd.Name)
		return true
	}
	target := msg.ReplyToMessage.From

	if cmd.Name == "clown" {
		p.opts.Overrides.Set(target.ID, p.opts.OverridePrompt)
		p.opts.Logger.Info("Added prompt override", "user", target.ID, "name", target.Mention())
		p.reply(ctx, msg, fmt.Sprintf("%s has been clowned", target.Mention()))
		return true
	}

	p.opts.Overrides.Remove(target.ID)
	p.opts.Logger.Info("Removed prompt override", "user", target.ID, "name", target.Mention())
	p.reply(ctx, msg, fmt.Sprintf("%s has been unclowned", target.Mention()))
	return true
}

func (p *Poller) helpText() string {
	names := make([]string, 0, len(p.opts.Commands))
	for name := range p.opts.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("These commands are supported:\n/help")
	if p.opts.History != nil {
		b.WriteString("\n/tldr (summarize the recent conversation)")
	}
	for _, name := range names {
		fmt.Fprintf(&b, "\n/%s <prompt> (%s)", name, p.opts.Commands[name])
	}
	return b.String()
}

func (p *Poller) reply(ctx context.Context, msg *Message, text string) {
	if err := p.client.SendText(ctx, msg.Chat.ID, msg.MessageID, text, false); err != nil {
		p.opts.Logger.Warn("Failed to send reply", "chat", msg.Chat.ID, "error", err)
	}
}
