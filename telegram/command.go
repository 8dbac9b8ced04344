package telegram

import (
	"strings"
	"sync"
)

// DefaultCommands maps chat commands to backend names.
var DefaultCommands = map[string]string{
	"aimg":   "invokeai",
	"draw":   "invokeai",
	"hey":    "ollama",
	"oi":     "ollama",
	"local":  "localai",
	"claude": "anthropic",
}

// DefaultOverridePrompt replaces the prompts of clowned users.
const DefaultOverridePrompt = "a silly homeless drunk clown"

// Command is a parsed "/name[@bot] args" message.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses text as a bot command. Commands addressed to another
// bot are ignored. botName may be empty to accept any addressee.
func ParseCommand(text, botName string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	head, args, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		args = head[i+1:] + " " + args
		head = head[:i]
	}
	name, target, addressed := strings.Cut(head, "@")
	if name == "" {
		return Command{}, false
	}
	if addressed && botName != "" && !strings.EqualFold(target, botName) {
		return Command{}, false
	}

	return Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// Overrides replaces the prompts of selected users. It is safe for
// concurrent use.
type Overrides struct {
	mu      sync.RWMutex
	prompts map[int64]string
}

// NewOverrides creates an empty table.
func NewOverrides() *Overrides {
	return &Overrides{prompts: make(map[int64]string)}
}

// Get returns the override prompt for user, if any.
func (o *Overrides) Get(user int64) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prompts[user]
	return p, ok
}

// Set installs an override prompt for user.
func (o *Overrides) Set(user int64, prompt string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts[user] = prompt
}

// Remove deletes the override for user.
func (o *Overrides) Remove(user int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.prompts, user)
}
