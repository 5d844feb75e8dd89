// Package router maps inbound message text to registered command
// handlers, with continuation routing for multi-turn commands and a help
// fallback for everything else.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/logger"
)

// Command is one registered command with its handler and metadata.
type Command struct {
	Handler bot.HandlerFunc
	// Continuation consumes the user's next free-form message while the
	// session awaits one, e.g. the confirm step of a payment.
	Continuation bot.HandlerFunc
	Description  string
	AdminOnly    bool
	Hidden       bool
	Aliases      []string
}

// Summary is a command's listing entry.
type Summary struct {
	Name        string
	Description string
}

// Registry holds the command table. Registration happens once during
// wiring; lookups afterwards are read-only.
type Registry struct {
	commands     map[string]Command
	helpFallback bot.HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a new command under its bare lowercase name. Invalid or
// duplicate registrations are logged and skipped, not fatal.
func (r *Registry) Register(name string, cmd Command) {
	if r == nil || name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.Wire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("cause", "invalid"),
		)
		return
	}
	name = strings.ToLower(name)
	if strings.ContainsAny(name, " \t") {
		logger.Wire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("cause", "not_a_single_word"),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.Wire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
}

// Lookup searches for a command by name or alias and returns the
// canonical name with metadata if found. Lookup is case-insensitive and
// tolerates a leading slash.
func (r *Registry) Lookup(name string) (string, Command, bool) {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if strings.ToLower(alias) == name {
				return key, cmd, true
			}
		}
	}
	return "", Command{}, false
}

// List returns command summaries sorted by name, optionally filtering out
// hidden and admin-only commands.
func (r *Registry) List(visibleOnly bool) []Summary {
	var list []Summary
	for name, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, Summary{Name: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Commands returns the full command table.
func (r *Registry) Commands() map[string]Command {
	return r.commands
}

// HelpText renders the command listing sent by the help fallback.
func (r *Registry) HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, s := range r.List(true) {
		fmt.Fprintf(&b, "  %s - %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SetHelpFallback replaces the handler for unrecognized input.
func (r *Registry) SetHelpFallback(h bot.HandlerFunc) {
	if h != nil {
		r.helpFallback = h
	}
}

// HelpFallback returns the current fallback handler; the default replies
// with the command listing.
func (r *Registry) HelpFallback() bot.HandlerFunc {
	if r.helpFallback != nil {
		return r.helpFallback
	}
	return func(c *bot.Context) error {
		return c.Reply(r.HelpText())
	}
}
