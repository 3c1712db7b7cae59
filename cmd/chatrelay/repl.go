package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/pkg/errors"
)

type replCommand struct {
	name    string
	aliases []string
	args    string
	help    string
}

var replCommands = []replCommand{
	{name: "help", aliases: []string{"h"}, help: "Show this help"},
	{name: "models", aliases: []string{"m"}, help: "List models and their availability"},
	{name: "set", aliases: []string{"s"}, args: "<model>", help: "Switch the default model"},
	{name: "new", aliases: []string{"n"}, help: "Start a new conversation"},
	{name: "clear", aliases: []string{"c"}, help: "Clear the current conversation"},
	{name: "history", aliases: []string{"hi"}, help: "Show the current conversation"},
	{name: "export", aliases: []string{"e"}, args: "<file>", help: "Export the conversation (txt, json, yaml or md by extension)"},
	{name: "prompt", aliases: []string{"p"}, args: "[text]", help: "Show or set the system prompt"},
	{name: "list", aliases: []string{"l"}, help: "List conversations"},
	{name: "load", aliases: []string{"ld"}, args: "<file>", help: "Load a conversation exported as JSON"},
	{name: "stats", aliases: []string{"st"}, help: "Show conversation statistics"},
	{name: "quit", aliases: []string{"q", "exit"}, help: "Leave"},
}

const commandPrefixes = `/\:`

// parseCommand splits a REPL line into a command name and its argument. ok is
// false when the line is a message rather than a command. An unknown command
// is returned with an empty name.
func parseCommand(line string) (name string, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.ContainsRune(commandPrefixes, rune(line[0])) {
		return "", "", false
	}
	word, rest, _ := strings.Cut(line[1:], " ")
	word = strings.ToLower(word)
	arg = strings.TrimSpace(rest)
	for _, c := range replCommands {
		if c.name == word {
			return c.name, arg, true
		}
		for _, a := range c.aliases {
			if a == word {
				return c.name, arg, true
			}
		}
	}
	return "", arg, true
}

type repl struct {
	orch   *chat.Orchestrator
	out    io.Writer
	params backend.Params
	// sink receives streamed turns, nil means non streaming
	sink           events.EventSink
	conversationID string
}

func (r *repl) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) banner() {
	r.printf("chatrelay\n")
	if m := r.orch.CurrentModel(); m != "" {
		r.printf("Model: %s\n", m)
	} else {
		r.printf("No model selected, use /set <model>\n")
	}
	r.printf("Type /help for commands, /quit to leave.\n\n")
}

func (r *repl) newConversation(ctx context.Context) error {
	c, err := r.orch.NewConversation(ctx, nil)
	if err != nil {
		return err
	}
	r.conversationID = c.ID
	return nil
}

// Run reads lines from in until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	if r.conversationID == "" {
		if err := r.newConversation(ctx); err != nil {
			return err
		}
	}
	r.banner()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		r.printf("You: ")
		if !scanner.Scan() {
			r.printf("\n")
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		quit, err := r.handleLine(ctx, scanner.Text())
		if err != nil {
			return err
		}
		if quit {
			r.printf("Bye.\n")
			return nil
		}
	}
}

// handleLine runs one REPL line. Errors of individual commands are printed,
// only failures that make the session unusable are returned.
func (r *repl) handleLine(ctx context.Context, line string) (bool, error) {
	name, arg, ok := parseCommand(line)
	if !ok {
		if strings.TrimSpace(line) == "" {
			return false, nil
		}
		r.send(ctx, line)
		return false, nil
	}

	var err error
	switch name {
	case "quit":
		return true, nil
	case "help":
		r.help()
	case "models":
		statuses, current := r.orch.ListModels()
		err = printModels(r.out, statuses, current, nil, "table")
	case "set":
		err = r.setModel(ctx, arg)
	case "new":
		if err = r.newConversation(ctx); err == nil {
			r.printf("Started a new conversation.\n")
		}
	case "clear":
		if err = r.orch.Clear(ctx, r.conversationID); err == nil {
			r.printf("Conversation cleared.\n")
		}
	case "history":
		err = r.history(ctx)
	case "export":
		err = r.export(ctx, arg)
	case "prompt":
		err = r.prompt(ctx, arg)
	case "list":
		err = r.list(ctx)
	case "load":
		err = r.load(ctx, arg)
	case "stats":
		err = r.stats(ctx)
	default:
		r.printf("Unknown command, type /help for the list.\n")
	}
	if err != nil {
		r.printf("Error: %s\n", err)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) {
	if r.sink == nil {
		reply, err := r.orch.Send(ctx, r.conversationID, text, r.params)
		if err != nil {
			r.printError(err)
			return
		}
		r.printf("Assistant: %s\n", strings.TrimRight(reply, "\n"))
		return
	}

	// the printer reports failures of a started stream itself
	started := false
	tracker := events.SinkFunc(func(ev events.Event) error {
		started = true
		return nil
	})
	if _, err := r.orch.SendStream(ctx, r.conversationID, text, r.params, tracker, r.sink); err != nil {
		if !started {
			r.printError(err)
		} else if chat.IsConnectivity(err) {
			r.printf("Is the model runtime reachable?\n")
		}
	}
}

func (r *repl) printError(err error) {
	r.printf("Error: %s\n", err)
	switch {
	case errors.Is(err, chat.ErrNoModelSelected):
		r.printf("Select a model with /set <model>.\n")
	case errors.Is(err, chat.ErrBackendUnavailable):
		r.printf("The model is not available, see /models.\n")
	case chat.IsConnectivity(err):
		r.printf("Is the model runtime reachable?\n")
	}
}

func (r *repl) help() {
	r.printf("Commands (prefix with /, \\ or :):\n")
	for _, c := range replCommands {
		names := append([]string{c.name}, c.aliases...)
		usage := strings.Join(names, ", ")
		if c.args != "" {
			usage += " " + c.args
		}
		r.printf("  %-28s %s\n", usage, c.help)
	}
	r.printf("Anything else is sent to the model.\n")
}

func (r *repl) setModel(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("usage: /set <model>")
	}
	b, err := r.orch.SelectModel(ctx, name)
	if err != nil {
		return err
	}
	if b.Available {
		r.printf("Switched to %s.\n", b.Model)
	} else {
		r.printf("Switched to %s, but it is not available: %s\n", b.Model, b.Reason)
	}
	return nil
}

func (r *repl) history(ctx context.Context) error {
	c, err := r.orch.Store().Get(ctx, r.conversationID)
	if err != nil {
		return err
	}
	r.printf("%s (%d messages)\n", c.Title, len(c.Messages))
	r.printf("System: %s\n", c.EffectiveSystemPrompt(r.orch.DefaultSystemPrompt()))
	for _, m := range c.Messages {
		r.printf("%s\n", m.String())
	}
	return nil
}

func (r *repl) export(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /export <file>")
	}
	format := conversation.FormatText
	if ext := filepath.Ext(path); ext != "" {
		f, err := conversation.ParseFormat(ext)
		if err != nil {
			return err
		}
		format = f
	}
	content, err := r.orch.Store().Export(ctx, r.conversationID, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "could not write export")
	}
	r.printf("Exported to %s.\n", path)
	return nil
}

func (r *repl) prompt(ctx context.Context, text string) error {
	if text == "" {
		c, err := r.orch.Store().Get(ctx, r.conversationID)
		if err != nil {
			return err
		}
		r.printf("System: %s\n", c.EffectiveSystemPrompt(r.orch.DefaultSystemPrompt()))
		return nil
	}
	if err := r.orch.Store().UpdateSystemPrompt(ctx, r.conversationID, text); err != nil {
		return err
	}
	r.printf("System prompt updated.\n")
	return nil
}

func (r *repl) list(ctx context.Context) error {
	summaries, err := r.orch.Store().List(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		marker := " "
		if s.ID == r.conversationID {
			marker = "*"
		}
		r.printf("%s %s  %-24s %3d messages  %s\n", marker, conversation.TruncateText(s.ID, 8), s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (r *repl) load(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /load <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "could not read conversation")
	}
	c, err := r.orch.Store().Import(ctx, data)
	if err != nil {
		return err
	}
	r.conversationID = c.ID
	r.printf("Loaded %q (%d messages).\n", c.Title, len(c.Messages))
	return nil
}

func (r *repl) stats(ctx context.Context) error {
	s, err := r.orch.Store().Stats(ctx)
	if err != nil {
		return err
	}
	r.printf("Conversations: %d\nMessages: %d\nAverage: %.1f messages per conversation\nModel: %s\n",
		s.TotalConversations, s.TotalMessages, s.AverageMessages, r.orch.CurrentModel())
	return nil
}
